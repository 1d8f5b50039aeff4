// Package memory provides in-memory storage implementations. They back tests
// and the CLI's replay mode, and define the reference behavior the Redis
// stores mirror.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/99souls/fuelwatch/engine/models"
	"github.com/99souls/fuelwatch/engine/storage"
)

// ChargeStore is a mutex-guarded map of charges.
type ChargeStore struct {
	mu   sync.RWMutex
	data map[models.ChargeID]models.FuelCharge
}

func NewChargeStore() *ChargeStore {
	return &ChargeStore{data: make(map[models.ChargeID]models.FuelCharge)}
}

func (s *ChargeStore) Put(_ context.Context, charge models.FuelCharge) error {
	s.mu.Lock()
	s.data[charge.ID] = charge
	s.mu.Unlock()
	return nil
}

func (s *ChargeStore) Get(_ context.Context, org models.OrganizationID, id models.ChargeID) (models.FuelCharge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.data[id]
	if !ok || c.OrganizationID != org {
		return models.FuelCharge{}, storage.ErrNotFound
	}
	return c, nil
}

func (s *ChargeStore) GetLast(_ context.Context, org models.OrganizationID, object models.ObjectID, tank models.TankID) (models.FuelCharge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best models.FuelCharge
	found := false
	for _, c := range s.data {
		if c.OrganizationID != org || c.ObjectID != object || c.TankID != tank {
			continue
		}
		if !found || c.Begin.After(best.Begin) {
			best = c
			found = true
		}
	}
	if !found {
		return models.FuelCharge{}, storage.ErrNotFound
	}
	return best, nil
}

func (s *ChargeStore) Query(_ context.Context, org models.OrganizationID, object models.ObjectID, from, to time.Time) ([]models.FuelCharge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.FuelCharge
	for _, c := range s.data {
		if c.OrganizationID != org || c.ObjectID != object {
			continue
		}
		if c.End.Before(from) || c.Begin.After(to) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Begin.Before(out[j].Begin) })
	return out, nil
}

func (s *ChargeStore) Delete(_ context.Context, org models.OrganizationID, id models.ChargeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data[id]
	if !ok || c.OrganizationID != org {
		return storage.ErrNotFound
	}
	delete(s.data, id)
	return nil
}

// DischargeStore is the discharge counterpart of ChargeStore.
type DischargeStore struct {
	mu   sync.RWMutex
	data map[models.DischargeID]models.FuelDischarge
}

func NewDischargeStore() *DischargeStore {
	return &DischargeStore{data: make(map[models.DischargeID]models.FuelDischarge)}
}

func (s *DischargeStore) Put(_ context.Context, discharge models.FuelDischarge) error {
	s.mu.Lock()
	s.data[discharge.ID] = discharge
	s.mu.Unlock()
	return nil
}

func (s *DischargeStore) Get(_ context.Context, org models.OrganizationID, id models.DischargeID) (models.FuelDischarge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data[id]
	if !ok || d.OrganizationID != org {
		return models.FuelDischarge{}, storage.ErrNotFound
	}
	return d, nil
}

func (s *DischargeStore) GetLast(_ context.Context, org models.OrganizationID, object models.ObjectID, tank models.TankID) (models.FuelDischarge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best models.FuelDischarge
	found := false
	for _, d := range s.data {
		if d.OrganizationID != org || d.ObjectID != object || d.TankID != tank {
			continue
		}
		if !found || d.Begin.After(best.Begin) {
			best = d
			found = true
		}
	}
	if !found {
		return models.FuelDischarge{}, storage.ErrNotFound
	}
	return best, nil
}

func (s *DischargeStore) Query(_ context.Context, org models.OrganizationID, object models.ObjectID, from, to time.Time) ([]models.FuelDischarge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.FuelDischarge
	for _, d := range s.data {
		if d.OrganizationID != org || d.ObjectID != object {
			continue
		}
		if d.End.Before(from) || d.Begin.After(to) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Begin.Before(out[j].Begin) })
	return out, nil
}

func (s *DischargeStore) Delete(_ context.Context, org models.OrganizationID, id models.DischargeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[id]
	if !ok || d.OrganizationID != org {
		return storage.ErrNotFound
	}
	delete(s.data, id)
	return nil
}

// SettingsStore holds permanent settings records.
type SettingsStore struct {
	mu   sync.RWMutex
	data map[models.SettingsID]models.ObjectFuelSettings
}

func NewSettingsStore() *SettingsStore {
	return &SettingsStore{data: make(map[models.SettingsID]models.ObjectFuelSettings)}
}

func (s *SettingsStore) Put(_ context.Context, rec models.ObjectFuelSettings) error {
	s.mu.Lock()
	s.data[rec.ID] = rec
	s.mu.Unlock()
	return nil
}

func (s *SettingsStore) Get(_ context.Context, org models.OrganizationID, id models.SettingsID) (models.ObjectFuelSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[id]
	if !ok || rec.OrganizationID != org {
		return models.ObjectFuelSettings{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *SettingsStore) List(_ context.Context, includeDeleted bool) ([]models.ObjectFuelSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ObjectFuelSettings, 0, len(s.data))
	for _, rec := range s.data {
		if rec.Deleted() && !includeDeleted {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *SettingsStore) SoftDelete(_ context.Context, org models.OrganizationID, id models.SettingsID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[id]
	if !ok || rec.OrganizationID != org {
		return storage.ErrNotFound
	}
	rec.DeletedAt = &at
	s.data[id] = rec
	return nil
}

func (s *SettingsStore) Restore(_ context.Context, org models.OrganizationID, id models.SettingsID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[id]
	if !ok || rec.OrganizationID != org {
		return storage.ErrNotFound
	}
	rec.DeletedAt = nil
	s.data[id] = rec
	return nil
}

// IntervalSettingsStore holds interval-scoped settings records.
type IntervalSettingsStore struct {
	mu   sync.RWMutex
	data map[models.SettingsID]models.ObjectFuelIntervalSettings
}

func NewIntervalSettingsStore() *IntervalSettingsStore {
	return &IntervalSettingsStore{data: make(map[models.SettingsID]models.ObjectFuelIntervalSettings)}
}

func (s *IntervalSettingsStore) Put(_ context.Context, rec models.ObjectFuelIntervalSettings) error {
	s.mu.Lock()
	s.data[rec.ID] = rec
	s.mu.Unlock()
	return nil
}

func (s *IntervalSettingsStore) Get(_ context.Context, org models.OrganizationID, id models.SettingsID) (models.ObjectFuelIntervalSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[id]
	if !ok || rec.OrganizationID != org {
		return models.ObjectFuelIntervalSettings{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *IntervalSettingsStore) List(_ context.Context, includeDeleted bool) ([]models.ObjectFuelIntervalSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ObjectFuelIntervalSettings, 0, len(s.data))
	for _, rec := range s.data {
		if rec.Deleted() && !includeDeleted {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *IntervalSettingsStore) SoftDelete(_ context.Context, org models.OrganizationID, id models.SettingsID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[id]
	if !ok || rec.OrganizationID != org {
		return storage.ErrNotFound
	}
	rec.DeletedAt = &at
	s.data[id] = rec
	return nil
}

func (s *IntervalSettingsStore) Restore(_ context.Context, org models.OrganizationID, id models.SettingsID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[id]
	if !ok || rec.OrganizationID != org {
		return storage.ErrNotFound
	}
	rec.DeletedAt = nil
	s.data[id] = rec
	return nil
}

// ObjectTankStore holds the object tank registry.
type ObjectTankStore struct {
	mu   sync.RWMutex
	data map[models.ObjectID]storage.ObjectTankEntry
}

func NewObjectTankStore() *ObjectTankStore {
	return &ObjectTankStore{data: make(map[models.ObjectID]storage.ObjectTankEntry)}
}

func (s *ObjectTankStore) Put(_ context.Context, entry storage.ObjectTankEntry) error {
	s.mu.Lock()
	s.data[entry.ObjectID] = entry
	s.mu.Unlock()
	return nil
}

func (s *ObjectTankStore) Get(_ context.Context, object models.ObjectID) (storage.ObjectTankEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.data[object]
	if !ok {
		return storage.ObjectTankEntry{}, storage.ErrNotFound
	}
	return entry, nil
}
