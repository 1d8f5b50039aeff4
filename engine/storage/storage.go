// Package storage defines the persistence seams of the engine. The detection
// core only ever reads the most recent record per key (rehydration) and never
// writes directly; writes happen in the command handlers behind the FSM
// emitter, before the command is published on the bus.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/99souls/fuelwatch/engine/models"
)

// ErrNotFound is returned by point lookups when no record matches.
var ErrNotFound = errors.New("storage: not found")

// ErrCorrupt is returned when a stored record cannot be decoded. Callers
// rehydrating state treat the key as having no history.
var ErrCorrupt = errors.New("storage: corrupt record")

// ChargeStore persists detected fuel charges.
type ChargeStore interface {
	Put(ctx context.Context, charge models.FuelCharge) error
	Get(ctx context.Context, org models.OrganizationID, id models.ChargeID) (models.FuelCharge, error)
	// GetLast returns the most recent charge for the key, ordered by Begin
	// descending. ErrNotFound when the key has no history.
	GetLast(ctx context.Context, org models.OrganizationID, object models.ObjectID, tank models.TankID) (models.FuelCharge, error)
	// Query returns charges for an object overlapping the window, Begin ascending.
	Query(ctx context.Context, org models.OrganizationID, object models.ObjectID, from, to time.Time) ([]models.FuelCharge, error)
	Delete(ctx context.Context, org models.OrganizationID, id models.ChargeID) error
}

// DischargeStore persists detected fuel discharges. Delete removes a cancelled
// (false alarm) discharge outright.
type DischargeStore interface {
	Put(ctx context.Context, discharge models.FuelDischarge) error
	Get(ctx context.Context, org models.OrganizationID, id models.DischargeID) (models.FuelDischarge, error)
	GetLast(ctx context.Context, org models.OrganizationID, object models.ObjectID, tank models.TankID) (models.FuelDischarge, error)
	Query(ctx context.Context, org models.OrganizationID, object models.ObjectID, from, to time.Time) ([]models.FuelDischarge, error)
	Delete(ctx context.Context, org models.OrganizationID, id models.DischargeID) error
}

// SettingsStore persists permanent per-object/per-model detection settings.
// Deletion is soft; List returns only non-deleted records unless includeDeleted.
type SettingsStore interface {
	Put(ctx context.Context, s models.ObjectFuelSettings) error
	Get(ctx context.Context, org models.OrganizationID, id models.SettingsID) (models.ObjectFuelSettings, error)
	List(ctx context.Context, includeDeleted bool) ([]models.ObjectFuelSettings, error)
	SoftDelete(ctx context.Context, org models.OrganizationID, id models.SettingsID, at time.Time) error
	Restore(ctx context.Context, org models.OrganizationID, id models.SettingsID) error
}

// IntervalSettingsStore is the interval-scoped variant of SettingsStore.
type IntervalSettingsStore interface {
	Put(ctx context.Context, s models.ObjectFuelIntervalSettings) error
	Get(ctx context.Context, org models.OrganizationID, id models.SettingsID) (models.ObjectFuelIntervalSettings, error)
	List(ctx context.Context, includeDeleted bool) ([]models.ObjectFuelIntervalSettings, error)
	SoftDelete(ctx context.Context, org models.OrganizationID, id models.SettingsID, at time.Time) error
	Restore(ctx context.Context, org models.OrganizationID, id models.SettingsID) error
}

// ObjectTankEntry lists the fuel-capable tank parameters of one object. Used
// by settings validation only.
type ObjectTankEntry struct {
	OrganizationID models.OrganizationID `json:"organization_id"`
	ObjectID       models.ObjectID       `json:"object_id"`
	TankIDs        []models.TankID       `json:"tank_ids"`
}

// ObjectTankStore persists the object tank registry.
type ObjectTankStore interface {
	Put(ctx context.Context, entry ObjectTankEntry) error
	Get(ctx context.Context, object models.ObjectID) (ObjectTankEntry, error)
}
