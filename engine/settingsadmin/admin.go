// Package settingsadmin is the mutation surface for detection settings. It
// validates submissions against the tank catalog and the object tank registry,
// persists them, and publishes settings-change events that make the running
// engine reload its resolver. Validation failures are reported to the
// submitter and never disturb the detection pipeline.
package settingsadmin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/99souls/fuelwatch/engine/catalog"
	"github.com/99souls/fuelwatch/engine/models"
	"github.com/99souls/fuelwatch/engine/storage"
	"github.com/99souls/fuelwatch/engine/telemetry/events"
)

// ValidationError reports why a settings submission was rejected.
type ValidationError struct{ Reason string }

func (e *ValidationError) Error() string { return "settings validation: " + e.Reason }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Admin validates and persists settings records.
type Admin struct {
	cat         *catalog.Catalog
	permanent   storage.SettingsStore
	interval    storage.IntervalSettingsStore
	objectTanks storage.ObjectTankStore
	bus         events.Bus
}

// New builds the admin surface.
func New(cat *catalog.Catalog, permanent storage.SettingsStore, interval storage.IntervalSettingsStore,
	objectTanks storage.ObjectTankStore, bus events.Bus) *Admin {
	return &Admin{cat: cat, permanent: permanent, interval: interval, objectTanks: objectTanks, bus: bus}
}

// validateBinding checks the (tank, object|model) binding shared by both
// settings flavors.
func (a *Admin) validateBinding(ctx context.Context, rec models.ObjectFuelSettings) error {
	if !a.cat.Contains(rec.TankID) {
		return validationErrorf("tank parameter %s is not registered", rec.TankID)
	}
	if rec.ObjectID == nil {
		return nil
	}
	entry, err := a.objectTanks.Get(ctx, *rec.ObjectID)
	if errors.Is(err, storage.ErrNotFound) {
		return validationErrorf("object %s is not available for fuel detection", *rec.ObjectID)
	}
	if err != nil {
		return err
	}
	for _, id := range entry.TankIDs {
		if id == rec.TankID {
			return nil
		}
	}
	return validationErrorf("tank parameter %s is not available on object %s", rec.TankID, *rec.ObjectID)
}

func sameBinding(a, b models.ObjectFuelSettings) bool {
	if a.OrganizationID != b.OrganizationID || a.TankID != b.TankID {
		return false
	}
	if a.ObjectID != nil && b.ObjectID != nil {
		return *a.ObjectID == *b.ObjectID
	}
	if a.ObjectID == nil && b.ObjectID == nil {
		return a.ModelID == b.ModelID
	}
	return false
}

// Apply validates and stores a permanent settings record, then publishes a
// modified event. A record with a zero ID gets one assigned.
func (a *Admin) Apply(ctx context.Context, rec models.ObjectFuelSettings) (models.ObjectFuelSettings, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if err := a.validateBinding(ctx, rec); err != nil {
		return rec, err
	}
	existing, err := a.permanent.List(ctx, false)
	if err != nil {
		return rec, err
	}
	for _, other := range existing {
		if other.ID != rec.ID && sameBinding(other, rec) {
			return rec, validationErrorf("settings for this binding already exist")
		}
	}
	if err := a.permanent.Put(ctx, rec); err != nil {
		return rec, err
	}
	a.publish(ctx, events.TypeObjectFuelSettingsModified, rec)
	return rec, nil
}

// Delete soft-deletes a permanent settings record.
func (a *Admin) Delete(ctx context.Context, org models.OrganizationID, id models.SettingsID) error {
	if err := a.permanent.SoftDelete(ctx, org, id, time.Now()); err != nil {
		return err
	}
	a.publish(ctx, events.TypeObjectFuelSettingsDeleted, id)
	return nil
}

// Restore undoes a soft deletion.
func (a *Admin) Restore(ctx context.Context, org models.OrganizationID, id models.SettingsID) error {
	if err := a.permanent.Restore(ctx, org, id); err != nil {
		return err
	}
	rec, err := a.permanent.Get(ctx, org, id)
	if err != nil {
		return err
	}
	a.publish(ctx, events.TypeObjectFuelSettingsModified, rec)
	return nil
}

// ApplyInterval validates and stores an interval settings record. Windows for
// the same binding must not overlap.
func (a *Admin) ApplyInterval(ctx context.Context, rec models.ObjectFuelIntervalSettings) (models.ObjectFuelIntervalSettings, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if !rec.Interval.Begin.Before(rec.Interval.End) {
		return rec, validationErrorf("interval begin must precede end")
	}
	if err := a.validateBinding(ctx, rec.ObjectFuelSettings); err != nil {
		return rec, err
	}
	existing, err := a.interval.List(ctx, false)
	if err != nil {
		return rec, err
	}
	for _, other := range existing {
		if other.ID != rec.ID && sameBinding(other.ObjectFuelSettings, rec.ObjectFuelSettings) &&
			other.Interval.Overlaps(rec.Interval) {
			return rec, validationErrorf("settings for this binding already exist and collide with the interval")
		}
	}
	if err := a.interval.Put(ctx, rec); err != nil {
		return rec, err
	}
	a.publish(ctx, events.TypeObjectFuelIntervalSettingsModified, rec)
	return rec, nil
}

// DeleteInterval soft-deletes an interval settings record.
func (a *Admin) DeleteInterval(ctx context.Context, org models.OrganizationID, id models.SettingsID) error {
	if err := a.interval.SoftDelete(ctx, org, id, time.Now()); err != nil {
		return err
	}
	a.publish(ctx, events.TypeObjectFuelIntervalSettingsDeleted, id)
	return nil
}

// RestoreInterval undoes a soft deletion.
func (a *Admin) RestoreInterval(ctx context.Context, org models.OrganizationID, id models.SettingsID) error {
	if err := a.interval.Restore(ctx, org, id); err != nil {
		return err
	}
	rec, err := a.interval.Get(ctx, org, id)
	if err != nil {
		return err
	}
	a.publish(ctx, events.TypeObjectFuelIntervalSettingsModified, rec)
	return nil
}

// RegisterObjectTanks stores the fuel-capable tanks of an object.
func (a *Admin) RegisterObjectTanks(ctx context.Context, entry storage.ObjectTankEntry) error {
	for _, id := range entry.TankIDs {
		if !a.cat.Contains(id) {
			return validationErrorf("tank parameter %s is not registered", id)
		}
	}
	return a.objectTanks.Put(ctx, entry)
}

func (a *Admin) publish(ctx context.Context, typ string, payload any) {
	_ = a.bus.PublishCtx(ctx, events.Event{Category: events.CategorySettings, Type: typ, Severity: "info", Payload: payload})
}
