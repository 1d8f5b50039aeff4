package settings

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/99souls/fuelwatch/engine/models"
	"github.com/99souls/fuelwatch/engine/storage/memory"
)

var (
	org    = uuid.MustParse("10000000-0000-0000-0000-000000000001")
	object = uuid.MustParse("10000000-0000-0000-0000-000000000002")
	model  = uuid.MustParse("10000000-0000-0000-0000-000000000003")
	tank   = uuid.MustParse("10000000-0000-0000-0000-000000000004")
)

func chargeWithMinVolume(v float64) models.ChargeSettings {
	s := models.DefaultChargeSettings()
	s.MinVolume = v
	return s
}

func permanentRec(objectID *models.ObjectID, minVolume float64) models.ObjectFuelSettings {
	return models.ObjectFuelSettings{
		ID:             uuid.New(),
		OrganizationID: org,
		TankID:         tank,
		ObjectID:       objectID,
		ModelID:        model,
		Charge:         chargeWithMinVolume(minVolume),
		Discharge:      models.DefaultDischargeSettings(),
		CreatedAt:      time.Unix(0, 0),
	}
}

func intervalRec(objectID *models.ObjectID, minVolume float64, begin, end time.Time) models.ObjectFuelIntervalSettings {
	return models.ObjectFuelIntervalSettings{
		ObjectFuelSettings: permanentRec(objectID, minVolume),
		Interval:           models.TimeInterval{Begin: begin, End: end},
	}
}

func TestResolverPrecedence(t *testing.T) {
	ctx := context.Background()
	permanent := memory.NewSettingsStore()
	interval := memory.NewIntervalSettingsStore()
	resolver := NewResolver(permanent, interval)

	at := time.Unix(5000, 0)
	windowBegin, windowEnd := time.Unix(4000, 0), time.Unix(6000, 0)

	// Layer records from weakest to strongest and re-resolve after each load.
	require.NoError(t, resolver.Load(ctx))
	charge, discharge := resolver.Resolve(org, object, model, tank, at)
	assert.Equal(t, models.DefaultChargeSettings(), charge)
	assert.Equal(t, models.DefaultDischargeSettings(), discharge)

	require.NoError(t, permanent.Put(ctx, permanentRec(nil, 201)))
	require.NoError(t, resolver.Load(ctx))
	charge, _ = resolver.Resolve(org, object, model, tank, at)
	assert.Equal(t, 201.0, charge.MinVolume, "permanent model settings apply")

	require.NoError(t, permanent.Put(ctx, permanentRec(&object, 202)))
	require.NoError(t, resolver.Load(ctx))
	charge, _ = resolver.Resolve(org, object, model, tank, at)
	assert.Equal(t, 202.0, charge.MinVolume, "permanent object settings beat model settings")

	require.NoError(t, interval.Put(ctx, intervalRec(nil, 203, windowBegin, windowEnd)))
	require.NoError(t, resolver.Load(ctx))
	charge, _ = resolver.Resolve(org, object, model, tank, at)
	assert.Equal(t, 203.0, charge.MinVolume, "interval model settings beat permanent settings")

	require.NoError(t, interval.Put(ctx, intervalRec(&object, 204, windowBegin, windowEnd)))
	require.NoError(t, resolver.Load(ctx))
	charge, _ = resolver.Resolve(org, object, model, tank, at)
	assert.Equal(t, 204.0, charge.MinVolume, "interval object settings win")

	// Outside the window the interval layers vanish.
	charge, _ = resolver.Resolve(org, object, model, tank, time.Unix(7000, 0))
	assert.Equal(t, 202.0, charge.MinVolume)
}

func TestResolverIntervalBoundaries(t *testing.T) {
	ctx := context.Background()
	permanent := memory.NewSettingsStore()
	interval := memory.NewIntervalSettingsStore()
	resolver := NewResolver(permanent, interval)

	begin, end := time.Unix(4000, 0), time.Unix(6000, 0)
	require.NoError(t, interval.Put(ctx, intervalRec(&object, 300, begin, end)))
	require.NoError(t, resolver.Load(ctx))

	// Half-open (begin, end]: begin excluded, end included.
	charge, _ := resolver.Resolve(org, object, model, tank, begin)
	assert.Equal(t, models.DefaultChargeSettings().MinVolume, charge.MinVolume)

	charge, _ = resolver.Resolve(org, object, model, tank, begin.Add(time.Second))
	assert.Equal(t, 300.0, charge.MinVolume)

	charge, _ = resolver.Resolve(org, object, model, tank, end)
	assert.Equal(t, 300.0, charge.MinVolume)

	charge, _ = resolver.Resolve(org, object, model, tank, end.Add(time.Second))
	assert.Equal(t, models.DefaultChargeSettings().MinVolume, charge.MinVolume)
}

func TestResolverSkipsSoftDeleted(t *testing.T) {
	ctx := context.Background()
	permanent := memory.NewSettingsStore()
	interval := memory.NewIntervalSettingsStore()
	resolver := NewResolver(permanent, interval)

	rec := permanentRec(&object, 400)
	require.NoError(t, permanent.Put(ctx, rec))
	require.NoError(t, resolver.Load(ctx))
	charge, _ := resolver.Resolve(org, object, model, tank, time.Unix(5000, 0))
	require.Equal(t, 400.0, charge.MinVolume)

	require.NoError(t, permanent.SoftDelete(ctx, org, rec.ID, time.Now()))
	require.NoError(t, resolver.Load(ctx))
	charge, _ = resolver.Resolve(org, object, model, tank, time.Unix(5000, 0))
	assert.Equal(t, models.DefaultChargeSettings().MinVolume, charge.MinVolume)
}

func TestResolverWrongKeyFallsThrough(t *testing.T) {
	ctx := context.Background()
	permanent := memory.NewSettingsStore()
	interval := memory.NewIntervalSettingsStore()
	resolver := NewResolver(permanent, interval)

	require.NoError(t, permanent.Put(ctx, permanentRec(&object, 500)))
	require.NoError(t, resolver.Load(ctx))

	otherTank := uuid.New()
	charge, _ := resolver.Resolve(org, object, model, otherTank, time.Unix(5000, 0))
	assert.Equal(t, models.DefaultChargeSettings(), charge)
}
