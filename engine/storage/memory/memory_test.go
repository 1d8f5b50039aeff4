package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/99souls/fuelwatch/engine/models"
	"github.com/99souls/fuelwatch/engine/storage"
)

var (
	org    = uuid.MustParse("20000000-0000-0000-0000-000000000001")
	object = uuid.MustParse("20000000-0000-0000-0000-000000000002")
	tank   = uuid.MustParse("20000000-0000-0000-0000-000000000003")
)

func charge(begin int64, complete bool) models.FuelCharge {
	return models.FuelCharge{
		ID:             uuid.New(),
		OrganizationID: org,
		ObjectID:       object,
		TankID:         tank,
		Begin:          time.Unix(begin, 0),
		End:            time.Unix(begin+60, 0),
		VolumeBegin:    100,
		VolumeEnd:      200,
		Volume:         100,
		IsComplete:     complete,
	}
}

func TestChargeStoreGetLast(t *testing.T) {
	ctx := context.Background()
	store := NewChargeStore()

	_, err := store.GetLast(ctx, org, object, tank)
	require.ErrorIs(t, err, storage.ErrNotFound)

	older := charge(100, true)
	newer := charge(500, false)
	require.NoError(t, store.Put(ctx, older))
	require.NoError(t, store.Put(ctx, newer))

	last, err := store.GetLast(ctx, org, object, tank)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, last.ID)

	// Other keys see nothing.
	_, err = store.GetLast(ctx, org, object, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetLast(ctx, uuid.New(), object, tank)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestChargeStorePutOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewChargeStore()

	rec := charge(100, false)
	require.NoError(t, store.Put(ctx, rec))
	rec.VolumeEnd = 250
	rec.IsComplete = true
	require.NoError(t, store.Put(ctx, rec))

	got, err := store.Get(ctx, org, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 250.0, got.VolumeEnd)
	assert.True(t, got.IsComplete)
}

func TestChargeStoreQueryWindow(t *testing.T) {
	ctx := context.Background()
	store := NewChargeStore()
	first := charge(100, true)
	second := charge(1000, true)
	require.NoError(t, store.Put(ctx, first))
	require.NoError(t, store.Put(ctx, second))

	got, err := store.Query(ctx, org, object, time.Unix(0, 0), time.Unix(500, 0))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, first.ID, got[0].ID)

	all, err := store.Query(ctx, org, object, time.Unix(0, 0), time.Unix(2000, 0))
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].Begin.Before(all[1].Begin))
}

func TestDischargeStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewDischargeStore()
	rec := models.FuelDischarge{
		ID: uuid.New(), OrganizationID: org, ObjectID: object, TankID: tank,
		Begin: time.Unix(100, 0), End: time.Unix(160, 0),
		VolumeBegin: 500, VolumeEnd: 400, Volume: 100,
	}
	require.NoError(t, store.Put(ctx, rec))
	require.NoError(t, store.Delete(ctx, org, rec.ID))
	_, err := store.Get(ctx, org, rec.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, org, rec.ID), storage.ErrNotFound)
}

func TestSettingsStoreSoftDelete(t *testing.T) {
	ctx := context.Background()
	store := NewSettingsStore()
	rec := models.ObjectFuelSettings{
		ID: uuid.New(), OrganizationID: org, TankID: tank, ModelID: uuid.New(),
		Charge: models.DefaultChargeSettings(), Discharge: models.DefaultDischargeSettings(),
	}
	require.NoError(t, store.Put(ctx, rec))

	live, err := store.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, live, 1)

	require.NoError(t, store.SoftDelete(ctx, org, rec.ID, time.Now()))
	live, err = store.List(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, live)

	all, err := store.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Deleted())

	require.NoError(t, store.Restore(ctx, org, rec.ID))
	live, err = store.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, live, 1)
}

func TestObjectTankStore(t *testing.T) {
	ctx := context.Background()
	store := NewObjectTankStore()

	_, err := store.Get(ctx, object)
	require.ErrorIs(t, err, storage.ErrNotFound)

	entry := storage.ObjectTankEntry{OrganizationID: org, ObjectID: object, TankIDs: []models.TankID{tank}}
	require.NoError(t, store.Put(ctx, entry))
	got, err := store.Get(ctx, object)
	require.NoError(t, err)
	assert.Equal(t, entry.TankIDs, got.TankIDs)
}
