package query

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

func TestChargeIntervals(t *testing.T) {
	ctx := context.Background()
	org, object, tank := uuid.New(), uuid.New(), uuid.New()
	store := memory.NewChargeStore()

	inside := models.FuelCharge{
		ID: uuid.New(), OrganizationID: org, ObjectID: object, TankID: tank,
		Begin: time.Unix(1000, 0), End: time.Unix(1100, 0),
		VolumeBegin: 100, VolumeEnd: 250, Volume: 150, IsComplete: true,
	}
	outside := inside
	outside.ID = uuid.New()
	outside.Begin, outside.End = time.Unix(9000, 0), time.Unix(9100, 0)
	require.NoError(t, store.Put(ctx, inside))
	require.NoError(t, store.Put(ctx, outside))

	intervals, err := ChargeIntervals(ctx, store, org, object, time.Unix(500, 0), time.Unix(2000, 0))
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	assert.Equal(t, object, intervals[0].ObjectID)
	assert.Equal(t, time.Unix(1000, 0), intervals[0].Interval.Begin)
	assert.Equal(t, 100.0, intervals[0].Attributes["volume_begin"])
	assert.Equal(t, 250.0, intervals[0].Attributes["volume_end"])
}

func TestDischargeIntervals(t *testing.T) {
	ctx := context.Background()
	org, object, tank := uuid.New(), uuid.New(), uuid.New()
	store := memory.NewDischargeStore()

	rec := models.FuelDischarge{
		ID: uuid.New(), OrganizationID: org, ObjectID: object, TankID: tank,
		Begin: time.Unix(1000, 0), End: time.Unix(1100, 0),
		VolumeBegin: 500, VolumeEnd: 300, Volume: 200, IsComplete: true,
	}
	require.NoError(t, store.Put(ctx, rec))

	intervals, err := DischargeIntervals(ctx, store, org, object, time.Unix(0, 0), time.Unix(2000, 0))
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	assert.Equal(t, 500.0, intervals[0].Attributes["volume_begin"])

	none, err := DischargeIntervals(ctx, store, org, uuid.New(), time.Unix(0, 0), time.Unix(2000, 0))
	require.NoError(t, err)
	assert.Empty(t, none)
}
