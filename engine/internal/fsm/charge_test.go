package fsm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/99souls/fuelwatch/engine/models"
)

func newChargeHarness(t *testing.T, settings models.ChargeSettings, first models.FuelSample) (*ChargeFSM, *recordingEmitter) {
	t.Helper()
	emitter := &recordingEmitter{}
	state := NewChargeState(first)
	return NewChargeFSM(settings, state, emitter, testLogger()), emitter
}

func chargeFeed(t *testing.T, machine *ChargeFSM, samples ...models.FuelSample) {
	t.Helper()
	for _, s := range samples {
		_, err := machine.Process(context.Background(), event(s))
		require.NoError(t, err)
	}
}

func TestChargeNormalRefuel(t *testing.T) {
	machine, emitter := newChargeHarness(t, models.DefaultChargeSettings(), sample(0, 100, 0))

	chargeFeed(t, machine, sample(10, 120, 0))
	assert.Equal(t, ChargeMaybeCharging, machine.State().State)
	assert.Empty(t, emitter.chargeBegins)

	chargeFeed(t, machine, sample(45, 260, 0))
	require.Len(t, emitter.chargeBegins, 1)
	begin := emitter.chargeBegins[0]
	assert.Equal(t, at(10), begin.Begin)
	assert.Equal(t, 120.0, begin.VolumeBegin)
	assert.Equal(t, 260.0, begin.VolumeEnd)
	assert.False(t, begin.IsComplete)
	assert.Equal(t, ChargeCharging, machine.State().State)

	chargeFeed(t, machine, sample(50, 260, 0))
	require.Len(t, emitter.chargeUpdates, 1)
	assert.Equal(t, at(50), emitter.chargeUpdates[0].End)

	chargeFeed(t, machine, sample(60, 255, 0))
	assert.Equal(t, ChargeMaybeFree, machine.State().State)
	assert.Empty(t, emitter.chargeEnds)

	chargeFeed(t, machine, sample(70, 255, 0))
	assert.Equal(t, ChargeFree, machine.State().State)
	require.Len(t, emitter.chargeEnds, 1)
	end := emitter.chargeEnds[0]
	assert.True(t, end.IsComplete)
	assert.Equal(t, at(10), end.Begin)
	assert.Equal(t, at(70), end.End)
	assert.Equal(t, 120.0, end.VolumeBegin)
	assert.Equal(t, 255.0, end.VolumeEnd)
	assert.Equal(t, 135.0, end.Volume)
	assert.Nil(t, machine.State().CurrentCharge)

	require.Len(t, emitter.alerts, 2)
	assert.Equal(t, models.AlertFuelChargeBegin, emitter.alerts[0].Event)
	assert.Equal(t, models.AlertFuelChargeEnd, emitter.alerts[1].Event)
	assert.Equal(t, "main tank", emitter.alerts[1].Attributes["tank_name"])
}

func TestChargeSuddenRefuel(t *testing.T) {
	machine, emitter := newChargeHarness(t, models.DefaultChargeSettings(), sample(0, 100, 0))

	chargeFeed(t, machine, sample(200, 400, 0))
	assert.Equal(t, ChargeCharging, machine.State().State)
	require.Len(t, emitter.chargeBegins, 1)
	begin := emitter.chargeBegins[0]
	assert.Equal(t, at(0), begin.Begin)
	assert.Equal(t, 100.0, begin.VolumeBegin)
	assert.Equal(t, 400.0, begin.VolumeEnd)
	assert.Equal(t, 300.0, begin.Volume)
	assert.False(t, begin.IsComplete)
	require.NotNil(t, machine.State().CurrentCharge)
}

func TestChargeSuddenDisabled(t *testing.T) {
	settings := models.DefaultChargeSettings()
	settings.MinDurationSudden = 0
	machine, emitter := newChargeHarness(t, settings, sample(0, 100, 0))

	chargeFeed(t, machine, sample(200, 400, 0))
	assert.Equal(t, ChargeMaybeCharging, machine.State().State)
	assert.Empty(t, emitter.chargeBegins)
}

func TestChargeFalseRise(t *testing.T) {
	machine, emitter := newChargeHarness(t, models.DefaultChargeSettings(), sample(0, 100, 0))

	chargeFeed(t, machine, sample(5, 160, 0))
	assert.Equal(t, ChargeMaybeCharging, machine.State().State)

	chargeFeed(t, machine, sample(10, 95, 0))
	assert.Equal(t, ChargeFree, machine.State().State)
	assert.Empty(t, emitter.chargeBegins)
	assert.Empty(t, emitter.alerts)
}

func TestChargeStaleSampleDropped(t *testing.T) {
	machine, emitter := newChargeHarness(t, models.DefaultChargeSettings(), sample(0, 100, 0))
	chargeFeed(t, machine,
		sample(10, 120, 0), sample(45, 260, 0), sample(50, 260, 0),
		sample(60, 255, 0), sample(70, 255, 0))
	require.Len(t, emitter.chargeEnds, 1)

	begins, updates, ends := len(emitter.chargeBegins), len(emitter.chargeUpdates), len(emitter.chargeEnds)
	stateBefore := *machine.State()

	chargeFeed(t, machine, sample(30, 200, 0))

	assert.Equal(t, stateBefore.State, machine.State().State)
	assert.Equal(t, at(70), machine.State().CurrentData.Time)
	assert.Equal(t, begins, len(emitter.chargeBegins))
	assert.Equal(t, updates, len(emitter.chargeUpdates))
	assert.Equal(t, ends, len(emitter.chargeEnds))
}

func TestChargeIgnoreOnSpeed(t *testing.T) {
	settings := models.DefaultChargeSettings()
	settings.IgnoreOnSpeed = true
	machine, emitter := newChargeHarness(t, settings, sample(0, 100, 0))

	chargeFeed(t, machine, sample(10, 300, 4))
	assert.Equal(t, ChargeFree, machine.State().State)
	assert.Empty(t, emitter.chargeBegins)

	// Stationary rises still enter the pending state.
	chargeFeed(t, machine, sample(20, 320, 0))
	assert.Equal(t, ChargeMaybeCharging, machine.State().State)
}

func TestChargeBeginMoveWindowSuppresses(t *testing.T) {
	settings := models.DefaultChargeSettings()
	settings.IgnoreDurationBeginMove = 20 * time.Second
	machine, emitter := newChargeHarness(t, settings, sample(0, 100, 0))

	// Departure arms the quiet window until t=25.
	chargeFeed(t, machine, sample(5, 100, 3))
	chargeFeed(t, machine, sample(10, 160, 0))
	assert.Equal(t, ChargeMaybeCharging, machine.State().State)

	chargeFeed(t, machine, sample(15, 170, 0))
	assert.Equal(t, ChargeFree, machine.State().State)
	assert.Empty(t, emitter.chargeBegins)

	// After the window, the same pattern is trusted again.
	chargeFeed(t, machine, sample(30, 180, 0))
	assert.Equal(t, ChargeMaybeCharging, machine.State().State)
}

func TestChargeMaybeFreeRiseWhileStationaryResumes(t *testing.T) {
	machine, emitter := newChargeHarness(t, models.DefaultChargeSettings(), sample(0, 100, 0))
	chargeFeed(t, machine, sample(10, 120, 0), sample(45, 260, 0), sample(60, 255, 0))
	require.Equal(t, ChargeMaybeFree, machine.State().State)

	chargeFeed(t, machine, sample(65, 258, 0))
	assert.Equal(t, ChargeCharging, machine.State().State)

	// The next charging step catches the record up.
	chargeFeed(t, machine, sample(68, 261, 0))
	require.NotEmpty(t, emitter.chargeUpdates)
	last := emitter.chargeUpdates[len(emitter.chargeUpdates)-1]
	assert.Equal(t, 261.0, last.VolumeEnd)
	assert.Equal(t, at(68), last.End)
}

func TestChargeMaybeFreeRiseWhileMovingHolds(t *testing.T) {
	machine, _ := newChargeHarness(t, models.DefaultChargeSettings(), sample(0, 100, 0))
	chargeFeed(t, machine, sample(10, 120, 0), sample(45, 260, 0), sample(60, 255, 0))
	require.Equal(t, ChargeMaybeFree, machine.State().State)

	chargeFeed(t, machine, sample(65, 258, 5))
	assert.Equal(t, ChargeMaybeFree, machine.State().State)
}

func TestChargeTimeThresholdBoundary(t *testing.T) {
	machine, emitter := newChargeHarness(t, models.DefaultChargeSettings(), sample(0, 100, 0))
	chargeFeed(t, machine, sample(10, 120, 0))

	// time_threshold = 30, fuel_volume_threshold = 250: a sample exactly on
	// both thresholds satisfies them.
	chargeFeed(t, machine, sample(30, 250, 0))
	assert.Equal(t, ChargeCharging, machine.State().State)
	require.Len(t, emitter.chargeBegins, 1)
}

func TestChargeEmissionPairing(t *testing.T) {
	machine, emitter := newChargeHarness(t, models.DefaultChargeSettings(), sample(0, 100, 0))
	chargeFeed(t, machine,
		sample(10, 120, 0), sample(45, 260, 0), sample(70, 255, 0), sample(80, 255, 0),
		sample(100, 250, 0),
		sample(300, 500, 0), // sudden: second operation opens
	)
	open := 0
	switch machine.State().State {
	case ChargeCharging, ChargeMaybeFree:
		open = 1
	}
	assert.Equal(t, open, len(emitter.chargeBegins)-len(emitter.chargeEnds))
	if open == 1 {
		assert.NotNil(t, machine.State().CurrentCharge)
	} else {
		assert.Nil(t, machine.State().CurrentCharge)
	}
}

func TestChargeRehydratedState(t *testing.T) {
	charge := models.FuelCharge{
		ID: testTank.ID, OrganizationID: testOrg, ObjectID: testObject, TankID: testTank.ID,
		Begin: at(0), End: at(40), VolumeBegin: 100, VolumeEnd: 200, Volume: 100,
	}
	state := ChargeStateFromRecord(charge)
	require.NotNil(t, state)
	assert.Equal(t, ChargeCharging, state.State)
	assert.Equal(t, at(0), state.StateData.Time)
	assert.Equal(t, at(40), state.CurrentData.Time)
	require.NotNil(t, state.CurrentCharge)
	assert.Nil(t, state.TimeThreshold)

	emitter := &recordingEmitter{}
	machine := NewChargeFSM(models.DefaultChargeSettings(), state, emitter, testLogger())
	chargeFeed(t, machine, sample(50, 230, 0))
	require.Len(t, emitter.chargeUpdates, 1)
	assert.Equal(t, 230.0, emitter.chargeUpdates[0].VolumeEnd)

	complete := charge
	complete.IsComplete = true
	assert.Nil(t, ChargeStateFromRecord(complete))
}
