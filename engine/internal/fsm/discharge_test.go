package fsm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/99souls/fuelwatch/engine/models"
)

func newDischargeHarness(t *testing.T, settings models.DischargeSettings, first models.FuelSample) (*DischargeFSM, *recordingEmitter) {
	t.Helper()
	emitter := &recordingEmitter{}
	state := NewDischargeState(first)
	return NewDischargeFSM(settings, state, emitter, testLogger()), emitter
}

func dischargeFeed(t *testing.T, machine *DischargeFSM, samples ...models.FuelSample) {
	t.Helper()
	for _, s := range samples {
		_, err := machine.Process(context.Background(), event(s))
		require.NoError(t, err)
	}
}

func TestDischargeConfirmed(t *testing.T) {
	machine, emitter := newDischargeHarness(t, models.DefaultDischargeSettings(), sample(0, 500, 0))

	// A slow creep stays NORM: |fuel_speed| under the ceiling.
	dischargeFeed(t, machine, sample(5, 499, 0))
	assert.Equal(t, DischargeNorm, machine.State().State)

	// The steep fall blows through the volume floor in one gap; the drain
	// opens immediately from the previous sample.
	dischargeFeed(t, machine, sample(10, 300, 0))
	assert.Equal(t, Discharging, machine.State().State)
	require.Len(t, emitter.dischargeBegins, 1)
	begin := emitter.dischargeBegins[0]
	assert.Equal(t, at(5), begin.Begin)
	assert.Equal(t, 499.0, begin.VolumeBegin)
	assert.Equal(t, 300.0, begin.VolumeEnd)
	assert.Equal(t, 199.0, begin.Volume)
	assert.False(t, begin.IsComplete)

	// The fall flattens out: verification window opens, nothing emitted.
	dischargeFeed(t, machine, sample(45, 290, 0))
	assert.Equal(t, DischargeExit, machine.State().State)
	assert.Empty(t, emitter.dischargeEnds)

	// Past the window the level still sits 209 L below the start: confirmed.
	dischargeFeed(t, machine, sample(110, 290, 0))
	assert.Equal(t, DischargeNorm, machine.State().State)
	require.Len(t, emitter.dischargeEnds, 1)
	end := emitter.dischargeEnds[0]
	assert.True(t, end.IsComplete)
	assert.Equal(t, at(5), end.Begin)
	assert.Equal(t, at(45), end.End)
	assert.Equal(t, 499.0, end.VolumeBegin)
	assert.Equal(t, 290.0, end.VolumeEnd)
	assert.Equal(t, 209.0, end.Volume)
	assert.Nil(t, machine.State().CurrentDischarge)

	require.Len(t, emitter.alerts, 2)
	assert.Equal(t, models.AlertFuelDischargeBegin, emitter.alerts[0].Event)
	assert.Equal(t, models.AlertFuelDischargeEnd, emitter.alerts[1].Event)
	assert.Empty(t, emitter.deletes)
}

func TestDischargeFalsePositiveCancelled(t *testing.T) {
	machine, emitter := newDischargeHarness(t, models.DefaultDischargeSettings(), sample(0, 500, 0))

	dischargeFeed(t, machine, sample(5, 499, 0), sample(10, 300, 0))
	require.Len(t, emitter.dischargeBegins, 1)

	// A flat reading holds the drain open (siphoning pauses).
	dischargeFeed(t, machine, sample(40, 300, 0))
	assert.Equal(t, Discharging, machine.State().State)
	require.Len(t, emitter.dischargeUpdates, 1)

	// Fuel climbs back: exit verification sees the level restored.
	dischargeFeed(t, machine, sample(110, 497, 0))
	assert.Equal(t, DischargeExit, machine.State().State)

	dischargeFeed(t, machine, sample(175, 497, 0))
	assert.Equal(t, DischargeNorm, machine.State().State)
	require.Len(t, emitter.deletes, 1)
	assert.Empty(t, emitter.dischargeEnds)
	assert.Nil(t, machine.State().CurrentDischarge)

	// Only the advisory begin alert; a cancelled drain alerts nobody.
	require.Len(t, emitter.alerts, 1)
	assert.Equal(t, models.AlertFuelDischargeBegin, emitter.alerts[0].Event)
}

func TestDischargeExitResumes(t *testing.T) {
	machine, emitter := newDischargeHarness(t, models.DefaultDischargeSettings(), sample(0, 500, 0))
	dischargeFeed(t, machine, sample(5, 499, 0), sample(10, 300, 0), sample(45, 290, 0))
	require.Equal(t, DischargeExit, machine.State().State)
	updatesBefore := len(emitter.dischargeUpdates)

	// Still inside the window the level falls steeply below the tentative
	// end: the drain resumes silently.
	dischargeFeed(t, machine, sample(50, 280, 0))
	assert.Equal(t, Discharging, machine.State().State)
	assert.Equal(t, updatesBefore, len(emitter.dischargeUpdates))

	dischargeFeed(t, machine, sample(55, 270, 0))
	require.Greater(t, len(emitter.dischargeUpdates), updatesBefore)
	last := emitter.dischargeUpdates[len(emitter.dischargeUpdates)-1]
	assert.Equal(t, 270.0, last.VolumeEnd)
}

func TestDischargeStoppageThresholdGates(t *testing.T) {
	settings := models.DefaultDischargeSettings()
	machine, emitter := newDischargeHarness(t, settings, sample(0, 500, 5))

	// Stopping arms the stoppage threshold at t=40.
	dischargeFeed(t, machine, sample(10, 500, 0))
	assert.Equal(t, DischargeNorm, machine.State().State)

	dischargeFeed(t, machine, sample(15, 480, 0))
	assert.Equal(t, DischargeMaybe, machine.State().State)
	assert.Empty(t, emitter.dischargeBegins)

	dischargeFeed(t, machine, sample(20, 350, 0))
	assert.Equal(t, DischargeMaybe, machine.State().State)
	assert.Empty(t, emitter.dischargeBegins)

	// Threshold passed: the drain opens from the sample that raised the
	// suspicion.
	dischargeFeed(t, machine, sample(45, 340, 0))
	assert.Equal(t, Discharging, machine.State().State)
	require.Len(t, emitter.dischargeBegins, 1)
	begin := emitter.dischargeBegins[0]
	assert.Equal(t, at(15), begin.Begin)
	assert.Equal(t, 480.0, begin.VolumeBegin)
	assert.Equal(t, 140.0, begin.Volume)
}

func TestDischargeMaybeBacksOffWhenRateDrops(t *testing.T) {
	machine, emitter := newDischargeHarness(t, models.DefaultDischargeSettings(), sample(0, 500, 0))

	dischargeFeed(t, machine, sample(10, 495, 0))
	assert.Equal(t, DischargeMaybe, machine.State().State)

	// Rate back under the ceiling: suspicion withdrawn.
	dischargeFeed(t, machine, sample(110, 494, 0))
	assert.Equal(t, DischargeNorm, machine.State().State)
	assert.Empty(t, emitter.dischargeBegins)
}

func TestDischargeIgnoreOnSpeed(t *testing.T) {
	settings := models.DefaultDischargeSettings()
	settings.IgnoreOnSpeed = true
	machine, _ := newDischargeHarness(t, settings, sample(0, 500, 3))

	dischargeFeed(t, machine, sample(10, 300, 3))
	assert.Equal(t, DischargeNorm, machine.State().State)
}

func TestDischargeEqualTimestampsKeepZeroFuelSpeed(t *testing.T) {
	machine, _ := newDischargeHarness(t, models.DefaultDischargeSettings(), sample(0, 500, 0))

	// Same timestamp, different volume: no duration, fuel_speed stays 0, so
	// the steep-fall test cannot fire.
	dischargeFeed(t, machine, sample(0, 300, 0))
	assert.Equal(t, DischargeNorm, machine.State().State)
}

func TestDischargeStaleSampleDropped(t *testing.T) {
	machine, emitter := newDischargeHarness(t, models.DefaultDischargeSettings(), sample(0, 500, 0))
	dischargeFeed(t, machine, sample(5, 499, 0), sample(10, 300, 0))
	require.Len(t, emitter.dischargeBegins, 1)

	dischargeFeed(t, machine, sample(7, 400, 0))
	assert.Equal(t, Discharging, machine.State().State)
	assert.Equal(t, at(10), machine.State().CurrentData.Time)
	assert.Len(t, emitter.dischargeBegins, 1)
	assert.Empty(t, emitter.dischargeUpdates)
}

func TestDischargeCheckBoundaryTriggersVerification(t *testing.T) {
	machine, emitter := newDischargeHarness(t, models.DefaultDischargeSettings(), sample(0, 500, 0))
	dischargeFeed(t, machine, sample(5, 499, 0), sample(10, 300, 0), sample(45, 290, 0))
	require.Equal(t, DischargeExit, machine.State().State)

	// check_time_threshold is exactly t=105.
	dischargeFeed(t, machine, sample(105, 290, 0))
	assert.Equal(t, DischargeNorm, machine.State().State)
	require.Len(t, emitter.dischargeEnds, 1)
}

func TestDischargeEmissionPairing(t *testing.T) {
	machine, emitter := newDischargeHarness(t, models.DefaultDischargeSettings(), sample(0, 500, 0))
	dischargeFeed(t, machine,
		sample(5, 499, 0), sample(10, 300, 0), sample(45, 290, 0), sample(110, 290, 0), // confirmed
		sample(120, 290, 0),
		sample(125, 100, 0), // second drain opens
	)
	open := 0
	switch machine.State().State {
	case Discharging, DischargeExit:
		open = 1
	}
	closed := len(emitter.dischargeEnds) + len(emitter.deletes)
	assert.Equal(t, open, len(emitter.dischargeBegins)-closed)
	if open == 1 {
		assert.NotNil(t, machine.State().CurrentDischarge)
	} else {
		assert.Nil(t, machine.State().CurrentDischarge)
	}
}

func TestDischargeRehydratedState(t *testing.T) {
	discharge := models.FuelDischarge{
		ID: testTank.ID, OrganizationID: testOrg, ObjectID: testObject, TankID: testTank.ID,
		Begin: at(0), End: at(30), VolumeBegin: 500, VolumeEnd: 400, Volume: 100,
	}
	state := DischargeStateFromRecord(discharge)
	require.NotNil(t, state)
	assert.Equal(t, Discharging, state.State)
	assert.Equal(t, at(0), state.StateData.Time)
	assert.Equal(t, at(30), state.CurrentData.Time)
	require.NotNil(t, state.CurrentDischarge)
	assert.Nil(t, state.CheckTimeThreshold)
	assert.Empty(t, state.CheckValues)

	emitter := &recordingEmitter{}
	machine := NewDischargeFSM(models.DefaultDischargeSettings(), state, emitter, testLogger())
	dischargeFeed(t, machine, sample(35, 350, 0))
	require.Len(t, emitter.dischargeUpdates, 1)
	assert.Equal(t, 350.0, emitter.dischargeUpdates[0].VolumeEnd)

	complete := discharge
	complete.IsComplete = true
	assert.Nil(t, DischargeStateFromRecord(complete))
}

func TestDischargeBeginMoveWindow(t *testing.T) {
	settings := models.DefaultDischargeSettings()
	settings.IgnoreDurationBeginMove = 30 * time.Second
	machine, emitter := newDischargeHarness(t, settings, sample(0, 500, 0))

	// Departure at t=5 arms the window until t=35; the steep fall at t=10 is
	// ignored.
	dischargeFeed(t, machine, sample(5, 500, 4))
	dischargeFeed(t, machine, sample(10, 300, 0))
	assert.Equal(t, DischargeNorm, machine.State().State)
	assert.Empty(t, emitter.dischargeBegins)
}
