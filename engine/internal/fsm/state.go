// Package fsm implements the per-tank detection state machines. Transition
// logic is pure: all I/O (command and alert emission) goes through the Emitter
// interface so the step itself can be exercised without infrastructure.
package fsm

import (
	"time"

	"github.com/google/uuid"

	"github.com/99souls/fuelwatch/engine/models"
)

// ChargeStateKind enumerates the charge FSM states.
type ChargeStateKind string

const (
	ChargeFree          ChargeStateKind = "FREE"
	ChargeMaybeCharging ChargeStateKind = "MAYBE_CHARGING"
	ChargeCharging      ChargeStateKind = "CHARGING"
	ChargeMaybeFree     ChargeStateKind = "MAYBE_FREE"
)

// DischargeStateKind enumerates the discharge FSM states.
type DischargeStateKind string

const (
	DischargeNorm  DischargeStateKind = "NORM"
	DischargeMaybe DischargeStateKind = "MAYBE_DISCHARGING"
	Discharging    DischargeStateKind = "DISCHARGING"
	DischargeExit  DischargeStateKind = "EXIT_DISCHARGING"
)

// ChargeState is the per-key state of the charge FSM. CurrentData is the last
// sample ingested; StateData is the sample on which the current state was
// entered. Threshold fields are absolute values set once on transition into a
// pending state; they are never persisted.
type ChargeState struct {
	State       ChargeStateKind
	CurrentData models.FuelSample
	StateData   models.FuelSample

	TimeThreshold       *time.Time
	FuelVolumeThreshold *float64
	BeginMoveThreshold  *time.Time

	CurrentCharge *models.FuelCharge
}

// NewChargeState builds the initial FREE state from the first sample of a key.
func NewChargeState(sample models.FuelSample) *ChargeState {
	return &ChargeState{State: ChargeFree, CurrentData: sample, StateData: sample}
}

// ChargeStateFromRecord reconstructs a mid-operation CHARGING state from a
// persisted incomplete charge. Returns nil when the record is complete.
// Threshold fields are intentionally left unset; they are re-derived from the
// sample stream.
func ChargeStateFromRecord(charge models.FuelCharge) *ChargeState {
	if charge.IsComplete {
		return nil
	}
	c := charge
	return &ChargeState{
		State:         ChargeCharging,
		StateData:     models.FuelSample{Time: c.Begin, FuelVolume: c.VolumeBegin, Location: c.Location},
		CurrentData:   models.FuelSample{Time: c.End, FuelVolume: c.VolumeEnd, Location: c.Location},
		CurrentCharge: &c,
	}
}

// commit finalizes a step: the incoming sample becomes CurrentData, and on a
// state change it also becomes StateData (the sample the new state started
// on).
func (s *ChargeState) commit(sample models.FuelSample, next ChargeStateKind) {
	if s.State != next {
		s.State = next
		s.StateData = sample
	}
	s.CurrentData = sample
}

func (s *ChargeState) setBeginMoveThreshold(t time.Time) { s.BeginMoveThreshold = &t }

// beginMoveComplete reports whether the post-move quiet window has elapsed.
// An unset threshold counts as complete.
func (s *ChargeState) beginMoveComplete(t time.Time) bool {
	return s.BeginMoveThreshold == nil || s.BeginMoveThreshold.Before(t)
}

func (s *ChargeState) setTimeThreshold(d time.Duration) {
	t := s.CurrentData.Time.Add(d)
	s.TimeThreshold = &t
}

func (s *ChargeState) timeThresholdComplete(t time.Time) bool {
	return s.TimeThreshold != nil && !t.Before(*s.TimeThreshold)
}

func (s *ChargeState) setFuelVolumeThreshold(min float64) {
	v := s.CurrentData.FuelVolume + min
	s.FuelVolumeThreshold = &v
}

func (s *ChargeState) fuelVolumeThresholdComplete(v float64) bool {
	return s.FuelVolumeThreshold != nil && v >= *s.FuelVolumeThreshold
}

// isSuddenCharge reports whether the incoming sample alone constitutes a
// charge: more than minVolume gained over a gap longer than window.
func (s *ChargeState) isSuddenCharge(sample models.FuelSample, minVolume float64, window time.Duration) bool {
	volume := sample.FuelVolume - s.CurrentData.FuelVolume
	gap := sample.Time.Sub(s.CurrentData.Time)
	return volume > minVolume && gap > window
}

// openCharge creates the in-progress record spanning begin..sample.
func (s *ChargeState) openCharge(ev models.FuelDataEvent, begin, sample models.FuelSample) *models.FuelCharge {
	s.CurrentCharge = &models.FuelCharge{
		ID:             uuid.New(),
		OrganizationID: ev.OrganizationID,
		ObjectID:       ev.ObjectID,
		TankID:         ev.Tank.ID,
		Location:       begin.Location,
		Begin:          begin.Time,
		VolumeBegin:    begin.FuelVolume,
		End:            sample.Time,
		VolumeEnd:      sample.FuelVolume,
		Volume:         sample.FuelVolume - begin.FuelVolume,
	}
	return s.CurrentCharge
}

// extendCharge advances the record end to the sample.
func (s *ChargeState) extendCharge(sample models.FuelSample) *models.FuelCharge {
	s.CurrentCharge.End = sample.Time
	s.CurrentCharge.VolumeEnd = sample.FuelVolume
	s.CurrentCharge.Volume = s.CurrentCharge.VolumeEnd - s.CurrentCharge.VolumeBegin
	return s.CurrentCharge
}

// closeCharge extends the record to the closing sample and marks it complete.
func (s *ChargeState) closeCharge(sample models.FuelSample) *models.FuelCharge {
	charge := s.extendCharge(sample)
	charge.IsComplete = true
	return charge
}

func (s *ChargeState) clearCharge() { s.CurrentCharge = nil }

// DischargeState is the per-key state of the discharge FSM. CheckValues
// buffers fuel readings observed during exit verification.
type DischargeState struct {
	State       DischargeStateKind
	CurrentData models.FuelSample
	StateData   models.FuelSample

	StopTimeThreshold   *time.Time
	FuelVolumeThreshold *float64
	BeginMoveThreshold  *time.Time
	CheckTimeThreshold  *time.Time
	CheckValues         []float64

	CurrentDischarge *models.FuelDischarge
}

// NewDischargeState builds the initial NORM state from the first sample of a key.
func NewDischargeState(sample models.FuelSample) *DischargeState {
	return &DischargeState{State: DischargeNorm, CurrentData: sample, StateData: sample}
}

// DischargeStateFromRecord reconstructs a mid-operation DISCHARGING state from
// a persisted incomplete discharge. Returns nil when the record is complete.
func DischargeStateFromRecord(discharge models.FuelDischarge) *DischargeState {
	if discharge.IsComplete {
		return nil
	}
	d := discharge
	return &DischargeState{
		State:            Discharging,
		StateData:        models.FuelSample{Time: d.Begin, FuelVolume: d.VolumeBegin, Location: d.Location},
		CurrentData:      models.FuelSample{Time: d.End, FuelVolume: d.VolumeEnd, Location: d.Location},
		CurrentDischarge: &d,
	}
}

func (s *DischargeState) commit(sample models.FuelSample, next DischargeStateKind) {
	if s.State != next {
		s.State = next
		s.StateData = sample
	}
	s.CurrentData = sample
}

func (s *DischargeState) setBeginMoveThreshold(t time.Time) { s.BeginMoveThreshold = &t }

func (s *DischargeState) beginMoveComplete(t time.Time) bool {
	return s.BeginMoveThreshold == nil || s.BeginMoveThreshold.Before(t)
}

func (s *DischargeState) setStopTimeThreshold(t time.Time) { s.StopTimeThreshold = &t }

// stopTimeComplete reports whether the stoppage has lasted long enough. An
// unset threshold is satisfied.
func (s *DischargeState) stopTimeComplete(t time.Time) bool {
	return s.StopTimeThreshold == nil || !t.Before(*s.StopTimeThreshold)
}

// setFuelVolumeThreshold records the floor the level must fall below before a
// suspected drain is promoted.
func (s *DischargeState) setFuelVolumeThreshold(min float64) {
	v := s.CurrentData.FuelVolume - min
	s.FuelVolumeThreshold = &v
}

func (s *DischargeState) fuelVolumeThresholdComplete(v float64) bool {
	return s.FuelVolumeThreshold != nil && v <= *s.FuelVolumeThreshold
}

func (s *DischargeState) setCheckTimeThreshold(t time.Time) { s.CheckTimeThreshold = &t }

func (s *DischargeState) checkTimeComplete(t time.Time) bool {
	return s.CheckTimeThreshold != nil && !t.Before(*s.CheckTimeThreshold)
}

// resetCheckValues starts a fresh verification buffer seeded with the reading
// that ended the drain.
func (s *DischargeState) resetCheckValues(seed float64) { s.CheckValues = []float64{seed} }

func (s *DischargeState) addCheckValue(v float64) { s.CheckValues = append(s.CheckValues, v) }

// checkAverage returns the mean buffered reading; ok is false for an empty
// buffer.
func (s *DischargeState) checkAverage() (avg float64, ok bool) {
	if len(s.CheckValues) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range s.CheckValues {
		sum += v
	}
	return sum / float64(len(s.CheckValues)), true
}

// confirmed decides whether the finished drain was real: the level must sit
// more than minVolume below where it started, and the recorded volume must
// exceed minVolume. An empty buffer means not confirmed.
func (s *DischargeState) confirmed(minVolume float64) bool {
	avg, ok := s.checkAverage()
	if !ok || s.CurrentDischarge == nil {
		return false
	}
	delta := s.CurrentDischarge.VolumeBegin - avg
	return delta > minVolume && s.CurrentDischarge.Volume > minVolume
}

func (s *DischargeState) openDischarge(ev models.FuelDataEvent, begin, sample models.FuelSample) *models.FuelDischarge {
	s.CurrentDischarge = &models.FuelDischarge{
		ID:             uuid.New(),
		OrganizationID: ev.OrganizationID,
		ObjectID:       ev.ObjectID,
		TankID:         ev.Tank.ID,
		Location:       begin.Location,
		Begin:          begin.Time,
		VolumeBegin:    begin.FuelVolume,
		End:            sample.Time,
		VolumeEnd:      sample.FuelVolume,
		Volume:         begin.FuelVolume - sample.FuelVolume,
	}
	return s.CurrentDischarge
}

func (s *DischargeState) extendDischarge(sample models.FuelSample) *models.FuelDischarge {
	s.CurrentDischarge.End = sample.Time
	s.CurrentDischarge.VolumeEnd = sample.FuelVolume
	s.CurrentDischarge.Volume = s.CurrentDischarge.VolumeBegin - s.CurrentDischarge.VolumeEnd
	return s.CurrentDischarge
}

func (s *DischargeState) closeDischarge() *models.FuelDischarge {
	s.CurrentDischarge.IsComplete = true
	return s.CurrentDischarge
}

func (s *DischargeState) clearDischarge() { s.CurrentDischarge = nil }
