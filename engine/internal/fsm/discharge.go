package fsm

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/99souls/fuelwatch/engine/models"
	"github.com/99souls/fuelwatch/engine/telemetry/logging"
)

// ExitDischargeDuration is the probationary window after a drain stops during
// which refilling or flat readings can cancel it as a false alarm.
const ExitDischargeDuration = 60 * time.Second

// DischargeFSM drives drain detection for one (object, tank) key.
type DischargeFSM struct {
	settings models.DischargeSettings
	state    *DischargeState
	emitter  Emitter
	log      logging.Logger
}

// NewDischargeFSM wraps the given per-key state.
func NewDischargeFSM(settings models.DischargeSettings, state *DischargeState, emitter Emitter, log logging.Logger) *DischargeFSM {
	return &DischargeFSM{settings: settings, state: state, emitter: emitter, log: log}
}

// State exposes the wrapped per-key state.
func (f *DischargeFSM) State() *DischargeState { return f.state }

// Process ingests one sample. The fuel speed is derived from the previous
// sample before the state handler runs. Stale samples are dropped with a
// warning.
func (f *DischargeFSM) Process(ctx context.Context, ev models.FuelDataEvent) (*models.FuelDischarge, error) {
	sample := ev.Sample
	if sample.Time.Before(f.state.CurrentData.Time) {
		f.log.WarnCtx(ctx, "discharge: sample from the past dropped",
			"object_id", ev.ObjectID, "tank_id", ev.Tank.ID,
			"sample_time", sample.Time, "current_time", f.state.CurrentData.Time)
		return f.state.CurrentDischarge, nil
	}

	sample.SetFuelSpeed(f.state.CurrentData)
	ev.Sample = sample
	f.trackMove(sample)

	var next DischargeStateKind
	var err error
	switch f.state.State {
	case DischargeNorm:
		next, err = f.stepNorm(ctx, ev)
	case DischargeMaybe:
		next, err = f.stepMaybe(ctx, ev)
	case Discharging:
		next, err = f.stepDischarging(ctx, ev)
	case DischargeExit:
		next, err = f.stepExit(ctx, ev)
	default:
		return nil, fmt.Errorf("discharge fsm: unknown state %q", f.state.State)
	}
	if err != nil {
		return nil, err
	}

	f.state.commit(sample, next)
	return f.state.CurrentDischarge, nil
}

// trackMove arms the begin-move quiet window and the stoppage threshold on
// speed transitions.
func (f *DischargeFSM) trackMove(sample models.FuelSample) {
	if f.settings.IgnoreDurationBeginMove > 0 {
		if f.state.CurrentData.Speed == 0 && sample.Speed > 0 {
			f.state.setBeginMoveThreshold(sample.Time.Add(f.settings.IgnoreDurationBeginMove))
		}
	}
	if f.settings.MinStoppageDuration > 0 {
		if f.state.CurrentData.Speed > 0 && sample.Speed == 0 {
			f.state.setStopTimeThreshold(sample.Time.Add(f.settings.MinStoppageDuration))
		}
	}
}

// exceedsMaxSpeed reports whether the level is falling faster than the
// configured ceiling.
func (f *DischargeFSM) exceedsMaxSpeed(fuelSpeed float64) bool {
	return math.Abs(fuelSpeed) > math.Abs(f.settings.MaxFuelSpeed)
}

func (f *DischargeFSM) stepNorm(ctx context.Context, ev models.FuelDataEvent) (DischargeStateKind, error) {
	sample := ev.Sample
	if f.settings.IgnoreOnSpeed && sample.Speed > 0 {
		return DischargeNorm, nil
	}
	if f.settings.IgnoreDurationBeginMove > 0 && !f.state.beginMoveComplete(sample.Time) {
		return DischargeNorm, nil
	}
	if sample.FuelSpeed >= 0 || !f.exceedsMaxSpeed(sample.FuelSpeed) {
		return DischargeNorm, nil
	}

	f.state.setFuelVolumeThreshold(f.settings.MinVolume)

	// A steep single-gap fall can blow straight through the volume floor; in
	// that case the drain is already underway and MAYBE_DISCHARGING would
	// only lose it.
	if f.state.stopTimeComplete(sample.Time) && f.state.fuelVolumeThresholdComplete(sample.FuelVolume) {
		discharge := f.state.openDischarge(ev, f.state.CurrentData, sample)
		if err := f.beginDischarge(ctx, ev, *discharge); err != nil {
			return "", err
		}
		return Discharging, nil
	}
	return DischargeMaybe, nil
}

func (f *DischargeFSM) stepMaybe(ctx context.Context, ev models.FuelDataEvent) (DischargeStateKind, error) {
	sample := ev.Sample
	if f.settings.IgnoreDurationBeginMove > 0 && !f.state.beginMoveComplete(sample.Time) {
		return DischargeNorm, nil
	}
	// A flat level holds the suspicion open.
	if sample.FuelSpeed == 0 {
		return DischargeMaybe, nil
	}
	if sample.FuelSpeed <= 0 && f.exceedsMaxSpeed(sample.FuelSpeed) {
		if f.state.stopTimeComplete(sample.Time) && f.state.fuelVolumeThresholdComplete(sample.FuelVolume) {
			discharge := f.state.openDischarge(ev, f.state.StateData, sample)
			if err := f.beginDischarge(ctx, ev, *discharge); err != nil {
				return "", err
			}
			return Discharging, nil
		}
		return DischargeMaybe, nil
	}
	return DischargeNorm, nil
}

func (f *DischargeFSM) stepDischarging(ctx context.Context, ev models.FuelDataEvent) (DischargeStateKind, error) {
	sample := ev.Sample
	// A flat level does not end the drain; siphoning pauses.
	if sample.FuelSpeed == 0 {
		discharge := f.state.extendDischarge(sample)
		if err := f.emitter.UpdateDischarge(ctx, *discharge); err != nil {
			return "", err
		}
		return Discharging, nil
	}
	if sample.FuelSpeed < 0 && f.exceedsMaxSpeed(sample.FuelSpeed) {
		discharge := f.state.extendDischarge(sample)
		if err := f.emitter.UpdateDischarge(ctx, *discharge); err != nil {
			return "", err
		}
		return Discharging, nil
	}

	// The fall stopped; enter the verification window before trusting it. The
	// record is extended to the exiting sample so the eventual confirmation
	// judges the full drain, but nothing is emitted until the verdict.
	f.state.extendDischarge(sample)
	f.state.setCheckTimeThreshold(sample.Time.Add(ExitDischargeDuration))
	f.state.resetCheckValues(sample.FuelVolume)
	return DischargeExit, nil
}

func (f *DischargeFSM) stepExit(ctx context.Context, ev models.FuelDataEvent) (DischargeStateKind, error) {
	sample := ev.Sample
	if !f.state.checkTimeComplete(sample.Time) {
		// The level is falling steeply again, below the tentative end: the
		// drain never really stopped.
		if sample.FuelSpeed <= 0 && f.exceedsMaxSpeed(sample.FuelSpeed) &&
			sample.FuelVolume < f.state.CurrentDischarge.VolumeEnd {
			return Discharging, nil
		}
		f.state.addCheckValue(sample.FuelVolume)
		return DischargeExit, nil
	}

	if f.state.confirmed(f.settings.MinVolume) {
		discharge := f.state.closeDischarge()
		if err := f.endDischarge(ctx, ev, *discharge); err != nil {
			return "", err
		}
		f.state.clearDischarge()
	} else {
		if err := f.cancelDischarge(ctx); err != nil {
			return "", err
		}
	}
	return DischargeNorm, nil
}

func (f *DischargeFSM) beginDischarge(ctx context.Context, ev models.FuelDataEvent, discharge models.FuelDischarge) error {
	if err := f.emitter.BeginDischarge(ctx, discharge); err != nil {
		return err
	}
	if err := f.emitter.Alert(ctx, dischargeAlert(ev, discharge, models.AlertFuelDischargeBegin, discharge.Begin,
		fmt.Sprintf("Fuel discharge possibly started (%s)", ev.Tank.Name))); err != nil {
		return err
	}
	f.log.InfoCtx(ctx, "discharge started", "discharge_id", discharge.ID, "object_id", discharge.ObjectID,
		"tank_id", discharge.TankID, "volume_begin", discharge.VolumeBegin)
	return nil
}

func (f *DischargeFSM) endDischarge(ctx context.Context, ev models.FuelDataEvent, discharge models.FuelDischarge) error {
	if err := f.emitter.EndDischarge(ctx, discharge); err != nil {
		return err
	}
	if err := f.emitter.Alert(ctx, dischargeAlert(ev, discharge, models.AlertFuelDischargeEnd, discharge.End,
		fmt.Sprintf("Fuel discharge confirmed (%s)", ev.Tank.Name))); err != nil {
		return err
	}
	f.log.InfoCtx(ctx, "discharge confirmed", "discharge_id", discharge.ID, "object_id", discharge.ObjectID,
		"tank_id", discharge.TankID, "volume", discharge.Volume)
	return nil
}

// cancelDischarge withdraws a drain that failed verification. No alert: the
// begin alert was advisory and the record is removed.
func (f *DischargeFSM) cancelDischarge(ctx context.Context) error {
	discharge := f.state.CurrentDischarge
	if discharge == nil {
		return nil
	}
	if err := f.emitter.DeleteDischarge(ctx, discharge.OrganizationID, discharge.ID); err != nil {
		return err
	}
	f.log.InfoCtx(ctx, "discharge cancelled", "discharge_id", discharge.ID, "object_id", discharge.ObjectID)
	f.state.clearDischarge()
	return nil
}

func dischargeAlert(ev models.FuelDataEvent, discharge models.FuelDischarge, code string, at time.Time, text string) models.Alert {
	return models.Alert{
		OrganizationID: ev.OrganizationID,
		ObjectID:       ev.ObjectID,
		Resource:       ev.ObjectID.String(),
		Event:          code,
		Service:        []string{"fuel"},
		CreateTime:     at,
		Attributes: map[string]any{
			"tank_name":    ev.Tank.Name,
			"volume_begin": discharge.VolumeBegin,
			"volume_end":   discharge.VolumeEnd,
			"volume":       discharge.Volume,
			"begin_time":   discharge.Begin.Format(time.RFC3339),
			"end_time":     discharge.End.Format(time.RFC3339),
		},
		Text: text,
	}
}
