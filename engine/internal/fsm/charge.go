package fsm

import (
	"context"
	"fmt"
	"time"

	"github.com/99souls/fuelwatch/engine/models"
	"github.com/99souls/fuelwatch/engine/telemetry/logging"
)

// ChargeFSM drives refuel detection for one (object, tank) key. Instances are
// cheap and built per event around the cached ChargeState.
type ChargeFSM struct {
	settings models.ChargeSettings
	state    *ChargeState
	emitter  Emitter
	log      logging.Logger
}

// NewChargeFSM wraps the given per-key state.
func NewChargeFSM(settings models.ChargeSettings, state *ChargeState, emitter Emitter, log logging.Logger) *ChargeFSM {
	return &ChargeFSM{settings: settings, state: state, emitter: emitter, log: log}
}

// State exposes the wrapped per-key state.
func (f *ChargeFSM) State() *ChargeState { return f.state }

// Process ingests one sample. Stale samples (older than the last ingested one)
// are dropped with a warning and cause no state change or emission. The
// in-progress charge, if any, is returned.
func (f *ChargeFSM) Process(ctx context.Context, ev models.FuelDataEvent) (*models.FuelCharge, error) {
	sample := ev.Sample
	if sample.Time.Before(f.state.CurrentData.Time) {
		f.log.WarnCtx(ctx, "charge: sample from the past dropped",
			"object_id", ev.ObjectID, "tank_id", ev.Tank.ID,
			"sample_time", sample.Time, "current_time", f.state.CurrentData.Time)
		return f.state.CurrentCharge, nil
	}

	f.trackBeginMove(sample)

	var next ChargeStateKind
	var err error
	switch f.state.State {
	case ChargeFree:
		next, err = f.stepFree(ctx, ev)
	case ChargeMaybeCharging:
		next, err = f.stepMaybeCharging(ctx, ev)
	case ChargeCharging:
		next, err = f.stepCharging(ctx, ev)
	case ChargeMaybeFree:
		next, err = f.stepMaybeFree(ctx, ev)
	default:
		return nil, fmt.Errorf("charge fsm: unknown state %q", f.state.State)
	}
	if err != nil {
		return nil, err
	}

	f.state.commit(sample, next)
	return f.state.CurrentCharge, nil
}

// trackBeginMove arms the quiet window when the asset starts moving. Sloshing
// right after departure produces false level rises.
func (f *ChargeFSM) trackBeginMove(sample models.FuelSample) {
	if f.settings.IgnoreDurationBeginMove <= 0 {
		return
	}
	if f.state.CurrentData.Speed == 0 && sample.Speed > 0 {
		f.state.setBeginMoveThreshold(sample.Time.Add(f.settings.IgnoreDurationBeginMove))
	}
}

func (f *ChargeFSM) stepFree(ctx context.Context, ev models.FuelDataEvent) (ChargeStateKind, error) {
	sample := ev.Sample
	if sample.FuelVolume <= f.state.CurrentData.FuelVolume {
		return ChargeFree, nil
	}

	if f.settings.IgnoreOnSpeed && sample.Speed > 0 {
		return ChargeFree, nil
	}

	// A single gap can contain a whole refuel; detect it without passing
	// through MAYBE_CHARGING.
	if f.settings.MinDurationSudden > 0 &&
		f.state.isSuddenCharge(sample, f.settings.MinVolume, f.settings.MinDurationSudden) {
		charge := f.state.openCharge(ev, f.state.CurrentData, sample)
		if err := f.beginCharge(ctx, ev, *charge); err != nil {
			return "", err
		}
		return ChargeCharging, nil
	}

	f.state.setTimeThreshold(f.settings.MinDurationIn)
	f.state.setFuelVolumeThreshold(f.settings.MinVolume)
	return ChargeMaybeCharging, nil
}

func (f *ChargeFSM) stepMaybeCharging(ctx context.Context, ev models.FuelDataEvent) (ChargeStateKind, error) {
	sample := ev.Sample
	if f.settings.IgnoreOnSpeed && sample.Speed > 0 {
		return ChargeFree, nil
	}
	if f.settings.IgnoreDurationBeginMove > 0 && !f.state.beginMoveComplete(sample.Time) {
		return ChargeFree, nil
	}
	// The suspected rise reversed.
	if sample.FuelVolume < f.state.CurrentData.FuelVolume {
		return ChargeFree, nil
	}

	if f.state.timeThresholdComplete(sample.Time) && f.state.fuelVolumeThresholdComplete(sample.FuelVolume) {
		charge := f.state.openCharge(ev, f.state.StateData, sample)
		if err := f.beginCharge(ctx, ev, *charge); err != nil {
			return "", err
		}
		return ChargeCharging, nil
	}
	return ChargeMaybeCharging, nil
}

func (f *ChargeFSM) stepCharging(ctx context.Context, ev models.FuelDataEvent) (ChargeStateKind, error) {
	sample := ev.Sample
	if sample.FuelVolume < f.state.CurrentData.FuelVolume {
		f.state.setTimeThreshold(f.settings.MinDurationOut)
		return ChargeMaybeFree, nil
	}
	charge := f.state.extendCharge(sample)
	if err := f.emitter.UpdateCharge(ctx, *charge); err != nil {
		return "", err
	}
	return ChargeCharging, nil
}

func (f *ChargeFSM) stepMaybeFree(ctx context.Context, ev models.FuelDataEvent) (ChargeStateKind, error) {
	sample := ev.Sample
	if sample.FuelVolume <= f.state.CurrentData.FuelVolume {
		if !f.state.timeThresholdComplete(sample.Time) {
			return ChargeMaybeFree, nil
		}
		charge := f.state.closeCharge(sample)
		if err := f.endCharge(ctx, ev, *charge); err != nil {
			return "", err
		}
		f.state.clearCharge()
		return ChargeFree, nil
	}
	// Level rose again. While stationary that is the refuel continuing; on the
	// move it is slosh, so hold.
	if sample.Speed > 0 {
		return ChargeMaybeFree, nil
	}
	return ChargeCharging, nil
}

func (f *ChargeFSM) beginCharge(ctx context.Context, ev models.FuelDataEvent, charge models.FuelCharge) error {
	if err := f.emitter.BeginCharge(ctx, charge); err != nil {
		return err
	}
	if err := f.emitter.Alert(ctx, chargeAlert(ev, charge, models.AlertFuelChargeBegin, charge.Begin,
		fmt.Sprintf("Fuel charge started (%s)", ev.Tank.Name))); err != nil {
		return err
	}
	f.log.InfoCtx(ctx, "charge started", "charge_id", charge.ID, "object_id", charge.ObjectID,
		"tank_id", charge.TankID, "volume_begin", charge.VolumeBegin)
	return nil
}

func (f *ChargeFSM) endCharge(ctx context.Context, ev models.FuelDataEvent, charge models.FuelCharge) error {
	if err := f.emitter.EndCharge(ctx, charge); err != nil {
		return err
	}
	if err := f.emitter.Alert(ctx, chargeAlert(ev, charge, models.AlertFuelChargeEnd, charge.End,
		fmt.Sprintf("Fuel charge finished (%s)", ev.Tank.Name))); err != nil {
		return err
	}
	f.log.InfoCtx(ctx, "charge finished", "charge_id", charge.ID, "object_id", charge.ObjectID,
		"tank_id", charge.TankID, "volume", charge.Volume)
	return nil
}

func chargeAlert(ev models.FuelDataEvent, charge models.FuelCharge, code string, at time.Time, text string) models.Alert {
	return models.Alert{
		OrganizationID: ev.OrganizationID,
		ObjectID:       ev.ObjectID,
		Resource:       ev.ObjectID.String(),
		Event:          code,
		Service:        []string{"fuel"},
		CreateTime:     at,
		Attributes: map[string]any{
			"tank_name":    ev.Tank.Name,
			"volume_begin": charge.VolumeBegin,
			"volume_end":   charge.VolumeEnd,
			"volume":       charge.Volume,
			"begin_time":   charge.Begin.Format(time.RFC3339),
			"end_time":     charge.End.Format(time.RFC3339),
		},
		Text: text,
	}
}
