package fsm

import (
	"context"

	"github.com/99souls/fuelwatch/engine/models"
)

// Emitter receives the lifecycle output of the state machines. Implementations
// persist records and broadcast commands/alerts; the FSMs never touch
// infrastructure directly.
type Emitter interface {
	BeginCharge(ctx context.Context, charge models.FuelCharge) error
	UpdateCharge(ctx context.Context, charge models.FuelCharge) error
	EndCharge(ctx context.Context, charge models.FuelCharge) error

	BeginDischarge(ctx context.Context, discharge models.FuelDischarge) error
	UpdateDischarge(ctx context.Context, discharge models.FuelDischarge) error
	EndDischarge(ctx context.Context, discharge models.FuelDischarge) error
	DeleteDischarge(ctx context.Context, org models.OrganizationID, id models.DischargeID) error

	Alert(ctx context.Context, alert models.Alert) error
}

// NopEmitter discards everything. Useful in tests exercising transition logic
// alone.
type NopEmitter struct{}

func (NopEmitter) BeginCharge(context.Context, models.FuelCharge) error        { return nil }
func (NopEmitter) UpdateCharge(context.Context, models.FuelCharge) error       { return nil }
func (NopEmitter) EndCharge(context.Context, models.FuelCharge) error          { return nil }
func (NopEmitter) BeginDischarge(context.Context, models.FuelDischarge) error  { return nil }
func (NopEmitter) UpdateDischarge(context.Context, models.FuelDischarge) error { return nil }
func (NopEmitter) EndDischarge(context.Context, models.FuelDischarge) error    { return nil }
func (NopEmitter) DeleteDischarge(context.Context, models.OrganizationID, models.DischargeID) error {
	return nil
}
func (NopEmitter) Alert(context.Context, models.Alert) error { return nil }
