// Package command implements the lifecycle command handlers behind the FSM
// emitter seam. Every emission persists the record first (with bounded retry)
// and then broadcasts the command and any alert on the bus. Bus delivery is
// best-effort: a dropped alert never fails the step.
package command

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/99souls/fuelwatch/engine/models"
	"github.com/99souls/fuelwatch/engine/storage"
	"github.com/99souls/fuelwatch/engine/telemetry/events"
	"github.com/99souls/fuelwatch/engine/telemetry/logging"
)

// Handlers wires the FSM emitter contract to storage and the bus.
type Handlers struct {
	charges    storage.ChargeStore
	discharges storage.DischargeStore
	bus        events.Bus
	log        logging.Logger

	maxRetryElapsed time.Duration
}

// NewHandlers builds the emitter implementation. maxRetryElapsed bounds the
// exponential backoff applied to storage writes; zero selects a small default.
func NewHandlers(charges storage.ChargeStore, discharges storage.DischargeStore, bus events.Bus, log logging.Logger, maxRetryElapsed time.Duration) *Handlers {
	if maxRetryElapsed <= 0 {
		maxRetryElapsed = 5 * time.Second
	}
	return &Handlers{charges: charges, discharges: discharges, bus: bus, log: log, maxRetryElapsed: maxRetryElapsed}
}

func (h *Handlers) retry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = h.maxRetryElapsed
	return backoff.Retry(op, backoff.WithContext(policy, ctx))
}

func (h *Handlers) publish(ctx context.Context, category, typ string, payload any) {
	err := h.bus.PublishCtx(ctx, events.Event{Category: category, Type: typ, Severity: "info", Payload: payload})
	if err != nil {
		h.log.ErrorCtx(ctx, "bus publish failed", "type", typ, "error", err)
	}
}

func (h *Handlers) putCharge(ctx context.Context, typ string, charge models.FuelCharge) error {
	if err := h.retry(ctx, func() error { return h.charges.Put(ctx, charge) }); err != nil {
		return err
	}
	h.publish(ctx, events.CategoryCommand, typ, charge)
	return nil
}

func (h *Handlers) putDischarge(ctx context.Context, typ string, discharge models.FuelDischarge) error {
	if err := h.retry(ctx, func() error { return h.discharges.Put(ctx, discharge) }); err != nil {
		return err
	}
	h.publish(ctx, events.CategoryCommand, typ, discharge)
	return nil
}

func (h *Handlers) BeginCharge(ctx context.Context, charge models.FuelCharge) error {
	return h.putCharge(ctx, events.TypeBeginFuelCharge, charge)
}

func (h *Handlers) UpdateCharge(ctx context.Context, charge models.FuelCharge) error {
	return h.putCharge(ctx, events.TypeSetFuelCharge, charge)
}

func (h *Handlers) EndCharge(ctx context.Context, charge models.FuelCharge) error {
	return h.putCharge(ctx, events.TypeEndFuelCharge, charge)
}

func (h *Handlers) BeginDischarge(ctx context.Context, discharge models.FuelDischarge) error {
	return h.putDischarge(ctx, events.TypeBeginFuelDischarge, discharge)
}

func (h *Handlers) UpdateDischarge(ctx context.Context, discharge models.FuelDischarge) error {
	return h.putDischarge(ctx, events.TypeSetFuelDischarge, discharge)
}

func (h *Handlers) EndDischarge(ctx context.Context, discharge models.FuelDischarge) error {
	return h.putDischarge(ctx, events.TypeEndFuelDischarge, discharge)
}

// DeleteDischarge removes a cancelled false-alarm discharge.
func (h *Handlers) DeleteDischarge(ctx context.Context, org models.OrganizationID, id models.DischargeID) error {
	if err := h.retry(ctx, func() error { return h.discharges.Delete(ctx, org, id) }); err != nil {
		return err
	}
	h.publish(ctx, events.CategoryCommand, events.TypeDeleteFuelDischarge, struct {
		OrganizationID models.OrganizationID `json:"organization_id"`
		ID             models.DischargeID    `json:"id"`
	}{org, id})
	return nil
}

// Alert broadcasts an advisory alert. Alerts are never persisted here and a
// failed publish is swallowed after logging.
func (h *Handlers) Alert(ctx context.Context, alert models.Alert) error {
	h.publish(ctx, events.CategoryAlert, events.TypeCreateAlert, alert)
	return nil
}
