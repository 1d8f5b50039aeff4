package fsm

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/99souls/fuelwatch/engine/models"
	"github.com/99souls/fuelwatch/engine/telemetry/logging"
)

// recordingEmitter captures every emission for assertions.
type recordingEmitter struct {
	chargeBegins  []models.FuelCharge
	chargeUpdates []models.FuelCharge
	chargeEnds    []models.FuelCharge

	dischargeBegins  []models.FuelDischarge
	dischargeUpdates []models.FuelDischarge
	dischargeEnds    []models.FuelDischarge
	deletes          []models.DischargeID

	alerts []models.Alert
}

func (r *recordingEmitter) BeginCharge(_ context.Context, c models.FuelCharge) error {
	r.chargeBegins = append(r.chargeBegins, c)
	return nil
}

func (r *recordingEmitter) UpdateCharge(_ context.Context, c models.FuelCharge) error {
	r.chargeUpdates = append(r.chargeUpdates, c)
	return nil
}

func (r *recordingEmitter) EndCharge(_ context.Context, c models.FuelCharge) error {
	r.chargeEnds = append(r.chargeEnds, c)
	return nil
}

func (r *recordingEmitter) BeginDischarge(_ context.Context, d models.FuelDischarge) error {
	r.dischargeBegins = append(r.dischargeBegins, d)
	return nil
}

func (r *recordingEmitter) UpdateDischarge(_ context.Context, d models.FuelDischarge) error {
	r.dischargeUpdates = append(r.dischargeUpdates, d)
	return nil
}

func (r *recordingEmitter) EndDischarge(_ context.Context, d models.FuelDischarge) error {
	r.dischargeEnds = append(r.dischargeEnds, d)
	return nil
}

func (r *recordingEmitter) DeleteDischarge(_ context.Context, _ models.OrganizationID, id models.DischargeID) error {
	r.deletes = append(r.deletes, id)
	return nil
}

func (r *recordingEmitter) Alert(_ context.Context, a models.Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

var testBase = time.Date(2024, time.March, 12, 10, 0, 0, 0, time.UTC)

func at(seconds int) time.Time { return testBase.Add(time.Duration(seconds) * time.Second) }

func sample(seconds int, volume, speed float64) models.FuelSample {
	return models.FuelSample{Time: at(seconds), FuelVolume: volume, Speed: speed}
}

var (
	testOrg    = uuid.MustParse("6b1b4a24-8f6e-4e6c-9a3e-111111111111")
	testObject = uuid.MustParse("6b1b4a24-8f6e-4e6c-9a3e-222222222222")
	testModel  = uuid.MustParse("6b1b4a24-8f6e-4e6c-9a3e-333333333333")
	testTank   = models.TankParam{ID: uuid.MustParse("6b1b4a24-8f6e-4e6c-9a3e-444444444444"), Name: "main tank", MsgAttr: "fuel_main"}
)

func event(s models.FuelSample) models.FuelDataEvent {
	return models.FuelDataEvent{
		OrganizationID: testOrg,
		ObjectID:       testObject,
		ModelID:        testModel,
		Tank:           testTank,
		Sample:         s,
	}
}

func testLogger() logging.Logger {
	return logging.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}
