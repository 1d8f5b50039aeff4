package models

import (
	"time"

	"github.com/google/uuid"
)

// Identifier types are tenant-scoped UUIDs. Every record the engine touches is
// qualified by an OrganizationID.
type (
	OrganizationID = uuid.UUID
	ObjectID       = uuid.UUID
	ModelID        = uuid.UUID
	TankID         = uuid.UUID
	ChargeID       = uuid.UUID
	DischargeID    = uuid.UUID
	SettingsID     = uuid.UUID
)

// Point is a geographic location carried through from telemetry. It is never
// used in detection decisions.
type Point struct {
	Lon float64 `json:"lon" yaml:"lon"`
	Lat float64 `json:"lat" yaml:"lat"`
}

// TankParam describes one registered fuel reservoir parameter: the message
// attribute under which its volume arrives in raw telemetry, plus a display
// name used in alerts. The catalog of TankParams is loaded once at startup and
// immutable thereafter.
type TankParam struct {
	ID      TankID `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	MsgAttr string `yaml:"msg_attr" json:"msg_attr"`
}

// FuelSample is the smallest analyzable observation for one tank at one
// instant. FuelSpeed is derived from the previous sample by the discharge FSM
// step; it stays zero until set.
type FuelSample struct {
	Time       time.Time
	Speed      float64 // meters/second; 0 means stationary
	FuelVolume float64 // liters
	Location   *Point
	FuelSpeed  float64 // liters/second, signed; derived
}

// SetFuelSpeed derives the rate of change of the fuel level from the previous
// sample. Equal timestamps (or a zero volume delta) leave FuelSpeed at 0.
func (s *FuelSample) SetFuelSpeed(prev FuelSample) {
	duration := s.Time.Sub(prev.Time).Seconds()
	delta := s.FuelVolume - prev.FuelVolume
	if duration > 0 && delta != 0 {
		s.FuelSpeed = delta / duration
	}
}

// FuelDataEvent is the envelope around a FuelSample carrying routing context.
// Per-key state is keyed by (ObjectID, Tank.ID).
type FuelDataEvent struct {
	OrganizationID OrganizationID
	ObjectID       ObjectID
	ModelID        ModelID
	Tank           TankParam
	Sample         FuelSample
}

// FuelCharge is a detected refueling operation. Volume is always
// VolumeEnd - VolumeBegin and non-negative.
type FuelCharge struct {
	ID             ChargeID       `json:"id"`
	OrganizationID OrganizationID `json:"organization_id"`
	ObjectID       ObjectID       `json:"object_id"`
	TankID         TankID         `json:"tank_id"`
	Location       *Point         `json:"location,omitempty"`
	Begin          time.Time      `json:"begin"`
	End            time.Time      `json:"end"`
	VolumeBegin    float64        `json:"volume_begin"`
	VolumeEnd      float64        `json:"volume_end"`
	Volume         float64        `json:"volume"`
	IsComplete     bool           `json:"is_complete"`
}

// FuelDischarge is a detected drain operation (theft, leakage, drainage).
// Volume is always VolumeBegin - VolumeEnd and non-negative.
type FuelDischarge struct {
	ID             DischargeID    `json:"id"`
	OrganizationID OrganizationID `json:"organization_id"`
	ObjectID       ObjectID       `json:"object_id"`
	TankID         TankID         `json:"tank_id"`
	Location       *Point         `json:"location,omitempty"`
	Begin          time.Time      `json:"begin"`
	End            time.Time      `json:"end"`
	VolumeBegin    float64        `json:"volume_begin"`
	VolumeEnd      float64        `json:"volume_end"`
	Volume         float64        `json:"volume"`
	IsComplete     bool           `json:"is_complete"`
}

// FullTelemetryEvent is a raw telemetry message from the bus. Params holds the
// flat attribute map; the engine reads the registered tank attributes and
// "speed" from it.
type FullTelemetryEvent struct {
	ObjectID     ObjectID       `json:"object_id"`
	EnterpriseID OrganizationID `json:"enterprise_id"`
	ModelID      ModelID        `json:"model_id"`
	Time         time.Time      `json:"time"`
	ReceiveTime  time.Time      `json:"receive_time"`
	Location     *Point         `json:"location,omitempty"`
	Params       map[string]any `json:"params"`
}

// FloatParam reads a numeric attribute from Params. JSON decoding yields
// float64; integer values are tolerated for hand-built events.
func (e *FullTelemetryEvent) FloatParam(key string) (float64, bool) {
	raw, ok := e.Params[key]
	if !ok || raw == nil {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
