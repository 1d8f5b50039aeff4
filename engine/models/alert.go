package models

import "time"

// Alert event codes emitted by the detection engine.
const (
	AlertFuelChargeBegin    = "fuel_charge_begin"
	AlertFuelChargeEnd      = "fuel_charge_end"
	AlertFuelDischargeBegin = "fuel_discharge_begin"
	AlertFuelDischargeEnd   = "fuel_discharge_end"
)

// Alert is an advisory notification rebroadcast to operators. Attributes
// carry the volumes and times of the underlying operation.
type Alert struct {
	OrganizationID OrganizationID `json:"organization_id"`
	ObjectID       ObjectID       `json:"object_id"`
	Resource       string         `json:"resource"`
	Event          string         `json:"event"`
	Service        []string       `json:"service"`
	CreateTime     time.Time      `json:"create_time"`
	Attributes     map[string]any `json:"attributes"`
	Text           string         `json:"text"`
}
