package models

import "time"

// ChargeSettings are the thresholds driving refuel detection.
type ChargeSettings struct {
	MinVolume               float64       `yaml:"min_volume" json:"min_volume"`
	MinDurationIn           time.Duration `yaml:"min_duration_in" json:"min_duration_in"`
	MinDurationOut          time.Duration `yaml:"min_duration_out" json:"min_duration_out"`
	MinDurationSudden       time.Duration `yaml:"min_duration_sudden" json:"min_duration_sudden"`
	IgnoreOnSpeed           bool          `yaml:"ignore_on_speed" json:"ignore_on_speed"`
	IgnoreDurationBeginMove time.Duration `yaml:"ignore_duration_begin_move" json:"ignore_duration_begin_move"`
}

// DischargeSettings are the thresholds driving drain detection. MaxFuelSpeed
// is a magnitude in liters/second; levels falling faster than it are suspect.
type DischargeSettings struct {
	MinVolume               float64       `yaml:"min_volume" json:"min_volume"`
	MaxFuelSpeed            float64       `yaml:"max_fuel_speed" json:"max_fuel_speed"`
	MinStoppageDuration     time.Duration `yaml:"min_stoppage_duration" json:"min_stoppage_duration"`
	IgnoreOnSpeed           bool          `yaml:"ignore_on_speed" json:"ignore_on_speed"`
	IgnoreDurationBeginMove time.Duration `yaml:"ignore_duration_begin_move" json:"ignore_duration_begin_move"`
}

// DefaultChargeSettings returns the built-in charge thresholds.
func DefaultChargeSettings() ChargeSettings {
	return ChargeSettings{
		MinVolume:         150,
		MinDurationIn:     30 * time.Second,
		MinDurationOut:    5 * time.Second,
		MinDurationSudden: 30 * time.Second,
	}
}

// DefaultDischargeSettings returns the built-in discharge thresholds.
func DefaultDischargeSettings() DischargeSettings {
	return DischargeSettings{
		MinVolume:           100,
		MaxFuelSpeed:        0.300,
		MinStoppageDuration: 30 * time.Second,
	}
}

// TimeInterval is a half-open applicability window (Begin, End].
type TimeInterval struct {
	Begin time.Time `json:"begin"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window: Begin < t <= End.
func (i TimeInterval) Contains(t time.Time) bool {
	return i.Begin.Before(t) && !i.End.Before(t)
}

// Overlaps reports whether two windows intersect.
func (i TimeInterval) Overlaps(other TimeInterval) bool {
	return i.Begin.Before(other.End) && other.Begin.Before(i.End)
}

// ObjectFuelSettings binds a (organization, tank) pair with either an object
// or a model (exactly one) to a charge/discharge settings pair. Deletion is
// soft: DeletedAt non-zero means the record no longer applies.
type ObjectFuelSettings struct {
	ID             SettingsID        `json:"id"`
	OrganizationID OrganizationID    `json:"organization_id"`
	TankID         TankID            `json:"tank_id"`
	ObjectID       *ObjectID         `json:"object_id,omitempty"`
	ModelID        ModelID           `json:"model_id"`
	Charge         ChargeSettings    `json:"charge"`
	Discharge      DischargeSettings `json:"discharge"`
	CreatedAt      time.Time         `json:"created_at"`
	DeletedAt      *time.Time        `json:"deleted_at,omitempty"`
}

// Deleted reports whether the record has been soft-deleted.
func (s *ObjectFuelSettings) Deleted() bool { return s.DeletedAt != nil }

// ObjectFuelIntervalSettings is the interval-scoped variant: it applies only
// to samples whose timestamp falls inside Interval.
type ObjectFuelIntervalSettings struct {
	ObjectFuelSettings `json:",inline"`
	Interval           TimeInterval `json:"interval"`
}
