// Package query provides read-side helpers over the charge and discharge
// stores, shaped for charting.
package query

import (
	"context"
	"time"

	"github.com/99souls/fuelwatch/engine/models"
	"github.com/99souls/fuelwatch/engine/storage"
)

// ChartInterval is one operation rendered on a timeline.
type ChartInterval struct {
	ObjectID   models.ObjectID     `json:"object_id"`
	Interval   models.TimeInterval `json:"interval"`
	Attributes map[string]any      `json:"attributes"`
}

// ChargeIntervals returns the charges of an object overlapping the window as
// chart intervals, ordered by begin time.
func ChargeIntervals(ctx context.Context, store storage.ChargeStore, org models.OrganizationID, object models.ObjectID, from, to time.Time) ([]ChartInterval, error) {
	charges, err := store.Query(ctx, org, object, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]ChartInterval, 0, len(charges))
	for _, c := range charges {
		out = append(out, ChartInterval{
			ObjectID: c.ObjectID,
			Interval: models.TimeInterval{Begin: c.Begin, End: c.End},
			Attributes: map[string]any{
				"volume_begin": c.VolumeBegin,
				"volume_end":   c.VolumeEnd,
			},
		})
	}
	return out, nil
}

// DischargeIntervals is the discharge counterpart of ChargeIntervals.
func DischargeIntervals(ctx context.Context, store storage.DischargeStore, org models.OrganizationID, object models.ObjectID, from, to time.Time) ([]ChartInterval, error) {
	discharges, err := store.Query(ctx, org, object, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]ChartInterval, 0, len(discharges))
	for _, d := range discharges {
		out = append(out, ChartInterval{
			ObjectID: d.ObjectID,
			Interval: models.TimeInterval{Begin: d.Begin, End: d.End},
			Attributes: map[string]any{
				"volume_begin": d.VolumeBegin,
				"volume_end":   d.VolumeEnd,
			},
		})
	}
	return out, nil
}
