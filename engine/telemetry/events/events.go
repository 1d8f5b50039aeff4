package events

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/99souls/fuelwatch/engine/internal/telemetry/tracing"
	"github.com/99souls/fuelwatch/engine/telemetry/metrics"
)

// Category enumerations. Everything the engine consumes or emits travels the
// bus inside an Event envelope; external brokers bridge in and out of it.
const (
	CategoryTelemetry = "telemetry"
	CategorySettings  = "settings_change"
	CategoryCommand   = "fuel_command"
	CategoryAlert     = "alert"
	CategoryEngine    = "engine"
)

// Event types consumed by the pipeline driver.
const (
	TypeFullTelemetry                      = "full_telemetry"
	TypeObjectFuelSettingsModified         = "object_fuel_settings_modified"
	TypeObjectFuelSettingsDeleted          = "object_fuel_settings_deleted"
	TypeObjectFuelIntervalSettingsModified = "object_fuel_interval_settings_modified"
	TypeObjectFuelIntervalSettingsDeleted  = "object_fuel_interval_settings_deleted"
)

// Lifecycle command types emitted by the detection engine.
const (
	TypeBeginFuelCharge     = "begin_fuel_charge"
	TypeSetFuelCharge       = "set_fuel_charge"
	TypeEndFuelCharge       = "end_fuel_charge"
	TypeBeginFuelDischarge  = "begin_fuel_discharge"
	TypeSetFuelDischarge    = "set_fuel_discharge"
	TypeEndFuelDischarge    = "end_fuel_discharge"
	TypeDeleteFuelDischarge = "delete_fuel_discharge"
	TypeCreateAlert         = "create_alert"
)

// Event is the structured envelope for bus traffic. Payload carries the typed
// record (models.FullTelemetryEvent, models.FuelCharge, Alert, ...).
type Event struct {
	Time     time.Time `json:"time"`
	Category string    `json:"category"`
	Type     string    `json:"type"`
	Severity string    `json:"severity,omitempty"` // info|warn|error
	TraceID  string    `json:"trace_id,omitempty"`
	SpanID   string    `json:"span_id,omitempty"`
	Payload  any       `json:"payload,omitempty"`
}

// Subscription is a handle representing a consumer of events.
type Subscription interface {
	C() <-chan Event
	Close() error
	ID() int64
}

// BusStats returns runtime counters for observability.
type BusStats struct {
	Subscribers        int64
	Published          uint64
	Dropped            uint64
	PerSubscriberDrops map[int64]uint64
}

// Bus is the in-process event bus. Delivery is best-effort per subscriber: a
// full subscriber buffer drops the event rather than blocking the publisher.
type Bus interface {
	Publish(ev Event) error
	// PublishCtx enriches the event with trace/span IDs from ctx, then publishes.
	PublishCtx(ctx context.Context, ev Event) error
	Subscribe(buffer int) (Subscription, error)
	Unsubscribe(sub Subscription) error
	Stats() BusStats
}

// NewBus creates a bounded event bus instrumented via the provider (nil
// provider disables instrumentation).
func NewBus(provider metrics.Provider) Bus {
	b := &eventBus{subs: make(map[int64]*subscriber), provider: provider}
	b.initMetrics()
	return b
}

type eventBus struct {
	mu        sync.RWMutex
	subs      map[int64]*subscriber
	nextID    int64
	published atomic.Uint64
	dropped   atomic.Uint64

	provider   metrics.Provider
	mPublished metrics.Counter
	mDropped   metrics.Counter
}

func (b *eventBus) initMetrics() {
	if b.provider == nil {
		return
	}
	b.mPublished = b.provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "fuelwatch", Subsystem: "events", Name: "published_total", Help: "Total events published", Labels: []string{"category"}}})
	b.mDropped = b.provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "fuelwatch", Subsystem: "events", Name: "dropped_total", Help: "Total events dropped due to backpressure", Labels: []string{"subscriber"}}})
}

func (b *eventBus) Publish(ev Event) error {
	if ev.Category == "" {
		return errors.New("event missing category")
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	b.published.Add(1)
	if b.mPublished != nil {
		b.mPublished.Inc(1, ev.Category)
	}

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
			if b.mDropped != nil {
				b.mDropped.Inc(1, s.idLabel)
			}
		}
	}
	return nil
}

func (b *eventBus) PublishCtx(ctx context.Context, ev Event) error {
	if ev.TraceID == "" && ev.SpanID == "" {
		if traceID, spanID := tracing.ExtractIDs(ctx); traceID != "" || spanID != "" {
			ev.TraceID = traceID
			ev.SpanID = spanID
		}
	}
	return b.Publish(ev)
}

func (b *eventBus) Subscribe(buffer int) (Subscription, error) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	id := atomic.AddInt64(&b.nextID, 1)
	sub := &subscriber{id: id, ch: ch, bus: b, idLabel: strconv.FormatInt(id, 10)}
	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()
	return sub, nil
}

func (b *eventBus) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return nil
	}
	id := sub.ID()
	b.mu.Lock()
	s := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if s != nil {
		close(s.ch)
	}
	return nil
}

func (b *eventBus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	stats := BusStats{Subscribers: int64(len(b.subs)), Published: b.published.Load(), Dropped: b.dropped.Load(), PerSubscriberDrops: make(map[int64]uint64)}
	for id, s := range b.subs {
		stats.PerSubscriberDrops[id] = s.dropped.Load()
	}
	return stats
}

type subscriber struct {
	id      int64
	ch      chan Event
	bus     *eventBus
	dropped atomic.Uint64
	idLabel string
}

func (s *subscriber) C() <-chan Event { return s.ch }
func (s *subscriber) ID() int64       { return s.id }
func (s *subscriber) Close() error    { return s.bus.Unsubscribe(s) }
