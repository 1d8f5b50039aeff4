// Package pipeline contains the driver that turns bus traffic into FSM steps.
// Telemetry events fan out per registered tank parameter and are dispatched to
// hash-sharded workers; samples for the same (object, tank) key always land on
// the same worker, preserving per-key ordering.
package pipeline

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"go.opentelemetry.io/otel/attribute"

	"github.com/99souls/fuelwatch/engine/catalog"
	"github.com/99souls/fuelwatch/engine/internal/fsm"
	enginesettings "github.com/99souls/fuelwatch/engine/internal/settings"
	"github.com/99souls/fuelwatch/engine/internal/statecache"
	"github.com/99souls/fuelwatch/engine/internal/telemetry/tracing"
	"github.com/99souls/fuelwatch/engine/models"
	"github.com/99souls/fuelwatch/engine/telemetry/events"
	"github.com/99souls/fuelwatch/engine/telemetry/logging"
	"github.com/99souls/fuelwatch/engine/telemetry/metrics"
)

// speedParam is the message attribute carrying the asset's speed.
const speedParam = "speed"

// Config tunes the driver.
type Config struct {
	Workers          int // sharded FSM workers; a value that is not a positive power of two falls back to 4
	QueueSize        int // per-worker queue depth
	SubscriberBuffer int // bus subscription buffer
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 || (c.Workers&(c.Workers-1)) != 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 1024
	}
	return c
}

// Metrics is a snapshot of driver counters.
type Metrics struct {
	TelemetryEvents  uint64
	SamplesProcessed uint64
	StepErrors       uint64
	SettingsReloads  uint64
}

// Driver consumes the bus and feeds the detection state machines.
type Driver struct {
	cfg      Config
	bus      events.Bus
	cat      *catalog.Catalog
	resolver *enginesettings.Resolver
	charges  *statecache.ChargeCache
	disch    *statecache.DischargeCache
	emitter  fsm.Emitter
	log      logging.Logger
	tracer   tracing.Tracer

	queues []chan models.FuelDataEvent
	mask   uint64
	wg     sync.WaitGroup

	mu      sync.Mutex
	metrics Metrics

	mSamples metrics.Counter
	mErrors  metrics.Counter
	mReloads metrics.Counter
}

// NewDriver wires the driver. The metrics provider may be nil.
func NewDriver(cfg Config, bus events.Bus, cat *catalog.Catalog, resolver *enginesettings.Resolver,
	charges *statecache.ChargeCache, disch *statecache.DischargeCache, emitter fsm.Emitter,
	log logging.Logger, provider metrics.Provider, tracer tracing.Tracer) *Driver {
	if tracer == nil {
		tracer = tracing.NewTracer(false)
	}
	d := &Driver{
		cfg:      cfg.withDefaults(),
		bus:      bus,
		cat:      cat,
		resolver: resolver,
		charges:  charges,
		disch:    disch,
		emitter:  emitter,
		log:      log,
		tracer:   tracer,
	}
	d.mask = uint64(d.cfg.Workers - 1)
	if provider != nil {
		d.mSamples = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "fuelwatch", Subsystem: "pipeline", Name: "samples_total", Help: "Fuel samples dispatched to the state machines", Labels: []string{"tank"}}})
		d.mErrors = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "fuelwatch", Subsystem: "pipeline", Name: "step_errors_total", Help: "FSM steps that failed", Labels: []string{"kind"}}})
		d.mReloads = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "fuelwatch", Subsystem: "pipeline", Name: "settings_reloads_total", Help: "Settings resolver reloads"}})
	}
	return d
}

// Run consumes the bus until ctx is cancelled. It loads settings once up
// front, then blocks; in-flight work is flushed before returning.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.reloadSettings(ctx); err != nil {
		return err
	}

	sub, err := d.bus.Subscribe(d.cfg.SubscriberBuffer)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Close() }()

	d.queues = make([]chan models.FuelDataEvent, d.cfg.Workers)
	for i := range d.queues {
		d.queues[i] = make(chan models.FuelDataEvent, d.cfg.QueueSize)
		d.wg.Add(1)
		go d.worker(ctx, d.queues[i])
	}

	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return ctx.Err()
		case ev, ok := <-sub.C():
			if !ok {
				d.shutdown()
				return nil
			}
			d.dispatch(ctx, ev)
		}
	}
}

func (d *Driver) shutdown() {
	for _, q := range d.queues {
		close(q)
	}
	d.wg.Wait()
}

func (d *Driver) dispatch(ctx context.Context, ev events.Event) {
	switch ev.Category {
	case events.CategoryTelemetry:
		telemetry, ok := ev.Payload.(models.FullTelemetryEvent)
		if !ok {
			if p, ok2 := ev.Payload.(*models.FullTelemetryEvent); ok2 && p != nil {
				telemetry = *p
			} else {
				d.log.WarnCtx(ctx, "telemetry event with unexpected payload", "type", ev.Type)
				return
			}
		}
		d.onTelemetry(ctx, telemetry)
	case events.CategorySettings:
		if err := d.reloadSettings(ctx); err != nil {
			d.log.ErrorCtx(ctx, "settings reload failed", "error", err)
		}
	}
}

// reloadSettings rebuilds the resolver snapshot, retrying transient storage
// failures with exponential backoff.
func (d *Driver) reloadSettings(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second
	err := backoff.Retry(func() error { return d.resolver.Load(ctx) }, backoff.WithContext(policy, ctx))
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.metrics.SettingsReloads++
	d.mu.Unlock()
	if d.mReloads != nil {
		d.mReloads.Inc(1)
	}
	d.log.InfoCtx(ctx, "fuel settings loaded")
	return nil
}

// onTelemetry fans a raw telemetry message out into one FuelDataEvent per
// registered tank parameter present in the message.
func (d *Driver) onTelemetry(ctx context.Context, telemetry models.FullTelemetryEvent) {
	d.mu.Lock()
	d.metrics.TelemetryEvents++
	d.mu.Unlock()

	speed, _ := telemetry.FloatParam(speedParam)
	for _, tank := range d.cat.List() {
		volume, ok := telemetry.FloatParam(tank.MsgAttr)
		if !ok {
			continue
		}
		fe := models.FuelDataEvent{
			OrganizationID: telemetry.EnterpriseID,
			ObjectID:       telemetry.ObjectID,
			ModelID:        telemetry.ModelID,
			Tank:           tank,
			Sample: models.FuelSample{
				Time:       telemetry.Time,
				Speed:      speed,
				FuelVolume: volume,
				Location:   telemetry.Location,
			},
		}
		select {
		case d.queues[d.shardFor(fe)] <- fe:
		case <-ctx.Done():
			return
		}
	}
}

func (d *Driver) shardFor(fe models.FuelDataEvent) uint64 {
	h := fnv.New32a()
	_, _ = h.Write(fe.ObjectID[:])
	_, _ = h.Write(fe.Tank.ID[:])
	return uint64(h.Sum32()) & d.mask
}

func (d *Driver) worker(ctx context.Context, queue <-chan models.FuelDataEvent) {
	defer d.wg.Done()
	for fe := range queue {
		d.processSample(ctx, fe)
	}
}

// processSample routes one sample through both detection pipelines. The two
// FSMs are independent; a failing charge step does not stop the discharge
// step.
func (d *Driver) processSample(ctx context.Context, fe models.FuelDataEvent) {
	ctx, span := d.tracer.StartSpan(ctx, "fuelwatch.sample",
		attribute.String("object_id", fe.ObjectID.String()),
		attribute.String("tank", fe.Tank.Name))
	defer span.End()

	chargeSettings, dischargeSettings := d.resolver.Resolve(
		fe.OrganizationID, fe.ObjectID, fe.ModelID, fe.Tank.ID, fe.Sample.Time)

	d.mu.Lock()
	d.metrics.SamplesProcessed++
	d.mu.Unlock()
	if d.mSamples != nil {
		d.mSamples.Inc(1, fe.Tank.Name)
	}

	if state, err := d.charges.Get(ctx, fe); err != nil {
		d.countError("charge")
		d.log.ErrorCtx(ctx, "charge state lookup failed", "object_id", fe.ObjectID, "tank_id", fe.Tank.ID, "error", err)
	} else {
		machine := fsm.NewChargeFSM(chargeSettings, state, d.emitter, d.log)
		if _, err := machine.Process(ctx, fe); err != nil {
			d.countError("charge")
			d.log.ErrorCtx(ctx, "charge step failed", "object_id", fe.ObjectID, "tank_id", fe.Tank.ID, "error", err)
		}
	}

	if state, err := d.disch.Get(ctx, fe); err != nil {
		d.countError("discharge")
		d.log.ErrorCtx(ctx, "discharge state lookup failed", "object_id", fe.ObjectID, "tank_id", fe.Tank.ID, "error", err)
	} else {
		machine := fsm.NewDischargeFSM(dischargeSettings, state, d.emitter, d.log)
		if _, err := machine.Process(ctx, fe); err != nil {
			d.countError("discharge")
			d.log.ErrorCtx(ctx, "discharge step failed", "object_id", fe.ObjectID, "tank_id", fe.Tank.ID, "error", err)
		}
	}
}

func (d *Driver) countError(kind string) {
	d.mu.Lock()
	d.metrics.StepErrors++
	d.mu.Unlock()
	if d.mErrors != nil {
		d.mErrors.Inc(1, kind)
	}
}

// Metrics returns a snapshot of the driver counters.
func (d *Driver) Metrics() Metrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metrics
}
