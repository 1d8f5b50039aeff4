// Package engine composes the fuel anomaly detection subsystems behind a
// single facade: catalog, settings resolver, per-key state caches, command
// handlers, and the pipeline driver, all wired over an in-process event bus.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/99souls/fuelwatch/engine/catalog"
	"github.com/99souls/fuelwatch/engine/internal/command"
	"github.com/99souls/fuelwatch/engine/internal/pipeline"
	enginesettings "github.com/99souls/fuelwatch/engine/internal/settings"
	"github.com/99souls/fuelwatch/engine/internal/statecache"
	"github.com/99souls/fuelwatch/engine/internal/telemetry/tracing"
	"github.com/99souls/fuelwatch/engine/storage"
	"github.com/99souls/fuelwatch/engine/storage/memory"
	"github.com/99souls/fuelwatch/engine/telemetry/events"
	"github.com/99souls/fuelwatch/engine/telemetry/logging"
	"github.com/99souls/fuelwatch/engine/telemetry/metrics"
)

// Stores bundles the persistence backends the engine consumes. Nil fields are
// filled with in-memory implementations.
type Stores struct {
	Charges          storage.ChargeStore
	Discharges       storage.DischargeStore
	Settings         storage.SettingsStore
	IntervalSettings storage.IntervalSettingsStore
	ObjectTanks      storage.ObjectTankStore
}

func (s Stores) withDefaults() Stores {
	if s.Charges == nil {
		s.Charges = memory.NewChargeStore()
	}
	if s.Discharges == nil {
		s.Discharges = memory.NewDischargeStore()
	}
	if s.Settings == nil {
		s.Settings = memory.NewSettingsStore()
	}
	if s.IntervalSettings == nil {
		s.IntervalSettings = memory.NewIntervalSettingsStore()
	}
	if s.ObjectTanks == nil {
		s.ObjectTanks = memory.NewObjectTankStore()
	}
	return s
}

// Snapshot is a unified view of engine state.
type Snapshot struct {
	StartedAt time.Time        `json:"started_at"`
	Uptime    time.Duration    `json:"uptime"`
	Pipeline  pipeline.Metrics `json:"pipeline"`
	Bus       events.BusStats  `json:"bus"`
	// Tracked keys currently held per detection kind.
	ChargeKeys    int `json:"charge_keys"`
	DischargeKeys int `json:"discharge_keys"`
}

// Engine composes all subsystems behind a single facade.
type Engine struct {
	cfg    Config
	stores Stores
	log    logging.Logger

	bus      events.Bus
	cat      *catalog.Catalog
	resolver *enginesettings.Resolver
	charges  *statecache.ChargeCache
	disch    *statecache.DischargeCache
	driver   *pipeline.Driver

	metricsProvider metrics.Provider

	started   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	runErr    error
	stopOnce  sync.Once
}

// New constructs an Engine from configuration and storage backends.
func New(cfg Config, stores Stores, base *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	stores = stores.withDefaults()
	log := logging.New(base)

	cat, err := catalog.New(cfg.Tanks)
	if err != nil {
		return nil, err
	}

	provider := selectMetricsProvider(cfg)
	bus := events.NewBus(provider)
	resolver := enginesettings.NewResolver(stores.Settings, stores.IntervalSettings)
	chargeCache := statecache.NewChargeCache(stores.Charges, cfg.StateShards, log)
	dischargeCache := statecache.NewDischargeCache(stores.Discharges, cfg.StateShards, log)
	handlers := command.NewHandlers(stores.Charges, stores.Discharges, bus, log, cfg.CommandRetryMaxElapsed)

	driver := pipeline.NewDriver(
		pipeline.Config{Workers: cfg.Workers, QueueSize: cfg.QueueSize, SubscriberBuffer: cfg.SubscriberBuffer},
		bus, cat, resolver, chargeCache, dischargeCache, handlers, log, provider,
		tracing.NewTracer(cfg.TracingEnabled),
	)

	return &Engine{
		cfg:             cfg,
		stores:          stores,
		log:             log,
		bus:             bus,
		cat:             cat,
		resolver:        resolver,
		charges:         chargeCache,
		disch:           dischargeCache,
		driver:          driver,
		metricsProvider: provider,
	}, nil
}

func selectMetricsProvider(cfg Config) metrics.Provider {
	if !cfg.MetricsEnabled {
		return nil
	}
	switch strings.ToLower(cfg.MetricsBackend) {
	case "", "prom", "prometheus":
		return metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	case "otel", "opentelemetry":
		return metrics.NewOTelProvider(metrics.OTelProviderOptions{})
	case "noop":
		return metrics.NewNoopProvider()
	default:
		return metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	}
}

// Start launches the pipeline driver. It is an error to start twice.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("engine already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.startedAt = time.Now()
	e.done = make(chan struct{})
	go func() {
		defer close(e.done)
		if err := e.driver.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			e.runErr = err
			e.log.ErrorCtx(runCtx, "pipeline driver exited", "error", err)
		}
	}()
	return nil
}

// Stop cancels the driver and waits for in-flight work to flush. Idempotent.
func (e *Engine) Stop() error {
	if !e.started.Load() {
		return nil
	}
	e.stopOnce.Do(func() {
		e.cancel()
		<-e.done
	})
	return e.runErr
}

// Bus exposes the engine's event bus: telemetry sources publish into it and
// external bridges subscribe to commands and alerts.
func (e *Engine) Bus() events.Bus { return e.bus }

// Catalog returns the immutable tank parameter catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.cat }

// Stores returns the wired persistence backends.
func (e *Engine) Stores() Stores { return e.stores }

// MetricsHandler returns the HTTP handler for metrics exposition (Prometheus
// backend only); nil when metrics are disabled or the backend has no handler.
func (e *Engine) MetricsHandler() http.Handler {
	if e == nil || e.metricsProvider == nil {
		return nil
	}
	if hp, ok := e.metricsProvider.(interface{ MetricsHandler() http.Handler }); ok {
		return hp.MetricsHandler()
	}
	return nil
}

// Snapshot returns a unified state view.
func (e *Engine) Snapshot() Snapshot {
	snap := Snapshot{StartedAt: e.startedAt}
	if !e.startedAt.IsZero() {
		snap.Uptime = time.Since(e.startedAt)
	}
	snap.Pipeline = e.driver.Metrics()
	snap.Bus = e.bus.Stats()
	snap.ChargeKeys = e.charges.Len()
	snap.DischargeKeys = e.disch.Len()
	return snap
}
