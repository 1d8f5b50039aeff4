package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/99souls/fuelwatch/engine"
	"github.com/99souls/fuelwatch/engine/source"
	"github.com/99souls/fuelwatch/engine/storage/redisstore"
	"github.com/99souls/fuelwatch/engine/telemetry/logging"
)

func main() {
	var (
		configPath  string
		metricsAddr string
		spoolDir    string
		replayFile  string
		redisAddr   string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "Path to yaml config file (defaults to $FUELWATCH_CONFIG)")
	flag.StringVar(&metricsAddr, "metrics", "", "Expose metrics on address (e.g. :9090)")
	flag.StringVar(&spoolDir, "spool", "", "Watch a directory of telemetry JSON files and replay them")
	flag.StringVar(&replayFile, "replay", "", "Replay a single telemetry JSON file, then exit after a one-second drain pause")
	flag.StringVar(&redisAddr, "redis", "", "Use Redis-backed charge/discharge stores (address, e.g. localhost:6379)")
	flag.BoolVar(&showVersion, "version", false, "Show version info")
	flag.Parse()

	if showVersion {
		fmt.Println("fuelwatch - fuel charge/discharge detection engine")
		return
	}

	cfg, err := engine.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if len(cfg.Tanks) == 0 {
		fmt.Println("No tank parameters configured. Add a tanks: section to the config file.")
		os.Exit(1)
	}
	if metricsAddr != "" {
		cfg.MetricsEnabled = true
	}

	var stores engine.Stores
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		stores.Charges = redisstore.NewChargeStore(rdb)
		stores.Discharges = redisstore.NewDischargeStore(rdb)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	eng, err := engine.New(cfg, stores, logger)
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("start engine: %v", err)
	}

	if metricsAddr != "" {
		if handler := eng.MetricsHandler(); handler != nil {
			mux := http.NewServeMux()
			mux.Handle("/metrics", handler)
			mux.HandleFunc("/snapshot", func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(eng.Snapshot())
			})
			server := &http.Server{Addr: metricsAddr, Handler: mux}
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("metrics server: %v", err)
				}
			}()
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer shutdownCancel()
				_ = server.Shutdown(shutdownCtx)
			}()
		}
	}

	switch {
	case replayFile != "":
		n, err := source.ReplayFile(ctx, eng.Bus(), replayFile)
		if err != nil {
			log.Printf("replay: %v", err)
		}
		log.Printf("replayed %d telemetry messages", n)
		// Give the pipeline a moment to drain before shutting down.
		time.Sleep(time.Second)
		cancel()
	case spoolDir != "":
		watcher := source.NewSpoolWatcher(spoolDir, eng.Bus(), logging.New(logger))
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("spool watcher: %v", err)
			}
		}()
	}

	<-ctx.Done()
	if err := eng.Stop(); err != nil {
		log.Printf("engine stopped with error: %v", err)
	}
}
