// Package source feeds telemetry into the engine bus from files: one-shot
// replay of a recorded message file, or a spool directory watched for new
// files. Messages are flat JSON objects; every attribute that is not part of
// the envelope becomes a telemetry parameter.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/99souls/fuelwatch/engine/models"
	"github.com/99souls/fuelwatch/engine/telemetry/events"
	"github.com/99souls/fuelwatch/engine/telemetry/logging"
)

// rawMessage is one recorded telemetry message. Unknown attributes land in the
// params map of the decoded event.
type rawMessage struct {
	ObjectID     models.ObjectID       `json:"object_id"`
	EnterpriseID models.OrganizationID `json:"enterprise_id"`
	ModelID      models.ModelID        `json:"model_id"`
	Time         time.Time             `json:"time"`
	ReceiveTime  *time.Time            `json:"receive_time,omitempty"`
	Location     []float64             `json:"location,omitempty"`

	rest map[string]any
}

var envelopeKeys = map[string]struct{}{
	"_id": {}, "object_id": {}, "model_id": {}, "enterprise_id": {},
	"time": {}, "receive_time": {}, "location": {},
}

func (m *rawMessage) UnmarshalJSON(data []byte) error {
	type plain rawMessage
	if err := json.Unmarshal(data, (*plain)(m)); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	m.rest = make(map[string]any, len(all))
	for key, value := range all {
		if _, skip := envelopeKeys[key]; skip || value == nil {
			continue
		}
		m.rest[key] = value
	}
	return nil
}

// Event converts the raw message into the bus representation.
func (m *rawMessage) Event() models.FullTelemetryEvent {
	ev := models.FullTelemetryEvent{
		ObjectID:     m.ObjectID,
		EnterpriseID: m.EnterpriseID,
		ModelID:      m.ModelID,
		Time:         m.Time,
		Params:       m.rest,
	}
	if m.ReceiveTime != nil {
		ev.ReceiveTime = *m.ReceiveTime
	} else {
		ev.ReceiveTime = time.Now().UTC()
	}
	if len(m.Location) == 2 {
		ev.Location = &models.Point{Lon: m.Location[0], Lat: m.Location[1]}
	}
	return ev
}

// ReplayFile decodes a JSON array of telemetry messages and publishes each on
// the bus in file order.
func ReplayFile(ctx context.Context, bus events.Bus, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read telemetry file: %w", err)
	}
	var messages []rawMessage
	if err := json.Unmarshal(raw, &messages); err != nil {
		return 0, fmt.Errorf("decode telemetry file %s: %w", path, err)
	}
	for i := range messages {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		ev := messages[i].Event()
		if err := bus.PublishCtx(ctx, events.Event{Category: events.CategoryTelemetry, Type: events.TypeFullTelemetry, Payload: ev}); err != nil {
			return i, err
		}
	}
	return len(messages), nil
}

// SpoolWatcher replays every *.json file dropped into a directory.
type SpoolWatcher struct {
	dir string
	bus events.Bus
	log logging.Logger
}

// NewSpoolWatcher builds a watcher over dir.
func NewSpoolWatcher(dir string, bus events.Bus, log logging.Logger) *SpoolWatcher {
	return &SpoolWatcher{dir: dir, bus: bus, log: log}
}

// Run replays files already present, then watches for new ones until ctx is
// cancelled. Files are replayed once, keyed by name.
func (w *SpoolWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create spool watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch spool dir %s: %w", w.dir, err)
	}

	seen := make(map[string]struct{})
	replay := func(path string) {
		name := filepath.Base(path)
		if _, done := seen[name]; done || !strings.HasSuffix(name, ".json") {
			return
		}
		n, err := ReplayFile(ctx, w.bus, path)
		if err != nil {
			// Likely a file still being written; a later write event retries.
			w.log.WarnCtx(ctx, "spool replay failed", "file", name, "error", err)
			return
		}
		seen[name] = struct{}{}
		w.log.InfoCtx(ctx, "spool file replayed", "file", name, "messages", n)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read spool dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			replay(filepath.Join(w.dir, entry.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) {
				replay(ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.ErrorCtx(ctx, "spool watcher error", "error", err)
		}
	}
}
