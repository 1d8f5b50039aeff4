package source

import (
	"io"
	"log/slog"

	"github.com/99souls/fuelwatch/engine/telemetry/logging"
)

func testLogger() logging.Logger {
	return logging.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}
