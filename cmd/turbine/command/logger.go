package command

import (
	"io"
	"log/slog"

	"turbine/internal/config"
)

// newLogger builds the process logger: JSON on stdout unless LOG_FORMAT=text.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}

	var h slog.Handler
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With("service", "turbine")
}
