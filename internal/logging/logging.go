// Package logging builds the service slog.Logger.
package logging

import (
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
)

// New returns a tint handler logger at debug level in development mode
// ("development" or empty) and a JSON handler logger at info level otherwise.
func New(mode string, w io.Writer) *slog.Logger {
	if mode == "" || mode == "development" {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.Kitchen,
			AddSource:  true,
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
