// Package logging configures the process-wide slog default.
package logging

import (
	"fmt"
	"log/slog"
	"os"
)

// Setup installs a text handler on stderr at the named level and returns a
// component-scoped logger. Unknown level names are fatal misconfiguration.
//
// Expectations:
//   - Accepts "debug", "info", "warn", "error"
//   - Returns an error naming the bad value for anything else
//   - The returned logger carries a "component" attribute
func Setup(level, component string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("logging: unknown level %q", level)
	}

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
	return slog.Default().With("component", component), nil
}
