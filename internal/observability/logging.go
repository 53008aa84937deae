package observability

import (
	"log/slog"
	"os"
	"strings"
)

// SetupLogger installs a slog.Logger as the process-wide default,
// configured from the logging section of the config file (level: debug/
// info/warn/error; format: json/text). Every cmd/ binary calls this
// immediately after loading config, before touching any infrastructure
// client, so startup failures are themselves logged consistently.
func SetupLogger(level, format string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
