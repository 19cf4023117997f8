package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide logger. Init must be called before use; a nop
// logger is installed by default so early call sites never nil-panic.
var Log = zap.NewNop()

// Init installs the global logger at the given level ("debug", "info",
// "warn", "error"). An empty level falls back to the CHATSYNC_LOG_LEVEL
// environment variable, then to info.
func Init(level string) {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		lvl = strings.ToLower(strings.TrimSpace(os.Getenv("CHATSYNC_LOG_LEVEL")))
	}
	var zl zapcore.Level
	switch lvl {
	case "debug":
		zl = zapcore.DebugLevel
	case "warn", "warning":
		zl = zapcore.WarnLevel
	case "error":
		zl = zapcore.ErrorLevel
	default:
		zl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zl)
	cfg.DisableStacktrace = true
	if sink := os.Getenv("CHATSYNC_LOG_SINK"); strings.HasPrefix(sink, "file:") {
		cfg.OutputPaths = []string{strings.TrimPrefix(sink, "file:")}
	}
	l, err := cfg.Build()
	if err != nil {
		// fall back to a console logger rather than failing startup
		l = zap.Must(zap.NewDevelopment())
	}
	Log = l
}

// Sync flushes buffered log entries. Safe to call on a nop logger.
func Sync() { _ = Log.Sync() }
