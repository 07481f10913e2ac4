package config

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ivan2020J/nozier/internal/version"
)

// NewLogger creates the process logger from the logging settings.
// Level is one of debug, info, warn, error (default info); Format is json
// or console (default json). Output goes to stderr; stdout is reserved for
// command output such as "token show".
func NewLogger(l Logging) (*zap.Logger, error) {
	return newLogger(l, zapcore.Lock(os.Stderr))
}

func newLogger(l Logging, sink zapcore.WriteSyncer) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if l.Level != "" {
		if err := level.UnmarshalText([]byte(l.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", l.Level, err)
		}
	}

	var enc zapcore.Encoder
	switch l.Format {
	case "console":
		enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	case "json", "":
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	default:
		return nil, fmt.Errorf("invalid log format %q: must be \"json\" or \"console\"", l.Format)
	}

	core := zapcore.NewCore(enc, sink, zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)).With(
		zap.String("service", "nozier"),
		zap.String("version", version.Short()),
	), nil
}
