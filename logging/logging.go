// Package logging builds the process logger.
//
// In ACP mode stdout carries nothing but JSON-RPC, so log output goes to a
// trace file or nowhere at all.
package logging

import (
	"github.com/m4xw311/deepacp/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultTraceFile is used when tracing is enabled without an explicit path.
const DefaultTraceFile = "deepacp.trace"

// New returns a JSON logger appending to path, or a no-op logger when path
// is empty.
func New(path string, debug bool) (*zap.Logger, error) {
	if path == "" {
		return zap.NewNop(), nil
	}

	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build logger for %s", path)
	}
	return logger, nil
}

// Component tags a logger with the name of the subsystem using it.
func Component(l *zap.Logger, name string) *zap.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return l.With(zap.String("component", name))
}
