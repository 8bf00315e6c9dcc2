// Package logging builds the zap loggers: a console logger on stderr and,
// once a run directory exists, a JSON copy in coordinator.log.
package logging

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options control the console logger.
type Options struct {
	Level string
	// Quiet drops console output, for when a TUI owns the terminal.
	Quiet  bool
	Output io.Writer
}

// New returns the console logger.
func New(opts Options) (*zap.Logger, error) {
	lvl, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Quiet {
		return zap.NewNop(), nil
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if out != os.Stderr {
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(out), lvl)
	return zap.New(core), nil
}

func parseLevel(s string) (zap.AtomicLevel, error) {
	if s == "" {
		s = "info"
	}
	lvl, err := zap.ParseAtomicLevel(s)
	if err != nil {
		return lvl, errors.Wrapf(err, "log level %q", s)
	}
	return lvl, nil
}

// Tee returns a logger that also writes JSON lines to path at debug level.
// The returned close function syncs and closes the file.
func Tee(base *zap.Logger, path string) (*zap.Logger, func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open log file %s", path)
	}
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(f),
		zapcore.DebugLevel,
	)
	log := zap.New(zapcore.NewTee(base.Core(), fileCore))
	closeFn := func() error {
		_ = log.Sync()
		return f.Close()
	}
	return log, closeFn, nil
}
