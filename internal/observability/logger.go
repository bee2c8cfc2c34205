// Package observability builds the process logger from configuration.
package observability

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rmacdonaldsmith/ejtp-go/internal/config"
)

// Logger bundles a zap logger with the level handle used for hot reload and
// the file sinks it owns.
type Logger struct {
	*zap.Logger

	Level zap.AtomicLevel

	closers []io.Closer
	restore func()
}

// SetupLogger builds a logger from c, installs it as the zap global and
// redirects the stdlib log package into it. Callers should defer Close.
func SetupLogger(c config.LogConfig) (*Logger, error) {
	lvl, err := ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	level := zap.NewAtomicLevelAt(lvl)

	encCfg := encoderConfig(c.Development)
	var encoder zapcore.Encoder
	switch strings.ToLower(c.Format) {
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	case "console", "":
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unsupported log format %q", c.Format)
	}

	outputs := c.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	out := &Logger{Level: level}
	cores := make([]zapcore.Core, 0, len(outputs))
	for _, o := range outputs {
		ws, closer, err := openSink(o, c.Rotation)
		if err != nil {
			_ = out.closeSinks()
			return nil, err
		}
		if closer != nil {
			out.closers = append(out.closers, closer)
		}
		cores = append(cores, zapcore.NewCore(encoder, ws, level))
	}

	opts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	}
	if c.Development {
		opts = append(opts, zap.Development())
	}

	out.Logger = zap.New(zapcore.NewTee(cores...), opts...)
	undoGlobals := zap.ReplaceGlobals(out.Logger)
	undoStdLog, err := zap.RedirectStdLogAt(out.Logger, zap.InfoLevel)
	if err != nil {
		undoGlobals()
		_ = out.closeSinks()
		return nil, fmt.Errorf("redirect std log: %w", err)
	}
	out.restore = func() {
		undoStdLog()
		undoGlobals()
	}
	return out, nil
}

// SetLevel changes the level of every core at runtime
func (l *Logger) SetLevel(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	l.Level.SetLevel(lvl)
	return nil
}

// Close flushes the logger, restores the previous globals and closes file sinks
func (l *Logger) Close() error {
	var err error
	if l.Logger != nil {
		// syncing a terminal returns EINVAL on some platforms
		_ = l.Logger.Sync()
	}
	if l.restore != nil {
		l.restore()
		l.restore = nil
	}
	err = multierr.Append(err, l.closeSinks())
	return err
}

func (l *Logger) closeSinks() error {
	var err error
	for _, c := range l.closers {
		err = multierr.Append(err, c.Close())
	}
	l.closers = nil
	return err
}

// ParseLevel maps a level name onto a zapcore.Level. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	name, err := config.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel, err
	}
	return zapcore.ParseLevel(name)
}

func openSink(out string, rot config.RotationConfig) (zapcore.WriteSyncer, io.Closer, error) {
	switch strings.ToLower(out) {
	case "stdout":
		return zapcore.Lock(os.Stdout), nil, nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil, nil
	}

	if rot.Enable {
		filename := out
		if strings.TrimSpace(rot.Filename) != "" {
			filename = rot.Filename
		}
		lj := &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    max(rot.MaxSizeMB, 1),
			MaxBackups: max(rot.MaxBackups, 0),
			MaxAge:     max(rot.MaxAgeDays, 0),
			Compress:   rot.Compress,
		}
		return zapcore.AddSync(lj), lj, nil
	}

	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return zapcore.Lock(f), f, nil
}

func encoderConfig(dev bool) zapcore.EncoderConfig {
	if dev {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}
