// Package logging wraps zap with the level/keyword-argument surface used
// throughout the dxrt runtime.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.SugaredLogger with level gating matching the original
// runtime's Logger::Level enum.
type Logger struct {
	sugar *zap.SugaredLogger
	level LogLevel
}

// LogLevel mirrors dxrt::Logger::Level (DEBUG/INFO/WARN/ERROR).
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Config holds logging configuration.
type Config struct {
	Level LogLevel
	// JSON selects structured JSON output; the default is human-readable
	// console output, matching the original runtime's CLI tools.
	JSON bool
	// Output overrides the destination writer; defaults to stderr. Tests
	// pass a bytes.Buffer here to assert on emitted log lines.
	Output io.Writer
	// NoColor disables ANSI level coloring in console output.
	NoColor bool
}

func DefaultConfig() *Config {
	return &Config{Level: LevelInfo}
}

// NewLogger builds a Logger backed by a fresh zap core writing to
// config.Output (stderr by default).
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.TimeKey = "ts"

	var encoder zapcore.Encoder
	if config.JSON {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		if config.NoColor {
			encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		} else {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(out), config.Level.zapLevel())
	return &Logger{
		sugar: zap.New(core).Sugar(),
		level: config.Level,
	}
}

// Sync flushes buffered log entries; callers should defer it after Open.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

func (l *Logger) Debug(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.sugar.Warnw(msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
}

func (l *Logger) Debugf(format string, args ...any) {
	l.sugar.Debugf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.sugar.Infof(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.sugar.Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.sugar.Errorf(format, args...)
}

// Printf is kept for call sites migrated from the stdlib-log shape.
func (l *Logger) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

// With returns a child Logger that always attaches the given keyword args,
// e.g. log.With("device", devID).
func (l *Logger) With(args ...any) *Logger {
	return &Logger{sugar: l.sugar.With(args...), level: l.level}
}

// WithDevice scopes a Logger to a device id.
func (l *Logger) WithDevice(devID int) *Logger {
	return l.With("device_id", devID)
}

// WithTask scopes a Logger to a task id within an already-device-scoped
// Logger.
func (l *Logger) WithTask(taskID int) *Logger {
	return l.With("task_id", taskID)
}

// WithRequest scopes a Logger to a request tag and operation name.
func (l *Logger) WithRequest(tag int, op string) *Logger {
	return l.With("tag", tag, "op", op)
}

// WithError attaches an error to every subsequent log line from this
// Logger.
func (l *Logger) WithError(err error) *Logger {
	return l.With("error", err)
}

// NopLogger returns a Logger that discards everything, for tests that don't
// care about log output.
func NopLogger() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar(), level: LevelError}
}

var (
	defaultLogger *Logger
)

// Default returns the process default Logger, creating it lazily.
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault replaces the process default Logger.
func SetDefault(l *Logger) {
	defaultLogger = l
}

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
