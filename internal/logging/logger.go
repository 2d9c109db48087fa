// Package logging provides the leveled logger the scheduler uses for
// diagnostic events (job creation, CPU-affinity changes); scheduling
// decisions never depend on it.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

// Logger wraps a stdlib *log.Logger with a level gate.
type Logger struct {
	out   *log.Logger
	level atomic.Int32
}

// LogLevel orders the severities a Logger will emit.
type LogLevel int32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config configures a new Logger.
type Config struct {
	Level  LogLevel
	Output io.Writer
}

// DefaultConfig returns Info-level logging to stderr.
func DefaultConfig() *Config {
	return &Config{Level: LevelInfo, Output: os.Stderr}
}

// New creates a Logger from config. A nil config uses DefaultConfig and a
// nil Output writes to stderr; Level is used as given, so its zero value
// means LevelDebug.
func New(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	l := &Logger{out: log.New(output, "", log.LstdFlags)}
	l.level.Store(int32(config.Level))
	return l
}

// NewLogger is an alias for New kept for call sites that prefer the longer
// name; both construct the same Logger.
func NewLogger(config *Config) *Logger { return New(config) }

var defaultLogger atomic.Pointer[Logger]

// Default returns the process-wide default logger, creating one lazily.
func Default() *Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	l := New(nil)
	if !defaultLogger.CompareAndSwap(nil, l) {
		return defaultLogger.Load()
	}
	return l
}

// SetDefault installs logger as the process-wide default.
func SetDefault(logger *Logger) {
	defaultLogger.Store(logger)
}

// SetLevel changes the minimum level l will emit.
func (l *Logger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
}

func formatFields(fields []any) string {
	if len(fields) == 0 {
		return ""
	}
	out := ""
	for i := 0; i < len(fields); i += 2 {
		if i+1 >= len(fields) {
			break
		}
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%v=%v", fields[i], fields[i+1])
	}
	if out == "" {
		return ""
	}
	return " " + out
}

func (l *Logger) emit(level LogLevel, prefix, msg string, fields ...any) {
	if int32(level) < l.level.Load() {
		return
	}
	l.out.Printf("%s %s%s", prefix, msg, formatFields(fields))
}

func (l *Logger) Debug(msg string, fields ...any) { l.emit(LevelDebug, "[DEBUG]", msg, fields...) }
func (l *Logger) Info(msg string, fields ...any)  { l.emit(LevelInfo, "[INFO]", msg, fields...) }
func (l *Logger) Warn(msg string, fields ...any)  { l.emit(LevelWarn, "[WARN]", msg, fields...) }
func (l *Logger) Error(msg string, fields ...any) { l.emit(LevelError, "[ERROR]", msg, fields...) }

func (l *Logger) Debugf(format string, args ...any) { l.emit(LevelDebug, "[DEBUG]", fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...any)  { l.emit(LevelInfo, "[INFO]", fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...any)  { l.emit(LevelWarn, "[WARN]", fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...any) { l.emit(LevelError, "[ERROR]", fmt.Sprintf(format, args...)) }

// Printf satisfies callers that expect a plain printf-style sink; it logs
// at Info.
func (l *Logger) Printf(format string, args ...any) { l.Infof(format, args...) }

// Global convenience wrappers over Default().
func Debug(msg string, fields ...any) { Default().Debug(msg, fields...) }
func Info(msg string, fields ...any)  { Default().Info(msg, fields...) }
func Warn(msg string, fields ...any)  { Default().Warn(msg, fields...) }
func Error(msg string, fields ...any) { Default().Error(msg, fields...) }
