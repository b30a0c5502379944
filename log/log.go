package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	l     *zap.Logger
	level zap.AtomicLevel
}

var (
	std = New(os.Stderr, InfoLevel)
	mu  sync.RWMutex
)

// Default returns the logger used by the package level functions
func Default() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

// ResetDefault replaces the default logger. Not safe to call while
// package level functions are used concurrently by others.
func ResetDefault(l *Logger) {
	mu.Lock()
	std = l
	mu.Unlock()
}

func (l *Logger) Named(name string) *Logger {
	return &Logger{l: l.l.Named(name), level: l.level}
}

func (l *Logger) WithOptions(opts ...zap.Option) *Logger {
	return &Logger{l: l.l.WithOptions(opts...), level: l.level}
}

// With returns a child logger which adds fields to each entry
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{l: l.l.With(fields...), level: l.level}
}

func (l *Logger) Level() Level {
	return l.level.Level()
}

func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level)
}

// Check returns a non-nil entry if logging at level is enabled
func (l *Logger) Check(level Level, msg string) *zapcore.CheckedEntry {
	return l.l.Check(level, msg)
}

func (l *Logger) Log(level Level, msg string, fields ...Field) {
	l.l.Log(level, msg, fields...)
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.l.Debug(msg, fields...)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.l.Info(msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.l.Warn(msg, fields...)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.l.Error(msg, fields...)
}

func (l *Logger) Fatal(msg string, fields ...Field) {
	l.l.Fatal(msg, fields...)
}

func (l *Logger) Sync() error {
	return l.l.Sync()
}

// package level helpers use the default logger

func Debug(msg string, fields ...Field) {
	Default().l.Debug(msg, fields...)
}

func Info(msg string, fields ...Field) {
	Default().l.Info(msg, fields...)
}

func Warn(msg string, fields ...Field) {
	Default().l.Warn(msg, fields...)
}

func Error(msg string, fields ...Field) {
	Default().l.Error(msg, fields...)
}

func Fatal(msg string, fields ...Field) {
	Default().l.Fatal(msg, fields...)
}

func Sync() error {
	return Default().Sync()
}
