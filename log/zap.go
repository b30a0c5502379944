package log

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"moul.io/zapfilter"
)

type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
	FatalLevel = zapcore.FatalLevel
)

type (
	Option func(*settings)

	settings struct {
		zapOpts []zap.Option
		filter  string
	}
)

func WithCaller(b bool) Option {
	return func(s *settings) {
		s.zapOpts = append(s.zapOpts, zap.WithCaller(b))
	}
}

func AddCallerSkip(skip int) Option {
	return func(s *settings) {
		s.zapOpts = append(s.zapOpts, zap.AddCallerSkip(skip))
	}
}

// WithFilter installs zapfilter rules like "info+:* debug+:racelog".
// Invalid rules are ignored.
func WithFilter(rules string) Option {
	return func(s *settings) {
		s.filter = rules
	}
}

func ParseLevel(text string) (Level, error) {
	return zapcore.ParseLevel(text)
}

// New creates a logger writing json to w
func New(w io.Writer, level Level, opts ...Option) *Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return newLogger(zapcore.NewJSONEncoder(cfg), w, level, opts...)
}

// DevLogger creates a logger with console output, intended for development
func DevLogger(w io.Writer, level Level, opts ...Option) *Logger {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return newLogger(zapcore.NewConsoleEncoder(cfg), w, level, opts...)
}

//nolint:whitespace // can't make both editor and linter happy
func newLogger(
	enc zapcore.Encoder, w io.Writer, level Level, opts ...Option,
) *Logger {
	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}
	atom := zap.NewAtomicLevelAt(level)
	core := zapcore.NewCore(enc, zapcore.AddSync(w), atom)
	if s.filter != "" {
		if rules, err := zapfilter.ParseRules(s.filter); err == nil {
			// the filter decides per logger name, the core must not drop debug entries
			atom.SetLevel(DebugLevel)
			core = zapfilter.NewFilteringCore(core, rules)
		}
	}
	return &Logger{l: zap.New(core, s.zapOpts...), level: atom}
}
