package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Interface defines the logger used throughout the coordinator.
type Interface interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	Fatal(msg string, fields ...any)
	With(fields ...any) Interface

	// WithWorker tags subsequent log lines with the owning worker id.
	WithWorker(workerID string) Interface
	// WithDomain tags subsequent log lines with the canonical domain.
	WithDomain(domain string) Interface
	// WithRunID tags subsequent log lines with a crawl run id.
	WithRunID(runID string) Interface
	// WithComponent tags subsequent log lines with a coordinator component name.
	WithComponent(component string) Interface
	// WithError attaches an error to subsequent log lines.
	WithError(err error) Interface
}

// Logger implements Interface over zap.
type Logger struct {
	zapLogger *zap.Logger
}

var (
	logLevels = map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"info":  zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"fatal": zapcore.FatalLevel,
	}

	fieldKeys = struct {
		Worker    string
		Domain    string
		RunID     string
		Component string
		Error     string
	}{
		Worker:    "worker_id",
		Domain:    "domain",
		RunID:     "run_id",
		Component: "component",
		Error:     "error",
	}
)

// New builds a Logger from Config.
func New(config Config) (Interface, error) {
	if config.Level == "" {
		config.Level = DefaultLevel
	}
	if config.Encoding == "" {
		config.Encoding = DefaultEncoding
	}
	if len(config.OutputPaths) == 0 {
		config.OutputPaths = DefaultOutputPaths
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	if config.Development {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	zcfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(getLogLevel(string(config.Level))),
		Development:      config.Development,
		Encoding:         config.Encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      config.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	zapLogger, err := zcfg.Build(zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &Logger{zapLogger: zapLogger}, nil
}

// Must panics if New returns an error; intended for process startup.
func Must(config Config) Interface {
	l, err := New(config)
	if err != nil {
		panic(err)
	}
	return l
}

func getLogLevel(level string) zapcore.Level {
	lvl, ok := logLevels[strings.ToLower(level)]
	if !ok {
		return zapcore.InfoLevel
	}
	return lvl
}

func (l *Logger) Debug(msg string, fields ...any) { l.zapLogger.Debug(msg, toZapFields(fields)...) }
func (l *Logger) Info(msg string, fields ...any)  { l.zapLogger.Info(msg, toZapFields(fields)...) }
func (l *Logger) Warn(msg string, fields ...any)  { l.zapLogger.Warn(msg, toZapFields(fields)...) }
func (l *Logger) Error(msg string, fields ...any) { l.zapLogger.Error(msg, toZapFields(fields)...) }
func (l *Logger) Fatal(msg string, fields ...any) { l.zapLogger.Fatal(msg, toZapFields(fields)...) }

// With creates a new logger with the given key/value fields appended.
func (l *Logger) With(fields ...any) Interface {
	return &Logger{zapLogger: l.zapLogger.With(toZapFields(fields)...)}
}

func (l *Logger) WithWorker(workerID string) Interface    { return l.With(fieldKeys.Worker, workerID) }
func (l *Logger) WithDomain(domain string) Interface      { return l.With(fieldKeys.Domain, domain) }
func (l *Logger) WithRunID(runID string) Interface        { return l.With(fieldKeys.RunID, runID) }
func (l *Logger) WithComponent(component string) Interface {
	return l.With(fieldKeys.Component, component)
}
func (l *Logger) WithError(err error) Interface { return l.With(fieldKeys.Error, err) }

// toZapFields converts alternating key/value pairs (or raw zap.Field values) into zap.Field.
func toZapFields(fields []any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}

	zapFields := make([]zap.Field, 0, len(fields))
	for i := 0; i < len(fields); i++ {
		switch field := fields[i].(type) {
		case zap.Field:
			zapFields = append(zapFields, field)
		case string:
			if i+1 >= len(fields) {
				zapFields = append(zapFields, zap.NamedError("logger_error", ErrInvalidFields))
				continue
			}
			zapFields = append(zapFields, zap.Any(field, fields[i+1]))
			i++
		default:
			zapFields = append(zapFields, zap.NamedError("logger_error", ErrInvalidFields))
		}
	}

	return zapFields
}

// NewNop returns a logger that discards all output; used in tests.
func NewNop() Interface {
	return &Logger{zapLogger: zap.NewNop()}
}
