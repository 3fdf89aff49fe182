// Package logger provides structured logging for the crawl coordinator.
package logger

// Level represents the logging level.
type Level string

const (
	// DebugLevel logs debug messages.
	DebugLevel Level = "debug"
	// InfoLevel logs info messages.
	InfoLevel Level = "info"
	// WarnLevel logs warning messages.
	WarnLevel Level = "warn"
	// ErrorLevel logs error messages.
	ErrorLevel Level = "error"
	// FatalLevel logs fatal messages and exits.
	FatalLevel Level = "fatal"
)

// Config represents the logger configuration.
type Config struct {
	// Level is the minimum logging level.
	Level Level `json:"level" yaml:"level"`
	// Development enables development mode (colorized level names); the
	// encoding is still taken from Encoding.
	Development bool `json:"development" yaml:"development"`
	// Encoding sets the logger's encoding ("json" or "console").
	Encoding string `json:"encoding" yaml:"encoding"`
	// OutputPaths is a list of URLs or file paths to write logging output to.
	OutputPaths []string `json:"outputPaths" yaml:"outputPaths"`
}

// Default configuration values.
const (
	DefaultLevel       = InfoLevel
	DefaultEncoding    = "json"
	DefaultDevelopment = false
)

// DefaultOutputPaths is the default list of paths to write log output to.
var DefaultOutputPaths = []string{"stdout"}
