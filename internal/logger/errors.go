package logger

import "errors"

// Common errors returned by the logger package.
var (
	// ErrInvalidFields is returned when invalid fields are provided to a logging method.
	ErrInvalidFields = errors.New("invalid fields: must be key-value pairs")
)
