package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks configuration errors. They are fatal and always raised
	// before any data is loaded or any order is sent.
	ErrConfig = errors.New("invalid configuration")

	// ErrCovarianceMisaligned is returned when the covariance matrix is not
	// ordered exactly like the weight vector it is applied to.
	ErrCovarianceMisaligned = errors.New("covariance matrix misaligned with weight vector")

	// ErrSessionClosed is returned by broker sessions used after Close.
	ErrSessionClosed = errors.New("broker session closed")
)

// ConfigError describes an invalid configuration field.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() []error {
	return []error{ErrConfig, e.Err}
}

// NewConfigError creates a ConfigError with a formatted cause.
func NewConfigError(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}
