// Package storage provides option parsing shared by the dedup store backends.
package storage

import (
	"fmt"

	errs "github.com/gezibash/up4w/pkg/errors"
)

// ConfigError reports a backend option that could not be used. It matches
// errs.ErrConfiguration and, when set, its Cause.
type ConfigError struct {
	Backend string
	Field   string
	Value   string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	msg := e.Backend + ": "
	if e.Field != "" {
		msg += e.Field
		if e.Value != "" {
			msg += fmt.Sprintf("=%q", e.Value)
		}
		msg += ": "
	}
	msg += e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() []error {
	if e.Cause == nil {
		return []error{errs.ErrConfiguration}
	}
	return []error{errs.ErrConfiguration, e.Cause}
}

// NewConfigError reports an invalid or missing field.
func NewConfigError(backend, field, message string) *ConfigError {
	return &ConfigError{Backend: backend, Field: field, Message: message}
}

// NewConfigErrorWithValue reports an invalid field and echoes its value.
func NewConfigErrorWithValue(backend, field, value, message string) *ConfigError {
	return &ConfigError{Backend: backend, Field: field, Value: value, Message: message}
}

// NewConfigErrorWithCause reports a field whose use failed with cause.
func NewConfigErrorWithCause(backend, field, message string, cause error) *ConfigError {
	return &ConfigError{Backend: backend, Field: field, Message: message, Cause: cause}
}
