// ABOUTME: Error taxonomy for the plugin core.
// ABOUTME: Validation, registration, lookup and storage failures plus the Skip signal.

package core

import (
	"errors"
	"fmt"
)

// ErrSkip is returned by a handler that deliberately declines to act, for
// example when its plugin has no configuration for the current user.
// Dispatch treats it as a no-op and does not record it.
var ErrSkip = errors.New("plugin handler skipped")

// ErrStorage is the sentinel matched by every StorageError.
var ErrStorage = errors.New("plugin configuration storage failure")

// ConfigError reports a configuration payload field that failed coercion or
// validation.
type ConfigError struct {
	Plugin string
	Field  string
	Value  any
	Err    error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("invalid value %v for setting %s in plugin %s", e.Value, e.Field, e.Plugin)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ValidationError is a field-level rejection that is not tied to the
// declared schema, such as the library reference of source plugins.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// DuplicatePluginError is returned when a plugin name is registered twice.
type DuplicatePluginError struct {
	Name string
}

func (e *DuplicatePluginError) Error() string {
	return fmt.Sprintf("plugin %q already registered", e.Name)
}

// NotFoundError is returned for unknown plugin names.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("plugin %q not found", e.Name)
}

// LookupError is returned when dispatching or connecting to an extension
// point that was never declared. It signals a programming error.
type LookupError struct {
	Name string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("unknown extension point %q", e.Name)
}

// ArgumentError is returned when dispatch arguments do not match the
// extension point declaration.
type ArgumentError struct {
	Point    string
	Argument string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("extension point %q does not declare argument %q", e.Point, e.Argument)
}

// StorageError wraps a failure of the configuration store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// NewStorageError wraps err for op. A nil err yields nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsSkip reports whether err carries the Skip signal.
func IsSkip(err error) bool {
	return errors.Is(err, ErrSkip)
}
