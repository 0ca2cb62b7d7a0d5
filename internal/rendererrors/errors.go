// Package rendererrors provides the enhanced error type used across the
// renderer core: every error carries a component, a category, and a bag of
// diagnostic context built through a fluent builder.
package rendererrors

import (
	"fmt"
	"maps"
	"sync"
	"time"
)

// ErrorCategory classifies an error for grouping and for dispatch decisions
// in the renderer (see §7 of the design: only Interrupted is recovered
// locally, the rest are surfaced or made sticky).
type ErrorCategory string

const (
	// Spec §7 error kinds.
	CategoryOutOfMemory       ErrorCategory = "out-of-memory"
	CategoryEndpointFailure   ErrorCategory = "endpoint-failure"
	CategoryUnsupportedFormat ErrorCategory = "unsupported-format"
	CategoryStateViolation    ErrorCategory = "state-violation"
	CategoryInterrupted       ErrorCategory = "interrupted"

	// Ambient categories for the ancillary stack (settings, CLI, device I/O).
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryDeviceIO      ErrorCategory = "device-io"
	CategoryGeneric       ErrorCategory = "generic"
)

// ComponentUnknown is used when no component was supplied to the builder.
const ComponentUnknown = "unknown"

// EnhancedError wraps a cause with component/category/context metadata.
type EnhancedError struct {
	Err       error
	Component string
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time

	mu sync.RWMutex
}

// Error implements the error interface.
func (ee *EnhancedError) Error() string {
	if ee.Err == nil {
		return fmt.Sprintf("%s: %s", ee.Component, ee.Category)
	}
	return ee.Err.Error()
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches against another *EnhancedError by category, otherwise defers
// to the wrapped error's own Is/== semantics.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return false
}

// GetContext returns a defensive copy of the error's context bag.
func (ee *EnhancedError) GetContext() map[string]any {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	if ee.Context == nil {
		return nil
	}
	cp := make(map[string]any, len(ee.Context))
	maps.Copy(cp, ee.Context)
	return cp
}

// ErrorBuilder provides the fluent New(cause).Component(...).Category(...)
// .Context(k, v).Build() construction used throughout the renderer.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts a builder wrapping cause (which may be nil for a fresh error).
func New(cause error) *ErrorBuilder {
	return &ErrorBuilder{err: cause}
}

// Newf is New(fmt.Errorf(format, args...)).
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the originating component name.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category.
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context attaches a diagnostic key/value pair.
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Build finalizes the EnhancedError, defaulting an unset component/category.
func (eb *ErrorBuilder) Build() *EnhancedError {
	component := eb.component
	if component == "" {
		component = ComponentUnknown
	}
	category := eb.category
	if category == "" {
		category = CategoryGeneric
	}
	return &EnhancedError{
		Err:       eb.err,
		Component: component,
		Category:  category,
		Context:   eb.context,
		Timestamp: time.Now(),
	}
}

// CategoryOf returns the category of err if it (or something it wraps) is
// an *EnhancedError, and ok=false otherwise.
func CategoryOf(err error) (ErrorCategory, bool) {
	for err != nil {
		if ee, ok := err.(*EnhancedError); ok {
			return ee.Category, true
		}
		unwrappable, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrappable.Unwrap()
	}
	return "", false
}
