// Package errors provides standardized error handling for stagegraph.
// It includes error classification, the engine's sentinel errors, and helpers
// for consistent wrapping of protocol, user-function and state errors.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables
var (
	// Port and stage state errors. These indicate a programming fault in a stage.
	ErrIllegalState = errors.New("illegal state")

	// Boundary protocol errors
	ErrProtocolViolation = errors.New("protocol violation")
	ErrNilElement        = errors.New("nil element")
	ErrNilError          = errors.New("nil error signaled")
	ErrNoDemand          = errors.New("element received without outstanding demand")
	ErrInvalidDemand     = errors.New("non-positive demand requested")
	ErrAlreadySubscribed = errors.New("publisher already has a subscriber")

	// User supplied functions
	ErrUserFunction = errors.New("user function failed")

	// Graph lifecycle errors
	ErrGraphStarted = errors.New("graph already started")
	ErrGraphInvalid = errors.New("graph is not fully connected")

	// Connection errors
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// SupersededError is delivered when a failure raised while handling another
// failure replaces it. Unwrap yields the new error only; the replaced one is
// kept in Superseded for logging and inspection.
type SupersededError struct {
	Err        error
	Superseded error
}

// Error implements the error interface
func (se *SupersededError) Error() string {
	return fmt.Sprintf("%v (superseding: %v)", se.Err, se.Superseded)
}

// Unwrap returns the error that replaced the original
func (se *SupersededError) Unwrap() error {
	return se.Err
}

// Supersede returns err chained with the failure it replaces.
// If either side is nil the other is returned unchanged.
func Supersede(err, original error) error {
	if err == nil {
		return original
	}
	if original == nil {
		return err
	}
	return &SupersededError{Err: err, Superseded: original}
}

// IsTransient checks if an error is transient and may be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "temporary", "unavailable"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrIllegalState) ||
		errors.Is(err, ErrProtocolViolation) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrGraphInvalid) ||
		errors.Is(err, ErrInvalidDemand) ||
		errors.Is(err, ErrNilElement)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	// Fatal first: protocol faults often mention connections or timeouts.
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}
	return ErrorTransient
}

func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// IllegalState builds a fatal error for port or stage misuse, e.g.
// "Inlet(map.in).Grab: element not pushed".
func IllegalState(component, operation, detail string) error {
	err := fmt.Errorf("%s.%s: %s: %w", component, operation, detail, ErrIllegalState)
	return newClassified(ErrorFatal, err, component, operation, err.Error())
}

// ProtocolViolation builds a fatal error for a breach of the boundary protocol.
// cause is usually one of ErrNoDemand, ErrNilElement or ErrInvalidDemand.
func ProtocolViolation(component, operation string, cause error) error {
	err := fmt.Errorf("%s.%s: %w: %w", component, operation, ErrProtocolViolation, cause)
	return newClassified(ErrorFatal, err, component, operation, err.Error())
}

// UserFunction wraps a failure raised by a user supplied function.
func UserFunction(stage, function string, cause error) error {
	if cause == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %w: %w", stage, function, ErrUserFunction, cause)
}

// FromPanic converts a recovered panic value into an error.
func FromPanic(recovered any) error {
	switch v := recovered.(type) {
	case nil:
		return nil
	case error:
		return v
	default:
		return fmt.Errorf("panic: %v", v)
	}
}
