// Package errors provides standardized error handling for the control system.
// It includes error classification, the domain's standard error variables, and
// helper functions for consistent error wrapping across components.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/pkg/retry"
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

// Standard error variables for common conditions
var (
	// Module lifecycle errors
	ErrAlreadyStarted     = errors.New("module already started")
	ErrNotStarted         = errors.New("module not started")
	ErrAlreadyInitialized = errors.New("module already initialized")
	ErrShutdown           = errors.New("module is shut down")
	ErrInvalidTransition  = errors.New("invalid lifecycle transition")

	// Module loading errors
	ErrLibraryOpen     = errors.New("cannot open module library")
	ErrMissingSymbol   = errors.New("required plugin symbol missing")
	ErrVersionMismatch = errors.New("module ABI version incompatible")
	ErrDuplicateModule = errors.New("module name already registered")
	ErrModuleNotFound  = errors.New("module not found")
	ErrModuleInUse     = errors.New("module bound to a started control loop")
	ErrWrongCapability = errors.New("module does not expose requested capability")

	// Control loop errors
	ErrLoopExists             = errors.New("control loop already exists")
	ErrLoopNotFound           = errors.New("control loop not found")
	ErrInvalidFrequency       = errors.New("control loop frequency must be positive")
	ErrMissingControlFunction = errors.New("control loop has no control function")
	ErrUnresolvedBinding      = errors.New("loop binding does not resolve to a loaded module")

	// Safety errors
	ErrCommandOutOfRange   = errors.New("command value outside configured limits")
	ErrEmergencyStopActive = errors.New("emergency stop active")

	// Monitoring errors
	ErrWatchdogTimeout = errors.New("watchdog heartbeat timeout")
	ErrJoinTimeout     = errors.New("loop failed to join within watchdog timeout")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// IPC errors
	ErrQueueClosed = errors.New("message queue closed")
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

// IsTransient checks if an error is transient and may be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrWatchdogTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "temporary", "unavailable", "busy", "retry"} {
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

	return errors.Is(err, ErrJoinTimeout) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrVersionMismatch)
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

	return errors.Is(err, ErrCommandOutOfRange) ||
		errors.Is(err, ErrInvalidFrequency) ||
		errors.Is(err, ErrDuplicateModule) ||
		errors.Is(err, ErrMissingSymbol)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	if IsTransient(err) {
		return ErrorTransient
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}
	// Default to transient for unknown errors to allow retry
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

// RetryConfig defines configuration for retry operations
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns a sensible default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ToRetryConfig converts RetryConfig to the retry framework's Config type.
// MaxRetries counts additional attempts beyond the first, so the conversion
// adds 1 to produce the framework's total-attempt count.
func (rc RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxRetries + 1,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    true,
	}
}
