package errors

import (
	"errors"
	"fmt"
)

// Generic error types

var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates an operation timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrUnavailable indicates a collaborator or service is unavailable
	ErrUnavailable = errors.New("service unavailable")
)

// Protocol errors

var (
	// ErrMalformedEnvelope indicates a serialized envelope could not be decoded or validated
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrCapabilitiesNotRegistered indicates an operation that needs a capability descriptor ran before one was registered
	ErrCapabilitiesNotRegistered = errors.New("capabilities must be registered first")

	// ErrAlreadyRegistered indicates a capability descriptor is already registered on the adapter
	ErrAlreadyRegistered = errors.New("capabilities already registered")

	// ErrInvalidCapabilities indicates a capability descriptor failed validation
	ErrInvalidCapabilities = errors.New("invalid capability descriptor")
)

// Transport errors

var (
	// ErrNotConnected indicates the transport has no open connection
	ErrNotConnected = errors.New("transport not connected")

	// ErrListenerUnsupported indicates the transport variant cannot run a listener
	ErrListenerUnsupported = errors.New("listener not supported by transport")

	// ErrListenerRunning indicates a listener is already running on the transport
	ErrListenerRunning = errors.New("listener already running")

	// ErrUnknownTransport indicates an unsupported transport kind in configuration
	ErrUnknownTransport = errors.New("unsupported transport kind")

	// ErrRegistryUnreachable indicates the registry endpoint could not be reached
	ErrRegistryUnreachable = errors.New("registry unreachable")
)

// Correlation errors

var (
	// ErrRequestTimeout indicates no correlated reply arrived before the wait deadline
	ErrRequestTimeout = errors.New("request timed out")

	// ErrRemoteError indicates the peer answered with an error envelope
	ErrRemoteError = errors.New("remote agent returned error")

	// ErrSendFailed indicates the transport refused an outbound envelope
	ErrSendFailed = errors.New("send failed")

	// ErrUnknownRequest indicates there is no pending request for a correlation id
	ErrUnknownRequest = errors.New("unknown request")
)

// DomainError wraps an error with a machine readable code
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the first DomainError in err's chain, or fallback
func CodeOf(err error, fallback string) string {
	var de *DomainError
	if errors.As(err, &de) && de.Code != "" {
		return de.Code
	}
	return fallback
}

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join combines errors, skipping nils
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func New(message string) error {
	return errors.New(message)
}

func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
