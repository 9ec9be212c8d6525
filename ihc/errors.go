package ihc

import (
	"errors"
	"fmt"
)

// TransportError reports a failure in the HTTP/TLS layer: network I/O,
// a non-retryable status code, or an exhausted retry budget.
type TransportError struct {
	Msg string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ihc: transport: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("ihc: transport: %s", e.Msg)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports an unexpected XML shape: a missing required child,
// an unparsable scalar, or a malformed envelope.
type ProtocolError struct {
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ihc: protocol: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("ihc: protocol: %s", e.Msg)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// AuthError reports loginWasSuccessful=false.
type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string { return fmt.Sprintf("ihc: auth: %s", e.Msg) }

// NotReadyError reports that the controller never reached the ready state
// within the wait budget given to GetProject.
type NotReadyError struct {
	State string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("ihc: controller not ready (state=%q)", e.State)
}

// ErrAbsent is returned by value getters when the controller's reply does
// not include the requested resource.
var ErrAbsent = errors.New("ihc: resource absent from controller reply")

// IsTransportError reports whether err is or wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsProtocolError reports whether err is or wraps a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsAuthError reports whether err is or wraps a *AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
