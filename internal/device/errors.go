package device

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
)

// Kind classifies provisioning failures.
type Kind string

const (
	KindPermissionDenied            Kind = "permission_denied"
	KindAdapterUnavailable          Kind = "adapter_unavailable"
	KindDeviceNotObserved           Kind = "device_not_observed"
	KindConnectTimeout              Kind = "connect_timeout"
	KindCapabilityUnresolved        Kind = "capability_unresolved"
	KindStandardServiceWriteBlocked Kind = "standard_service_write_blocked"
	KindOperationTimeout            Kind = "operation_timeout"
	KindUnexpectedDisconnect        Kind = "unexpected_disconnect"
)

// Error is a provisioning failure of a given Kind.
type Error struct {
	Kind     Kind
	DeviceID string
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.DeviceID != "" {
		fmt.Fprintf(&b, " [%s]", e.DeviceID)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrPermissionDenied            = &Error{Kind: KindPermissionDenied}
	ErrAdapterUnavailable          = &Error{Kind: KindAdapterUnavailable}
	ErrDeviceNotObserved           = &Error{Kind: KindDeviceNotObserved}
	ErrConnectTimeout              = &Error{Kind: KindConnectTimeout}
	ErrCapabilityUnresolved        = &Error{Kind: KindCapabilityUnresolved}
	ErrStandardServiceWriteBlocked = &Error{Kind: KindStandardServiceWriteBlocked}
	ErrOperationTimeout            = &Error{Kind: KindOperationTimeout}
	ErrUnexpectedDisconnect        = &Error{Kind: KindUnexpectedDisconnect}
)

// NewError builds an Error of the given kind.
func NewError(kind Kind, deviceID, msg string, err error) *Error {
	return &Error{Kind: kind, DeviceID: deviceID, Msg: msg, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ""
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}
