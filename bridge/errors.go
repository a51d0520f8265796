package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

const (
	CodeInternalError = "internal_error"
	CodeUnsupported   = "unsupported"
	CodeNotLoggedIn   = "not_logged_in"
	CodeUnknownType   = "unknown_type"
	CodeBadRequest    = "bad_request"
)

// ProtocolError is a structured failure reported by the bridge in a
// response envelope. Code is a stable machine-readable identifier;
// Retryable signals whether repeating the same command may succeed.
type ProtocolError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *ProtocolError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func NewProtocolError(code, message string, retryable bool) *ProtocolError {
	return &ProtocolError{Code: code, Message: message, Retryable: retryable}
}

// CodeOf returns the protocol error code carried by err, or "" when err
// does not wrap a ProtocolError.
func CodeOf(err error) string {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsRetryable reports whether err wraps a ProtocolError the bridge marked
// as retryable.
func IsRetryable(err error) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

var (
	// ErrNotConnected is returned by commands issued while no bridge
	// connection is established.
	ErrNotConnected = errors.New("bridge: not connected")

	// ErrConnectionClosed resolves every in-flight command when the
	// connection drops before its response arrives.
	ErrConnectionClosed = errors.New("bridge: connection closed")

	// ErrCommandTimeout is returned when the bridge does not answer a
	// command within the configured window.
	ErrCommandTimeout = errors.New("bridge: command timed out")

	// ErrVersionMismatch means the bridge answered the health check with
	// a protocol version this client does not speak.
	ErrVersionMismatch = errors.New("bridge: protocol version mismatch")
)

// StartupError marks a connection failure that exhausted the startup
// sequence, including the optional repair attempt. Run returns it when
// the engine cannot establish a usable session and gives up.
type StartupError struct {
	Stage string
	Err   error
}

func (e *StartupError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("bridge startup failed during %s", e.Stage)
	}
	return fmt.Sprintf("bridge startup failed during %s: %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// repairableStartup reports whether a startup failure looks like the kind
// of broken-bridge state an external repair command can fix: stale builds,
// dead sockets, stuck processes. Anything else (bad config, auth problems)
// fails fast instead.
func repairableStartup(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrVersionMismatch) || errors.Is(err, ErrCommandTimeout) ||
		errors.Is(err, ErrConnectionClosed) || errors.Is(err, ErrNotConnected) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"connection", "timeout", "timed out", "refused", "reset", "broken pipe"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
