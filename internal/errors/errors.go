package errors

import (
	"errors"
	"fmt"
)

// Exit codes for berth
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitInvalidArgs  = 2
)

// Kind classifies a BerthError independently of its exit code.
type Kind string

const (
	KindGeneral            Kind = "general"
	KindInvalidArgs        Kind = "invalid-args"
	KindInvalidSpec        Kind = "invalid-spec"
	KindConfig             Kind = "config"
	KindContainer          Kind = "container"
	KindPortInUse          Kind = "port-in-use"
	KindRangeExhausted     Kind = "range-exhausted"
	KindConflict           Kind = "conflict"
	KindNotFound           Kind = "not-found"
	KindSessionOwned       Kind = "session-owned"
	KindSessionBusy        Kind = "session-busy"
	KindServerStartTimeout Kind = "server-start-timeout"
	KindForwardFailed      Kind = "forward-failed"
	KindClientLaunchFailed Kind = "client-launch-failed"
	KindBridgeStartFailed  Kind = "bridge-start-failed"
	KindChildExit          Kind = "child-exit"
)

// BerthError is the base error type for berth
type BerthError struct {
	Code    int
	Kind    Kind
	Message string
	Cause   error
}

func (e *BerthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *BerthError) Unwrap() error {
	return e.Cause
}

// ExitCode returns the exit code for this error
func (e *BerthError) ExitCode() int {
	return e.Code
}

// New creates a new BerthError
func New(kind Kind, message string) *BerthError {
	return &BerthError{
		Code:    ExitGeneralError,
		Kind:    kind,
		Message: message,
	}
}

// Wrap wraps an existing error with a BerthError
func Wrap(kind Kind, message string, cause error) *BerthError {
	return &BerthError{
		Code:    ExitGeneralError,
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// Common error constructors

// InvalidArgs returns an error for malformed command-line arguments (exit code 2)
func InvalidArgs(format string, args ...any) *BerthError {
	return &BerthError{
		Code:    ExitInvalidArgs,
		Kind:    KindInvalidArgs,
		Message: fmt.Sprintf(format, args...),
	}
}

// InvalidSpec returns an error for a port spec that does not parse (exit code 2)
func InvalidSpec(spec, reason string) *BerthError {
	return &BerthError{
		Code:    ExitInvalidArgs,
		Kind:    KindInvalidSpec,
		Message: fmt.Sprintf("invalid port spec %q: %s", spec, reason),
	}
}

// ConfigError returns an error for configuration issues
func ConfigError(message string, cause error) *BerthError {
	return Wrap(KindConfig, message, cause)
}

// ContainerFailed returns an error for container operations
func ContainerFailed(op string, cause error) *BerthError {
	return Wrap(KindContainer, fmt.Sprintf("container %s failed", op), cause)
}

// PortInUse returns an error for a host port held by berth or another process
func PortInUse(addr string, cause error) *BerthError {
	return Wrap(KindPortInUse, fmt.Sprintf("port %s is already in use", addr), cause)
}

// RangeExhausted returns an error when no port in a range passed allocation
func RangeExhausted(low, high int) *BerthError {
	return New(KindRangeExhausted, fmt.Sprintf("no available ports in range %d-%d", low, high))
}

// Conflict returns an error for a registry entry that would violate uniqueness
func Conflict(addr string) *BerthError {
	return New(KindConflict, fmt.Sprintf("forward %s already registered", addr))
}

// NotFound returns an error for an unknown forward
func NotFound(what string) *BerthError {
	return New(KindNotFound, fmt.Sprintf("no forward for %s", what))
}

// SessionOwned returns an error for removal of a forward owned by a live session
func SessionOwned(hostPort int, sessionID string) *BerthError {
	return New(KindSessionOwned,
		fmt.Sprintf("port %d belongs to live session %s; close the session first", hostPort, sessionID))
}

// SessionBusy returns an error for a session that is neither live nor finished
func SessionBusy(sessionID, state string) *BerthError {
	return New(KindSessionBusy, fmt.Sprintf("session %s is %s; retry once it is ready or force a new one", sessionID, state))
}

// ServerStartTimeout returns an error when the remote server never reported readiness
func ServerStartTimeout(cause error) *BerthError {
	return Wrap(KindServerStartTimeout, "server start failed", cause)
}

// ForwardFailed returns an error when the session forward could not be created
func ForwardFailed(cause error) *BerthError {
	return Wrap(KindForwardFailed, "forward failed", cause)
}

// ClientLaunchFailed returns an error when the host client could not be started
func ClientLaunchFailed(cause error) *BerthError {
	return Wrap(KindClientLaunchFailed, "client launch failed", cause)
}

// BridgeStartFailed returns an error for a clipboard bridge that could not start.
// Callers log it and continue.
func BridgeStartFailed(cause error) *BerthError {
	return Wrap(KindBridgeStartFailed, "clipboard bridge start failed", cause)
}

// ChildExit propagates a child process exit status
func ChildExit(code int, cause error) *BerthError {
	return &BerthError{
		Code:    code,
		Kind:    KindChildExit,
		Message: fmt.Sprintf("command exited with status %d", code),
		Cause:   cause,
	}
}

// GetExitCode extracts the exit code from an error
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var berthErr *BerthError
	if errors.As(err, &berthErr) {
		return berthErr.ExitCode()
	}
	return ExitGeneralError
}

// KindOf returns the kind of the first BerthError in err's chain
func KindOf(err error) Kind {
	var berthErr *BerthError
	if errors.As(err, &berthErr) {
		return berthErr.Kind
	}
	return ""
}

// IsKind reports whether any BerthError in err's chain has the given kind
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var berthErr *BerthError
		if !errors.As(err, &berthErr) {
			return false
		}
		if berthErr.Kind == kind {
			return true
		}
		err = berthErr.Cause
	}
	return false
}

// Is checks if an error is of a specific type
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return errors.As(err, target)
}
