package errors

import "fmt"

// Code identifies a run-level collection failure
type Code string

const (
	CodeNoIdentityAvailable Code = "NO_IDENTITY_AVAILABLE"
	CodeSessionUnavailable  Code = "SESSION_UNAVAILABLE"
	CodeTargetUnavailable   Code = "TARGET_NOT_FOUND_OR_PRIVATE"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeReauthRequired      Code = "REAUTH_REQUIRED"
	CodePartialItemFailure  Code = "PARTIAL_ITEM_FAILURE"
	CodeInternal            Code = "INTERNAL"
)

// Error represents a run-level collection failure with a stable code
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates a collection error with the given code and message
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsTerminal reports whether the code aborts a collection run.
// PARTIAL_ITEM_FAILURE is absorbed per item and only reduces the result set.
func IsTerminal(code Code) bool {
	return code != CodePartialItemFailure
}

// IdentityFault reports whether the failure counts against the identity
// that performed the run. Target-side failures do not.
func IdentityFault(code Code) bool {
	switch code {
	case CodeRateLimited, CodeReauthRequired, CodeSessionUnavailable, CodeInternal:
		return true
	default:
		return false
	}
}
