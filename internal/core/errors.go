package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeUnauthorized      = "unauthorized"
	ErrCodeRouteUnreachable  = "route_unreachable"
	ErrCodeInvalidTransition = "invalid_transition"
	ErrCodeCallInProgress    = "call_in_progress"
	ErrCodeBadRequest        = "bad_request"
	ErrCodeInvalidMessage    = "invalid_message"
	ErrCodeNotInRoom         = "not_in_room"
	ErrCodeRateLimited       = "rate_limited"
	ErrCodeInternal          = "internal"
)

var (
	// ErrAuth is returned when a handshake credential cannot be verified.
	ErrAuth = errors.New("authentication failed")
	// ErrRouteUnreachable means the target user has no live connection.
	ErrRouteUnreachable = errors.New("route unreachable")
	// ErrInvalidTransition is a call message that does not fit the session state.
	ErrInvalidTransition = errors.New("invalid call transition")
	// ErrConflictingCall is an offer for a pair that already has a session.
	ErrConflictingCall = errors.New("call already in progress")
	ErrBadRequest      = errors.New("bad request")
	ErrNotInRoom       = errors.New("not in room")
	// ErrHubStopped is returned by hub calls made after Run has exited.
	ErrHubStopped = errors.New("hub stopped")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// CodeFor maps a sentinel error to its wire code.
func CodeFor(err error) string {
	var ce *CoreError
	switch {
	case errors.As(err, &ce):
		return ce.Code
	case errors.Is(err, ErrAuth):
		return ErrCodeUnauthorized
	case errors.Is(err, ErrRouteUnreachable):
		return ErrCodeRouteUnreachable
	case errors.Is(err, ErrInvalidTransition):
		return ErrCodeInvalidTransition
	case errors.Is(err, ErrConflictingCall):
		return ErrCodeCallInProgress
	case errors.Is(err, ErrBadRequest):
		return ErrCodeBadRequest
	case errors.Is(err, ErrNotInRoom):
		return ErrCodeNotInRoom
	default:
		return ErrCodeInternal
	}
}

func errorEvent(err error) *Event {
	return &Event{Kind: EventError, Error: coreError(CodeFor(err), err.Error())}
}
