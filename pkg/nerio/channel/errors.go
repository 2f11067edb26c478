package channel

import (
	"context"
	"errors"
)

// Sentinel errors used to classify handler failures at the dispatch
// boundary. Handlers wrap these so the sanitized user-facing message can be
// selected with errors.Is.
var (
	// ErrInvalidRequest marks malformed or out-of-range request parameters.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnauthorized marks a request the agent refuses to serve.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrDuplicateSyncID marks a command sync id already in flight; a
	// protocol violation, reported loudly rather than overwritten.
	ErrDuplicateSyncID = errors.New("command sync id already in flight")
)

// UserFacingMessage maps a handler error onto a sanitized message for the
// orchestrator. Full detail stays in the agent's logs.
func UserFacingMessage(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "Request was cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"
	case errors.Is(err, ErrInvalidRequest):
		return "Invalid request parameters"
	case errors.Is(err, ErrUnauthorized):
		return "Access denied"
	default:
		return "An error occurred while processing the request"
	}
}
