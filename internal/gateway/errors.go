package gateway

import (
	"errors"
	"fmt"
)

// Remote error taxonomy. Every error surfaced by a Gateway implementation
// wraps exactly one of these sentinels so callers can branch with errors.Is.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrRestrictedAccess = errors.New("restricted access")
	ErrNotFound         = errors.New("not found")
	ErrIncorrectData    = errors.New("incorrect data")
	ErrAlreadyExists    = errors.New("already exists")
	ErrUnexpected       = errors.New("unexpected error")
)

// wireError maps a backend error code to the taxonomy, keeping the remote
// message for logs.
func wireError(code, message string) error {
	var sentinel error
	switch code {
	case "unauthorized":
		sentinel = ErrUnauthorized
	case "forbidden", "restricted":
		sentinel = ErrRestrictedAccess
	case "not_found":
		sentinel = ErrNotFound
	case "bad_request", "incorrect_data":
		sentinel = ErrIncorrectData
	case "already_exists":
		sentinel = ErrAlreadyExists
	default:
		sentinel = ErrUnexpected
	}
	if message == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, message)
}
