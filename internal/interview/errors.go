package interview

import (
	"errors"
	"fmt"

	"github.com/ent0n29/proctor/internal/media"
)

var (
	ErrEmptyAnswer        = errors.New("answer cannot be empty")
	ErrInvalidTransition  = errors.New("invalid phase transition")
	ErrNotInInterview     = errors.New("interview is not in progress")
	ErrSubmissionInFlight = errors.New("an answer is already being submitted")
	ErrBusy               = errors.New("another operation is in progress")
	ErrNothingToRetry     = errors.New("no failed completion to retry")
	ErrClosed             = errors.New("controller closed")
)

// ValidityError means the session cannot be attempted: not yet started,
// expired, assigned to someone else, or already finished. It is fatal for the
// attempt.
type ValidityError struct {
	SessionID string
	Reason    string
}

func (e *ValidityError) Error() string {
	return fmt.Sprintf("session %s is not valid: %s", e.SessionID, e.Reason)
}

// MediaRequiredError refuses to start the interview without a device.
type MediaRequiredError struct {
	Kind       media.Kind
	Permission media.Permission
}

func (e *MediaRequiredError) Error() string {
	return fmt.Sprintf("%s access is required to start (permission: %s)", e.Kind, e.Permission)
}

// Recoverable is true: granting access and retrying Start succeeds.
func (e *MediaRequiredError) Recoverable() bool { return true }
