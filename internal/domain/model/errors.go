package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound marks a referenced entity (job, area, record) that does
// not exist. Surfaced directly, never synthesized into a default.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed or missing input. Recoverable by
// the caller, never retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DuplicateError reports that a confirmation candidate collides with
// an existing record inside the tolerance box. A normal, expected
// outcome; it carries enough context for the caller to offer
// "view/update existing" instead.
type DuplicateError struct {
	ExistingID string
	Name       string
	Status     LandslideStatus
	DetectedAt time.Time
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("landslide already recorded as %s (%s)", e.ExistingID, e.Status)
}

// RemoteServiceError reports a transient failure of the detection
// service or another remote collaborator. Retried within the bounded
// budgets, then escalated to a terminal job state.
type RemoteServiceError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RemoteServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: remote returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteServiceError) Unwrap() error { return e.Err }

// ErrPollBudgetExhausted marks a job whose poll-attempt budget ran out
// before the remote reported a terminal state.
var ErrPollBudgetExhausted = errors.New("poll attempt budget exhausted")
