package model

import (
	"encoding/json"
	"time"
)

// JobState is the lifecycle state of an asynchronous detection job.
type JobState string

const (
	JobProcessing JobState = "processing"
	JobSucceeded  JobState = "succeeded"
	JobFailed     JobState = "failed"
	JobTimedOut   JobState = "timed_out"
)

// Terminal reports whether no further status checks may be issued for
// a job in this state.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobTimedOut
}

// DetectionJob is one outstanding or completed analysis request. It is
// owned exclusively by the tracker that created it; everyone else sees
// snapshots.
type DetectionJob struct {
	ID                string          `json:"id"`
	Coordinate        Coordinate      `json:"coordinate"`
	SubmittedAt       time.Time       `json:"submittedAt"`
	State             JobState        `json:"state"`
	Detected          bool            `json:"detected"`
	ResultCoordinates json.RawMessage `json:"resultCoordinates,omitempty"`
	PollAttempts      int             `json:"pollAttempts"`
	FailureReason     string          `json:"failureReason,omitempty"`
	CompletedAt       *time.Time      `json:"completedAt,omitempty"`
}

// UpdateKind tags a decoded detection-service status response.
type UpdateKind int

const (
	UpdateProcessing UpdateKind = iota
	UpdateSucceeded
	UpdateFailed
)

// DetectionUpdate is the tagged variant decoded from one status check.
// Detected and Coordinates are meaningful only for UpdateSucceeded,
// Reason only for UpdateFailed; internal logic never inspects
// maybe-present wire fields directly.
type DetectionUpdate struct {
	Kind        UpdateKind
	Detected    bool
	Coordinates json.RawMessage
	Reason      string
}
