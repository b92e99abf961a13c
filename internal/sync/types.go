package sync

import (
	"errors"
	"time"

	"github.com/marcus/vistoria/internal/checklistapi"
)

var (
	// ErrAlreadyRunning is returned when another SyncAll holds the guard or the run lock
	ErrAlreadyRunning = errors.New("sync already running")

	// ErrUnauthenticated is returned when no bearer token is available
	ErrUnauthenticated = checklistapi.ErrUnauthenticated
)

// Outcome summarises the queue state after a run
type Outcome string

const (
	OutcomeComplete       Outcome = "complete"
	OutcomePending        Outcome = "pending"
	OutcomePartialFailure Outcome = "partial_failure"
)

// Stats aggregates queue and file state.
type Stats struct {
	Pending        int `json:"pending"`
	Processing     int `json:"processing"`
	Failed         int `json:"failed"`
	Completed      int `json:"completed"`
	Total          int `json:"total"`
	FilesPending   int `json:"files_pending"`
	FilesFailed    int `json:"files_failed"`
	UnsyncedFields int `json:"unsynced_fields"`
}

// Outcome derives the run outcome: any failure wins, then anything left pending.
func (s Stats) Outcome() Outcome {
	switch {
	case s.Failed+s.FilesFailed > 0:
		return OutcomePartialFailure
	case s.Pending+s.Processing+s.FilesPending == 0:
		return OutcomeComplete
	default:
		return OutcomePending
	}
}

// Event is sent to subscribers at the start and end of every run.
type Event struct {
	Running bool
	Stats   Stats
	Outcome Outcome
	// Result is set on the end-of-run event
	Result *Result
}

// Result counts what one SyncAll did.
type Result struct {
	ItemsSucceeded int
	ItemsFailed    int
	ItemsExhausted int
	FieldsPushed   int
	FieldsFailed   int
	FilesUploaded  int
	FilesFailed    int
	Purged         int
	Recovered      int
	Duration       time.Duration
}
