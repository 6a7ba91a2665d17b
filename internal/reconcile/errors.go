package reconcile

import "errors"

// Stable error kinds surfaced at the request boundary. Each maps 1:1 to an
// HTTP status in the API layer.
var (
	// ErrNotFound means the referenced draft, attempt, or vote is absent.
	ErrNotFound = errors.New("not found")

	// ErrInvalidOption means the selected option index is outside the
	// poll's option range.
	ErrInvalidOption = errors.New("invalid option index")

	// ErrInvalidVoter means the submitted voter identity is empty.
	ErrInvalidVoter = errors.New("invalid voter identity")

	// ErrDuplicateVote means the voter already holds a live vote on the poll.
	ErrDuplicateVote = errors.New("duplicate vote")

	// ErrAlreadyInProgress means a registration attempt already references
	// the draft and has not terminally failed.
	ErrAlreadyInProgress = errors.New("registration already in progress")

	// ErrChainUnavailable wraps transient chain gateway failures.
	ErrChainUnavailable = errors.New("chain unavailable")

	// ErrSweepRunning means a sweep cycle is already executing; overlapping
	// runs are skipped, not queued.
	ErrSweepRunning = errors.New("sweep already running")
)
