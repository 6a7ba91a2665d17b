package models

import "time"

// MaxErrorEntries bounds the per-record error log. Older entries are dropped
// once the record accumulates more than this many.
const MaxErrorEntries = 10

// Error kinds recorded into per-record error logs.
const (
	ErrorKindRegistration = "registration"
	ErrorKindVote         = "vote"
	ErrorKindChain        = "chain"
)

// ErrorEntry is one entry in a record's bounded error log, stored as jsonb.
type ErrorEntry struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// AppendError appends an entry to a bounded error log, keeping only the most
// recent MaxErrorEntries entries.
func AppendError(log []ErrorEntry, kind, message string, at time.Time) []ErrorEntry {
	log = append(log, ErrorEntry{Kind: kind, Message: message, At: at})
	if len(log) > MaxErrorEntries {
		log = log[len(log)-MaxErrorEntries:]
	}
	return log
}
