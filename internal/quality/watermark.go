package quality

import (
	"time"

	"TxnPipeline/internal/domain"
)

// Tracker decides which validated records still need merging and how far the
// watermark advances afterwards. The watermark is the maximum updated_at
// among fact rows durably merged so far; it never decreases.
type Tracker struct{}

// NewTracker builds a stateless tracker; the watermark itself is threaded
// through calls explicitly.
func NewTracker() Tracker {
	return Tracker{}
}

// Eligible reports whether a validated record must be merged: its updated_at
// is strictly newer than the watermark, or its transaction ID has never been
// loaded. Valid but ineligible records are "skipped, already current".
func (Tracker) Eligible(txn domain.Transaction, watermark time.Time, loaded map[string]bool) bool {
	if txn.UpdatedAt.After(watermark) {
		return true
	}
	return !loaded[txn.TransactionID]
}

// Advance returns the new watermark after a committed merge. Monotonic for
// every input, including a zero candidate from an empty merge.
func (Tracker) Advance(current, candidate time.Time) time.Time {
	if candidate.After(current) {
		return candidate
	}
	return current
}
