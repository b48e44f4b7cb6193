package domain

import "time"

// RawRecord is a staged transaction row exactly as received from the source
// feed. All fields are strings on the wire; nothing is trusted until the
// record passes validation.
type RawRecord struct {
	TransactionID   string
	CustomerID      string
	ProductID       string
	Amount          string
	TransactionDate string
	Status          string
	UpdatedAt       string
}

// Transaction is a raw record proven to satisfy every quality rule.
// Immutable once produced.
type Transaction struct {
	TransactionID   string
	CustomerID      string
	ProductID       string
	Amount          float64
	TransactionDate time.Time
	Status          string
	UpdatedAt       time.Time
}

// RejectionReason identifies the single quality rule a record failed.
type RejectionReason string

const (
	ReasonSchemaViolation   RejectionReason = "schema_violation"
	ReasonDuplicateInBatch  RejectionReason = "duplicate_in_batch"
	ReasonIncompleteRecord  RejectionReason = "incomplete_record"
	ReasonNonPositiveAmount RejectionReason = "non_positive_amount"
	ReasonUnknownProduct    RejectionReason = "unknown_product"
)

// Rejection pairs an invalid raw record with the first rule it failed.
type Rejection struct {
	Record  RawRecord
	Reason  RejectionReason
	Message string
}

// QuarantinedRecord is the durable shape appended to the quarantine store.
// Fields may be partial; the record is here precisely because something in it
// was malformed.
type QuarantinedRecord struct {
	Record       RawRecord
	Reason       RejectionReason
	ErrorMessage string
	ErrorTime    time.Time
}

// FactRow is the destination shape, keyed by (TransactionID, TransactionDate).
type FactRow struct {
	TransactionID   string
	CustomerID      string
	ProductID       string
	Amount          float64
	TransactionDate time.Time
	Status          string
	UpdatedAt       time.Time
}

// LoadError records a validated transaction the fact store could not accept,
// typically because no partition covers its date. Reported for operator
// attention, never quarantined.
type LoadError struct {
	TransactionID   string
	TransactionDate time.Time
	Message         string
}

// MergeResult aggregates the outcome of one merge transaction.
type MergeResult struct {
	Merged     int
	Conflicts  int
	LoadErrors []LoadError
	// MaxUpdatedAt is the latest updated_at among rows actually written,
	// zero when nothing was written.
	MaxUpdatedAt time.Time
}

// RunStatus enumerates gate run states.
type RunStatus string

const (
	StatusLoadedStaged RunStatus = "loaded_staged"
	StatusValidating   RunStatus = "validating"
	StatusRouting      RunStatus = "routing"
	StatusMerging      RunStatus = "merging"
	StatusDone         RunStatus = "done"
	StatusFailed       RunStatus = "failed"
)

// RunSummary is emitted at the end of every run, including failed ones.
type RunSummary struct {
	RunID       string    `json:"run_id"`
	Status      RunStatus `json:"status"`
	Validated   int       `json:"validated_count"`
	Quarantined int       `json:"quarantined_count"`
	Skipped     int       `json:"skipped_count"`
	Merged      int       `json:"merged_count"`
	LoadErrors  int       `json:"load_error_count"`
	Watermark   time.Time `json:"new_watermark"`
	Incomplete  bool      `json:"incomplete,omitempty"`
	Error       string    `json:"error,omitempty"`
}
