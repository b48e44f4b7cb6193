package quality

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"TxnPipeline/internal/domain"
)

// Required fields checked by the schema rule. Status and updated_at are
// checked for shape separately; status content is pass-through.
var requiredFields = []string{
	"transaction_id",
	"customer_id",
	"product_id",
	"amount",
	"transaction_date",
}

// Validator classifies every raw record into exactly one outcome: a typed
// Transaction or a Rejection with a single reason. Rules short-circuit in a
// fixed order: schema, duplicate-in-batch, completeness, amount, product.
type Validator struct{}

// NewValidator builds a stateless validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateBatch classifies the whole batch. The duplicate rule needs the full
// batch in view, so validation is batch-level, not streaming. An empty or nil
// products set disables the referential-integrity rule (the catalog is
// external and may be absent).
//
// Output preserves batch order in both slices, and every input record appears
// in exactly one of them.
func (v *Validator) ValidateBatch(batch []domain.RawRecord, products map[string]struct{}) ([]domain.Transaction, []domain.Rejection) {
	parsed := make([]domain.Transaction, len(batch))
	rejected := make([]*domain.Rejection, len(batch))

	// Rule 1: schema shape, per record.
	for i, rec := range batch {
		txn, err := parseRecord(rec)
		if err != nil {
			rejected[i] = &domain.Rejection{
				Record:  rec,
				Reason:  domain.ReasonSchemaViolation,
				Message: err.Error(),
			}
			continue
		}
		parsed[i] = txn
	}

	// Rule 2: duplicates within the batch among schema-valid records. The
	// copy with the latest updated_at survives; on a tie the first
	// encountered wins.
	winner := make(map[string]int, len(batch))
	for i := range batch {
		if rejected[i] != nil {
			continue
		}
		id := parsed[i].TransactionID
		best, seen := winner[id]
		if !seen || parsed[i].UpdatedAt.After(parsed[best].UpdatedAt) {
			winner[id] = i
		}
	}
	for i := range batch {
		if rejected[i] != nil {
			continue
		}
		if id := parsed[i].TransactionID; winner[id] != i {
			rejected[i] = &domain.Rejection{
				Record:  batch[i],
				Reason:  domain.ReasonDuplicateInBatch,
				Message: fmt.Sprintf("transaction_id %s repeats in batch; a newer copy wins", id),
			}
		}
	}

	// Rules 3-5, per surviving record.
	for i, rec := range batch {
		if rejected[i] != nil {
			continue
		}

		if field, complete := incompleteField(rec); !complete {
			rejected[i] = &domain.Rejection{
				Record:  rec,
				Reason:  domain.ReasonIncompleteRecord,
				Message: fmt.Sprintf("field %s is blank", field),
			}
			continue
		}

		if parsed[i].Amount <= 0 {
			rejected[i] = &domain.Rejection{
				Record:  rec,
				Reason:  domain.ReasonNonPositiveAmount,
				Message: fmt.Sprintf("amount must be > 0, got %s", rec.Amount),
			}
			continue
		}

		if len(products) > 0 {
			if _, known := products[parsed[i].ProductID]; !known {
				rejected[i] = &domain.Rejection{
					Record:  rec,
					Reason:  domain.ReasonUnknownProduct,
					Message: fmt.Sprintf("product_id %s not found in product dimension", parsed[i].ProductID),
				}
			}
		}
	}

	valid := make([]domain.Transaction, 0, len(batch))
	rejections := make([]domain.Rejection, 0)
	for i := range batch {
		if rejected[i] != nil {
			rejections = append(rejections, *rejected[i])
			continue
		}
		valid = append(valid, parsed[i])
	}

	return valid, rejections
}

// parseRecord enforces the schema rule: required fields present, amount and
// both temporal fields parseable.
func parseRecord(rec domain.RawRecord) (domain.Transaction, error) {
	for _, field := range requiredFields {
		if fieldValue(rec, field) == "" {
			return domain.Transaction{}, fmt.Errorf("missing required field %s", field)
		}
	}
	if rec.UpdatedAt == "" {
		return domain.Transaction{}, fmt.Errorf("missing required field updated_at")
	}

	amount, err := strconv.ParseFloat(strings.TrimSpace(rec.Amount), 64)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("amount %q is not a decimal", rec.Amount)
	}

	date, err := ParseDate(rec.TransactionDate)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction_date %q is not a date", rec.TransactionDate)
	}

	updated, err := ParseTimestamp(rec.UpdatedAt)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("updated_at %q is not a timestamp", rec.UpdatedAt)
	}

	return domain.Transaction{
		TransactionID:   strings.TrimSpace(rec.TransactionID),
		CustomerID:      strings.TrimSpace(rec.CustomerID),
		ProductID:       strings.TrimSpace(rec.ProductID),
		Amount:          amount,
		TransactionDate: date,
		Status:          rec.Status,
		UpdatedAt:       updated,
	}, nil
}

// incompleteField names the first field that is empty or whitespace-only, or
// reports the record complete. Schema validation already rejected truly
// missing required fields; this rule catches whitespace padding and a blank
// status.
func incompleteField(rec domain.RawRecord) (field string, complete bool) {
	checks := []struct {
		name  string
		value string
	}{
		{"transaction_id", rec.TransactionID},
		{"customer_id", rec.CustomerID},
		{"product_id", rec.ProductID},
		{"amount", rec.Amount},
		{"transaction_date", rec.TransactionDate},
		{"status", rec.Status},
		{"updated_at", rec.UpdatedAt},
	}
	for _, c := range checks {
		if strings.TrimSpace(c.value) == "" {
			return c.name, false
		}
	}
	return "", true
}

func fieldValue(rec domain.RawRecord, name string) string {
	switch name {
	case "transaction_id":
		return rec.TransactionID
	case "customer_id":
		return rec.CustomerID
	case "product_id":
		return rec.ProductID
	case "amount":
		return rec.Amount
	case "transaction_date":
		return rec.TransactionDate
	case "status":
		return rec.Status
	case "updated_at":
		return rec.UpdatedAt
	}
	return ""
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseDate accepts a calendar date, truncating any time portion.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}

// ParseTimestamp accepts the timestamp shapes the feed produces. Naive
// timestamps are taken as UTC, matching how the source emits them.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}
