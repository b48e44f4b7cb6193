package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TxnPipeline/internal/domain"
)

// --- in-memory collaborators ---

type memStaging struct {
	records []domain.RawRecord
	cleared bool
}

func (s *memStaging) FetchBatch(context.Context) ([]domain.RawRecord, error) {
	return append([]domain.RawRecord(nil), s.records...), nil
}

func (s *memStaging) Append(_ context.Context, records []domain.RawRecord) (int, error) {
	s.records = append(s.records, records...)
	return len(records), nil
}

func (s *memStaging) MaxUpdatedAt(context.Context) (time.Time, error) { return time.Time{}, nil }

func (s *memStaging) Clear(context.Context) error {
	s.records = nil
	s.cleared = true
	return nil
}

type memProducts struct {
	ids map[string]struct{}
	err error
}

func (p *memProducts) ProductIDs(context.Context) (map[string]struct{}, error) {
	return p.ids, p.err
}

type memQuarantine struct {
	records []domain.QuarantinedRecord
	err     error
}

func (q *memQuarantine) Append(_ context.Context, record domain.QuarantinedRecord) error {
	if q.err != nil {
		return q.err
	}
	q.records = append(q.records, record)
	return nil
}

type factKey struct {
	id   string
	date string
}

// memFacts mirrors the conditional-write contract of the real store: insert
// if absent, overwrite only on strictly newer updated_at, partition misses
// reported per record.
type memFacts struct {
	rows     map[factKey]domain.FactRow
	badDates map[string]bool
	mergeErr error
}

func newMemFacts() *memFacts {
	return &memFacts{rows: map[factKey]domain.FactRow{}}
}

func (f *memFacts) ExistingIDs(_ context.Context, ids []string) (map[string]bool, error) {
	existing := map[string]bool{}
	for _, id := range ids {
		for key := range f.rows {
			if key.id == id {
				existing[id] = true
			}
		}
	}
	return existing, nil
}

func (f *memFacts) MaxUpdatedAt(context.Context) (time.Time, error) {
	var max time.Time
	for _, row := range f.rows {
		if row.UpdatedAt.After(max) {
			max = row.UpdatedAt
		}
	}
	return max, nil
}

func (f *memFacts) Merge(_ context.Context, batch []domain.Transaction) (domain.MergeResult, error) {
	if f.mergeErr != nil {
		return domain.MergeResult{}, f.mergeErr
	}

	var result domain.MergeResult
	for _, txn := range batch {
		date := txn.TransactionDate.Format("2006-01-02")
		if f.badDates[date] {
			result.LoadErrors = append(result.LoadErrors, domain.LoadError{
				TransactionID:   txn.TransactionID,
				TransactionDate: txn.TransactionDate,
				Message:         "no partition of relation found for row",
			})
			continue
		}

		key := factKey{id: txn.TransactionID, date: date}
		existing, found := f.rows[key]
		if found {
			result.Conflicts++
			if !txn.UpdatedAt.After(existing.UpdatedAt) {
				continue
			}
		}
		f.rows[key] = domain.FactRow{
			TransactionID:   txn.TransactionID,
			CustomerID:      txn.CustomerID,
			ProductID:       txn.ProductID,
			Amount:          txn.Amount,
			TransactionDate: txn.TransactionDate,
			Status:          txn.Status,
			UpdatedAt:       txn.UpdatedAt,
		}
		result.Merged++
		if txn.UpdatedAt.After(result.MaxUpdatedAt) {
			result.MaxUpdatedAt = txn.UpdatedAt
		}
	}
	return result, nil
}

type memRunLog struct {
	watermark time.Time
	statuses  map[string]string
}

func newMemRunLog() *memRunLog {
	return &memRunLog{statuses: map[string]string{}}
}

func (r *memRunLog) Begin(_ context.Context, runID string, _ time.Time) error {
	r.statuses[runID] = "in_progress"
	return nil
}

func (r *memRunLog) Complete(_ context.Context, runID string, _ time.Time, summary domain.RunSummary) error {
	r.statuses[runID] = "success"
	if summary.Watermark.After(r.watermark) {
		r.watermark = summary.Watermark
	}
	return nil
}

func (r *memRunLog) Fail(_ context.Context, runID string, _ time.Time, _ domain.RunSummary) error {
	r.statuses[runID] = "failed"
	return nil
}

func (r *memRunLog) LastWatermark(context.Context) (time.Time, error) {
	return r.watermark, nil
}

type gateFixture struct {
	staging    *memStaging
	products   *memProducts
	quarantine *memQuarantine
	facts      *memFacts
	runLog     *memRunLog
	gate       *Gate
}

func newGateFixture(records ...domain.RawRecord) *gateFixture {
	f := &gateFixture{
		staging:    &memStaging{records: records},
		products:   &memProducts{ids: map[string]struct{}{"p1": {}, "p2": {}}},
		quarantine: &memQuarantine{},
		facts:      newMemFacts(),
		runLog:     newMemRunLog(),
	}
	f.gate = NewGate(GateDeps{
		Staging:    f.staging,
		Products:   f.products,
		Quarantine: f.quarantine,
		Facts:      f.facts,
		RunLog:     f.runLog,
	})
	return f
}

func raw(id, amount, date, updatedAt string) domain.RawRecord {
	return domain.RawRecord{
		TransactionID:   id,
		CustomerID:      "c1",
		ProductID:       "p1",
		Amount:          amount,
		TransactionDate: date,
		Status:          "SUCCESS",
		UpdatedAt:       updatedAt,
	}
}

var runTrigger = time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC)

// --- tests ---

func TestGateRun_DuplicateResolvedThenMerged(t *testing.T) {
	f := newGateFixture(
		raw("T1", "50", "2026-01-14", "2026-01-14T08:00:00Z"),
		raw("T1", "50", "2026-01-14", "2026-01-14T09:00:00Z"),
	)

	summary, err := f.gate.Run(context.Background(), runTrigger)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDone, summary.Status)
	assert.Equal(t, 1, summary.Validated)
	assert.Equal(t, 1, summary.Quarantined)
	assert.Equal(t, 1, summary.Merged)
	assert.Equal(t, 0, summary.Skipped)

	require.Len(t, f.facts.rows, 1)
	row := f.facts.rows[factKey{id: "T1", date: "2026-01-14"}]
	assert.Equal(t, 50.0, row.Amount)
	assert.Equal(t, time.Date(2026, 1, 14, 9, 0, 0, 0, time.UTC), row.UpdatedAt)
	assert.Equal(t, row.UpdatedAt, summary.Watermark)

	require.Len(t, f.quarantine.records, 1)
	assert.Equal(t, domain.ReasonDuplicateInBatch, f.quarantine.records[0].Reason)
	assert.True(t, f.staging.cleared)
}

func TestGateRun_NegativeAmountQuarantined(t *testing.T) {
	f := newGateFixture(raw("T2", "-5", "2026-01-14", "2026-01-14T08:00:00Z"))

	summary, err := f.gate.Run(context.Background(), runTrigger)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Merged)
	assert.Equal(t, 1, summary.Quarantined)
	assert.True(t, summary.Watermark.IsZero(), "watermark unchanged by a fully rejected batch")
	require.Len(t, f.quarantine.records, 1)
	assert.Equal(t, domain.ReasonNonPositiveAmount, f.quarantine.records[0].Reason)
	assert.Empty(t, f.facts.rows)
}

func TestGateRun_ClassificationIsTotal(t *testing.T) {
	f := newGateFixture(
		raw("T1", "10", "2026-01-14", "2026-01-14T08:00:00Z"),
		raw("T2", "", "2026-01-14", "2026-01-14T08:00:00Z"),
		raw("T3", "-1", "2026-01-14", "2026-01-14T08:00:00Z"),
		raw("T4", "25", "2026-02-14", "2026-01-14T08:00:00Z"),
	)
	f.facts.badDates = map[string]bool{"2026-02-14": true}

	summary, err := f.gate.Run(context.Background(), runTrigger)
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Validated+summary.Quarantined,
		"every raw record is classified exactly once")
	assert.Equal(t, summary.Validated, summary.Merged+summary.Skipped+summary.LoadErrors,
		"every validated record is merged, skipped, or a load error")
	assert.Equal(t, 1, summary.Merged)
	assert.Equal(t, 1, summary.LoadErrors)
	assert.Equal(t, 2, summary.Quarantined)
}

func TestGateRun_IdempotentAcrossReplays(t *testing.T) {
	batch := []domain.RawRecord{
		raw("T1", "10", "2026-01-14", "2026-01-14T08:00:00Z"),
		raw("T2", "20", "2026-01-14", "2026-01-14T09:00:00Z"),
	}
	f := newGateFixture(batch...)

	first, err := f.gate.Run(context.Background(), runTrigger)
	require.NoError(t, err)
	require.Equal(t, 2, first.Merged)

	rowsAfterFirst := map[factKey]domain.FactRow{}
	for k, v := range f.facts.rows {
		rowsAfterFirst[k] = v
	}

	// The scheduler retries the same logical batch: staging is re-fed the
	// identical records and the gate runs again.
	_, err = f.staging.Append(context.Background(), batch)
	require.NoError(t, err)

	second, err := f.gate.Run(context.Background(), runTrigger)
	require.NoError(t, err)

	assert.Equal(t, 0, second.Merged)
	assert.Equal(t, 2, second.Skipped)
	assert.Equal(t, first.Watermark, second.Watermark)
	assert.Equal(t, rowsAfterFirst, f.facts.rows, "replay must not change the fact row set")
}

func TestGateRun_EmptyBatchKeepsWatermark(t *testing.T) {
	f := newGateFixture()
	f.runLog.watermark = time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	summary, err := f.gate.Run(context.Background(), runTrigger)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDone, summary.Status)
	assert.Equal(t, f.runLog.watermark, summary.Watermark)
	assert.Zero(t, summary.Validated)
	assert.Zero(t, summary.Merged)
}

func TestGateRun_MergeFailureAbortsWithoutAdvancing(t *testing.T) {
	f := newGateFixture(raw("T1", "10", "2026-01-14", "2026-01-14T08:00:00Z"))
	f.facts.mergeErr = errors.New("connection refused")

	summary, err := f.gate.Run(context.Background(), runTrigger)
	require.Error(t, err)

	assert.Equal(t, domain.StatusFailed, summary.Status)
	assert.True(t, summary.Incomplete)
	assert.NotEmpty(t, summary.Error)
	assert.Equal(t, 1, summary.Validated, "counts up to the failure point are kept")
	assert.False(t, f.staging.cleared, "staging stays intact for a retry")
	assert.Equal(t, "failed", f.runLog.statuses[summary.RunID])
	assert.True(t, f.runLog.watermark.IsZero())
}

func TestGateRun_QuarantineWriteFailureDoesNotFailRun(t *testing.T) {
	f := newGateFixture(
		raw("T1", "10", "2026-01-14", "2026-01-14T08:00:00Z"),
		raw("T2", "-1", "2026-01-14", "2026-01-14T08:00:00Z"),
	)
	f.quarantine.err = errors.New("quarantine store down")

	summary, err := f.gate.Run(context.Background(), runTrigger)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDone, summary.Status)
	assert.Equal(t, 1, summary.Merged)
	assert.Equal(t, 1, summary.Quarantined)
}

func TestGateRun_ProductCatalogFailureDisablesRule(t *testing.T) {
	f := newGateFixture(raw("T1", "10", "2026-01-14", "2026-01-14T08:00:00Z"))
	f.products.err = errors.New("products table missing")
	f.products.ids = nil

	summary, err := f.gate.Run(context.Background(), runTrigger)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Merged)
}

func TestGateRun_WatermarkRederivedFromFactStore(t *testing.T) {
	f := newGateFixture(raw("T1", "10", "2026-01-14", "2026-01-13T08:00:00Z"))

	// Simulates a crash after merge commit but before the run-log write: the
	// fact store is ahead of the logged watermark.
	f.facts.rows[factKey{id: "T1", date: "2026-01-14"}] = domain.FactRow{
		TransactionID:   "T1",
		TransactionDate: time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC),
		UpdatedAt:       time.Date(2026, 1, 13, 8, 0, 0, 0, time.UTC),
	}
	f.runLog.watermark = time.Time{}

	summary, err := f.gate.Run(context.Background(), runTrigger)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Merged)
	assert.Equal(t, 1, summary.Skipped, "already-merged record is skipped, not re-merged")
	assert.Equal(t, time.Date(2026, 1, 13, 8, 0, 0, 0, time.UTC), summary.Watermark)
}

func TestGateRun_LoadErrorDoesNotAdvanceWatermarkPastMergedRows(t *testing.T) {
	f := newGateFixture(
		raw("T1", "10", "2026-01-14", "2026-01-14T08:00:00Z"),
		raw("T2", "20", "2026-02-14", "2026-02-14T08:00:00Z"),
	)
	f.facts.badDates = map[string]bool{"2026-02-14": true}

	summary, err := f.gate.Run(context.Background(), runTrigger)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Merged)
	assert.Equal(t, 1, summary.LoadErrors)
	assert.Equal(t, time.Date(2026, 1, 14, 8, 0, 0, 0, time.UTC), summary.Watermark,
		"the unloaded record's newer timestamp must not advance the watermark")
}
