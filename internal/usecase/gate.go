package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"TxnPipeline/internal/domain"
	"TxnPipeline/internal/ports"
	"TxnPipeline/internal/quality"
)

// GateDeps wires all driven adapters into the quality gate.
type GateDeps struct {
	Staging    ports.StagingStore
	Products   ports.ProductCatalog
	Quarantine ports.QuarantineStore
	Facts      ports.FactStore
	RunLog     ports.RunLogStore
	Notifier   ports.Notifier
	Logger     *slog.Logger
}

// Gate sequences validation, quarantine routing, eligibility filtering, and
// the merge over one staged batch. It is the only component with cross-record
// state: the batch counters and the watermark.
type Gate struct {
	staging    ports.StagingStore
	products   ports.ProductCatalog
	quarantine ports.QuarantineStore
	facts      ports.FactStore
	runLog     ports.RunLogStore
	notifier   ports.Notifier
	logger     *slog.Logger

	validator *quality.Validator
	tracker   quality.Tracker
}

// NewGate constructs the orchestration component.
func NewGate(deps GateDeps) *Gate {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		staging:    deps.Staging,
		products:   deps.Products,
		quarantine: deps.Quarantine,
		facts:      deps.Facts,
		runLog:     deps.RunLog,
		notifier:   deps.Notifier,
		logger:     logger,
		validator:  quality.NewValidator(),
		tracker:    quality.NewTracker(),
	}
}

// Run processes the current staged batch once. It is safe to call again for
// the same logical batch: the merge is idempotent and the watermark skips
// already-current records. A summary is always returned, marked incomplete
// when the run fails.
func (g *Gate) Run(ctx context.Context, now time.Time) (domain.RunSummary, error) {
	summary := domain.RunSummary{
		RunID:  uuid.NewString(),
		Status: domain.StatusLoadedStaged,
	}

	if err := g.runLog.Begin(ctx, summary.RunID, now); err != nil {
		return g.fail(ctx, summary, now, fmt.Errorf("open run log entry: %w", err))
	}

	watermark, err := g.currentWatermark(ctx)
	if err != nil {
		return g.fail(ctx, summary, now, err)
	}
	summary.Watermark = watermark

	batch, err := g.staging.FetchBatch(ctx)
	if err != nil {
		return g.fail(ctx, summary, now, fmt.Errorf("fetch staged batch: %w", err))
	}
	g.logger.Info("staged batch loaded", "run_id", summary.RunID, "records", len(batch), "watermark", watermark)

	// Product catalog absence disables the referential rule rather than
	// poisoning the whole batch; the external dimension may lag behind.
	products, err := g.products.ProductIDs(ctx)
	if err != nil {
		g.logger.Warn("product catalog unavailable, skipping referential check", "error", err)
		products = nil
	}

	summary.Status = domain.StatusValidating
	valid, rejections := g.validator.ValidateBatch(batch, products)
	summary.Validated = len(valid)

	summary.Status = domain.StatusRouting
	summary.Quarantined = len(rejections)
	g.route(ctx, rejections, now)

	eligible, skipped, err := g.filterEligible(ctx, valid, watermark)
	if err != nil {
		return g.fail(ctx, summary, now, err)
	}
	summary.Skipped = skipped

	summary.Status = domain.StatusMerging
	result, err := g.facts.Merge(ctx, eligible)
	if err != nil {
		return g.fail(ctx, summary, now, fmt.Errorf("merge batch: %w", err))
	}
	summary.Merged = result.Merged
	summary.LoadErrors = len(result.LoadErrors)
	for _, le := range result.LoadErrors {
		g.logger.Error("record passed validation but could not be loaded",
			"transaction_id", le.TransactionID,
			"transaction_date", le.TransactionDate.Format("2006-01-02"),
			"error", le.Message)
	}

	summary.Watermark = g.tracker.Advance(watermark, result.MaxUpdatedAt)
	summary.Status = domain.StatusDone

	// The merge is already committed; a run-log or staging hiccup from here
	// on is recoverable (the watermark re-derives from the fact store), so
	// the run still counts as done.
	if err := g.runLog.Complete(ctx, summary.RunID, time.Now().UTC(), summary); err != nil {
		g.logger.Error("run completed but run log update failed", "run_id", summary.RunID, "error", err)
	}
	if err := g.staging.Clear(ctx); err != nil {
		g.logger.Warn("staging not cleared; next run will re-skip current records", "error", err)
	}

	g.notify(ctx, summary)
	g.logger.Info("run done",
		"run_id", summary.RunID,
		"validated", summary.Validated,
		"quarantined", summary.Quarantined,
		"skipped", summary.Skipped,
		"merged", summary.Merged,
		"load_errors", summary.LoadErrors,
		"watermark", summary.Watermark)

	return summary, nil
}

// currentWatermark reads the marker from the run log and re-derives it from
// the fact store, taking the greater. A crash between merge commit and
// run-log write therefore cannot move the watermark backwards.
func (g *Gate) currentWatermark(ctx context.Context) (time.Time, error) {
	logged, err := g.runLog.LastWatermark(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("read logged watermark: %w", err)
	}
	derived, err := g.facts.MaxUpdatedAt(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("derive watermark from fact store: %w", err)
	}
	if derived.After(logged) {
		return derived, nil
	}
	return logged, nil
}

// route appends every rejection to quarantine. A quarantine write failure is
// logged and isolated; it never blocks the rest of the batch or the run.
func (g *Gate) route(ctx context.Context, rejections []domain.Rejection, now time.Time) {
	for _, rej := range rejections {
		record := domain.QuarantinedRecord{
			Record:       rej.Record,
			Reason:       rej.Reason,
			ErrorMessage: rej.Message,
			ErrorTime:    now,
		}
		if err := g.quarantine.Append(ctx, record); err != nil {
			g.logger.Error("quarantine append failed",
				"transaction_id", rej.Record.TransactionID,
				"reason", rej.Reason,
				"error", err)
		}
	}
}

func (g *Gate) filterEligible(ctx context.Context, valid []domain.Transaction, watermark time.Time) ([]domain.Transaction, int, error) {
	if len(valid) == 0 {
		return nil, 0, nil
	}

	ids := make([]string, len(valid))
	for i, txn := range valid {
		ids[i] = txn.TransactionID
	}
	loaded, err := g.facts.ExistingIDs(ctx, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("check loaded ids: %w", err)
	}

	eligible := make([]domain.Transaction, 0, len(valid))
	skipped := 0
	for _, txn := range valid {
		if g.tracker.Eligible(txn, watermark, loaded) {
			eligible = append(eligible, txn)
			continue
		}
		skipped++
	}
	return eligible, skipped, nil
}

// fail finalizes a run that hit an unrecoverable error: counts gathered so
// far are kept, the summary is marked incomplete, and neither staging nor
// the watermark is touched so a retry starts from the same point.
func (g *Gate) fail(ctx context.Context, summary domain.RunSummary, now time.Time, cause error) (domain.RunSummary, error) {
	summary.Status = domain.StatusFailed
	summary.Incomplete = true
	summary.Error = cause.Error()

	if err := g.runLog.Fail(ctx, summary.RunID, time.Now().UTC(), summary); err != nil {
		g.logger.Error("run log failure update failed", "run_id", summary.RunID, "error", err)
	}
	g.notify(ctx, summary)
	g.logger.Error("run failed", "run_id", summary.RunID, "error", cause)

	return summary, cause
}

func (g *Gate) notify(ctx context.Context, summary domain.RunSummary) {
	if g.notifier == nil {
		return
	}
	if err := g.notifier.PublishSummary(ctx, summary); err != nil {
		g.logger.Warn("summary notification failed", "run_id", summary.RunID, "error", err)
	}
}
