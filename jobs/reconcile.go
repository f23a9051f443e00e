package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/odyssey-erp/fabric-depot/internal/jobs"
	"github.com/odyssey-erp/fabric-depot/internal/ledger"
	"github.com/odyssey-erp/fabric-depot/internal/platform/kvstore"
	"github.com/odyssey-erp/fabric-depot/internal/rolls"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Finding kinds reported by reconciliation.
const (
	FindingTotalsMismatch    = "totals_mismatch"
	FindingEmptyTransaction  = "empty_transaction"
	FindingTopCountMismatch  = "top_count_mismatch"
	FindingReversalNoTarget  = "reversal_without_target"
	FindingDanglingTarget    = "dangling_target"
	FindingReversedNoPointer = "reversed_without_pointer"
	FindingOrphanLine        = "orphan_line"
	FindingUnknownRoll       = "unknown_roll"
	FindingRollStatus        = "roll_invalid_status"
	FindingRollMeters        = "roll_non_positive_meters"
	FindingRollReservation   = "roll_reservation_fields"
	FindingRollShipment      = "roll_shipment_fields"
)

// Finding is one invariant violation.
type Finding struct {
	Kind   string
	Ref    string
	Detail string
}

// Report summarises a reconciliation run.
type Report struct {
	Rolls        int
	Transactions int
	Lines        int
	Findings     []Finding
}

// ByKind counts findings per kind.
func (r Report) ByKind() map[string]int {
	out := make(map[string]int)
	for _, f := range r.Findings {
		out[f.Kind]++
	}
	return out
}

// ReconcileJob checks ledger and roll invariants. It never writes.
type ReconcileJob struct {
	Store   kvstore.Store
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReconcileJob initialises the reconciliation handler.
func NewReconcileJob(store kvstore.Store, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes a reconciliation task.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx, payload.Source)
	return err
}

// Run loads every collection, checks it and reports the findings.
func (j *ReconcileJob) Run(ctx context.Context, source string) (report Report, resultErr error) {
	tracker := j.metrics().Track(TaskLedgerReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	logger := j.logger().With(slog.String("source", source))
	logger.Info("starting ledger reconciliation")

	if j.Store == nil {
		return Report{}, errors.New("reconcile: store not configured")
	}
	var rollItems []rolls.Roll
	var txs []ledger.Transaction
	var lines []ledger.Line
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		rollItems, err = kvstore.NewCollection[rolls.Roll](j.Store, kvstore.CollectionRolls).Load(gctx)
		return err
	})
	g.Go(func() (err error) {
		txs, err = kvstore.NewCollection[ledger.Transaction](j.Store, kvstore.CollectionTransactions).Load(gctx)
		return err
	})
	g.Go(func() (err error) {
		lines, err = kvstore.NewCollection[ledger.Line](j.Store, kvstore.CollectionTransactionLines).Load(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Error("load collections failed", slog.Any("error", err))
		return Report{}, fmt.Errorf("reconcile: %w", err)
	}

	report = Check(rollItems, txs, lines)
	for _, f := range report.Findings {
		logger.Warn("ledger finding",
			slog.String("kind", f.Kind),
			slog.String("ref", f.Ref),
			slog.String("detail", f.Detail),
		)
	}
	for kind, n := range report.ByKind() {
		j.metrics().AddFindings(kind, n)
	}
	logger.Info("completed ledger reconciliation",
		slog.Int("rolls", report.Rolls),
		slog.Int("transactions", report.Transactions),
		slog.Int("lines", report.Lines),
		slog.Int("findings", len(report.Findings)),
		slog.Duration("duration", j.now().Sub(start)),
	)
	return report, nil
}

// Check verifies the ledger and roll invariants over already-loaded data.
func Check(rollItems []rolls.Roll, txs []ledger.Transaction, lines []ledger.Line) Report {
	report := Report{Rolls: len(rollItems), Transactions: len(txs), Lines: len(lines)}
	add := func(kind, ref, format string, args ...any) {
		report.Findings = append(report.Findings, Finding{Kind: kind, Ref: ref, Detail: fmt.Sprintf(format, args...)})
	}

	knownRolls := make(map[string]struct{}, len(rollItems))
	for _, r := range rollItems {
		knownRolls[r.ID] = struct{}{}
		checkRoll(r, add)
	}

	byTx := make(map[string][]ledger.Line, len(txs))
	knownTx := make(map[string]struct{}, len(txs))
	for _, tx := range txs {
		knownTx[tx.ID] = struct{}{}
	}
	for _, line := range lines {
		if _, ok := knownTx[line.TransactionID]; !ok {
			add(FindingOrphanLine, line.ID, "transaction %s does not exist", line.TransactionID)
			continue
		}
		byTx[line.TransactionID] = append(byTx[line.TransactionID], line)
		if len(line.RollIDs) > 0 && len(line.RollIDs) != line.TopCount {
			add(FindingTopCountMismatch, line.ID, "topCount %d but %d roll ids", line.TopCount, len(line.RollIDs))
		}
		for _, id := range line.RollIDs {
			if _, ok := knownRolls[id]; !ok {
				add(FindingUnknownRoll, line.ID, "roll %s does not exist", id)
			}
		}
	}

	for _, tx := range txs {
		own := byTx[tx.ID]
		if len(own) == 0 {
			add(FindingEmptyTransaction, tx.ID, "%s has no lines", tx.Type)
		}
		if tx.Totals != nil {
			if want := ledger.ComputeTotals(own); !tx.Totals.Equal(want) {
				add(FindingTotalsMismatch, tx.ID, "stored %d tops/%s m/%d patterns, lines give %d/%s/%d",
					tx.Totals.TotalTops, tx.Totals.TotalMetres, tx.Totals.PatternCount,
					want.TotalTops, want.TotalMetres, want.PatternCount)
			}
		}
		if tx.Type == ledger.TypeReversal {
			if tx.TargetTransactionID == "" {
				add(FindingReversalNoTarget, tx.ID, "reversal has no target")
			} else if _, ok := knownTx[tx.TargetTransactionID]; !ok {
				add(FindingDanglingTarget, tx.ID, "target %s does not exist", tx.TargetTransactionID)
			}
		}
		if tx.Reversed() && tx.ReversedByTransactionID == "" {
			add(FindingReversedNoPointer, tx.ID, "reversed without a reversing transaction")
		}
	}

	sort.SliceStable(report.Findings, func(i, k int) bool {
		return report.Findings[i].Kind < report.Findings[k].Kind
	})
	return report
}

func checkRoll(r rolls.Roll, add func(kind, ref, format string, args ...any)) {
	if !r.Status.Valid() {
		add(FindingRollStatus, r.ID, "status %q", r.Status)
	}
	if !r.Meters.IsPositive() {
		add(FindingRollMeters, r.ID, "meters %s", r.Meters)
	}
	reserved := r.Status == rolls.StatusReserved
	if (r.ReservedFor != "" || r.ReservedAt != nil) != reserved ||
		(reserved && (r.ReservedFor == "" || r.ReservedAt == nil)) {
		add(FindingRollReservation, r.ID, "status %s with reservedFor=%q", r.Status, r.ReservedFor)
	}
	shipped := r.Status == rolls.StatusShipped
	if (r.Counterparty != "") != shipped || (shipped && r.OutAt == nil) {
		add(FindingRollShipment, r.ID, "status %s with counterparty=%q", r.Status, r.Counterparty)
	}
	if r.OutAt != nil && (r.Status.StockResident() || reserved) {
		add(FindingRollShipment, r.ID, "status %s carries outAt", r.Status)
	}
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerReconcile))
	}
	return slog.Default().With(slog.String("job", TaskLedgerReconcile))
}

func (j *ReconcileJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReconcileJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
