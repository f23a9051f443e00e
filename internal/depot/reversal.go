package depot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/fabric-depot/internal/ledger"
	"github.com/odyssey-erp/fabric-depot/internal/rolls"
	"github.com/odyssey-erp/fabric-depot/internal/shared"
)

// ReversalResult reports a reversal. Requested is the number of rolls the
// target recorded; lines without roll ids count as failed.
type ReversalResult struct {
	Target    ledger.Transaction
	Reversal  ledger.Transaction
	Lines     []ledger.Line
	Requested int
	Succeeded int
	Failed    int
	Failures  []RollFailure
}

// Outcome renders the "N of M succeeded" line shown to operators.
func (r ReversalResult) Outcome() string {
	return fmt.Sprintf("%d of %d succeeded", r.Succeeded, r.Requested)
}

// Reverse undoes the roll effects of a SHIPMENT or RESERVATION and records a
// REVERSAL pointing at it. Reversals of the same transaction are serialised
// through the locker so two callers cannot both pass the already-reversed
// check.
func (o *Orchestrator) Reverse(ctx context.Context, txID string, at time.Time) (ReversalResult, error) {
	at = o.at(at)
	held, err := o.locker.Obtain(ctx, shared.ReversalLockKey(txID))
	if err != nil {
		return ReversalResult{}, fmt.Errorf("depot: reverse %s: %w", txID, err)
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn("release reversal lock", slog.String("transaction_id", txID), slog.Any("error", err))
		}
	}()

	target, err := o.ledger.GetTransactionWithLines(ctx, txID)
	if err != nil {
		return ReversalResult{}, fmt.Errorf("depot: reverse %s: %w", txID, err)
	}
	tx := target.Transaction
	if tx.Reversed() {
		return ReversalResult{}, fmt.Errorf("%w: %s by %s", ErrAlreadyReversed, tx.ID, tx.ReversedByTransactionID)
	}

	var undo func(ctx context.Context, rollID string) (rolls.Roll, error)
	var op string
	switch tx.Type {
	case ledger.TypeShipment:
		op = "return"
		undo = func(ctx context.Context, rollID string) (rolls.Roll, error) {
			return o.rolls.ReturnToStock(ctx, rollID, at)
		}
	case ledger.TypeReservation:
		op = "unreserve"
		undo = o.rolls.Unreserve
	default:
		return ReversalResult{}, fmt.Errorf("%w: %s is %s", ErrNotReversible, tx.ID, tx.Type)
	}

	logger := o.logger.With(slog.String("op", "reverse"), slog.String("transaction_id", tx.ID))
	result := ReversalResult{Target: tx}
	lines := make([]ledger.NewLine, 0, len(target.Lines))
	for i, line := range target.Lines {
		if i > 0 {
			if err := held.Refresh(ctx); err != nil {
				// Another caller may now hold the lock; stop moving rolls and
				// record only what already moved.
				logger.Error("reversal lock lost, remaining lines skipped", slog.Int("line", i+1), slog.Any("error", err))
				for _, rest := range target.Lines[i:] {
					skipped := max(len(rest.RollIDs), rest.TopCount)
					result.Requested += skipped
					result.Failed += skipped
				}
				break
			}
		}
		if len(line.RollIDs) == 0 {
			result.Requested += line.TopCount
			result.Failed += line.TopCount
			logger.Warn("line has no roll ids, cannot reverse", slog.String("line_id", line.ID))
			continue
		}
		result.Requested += len(line.RollIDs)
		undone := make([]string, 0, len(line.RollIDs))
		for _, id := range line.RollIDs {
			_, err := undo(ctx, id)
			o.metrics.ObserveTransition(op, err)
			if err != nil {
				result.Failed++
				result.Failures = append(result.Failures, RollFailure{RollID: id, Err: err})
				continue
			}
			undone = append(undone, id)
		}
		if len(undone) == 0 {
			continue
		}
		result.Succeeded += len(undone)
		lines = append(lines, ledger.NewLine{
			PatternID:           line.PatternID,
			PatternNoSnapshot:   line.PatternNoSnapshot,
			PatternNameSnapshot: line.PatternNameSnapshot,
			Color:               line.Color,
			MetrePerTop:         line.MetrePerTop,
			TopCount:            len(undone),
			RollIDs:             undone,
		})
	}

	if len(lines) == 0 {
		logger.Warn("reversal moved no rolls", slog.Int("requested", result.Requested))
		return result, fmt.Errorf("%w: %s", ErrNothingToReverse, tx.ID)
	}

	reversal, err := o.ledger.CreateTransaction(ctx, ledger.NewTransaction{
		Type:                ledger.TypeReversal,
		CreatedAt:           at,
		CustomerID:          tx.CustomerID,
		CustomerName:        tx.CustomerName,
		Note:                fmt.Sprintf("reversal of %s %s", tx.Type, tx.ID),
		TargetTransactionID: tx.ID,
		Lines:               lines,
	})
	if err != nil {
		logger.Error("rolls moved back but ledger write failed", slog.Int("moved", result.Succeeded), slog.Any("error", err))
		return result, fmt.Errorf("depot: reverse %s: %w", tx.ID, err)
	}
	o.metrics.ObserveTransaction(string(ledger.TypeReversal))

	marked, err := o.ledger.MarkReversed(ctx, tx.ID, reversal.Transaction.ID, at)
	if err != nil {
		logger.Error("reversal recorded but target not marked",
			slog.String("reversal_id", reversal.Transaction.ID), slog.Any("error", err))
		return result, fmt.Errorf("depot: reverse %s: %w", tx.ID, err)
	}
	result.Target = marked
	result.Reversal = reversal.Transaction
	result.Lines = reversal.Lines

	if result.Failed > 0 {
		logger.Warn("reversal partially applied",
			slog.String("reversal_id", reversal.Transaction.ID),
			slog.String("outcome", result.Outcome()),
		)
	}
	return result, nil
}
