package depot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/fabric-depot/internal/allocation"
	"github.com/odyssey-erp/fabric-depot/internal/ledger"
	"github.com/odyssey-erp/fabric-depot/internal/rolls"
	"github.com/odyssey-erp/fabric-depot/internal/shared"
)

// Selection asks for Count rolls out of the group identified by Key.
type Selection struct {
	Key   allocation.GroupKey
	Count int
}

// BulkRequest is the input of BulkShip and BulkReserve.
type BulkRequest struct {
	Customer   string
	Note       string
	At         time.Time
	Selections []Selection
}

// RollFailure records a roll whose transition was rejected.
type RollFailure struct {
	RollID string
	Key    allocation.GroupKey
	Err    error
}

// BulkResult reports what a bulk operation actually did. Requested counts
// every roll asked for; Shortfall those that were not in stock at all;
// Failed those selected but rejected by their guard.
type BulkResult struct {
	Transaction ledger.Transaction
	Lines       []ledger.Line
	Requested   int
	Succeeded   int
	Failed      int
	Shortfall   int
	Failures    []RollFailure
}

// Partial reports whether fewer rolls moved than were requested.
func (r BulkResult) Partial() bool { return r.Succeeded < r.Requested }

// Outcome renders the "N of M succeeded" line shown to operators.
func (r BulkResult) Outcome() string {
	msg := fmt.Sprintf("%d of %d succeeded", r.Succeeded, r.Requested)
	if r.Failed > 0 {
		msg += fmt.Sprintf(", %d rejected", r.Failed)
	}
	if r.Shortfall > 0 {
		msg += fmt.Sprintf(", %d not in stock", r.Shortfall)
	}
	return msg
}

type rollMove func(ctx context.Context, rollID, customer string, at time.Time) (rolls.Roll, error)

// BulkShip ships FIFO rolls from every selected group to the customer and
// records one SHIPMENT covering the rolls that actually moved.
func (o *Orchestrator) BulkShip(ctx context.Context, req BulkRequest) (BulkResult, error) {
	return o.bulk(ctx, "ship", ledger.TypeShipment, req, o.rolls.Ship)
}

// BulkReserve reserves FIFO rolls from every selected group for the
// customer and records one RESERVATION.
func (o *Orchestrator) BulkReserve(ctx context.Context, req BulkRequest) (BulkResult, error) {
	return o.bulk(ctx, "reserve", ledger.TypeReservation, req, o.rolls.Reserve)
}

func (o *Orchestrator) bulk(ctx context.Context, op string, txType ledger.Type, req BulkRequest, move rollMove) (BulkResult, error) {
	selections, err := mergeSelections(req.Selections)
	if err != nil {
		return BulkResult{}, err
	}
	if _, ok := shared.TrimOptional(req.Customer); !ok {
		return BulkResult{}, shared.NewValidationError("customer", "is required")
	}
	at := o.at(req.At)

	customer, err := o.customers.EnsureByName(ctx, req.Customer)
	if err != nil {
		return BulkResult{}, err
	}
	groups, err := o.groups(ctx, "")
	if err != nil {
		return BulkResult{}, fmt.Errorf("depot: %s: %w", op, err)
	}

	logger := o.logger.With(slog.String("op", op), slog.String("customer", customer.NameOriginal))
	var result BulkResult
	lines := make([]ledger.NewLine, 0, len(selections))
	for _, sel := range selections {
		result.Requested += sel.Count
		group, ok := allocation.Find(groups, sel.Key)
		if !ok {
			result.Shortfall += sel.Count
			logger.Warn("group not found", slog.String("group", sel.Key.String()))
			continue
		}
		picked, err := allocation.SelectForQuantity(group, sel.Count)
		if err != nil {
			return BulkResult{}, err
		}
		result.Shortfall += picked.Shortfall

		moved := make([]string, 0, len(picked.RollIDs))
		for _, id := range picked.RollIDs {
			_, err := move(ctx, id, customer.NameOriginal, at)
			o.metrics.ObserveTransition(op, err)
			if err != nil {
				if !IsRollRejection(err) {
					logger.Warn("roll move failed", slog.String("roll_id", id), slog.Any("error", err))
				}
				result.Failed++
				result.Failures = append(result.Failures, RollFailure{RollID: id, Key: sel.Key, Err: err})
				continue
			}
			moved = append(moved, id)
		}
		if len(moved) == 0 {
			continue
		}
		result.Succeeded += len(moved)
		lines = append(lines, ledger.NewLine{
			PatternID:           group.PatternID,
			PatternNoSnapshot:   group.PatternNo,
			PatternNameSnapshot: group.PatternName,
			Color:               group.Color,
			MetrePerTop:         group.Meters,
			TopCount:            len(moved),
			RollIDs:             moved,
		})
	}
	o.metrics.ObserveBulk(op, result.Succeeded, result.Shortfall)

	if len(lines) == 0 {
		logger.Warn("bulk operation moved no rolls",
			slog.Int("requested", result.Requested),
			slog.Int("rejected", result.Failed),
			slog.Int("shortfall", result.Shortfall),
		)
		return result, ErrNoRollsAffected
	}

	created, err := o.ledger.CreateTransaction(ctx, ledger.NewTransaction{
		Type:         txType,
		CreatedAt:    at,
		CustomerID:   customer.ID,
		CustomerName: customer.NameOriginal,
		Note:         req.Note,
		Lines:        lines,
	})
	if err != nil {
		logger.Error("rolls moved but ledger write failed",
			slog.Int("moved", result.Succeeded),
			slog.Any("error", err),
		)
		return result, fmt.Errorf("depot: %s: %w", op, err)
	}
	o.metrics.ObserveTransaction(string(txType))
	result.Transaction = created.Transaction
	result.Lines = created.Lines

	if result.Partial() {
		logger.Warn("bulk operation partially applied",
			slog.String("transaction_id", created.Transaction.ID),
			slog.String("outcome", result.Outcome()),
		)
	} else {
		logger.Info("bulk operation applied",
			slog.String("transaction_id", created.Transaction.ID),
			slog.Int("rolls", result.Succeeded),
		)
	}
	return result, nil
}

// mergeSelections validates counts and folds repeated group keys together so
// the same FIFO rolls are never picked twice.
func mergeSelections(in []Selection) ([]Selection, error) {
	if len(in) == 0 {
		return nil, shared.NewValidationError("selections", "is required")
	}
	index := make(map[allocation.GroupKey]int, len(in))
	out := make([]Selection, 0, len(in))
	for _, sel := range in {
		if sel.Count <= 0 {
			return nil, shared.NewValidationError("count", fmt.Sprintf("must be greater than 0 for group %s", sel.Key))
		}
		if sel.Key.PatternID == "" {
			return nil, shared.NewValidationError("groupKey", "is required")
		}
		if i, ok := index[sel.Key]; ok {
			out[i].Count += sel.Count
			continue
		}
		index[sel.Key] = len(out)
		out = append(out, sel)
	}
	return out, nil
}

// IsRollRejection reports whether err is a per-roll failure that bulk
// operations absorb rather than abort on.
func IsRollRejection(err error) bool {
	return errors.Is(err, shared.ErrInvalidTransition) || errors.Is(err, shared.ErrNotFound)
}
