// Package ledger records shipments, reservations, reversals and adjustments
// as transactions with lines. Transactions are append-only; the only
// mutation is the ACTIVE -> REVERSED flip.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fabric-depot/internal/platform/kvstore"
	"github.com/odyssey-erp/fabric-depot/internal/shared"
)

// Ledger owns transactions and their lines.
type Ledger struct {
	transactions kvstore.Collection[Transaction]
	lines        kvstore.Collection[Line]
	validator    *validator.Validate
	newID        func() string
}

// New constructs a Ledger over the shared collection store.
func New(store kvstore.Store) *Ledger {
	return &Ledger{
		transactions: kvstore.NewCollection[Transaction](store, kvstore.CollectionTransactions),
		lines:        kvstore.NewCollection[Line](store, kvstore.CollectionTransactionLines),
		validator:    shared.NewValidator(),
		newID:        uuid.NewString,
	}
}

// CreateTransaction validates every line, computes totals and writes the
// transaction together with its lines. Nothing is written when any line is
// rejected.
func (l *Ledger) CreateTransaction(ctx context.Context, in NewTransaction) (WithLines, error) {
	if !in.Type.Valid() {
		return WithLines{}, shared.NewValidationError("type", "is not a transaction type")
	}
	if err := shared.RequireTime("createdAt", in.CreatedAt); err != nil {
		return WithLines{}, err
	}
	if len(in.Lines) == 0 {
		return WithLines{}, ErrEmptyTransaction
	}
	target := strings.TrimSpace(in.TargetTransactionID)
	if in.Type == TypeReversal && target == "" {
		return WithLines{}, shared.NewValidationError("targetTransactionId", "is required for reversals")
	}

	txID := l.newID()
	lines := make([]Line, 0, len(in.Lines))
	for i, nl := range in.Lines {
		line, err := l.buildLine(txID, nl)
		if err != nil {
			return WithLines{}, fmt.Errorf("ledger: line %d: %w", i+1, err)
		}
		lines = append(lines, line)
	}

	totals := ComputeTotals(lines)
	if in.Totals != nil && !in.Totals.Equal(totals) {
		return WithLines{}, shared.NewValidationError("totals", "do not match the lines")
	}

	customerName, _ := shared.TrimOptional(in.CustomerName)
	note, _ := shared.TrimOptional(in.Note)
	tx := Transaction{
		ID:                  txID,
		Type:                in.Type,
		Status:              StatusActive,
		CreatedAt:           in.CreatedAt.UTC(),
		CustomerID:          strings.TrimSpace(in.CustomerID),
		CustomerName:        customerName,
		Note:                note,
		Totals:              &totals,
		TargetTransactionID: target,
	}

	err := kvstore.MutatePair(ctx, l.transactions, l.lines, func(txs []Transaction, ls []Line) ([]Transaction, []Line, error) {
		return append(txs, tx), append(ls, lines...), nil
	})
	if err != nil {
		return WithLines{}, fmt.Errorf("ledger: create transaction: %w", err)
	}
	return WithLines{Transaction: tx, Lines: lines}, nil
}

func (l *Ledger) buildLine(txID string, nl NewLine) (Line, error) {
	nl.PatternID = strings.TrimSpace(nl.PatternID)
	nl.Color = strings.TrimSpace(nl.Color)
	if err := shared.ValidateStruct(l.validator, nl); err != nil {
		return Line{}, err
	}

	rollIDs := dedupe(nl.RollIDs)
	if len(rollIDs) > 0 && len(rollIDs) != nl.TopCount {
		return Line{}, shared.NewValidationError("topCount",
			"must equal the number of roll ids ("+strconv.Itoa(len(rollIDs))+")")
	}

	total := nl.MetrePerTop.Mul(decimal.NewFromInt(int64(nl.TopCount)))
	if nl.TotalMetres != nil {
		if nl.TotalMetres.IsNegative() {
			return Line{}, shared.NewValidationError("totalMetres", "must not be negative")
		}
		total = *nl.TotalMetres
	}

	patternNo, ok := shared.TrimOptional(nl.PatternNoSnapshot)
	if !ok {
		patternNo = nl.PatternID
	}
	patternName, ok := shared.TrimOptional(nl.PatternNameSnapshot)
	if !ok {
		patternName = patternNo
	}
	return Line{
		ID:                  l.newID(),
		TransactionID:       txID,
		PatternID:           nl.PatternID,
		PatternNoSnapshot:   patternNo,
		PatternNameSnapshot: patternName,
		Color:               nl.Color,
		MetrePerTop:         nl.MetrePerTop,
		TopCount:            nl.TopCount,
		TotalMetres:         total,
		RollIDs:             rollIDs,
	}, nil
}

// MarkReversed flips a transaction to REVERSED. It overwrites an existing
// reversal pointer; callers must rule out double reversal themselves.
func (l *Ledger) MarkReversed(ctx context.Context, txID, reversedByID string, at time.Time) (Transaction, error) {
	if err := shared.RequireTime("reversedAt", at); err != nil {
		return Transaction{}, err
	}
	at = at.UTC()
	var out Transaction
	err := l.transactions.Mutate(ctx, func(items []Transaction) ([]Transaction, error) {
		for i := range items {
			if items[i].ID != txID {
				continue
			}
			items[i].Status = StatusReversed
			items[i].ReversedAt = &at
			items[i].ReversedByTransactionID = reversedByID
			out = items[i]
			return items, nil
		}
		return nil, shared.NewNotFoundError("transaction", txID)
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("ledger: mark reversed: %w", err)
	}
	return out, nil
}

// ListTransactions returns every transaction, most recent first.
func (l *Ledger) ListTransactions(ctx context.Context) ([]Transaction, error) {
	items, err := l.transactions.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: load transactions: %w", err)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// ListLines returns the lines of txID, or every line when txID is empty.
func (l *Ledger) ListLines(ctx context.Context, txID string) ([]Line, error) {
	items, err := l.lines.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: load lines: %w", err)
	}
	if txID == "" {
		return items, nil
	}
	out := make([]Line, 0, len(items))
	for _, line := range items {
		if line.TransactionID == txID {
			out = append(out, line)
		}
	}
	return out, nil
}

// GetTransaction returns one transaction.
func (l *Ledger) GetTransaction(ctx context.Context, txID string) (Transaction, error) {
	items, err := l.transactions.Load(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("ledger: load transactions: %w", err)
	}
	for _, tx := range items {
		if tx.ID == txID {
			return tx, nil
		}
	}
	return Transaction{}, shared.NewNotFoundError("transaction", txID)
}

// GetTransactionWithLines returns a transaction and its lines.
func (l *Ledger) GetTransactionWithLines(ctx context.Context, txID string) (WithLines, error) {
	tx, err := l.GetTransaction(ctx, txID)
	if err != nil {
		return WithLines{}, err
	}
	lines, err := l.ListLines(ctx, txID)
	if err != nil {
		return WithLines{}, err
	}
	return WithLines{Transaction: tx, Lines: lines}, nil
}

// ComputeTotals aggregates lines: summed tops and metres, distinct patterns.
func ComputeTotals(lines []Line) Totals {
	totals := Totals{TotalMetres: decimal.Zero}
	patterns := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		totals.TotalTops += line.TopCount
		totals.TotalMetres = totals.TotalMetres.Add(line.TotalMetres)
		patterns[line.PatternID] = struct{}{}
	}
	totals.PatternCount = len(patterns)
	return totals
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
