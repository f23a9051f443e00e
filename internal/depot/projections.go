package depot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/fabric-depot/internal/allocation"
	"github.com/odyssey-erp/fabric-depot/internal/catalog"
	"github.com/odyssey-erp/fabric-depot/internal/ledger"
	"github.com/odyssey-erp/fabric-depot/internal/rolls"
	"github.com/odyssey-erp/fabric-depot/internal/shared"
)

// Groups returns the allocation groups of one pattern, or of every pattern
// when patternID is empty.
func (o *Orchestrator) Groups(ctx context.Context, patternID string) ([]allocation.Group, error) {
	return o.groups(ctx, patternID)
}

// ColorSummary aggregates the active rolls of a pattern by colour.
func (o *Orchestrator) ColorSummary(ctx context.Context, patternID string) ([]allocation.ColorRow, error) {
	if _, ok := shared.TrimOptional(patternID); !ok {
		return nil, shared.NewValidationError("patternId", "is required")
	}
	items, err := o.rolls.List(ctx, rolls.Filter{PatternID: patternID})
	if err != nil {
		return nil, err
	}
	p, err := o.catalog.GetPattern(ctx, patternID)
	found := err == nil
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("depot: pattern %s: %w", patternID, err)
	}
	if !found {
		p = catalog.Pattern{ID: patternID}
	}
	return o.engine.ColorSummary(items, p, found), nil
}

// StockTotals partitions rolls received within [from, to] by status.
func (o *Orchestrator) StockTotals(ctx context.Context, from, to time.Time) (map[rolls.Status]allocation.StatusTotal, error) {
	items, err := o.rolls.List(ctx, rolls.Filter{})
	if err != nil {
		return nil, err
	}
	return allocation.StockTotals(items, from, to), nil
}

// HistoryQuery filters the transaction history.
type HistoryQuery struct {
	// Customer matches customer names case-insensitively.
	Customer string
	// Types defaults to shipments and reservations.
	Types []ledger.Type
}

// History lists transactions with their lines, most recent first.
func (o *Orchestrator) History(ctx context.Context, q HistoryQuery) ([]ledger.WithLines, error) {
	types := q.Types
	if len(types) == 0 {
		types = []ledger.Type{ledger.TypeShipment, ledger.TypeReservation}
	}
	wanted := make(map[ledger.Type]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	var txs []ledger.Transaction
	var lines []ledger.Line
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		txs, err = o.ledger.ListTransactions(gctx)
		return err
	})
	g.Go(func() (err error) {
		lines, err = o.ledger.ListLines(gctx, "")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byTx := make(map[string][]ledger.Line, len(txs))
	for _, line := range lines {
		byTx[line.TransactionID] = append(byTx[line.TransactionID], line)
	}
	out := make([]ledger.WithLines, 0, len(txs))
	for _, tx := range txs {
		if !wanted[tx.Type] {
			continue
		}
		if q.Customer != "" && !o.locale.Contains(tx.CustomerName, q.Customer) {
			continue
		}
		out = append(out, ledger.WithLines{Transaction: tx, Lines: byTx[tx.ID]})
	}
	return out, nil
}

// DocumentSection is one pattern's block on a printed transaction.
type DocumentSection struct {
	PatternID   string
	PatternNo   string
	PatternName string
	Lines       []ledger.Line
	TotalTops   int
	TotalMetres decimal.Decimal
}

// Document is the printable view of one transaction.
type Document struct {
	Transaction ledger.Transaction
	Sections    []DocumentSection
	Totals      ledger.Totals
}

// Document groups a transaction's lines by pattern, ordered by pattern number.
func (o *Orchestrator) Document(ctx context.Context, txID string) (Document, error) {
	var tx ledger.Transaction
	var lines []ledger.Line
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		tx, err = o.ledger.GetTransaction(gctx, txID)
		return err
	})
	g.Go(func() (err error) {
		lines, err = o.ledger.ListLines(gctx, txID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Document{}, err
	}

	index := make(map[string]int)
	var sections []DocumentSection
	for _, line := range lines {
		i, ok := index[line.PatternID]
		if !ok {
			i = len(sections)
			index[line.PatternID] = i
			sections = append(sections, DocumentSection{
				PatternID:   line.PatternID,
				PatternNo:   line.PatternNoSnapshot,
				PatternName: line.PatternNameSnapshot,
				TotalMetres: decimal.Zero,
			})
		}
		s := &sections[i]
		s.Lines = append(s.Lines, line)
		s.TotalTops += line.TopCount
		s.TotalMetres = s.TotalMetres.Add(line.TotalMetres)
	}
	coll := o.locale.Collator()
	sort.SliceStable(sections, func(i, j int) bool {
		return coll.CompareString(sections[i].PatternNo, sections[j].PatternNo) < 0
	})

	totals := ledger.ComputeTotals(lines)
	if tx.Totals != nil {
		totals = *tx.Totals
	}
	return Document{Transaction: tx, Sections: sections, Totals: totals}, nil
}
