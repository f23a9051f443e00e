package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fabric-depot/internal/platform/kvstore"
	"github.com/odyssey-erp/fabric-depot/internal/shared"
)

var created = time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)

func newTestLedger() *Ledger {
	l := New(kvstore.NewMemory())
	seq := 0
	l.newID = func() string {
		seq++
		return fmt.Sprintf("id-%03d", seq)
	}
	return l
}

func meters(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestCreateTransactionComputesLinesAndTotals(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	out, err := l.CreateTransaction(ctx, NewTransaction{
		Type:         TypeShipment,
		CreatedAt:    created,
		CustomerID:   "c1",
		CustomerName: " ACME ",
		Lines: []NewLine{
			{PatternID: "P1", PatternNoSnapshot: "K-100", Color: "Red", MetrePerTop: meters(30), TopCount: 2, RollIDs: []string{"r1", "r2", "r1"}},
			{PatternID: "P1", Color: "Blue", MetrePerTop: decimal.NewFromFloat(12.5), TopCount: 3},
			{PatternID: "P2", Color: "Red", MetrePerTop: meters(20), TopCount: 1},
		},
	})
	require.NoError(t, err)

	tx := out.Transaction
	require.Equal(t, StatusActive, tx.Status)
	require.Equal(t, "ACME", tx.CustomerName)
	require.Len(t, out.Lines, 3)
	for _, line := range out.Lines {
		require.Equal(t, tx.ID, line.TransactionID)
	}
	require.Equal(t, []string{"r1", "r2"}, out.Lines[0].RollIDs)
	require.True(t, out.Lines[0].TotalMetres.Equal(meters(60)))
	require.Equal(t, "K-100", out.Lines[0].PatternNoSnapshot)
	require.Equal(t, "P1", out.Lines[1].PatternNoSnapshot)

	require.NotNil(t, tx.Totals)
	require.Equal(t, 6, tx.Totals.TotalTops)
	require.True(t, tx.Totals.TotalMetres.Equal(decimal.NewFromFloat(117.5)))
	require.Equal(t, 2, tx.Totals.PatternCount)

	stored, err := l.GetTransactionWithLines(ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 3)
	require.True(t, ComputeTotals(stored.Lines).Equal(*stored.Transaction.Totals))
}

func TestCreateTransactionRejectsWithoutWriting(t *testing.T) {
	ctx := context.Background()
	negative := meters(-1)
	good := NewLine{PatternID: "P1", Color: "Red", MetrePerTop: meters(30), TopCount: 1}

	cases := []struct {
		name string
		in   NewTransaction
		kind error
	}{
		{"no lines", NewTransaction{Type: TypeShipment, CreatedAt: created}, ErrEmptyTransaction},
		{"unknown type", NewTransaction{Type: "GIFT", CreatedAt: created, Lines: []NewLine{good}}, shared.ErrValidation},
		{"missing time", NewTransaction{Type: TypeShipment, Lines: []NewLine{good}}, shared.ErrValidation},
		{"reversal without target", NewTransaction{Type: TypeReversal, CreatedAt: created, Lines: []NewLine{good}}, shared.ErrValidation},
		{"zero metre per top", NewTransaction{Type: TypeShipment, CreatedAt: created, Lines: []NewLine{
			good, {PatternID: "P1", Color: "Red", TopCount: 1},
		}}, shared.ErrValidation},
		{"zero tops", NewTransaction{Type: TypeShipment, CreatedAt: created, Lines: []NewLine{
			{PatternID: "P1", Color: "Red", MetrePerTop: meters(30)},
		}}, shared.ErrValidation},
		{"blank color", NewTransaction{Type: TypeShipment, CreatedAt: created, Lines: []NewLine{
			{PatternID: "P1", Color: "  ", MetrePerTop: meters(30), TopCount: 1},
		}}, shared.ErrValidation},
		{"negative override", NewTransaction{Type: TypeShipment, CreatedAt: created, Lines: []NewLine{
			{PatternID: "P1", Color: "Red", MetrePerTop: meters(30), TopCount: 1, TotalMetres: &negative},
		}}, shared.ErrValidation},
		{"top count mismatch", NewTransaction{Type: TypeShipment, CreatedAt: created, Lines: []NewLine{
			{PatternID: "P1", Color: "Red", MetrePerTop: meters(30), TopCount: 3, RollIDs: []string{"r1", "r2"}},
		}}, shared.ErrValidation},
		{"totals mismatch", NewTransaction{Type: TypeShipment, CreatedAt: created, Lines: []NewLine{good},
			Totals: &Totals{TotalTops: 2, TotalMetres: meters(60), PatternCount: 1}}, shared.ErrValidation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := newTestLedger()
			_, err := l.CreateTransaction(ctx, tc.in)
			require.ErrorIs(t, err, tc.kind)

			txs, err := l.ListTransactions(ctx)
			require.NoError(t, err)
			require.Empty(t, txs)
			lines, err := l.ListLines(ctx, "")
			require.NoError(t, err)
			require.Empty(t, lines)
		})
	}
}

func TestCreateTransactionRejectsTotalsThatDisagree(t *testing.T) {
	l := newTestLedger()
	_, err := l.CreateTransaction(context.Background(), NewTransaction{
		Type:      TypeShipment,
		CreatedAt: created,
		Lines:     []NewLine{{PatternID: "P1", Color: "Red", MetrePerTop: meters(30), TopCount: 2}},
		Totals:    &Totals{TotalTops: 2, TotalMetres: meters(59), PatternCount: 1},
	})
	var ve *shared.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "totals", ve.Field)
}

func TestCreateTransactionAcceptsExplicitOverrides(t *testing.T) {
	l := newTestLedger()
	override := meters(55)
	out, err := l.CreateTransaction(context.Background(), NewTransaction{
		Type:      TypeShipment,
		CreatedAt: created,
		Lines:     []NewLine{{PatternID: "P1", Color: "Red", MetrePerTop: meters(30), TopCount: 2, TotalMetres: &override}},
		Totals:    &Totals{TotalTops: 2, TotalMetres: meters(55), PatternCount: 1},
	})
	require.NoError(t, err)
	require.True(t, out.Lines[0].TotalMetres.Equal(override))
	require.True(t, out.Transaction.Totals.TotalMetres.Equal(override))
}

func TestMarkReversed(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	line := NewLine{PatternID: "P1", Color: "Red", MetrePerTop: meters(30), TopCount: 1}

	target, err := l.CreateTransaction(ctx, NewTransaction{Type: TypeShipment, CreatedAt: created, Lines: []NewLine{line}})
	require.NoError(t, err)
	reversal, err := l.CreateTransaction(ctx, NewTransaction{
		Type: TypeReversal, CreatedAt: created.Add(time.Hour),
		TargetTransactionID: target.Transaction.ID, Lines: []NewLine{line},
	})
	require.NoError(t, err)

	marked, err := l.MarkReversed(ctx, target.Transaction.ID, reversal.Transaction.ID, created.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, marked.Reversed())
	require.Equal(t, reversal.Transaction.ID, marked.ReversedByTransactionID)

	got, err := l.GetTransaction(ctx, target.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReversed, got.Status)
	require.NotNil(t, got.ReversedAt)

	_, err = l.MarkReversed(ctx, "missing", reversal.Transaction.ID, created)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListTransactionsMostRecentFirstAndLinesByTransaction(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	line := NewLine{PatternID: "P1", Color: "Red", MetrePerTop: meters(30), TopCount: 1}

	older, err := l.CreateTransaction(ctx, NewTransaction{Type: TypeShipment, CreatedAt: created, Lines: []NewLine{line}})
	require.NoError(t, err)
	newer, err := l.CreateTransaction(ctx, NewTransaction{Type: TypeReservation, CreatedAt: created.Add(time.Minute), Lines: []NewLine{line, line}})
	require.NoError(t, err)

	txs, err := l.ListTransactions(ctx)
	require.NoError(t, err)
	require.Equal(t, newer.Transaction.ID, txs[0].ID)
	require.Equal(t, older.Transaction.ID, txs[1].ID)

	lines, err := l.ListLines(ctx, newer.Transaction.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	all, err := l.ListLines(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)

	_, err = l.GetTransaction(ctx, "missing")
	require.ErrorIs(t, err, shared.ErrNotFound)
}
