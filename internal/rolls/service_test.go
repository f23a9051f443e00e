package rolls

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fabric-depot/internal/platform/kvstore"
	"github.com/odyssey-erp/fabric-depot/internal/shared"
)

var day = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(kvstore.NewMemory(), shared.DefaultLocale, nil)
	seq := 0
	store.newID = func() string {
		seq++
		return fmt.Sprintf("roll-%02d", seq)
	}
	return store
}

func receive(t *testing.T, s *Store, color string, meters int64, at time.Time) Roll {
	t.Helper()
	r, err := s.Receive(context.Background(), ReceiveInput{
		PatternID: "P1",
		ColorName: color,
		Meters:    decimal.NewFromInt(meters),
		InAt:      at,
	})
	require.NoError(t, err)
	stored, err := s.Get(context.Background(), r.ID)
	require.NoError(t, err)
	return stored
}

func TestReceiveValidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Receive(ctx, ReceiveInput{PatternID: "P1", Meters: decimal.Zero, InAt: day})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = s.Receive(ctx, ReceiveInput{PatternID: "  ", Meters: decimal.NewFromInt(30), InAt: day})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = s.Receive(ctx, ReceiveInput{PatternID: "P1", Meters: decimal.NewFromInt(30)})
	require.ErrorIs(t, err, shared.ErrValidation)

	r, err := s.Receive(ctx, ReceiveInput{PatternID: " P1 ", ColorName: " Red ", Meters: decimal.NewFromFloat(30.5), InAt: day})
	require.NoError(t, err)
	require.Equal(t, StatusInStock, r.Status)
	require.Equal(t, "P1", r.PatternID)
	require.Equal(t, "Red", r.ColorName)

	items, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestReserveUnreserveRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	original := receive(t, s, "Red", 30, day)

	reserved, err := s.Reserve(ctx, original.ID, "ACME", day.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, StatusReserved, reserved.Status)
	require.Equal(t, "ACME", reserved.ReservedFor)
	require.NotNil(t, reserved.ReservedAt)

	released, err := s.Unreserve(ctx, original.ID)
	require.NoError(t, err)
	require.Equal(t, original, released)
}

func TestShipReturnRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	original := receive(t, s, "Red", 30, day)

	shipped, err := s.Ship(ctx, original.ID, "ACME", day.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, StatusShipped, shipped.Status)
	require.Equal(t, "ACME", shipped.Counterparty)
	require.NotNil(t, shipped.OutAt)

	returnedAt := day.Add(48 * time.Hour)
	back, err := s.ReturnToStock(ctx, original.ID, returnedAt)
	require.NoError(t, err)
	require.Equal(t, StatusInStock, back.Status)
	require.Nil(t, back.OutAt)
	require.Empty(t, back.Counterparty)
	require.Equal(t, returnedAt, back.InAt)

	back.InAt = original.InAt
	require.Equal(t, original, back)
}

func TestShipClearsReservation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := receive(t, s, "Red", 30, day)

	_, err := s.Reserve(ctx, r.ID, "ACME", day)
	require.NoError(t, err)
	shipped, err := s.Ship(ctx, r.ID, "ACME", day.Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, shipped.ReservedFor)
	require.Nil(t, shipped.ReservedAt)
}

func TestInvalidTransitionsLeaveRollUnchanged(t *testing.T) {
	ctx := context.Background()
	at := day.Add(time.Hour)

	cases := []struct {
		name  string
		setup func(s *Store, id string)
		op    func(s *Store, id string) error
	}{
		{
			name: "unreserve in stock",
			op: func(s *Store, id string) error {
				_, err := s.Unreserve(ctx, id)
				return err
			},
		},
		{
			name: "return in stock",
			op: func(s *Store, id string) error {
				_, err := s.ReturnToStock(ctx, id, at)
				return err
			},
		},
		{
			name:  "reserve reserved",
			setup: func(s *Store, id string) { _, _ = s.Reserve(ctx, id, "A", at) },
			op: func(s *Store, id string) error {
				_, err := s.Reserve(ctx, id, "B", at)
				return err
			},
		},
		{
			name:  "void reserved",
			setup: func(s *Store, id string) { _, _ = s.Reserve(ctx, id, "A", at) },
			op: func(s *Store, id string) error {
				_, _, err := s.Void(ctx, id, at, "typo")
				return err
			},
		},
		{
			name:  "ship shipped",
			setup: func(s *Store, id string) { _, _ = s.Ship(ctx, id, "A", at) },
			op: func(s *Store, id string) error {
				_, err := s.Ship(ctx, id, "B", at)
				return err
			},
		},
		{
			name:  "scrap shipped",
			setup: func(s *Store, id string) { _, _ = s.Ship(ctx, id, "A", at) },
			op: func(s *Store, id string) error {
				_, _, err := s.Scrap(ctx, id, at, "torn")
				return err
			},
		},
		{
			name:  "edit shipped",
			setup: func(s *Store, id string) { _, _ = s.Ship(ctx, id, "A", at) },
			op: func(s *Store, id string) error {
				_, _, err := s.Edit(ctx, id, Patch{RollNo: shared.Some("R9")})
				return err
			},
		},
		{
			name:  "scrap scrapped",
			setup: func(s *Store, id string) { _, _, _ = s.Scrap(ctx, id, at, "") },
			op: func(s *Store, id string) error {
				_, _, err := s.Scrap(ctx, id, at, "")
				return err
			},
		},
		{
			name:  "reserve voided",
			setup: func(s *Store, id string) { _, _, _ = s.Void(ctx, id, at, "") },
			op: func(s *Store, id string) error {
				_, err := s.Reserve(ctx, id, "A", at)
				return err
			},
		},
		{
			name:  "void returned",
			setup: func(s *Store, id string) { _ = forceStatus(s, id, StatusReturned) },
			op: func(s *Store, id string) error {
				_, _, err := s.Void(ctx, id, at, "")
				return err
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStore(t)
			r := receive(t, s, "Red", 30, day)
			if tc.setup != nil {
				tc.setup(s, r.ID)
			}
			before, err := s.Get(ctx, r.ID)
			require.NoError(t, err)

			err = tc.op(s, r.ID)
			require.ErrorIs(t, err, shared.ErrInvalidTransition)

			var te *shared.TransitionError
			require.ErrorAs(t, err, &te)
			require.Equal(t, r.ID, te.RollID)

			after, err := s.Get(ctx, r.ID)
			require.NoError(t, err)
			require.Equal(t, before, after)
		})
	}
}

func TestVoidAppendsAuditNote(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r, err := s.Receive(ctx, ReceiveInput{PatternID: "P1", Meters: decimal.NewFromInt(30), InAt: day, Note: "second shelf"})
	require.NoError(t, err)

	_, voided, err := s.Void(ctx, r.ID, day.Add(time.Hour), "duplicate entry")
	require.NoError(t, err)
	require.Equal(t, StatusVoided, voided.Status)
	require.Equal(t, "second shelf | VOID: duplicate entry", voided.Note)
	require.NotNil(t, voided.OutAt)

	other := receive(t, s, "Blue", 20, day)
	_, voided, err = s.Void(ctx, other.ID, day, "  ")
	require.NoError(t, err)
	require.Equal(t, "VOID: "+DefaultVoidReason, voided.Note)
}

func TestScrapReservedClearsReservation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := receive(t, s, "Red", 30, day)
	_, err := s.Reserve(ctx, r.ID, "ACME", day)
	require.NoError(t, err)

	before, scrapped, err := s.Scrap(ctx, r.ID, day.Add(time.Hour), "water damage")
	require.NoError(t, err)
	require.Equal(t, StatusReserved, before.Status)
	require.Equal(t, StatusScrap, scrapped.Status)
	require.Empty(t, scrapped.ReservedFor)
	require.Nil(t, scrapped.ReservedAt)
	require.Equal(t, "SCRAP: water damage", scrapped.Note)
}

func TestScrapVoidedRoll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := receive(t, s, "Red", 30, day)
	_, _, err := s.Void(ctx, r.ID, day, "typo")
	require.NoError(t, err)

	before, scrapped, err := s.Scrap(ctx, r.ID, day.Add(time.Hour), "damaged")
	require.NoError(t, err)
	require.Equal(t, StatusVoided, before.Status)
	require.Equal(t, StatusScrap, scrapped.Status)
	require.NotNil(t, scrapped.OutAt)
	require.True(t, scrapped.OutAt.Equal(day.Add(time.Hour)))
	require.Equal(t, "VOID: typo | SCRAP: damaged", scrapped.Note)
}

// forceStatus writes a status no transition produces, such as RETURNED from
// data written by other tools.
func forceStatus(s *Store, id string, status Status) error {
	return s.rolls.Mutate(context.Background(), func(items []Roll) ([]Roll, error) {
		for i := range items {
			if items[i].ID == id {
				items[i].Status = status
			}
		}
		return items, nil
	})
}

func TestReturnedRollStaysAllocatable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := receive(t, s, "Red", 30, day)
	require.NoError(t, forceStatus(s, r.ID, StatusReturned))

	reserved, err := s.Reserve(ctx, r.ID, "ACME", day)
	require.NoError(t, err)
	require.Equal(t, StatusReserved, reserved.Status)

	other := receive(t, s, "Blue", 20, day)
	require.NoError(t, forceStatus(s, other.ID, StatusReturned))
	shipped, err := s.Ship(ctx, other.ID, "ACME", day)
	require.NoError(t, err)
	require.Equal(t, StatusShipped, shipped.Status)
}

func TestEditTouchesOnlyPresentFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r, err := s.Receive(ctx, ReceiveInput{
		PatternID: "P1", ColorName: "Red", RollNo: "R1", Note: "keep",
		Meters: decimal.NewFromInt(30), InAt: day,
	})
	require.NoError(t, err)

	before, after, err := s.Edit(ctx, r.ID, Patch{
		Meters: shared.Some(decimal.NewFromInt(28)),
		RollNo: shared.Null[string](),
	})
	require.NoError(t, err)
	require.True(t, before.Meters.Equal(decimal.NewFromInt(30)))
	require.True(t, after.Meters.Equal(decimal.NewFromInt(28)))
	require.Empty(t, after.RollNo)
	require.Equal(t, "Red", after.ColorName)
	require.Equal(t, "keep", after.Note)

	_, _, err = s.Edit(ctx, r.ID, Patch{Meters: shared.Null[decimal.Decimal]()})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = s.Edit(ctx, r.ID, Patch{Meters: shared.Some(decimal.NewFromInt(-1))})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = s.Edit(ctx, r.ID, Patch{})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeleteHardIsBlocked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := receive(t, s, "Red", 30, day)

	report := s.DeleteHard(ctx, r.ID)
	require.False(t, report.Deleted)
	require.ErrorIs(t, report.Reason, shared.ErrPermanentlyBlocked)

	_, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
}

func TestUnknownRollIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Reserve(context.Background(), "missing", "ACME", day)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListFiltersAndOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := receive(t, s, "Kırmızı", 30, day)
	mid := receive(t, s, "Blue", 30, day.Add(24*time.Hour))
	recent := receive(t, s, "Blue", 20, day.Add(48*time.Hour))
	_, err := s.Reserve(ctx, mid.ID, "ACME", day)
	require.NoError(t, err)

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Equal(t, []string{recent.ID, mid.ID, old.ID}, ids(all))

	reserved, err := s.List(ctx, Filter{Status: StatusReserved})
	require.NoError(t, err)
	require.Equal(t, []string{mid.ID}, ids(reserved))

	ranged, err := s.List(ctx, Filter{
		From: shared.ParseDayBound("2024-03-01", false),
		To:   shared.ParseDayBound("2024-03-02", true),
	})
	require.NoError(t, err)
	require.Equal(t, []string{mid.ID, old.ID}, ids(ranged))

	byColor, err := s.List(ctx, Filter{Query: "KIRMIZI"})
	require.NoError(t, err)
	require.Equal(t, []string{old.ID}, ids(byColor))

	_, err = s.List(ctx, Filter{Status: "LOST"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestConcurrentShipOnlyOneWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := receive(t, s, "Red", 30, day)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Ship(ctx, r.ID, fmt.Sprintf("C%d", i), day)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, shared.ErrInvalidTransition)
	}
	require.Equal(t, 1, wins)
}

func ids(items []Roll) []string {
	out := make([]string, len(items))
	for i, r := range items {
		out[i] = r.ID
	}
	return out
}
