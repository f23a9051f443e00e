package rolls

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fabric-depot/internal/platform/kvstore"
	"github.com/odyssey-erp/fabric-depot/internal/shared"
)

// Store owns roll records and enforces the roll state machine. Every
// mutation re-reads the collection and evaluates its guard against that
// fresh state inside a single store update.
type Store struct {
	rolls     kvstore.Collection[Roll]
	locale    shared.Locale
	validator *validator.Validate
	logger    *slog.Logger
	newID     func() string
}

// NewStore constructs a roll Store over the shared collection store.
func NewStore(store kvstore.Store, locale shared.Locale, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		rolls:     kvstore.NewCollection[Roll](store, kvstore.CollectionRolls),
		locale:    locale,
		validator: shared.NewValidator(),
		logger:    logger,
		newID:     uuid.NewString,
	}
}

// Receive creates a new IN_STOCK roll.
func (s *Store) Receive(ctx context.Context, input ReceiveInput) (Roll, error) {
	input.PatternID = strings.TrimSpace(input.PatternID)
	if err := shared.ValidateStruct(s.validator, input); err != nil {
		return Roll{}, err
	}
	roll := Roll{
		ID:        s.newID(),
		PatternID: input.PatternID,
		VariantID: strings.TrimSpace(input.VariantID),
		ColorName: strings.TrimSpace(input.ColorName),
		Meters:    input.Meters,
		RollNo:    strings.TrimSpace(input.RollNo),
		Status:    StatusInStock,
		InAt:      input.InAt.UTC(),
		Note:      strings.TrimSpace(input.Note),
	}
	err := s.rolls.Mutate(ctx, func(items []Roll) ([]Roll, error) {
		return append(items, roll), nil
	})
	if err != nil {
		return Roll{}, fmt.Errorf("rolls: receive: %w", err)
	}
	return roll, nil
}

// Reserve holds a stock-resident roll for a customer.
func (s *Store) Reserve(ctx context.Context, rollID, reservedFor string, at time.Time) (Roll, error) {
	who, ok := shared.TrimOptional(reservedFor)
	if !ok {
		return Roll{}, shared.NewValidationError("reservedFor", "is required")
	}
	if err := shared.RequireTime("reservedAt", at); err != nil {
		return Roll{}, err
	}
	at = at.UTC()
	_, after, err := s.transition(ctx, rollID, "reserve", func(r *Roll) bool {
		if !r.Status.StockResident() {
			return false
		}
		r.Status = StatusReserved
		r.ReservedFor = who
		r.ReservedAt = &at
		return true
	})
	return after, err
}

// Unreserve releases a reservation back to stock.
func (s *Store) Unreserve(ctx context.Context, rollID string) (Roll, error) {
	_, after, err := s.transition(ctx, rollID, "unreserve", func(r *Roll) bool {
		if r.Status != StatusReserved {
			return false
		}
		r.Status = StatusInStock
		clearReservation(r)
		return true
	})
	return after, err
}

// Ship sends a stock-resident or reserved roll to counterparty.
func (s *Store) Ship(ctx context.Context, rollID, counterparty string, at time.Time) (Roll, error) {
	to, ok := shared.TrimOptional(counterparty)
	if !ok {
		return Roll{}, shared.NewValidationError("counterparty", "is required")
	}
	if err := shared.RequireTime("outAt", at); err != nil {
		return Roll{}, err
	}
	at = at.UTC()
	_, after, err := s.transition(ctx, rollID, "ship", func(r *Roll) bool {
		if !r.Status.StockResident() && r.Status != StatusReserved {
			return false
		}
		r.Status = StatusShipped
		r.OutAt = &at
		r.Counterparty = to
		clearReservation(r)
		return true
	})
	return after, err
}

// ReturnToStock re-enters a shipped roll into stock; at becomes the new InAt.
func (s *Store) ReturnToStock(ctx context.Context, rollID string, at time.Time) (Roll, error) {
	if err := shared.RequireTime("inAt", at); err != nil {
		return Roll{}, err
	}
	at = at.UTC()
	_, after, err := s.transition(ctx, rollID, "return", func(r *Roll) bool {
		if r.Status != StatusShipped {
			return false
		}
		r.Status = StatusInStock
		r.InAt = at
		r.OutAt = nil
		r.Counterparty = ""
		clearReservation(r)
		return true
	})
	return after, err
}

// Void removes an IN_STOCK roll entered by mistake and returns the roll
// before and after the change. The reason is appended to the note as an
// audit trail.
func (s *Store) Void(ctx context.Context, rollID string, at time.Time, reason string) (Roll, Roll, error) {
	if err := shared.RequireTime("outAt", at); err != nil {
		return Roll{}, Roll{}, err
	}
	at = at.UTC()
	why, ok := shared.TrimOptional(reason)
	if !ok {
		why = DefaultVoidReason
	}
	return s.transition(ctx, rollID, "void", func(r *Roll) bool {
		if r.Status != StatusInStock {
			return false
		}
		r.Status = StatusVoided
		r.OutAt = &at
		r.Counterparty = ""
		clearReservation(r)
		r.Note = appendNote(r.Note, "VOID: "+why)
		return true
	})
}

// Scrap writes a roll off as waste and returns the roll before and after
// the change. Shipped and already scrapped rolls cannot be scrapped.
func (s *Store) Scrap(ctx context.Context, rollID string, at time.Time, reason string) (Roll, Roll, error) {
	if err := shared.RequireTime("outAt", at); err != nil {
		return Roll{}, Roll{}, err
	}
	at = at.UTC()
	return s.transition(ctx, rollID, "scrap", func(r *Roll) bool {
		switch r.Status {
		case StatusShipped, StatusScrap:
			return false
		}
		r.Status = StatusScrap
		r.OutAt = &at
		r.Counterparty = ""
		clearReservation(r)
		if why, ok := shared.TrimOptional(reason); ok {
			r.Note = appendNote(r.Note, "SCRAP: "+why)
		}
		return true
	})
}

// Edit applies an explicit correction to a stock-resident or reserved roll
// and returns the roll before and after the change.
func (s *Store) Edit(ctx context.Context, rollID string, patch Patch) (Roll, Roll, error) {
	if patch.Empty() {
		return Roll{}, Roll{}, shared.NewValidationError("patch", "has no fields")
	}
	if patch.Meters.Present() {
		m, ok := patch.Meters.Value()
		if !ok {
			return Roll{}, Roll{}, shared.NewValidationError("meters", "cannot be cleared")
		}
		if !m.IsPositive() {
			return Roll{}, Roll{}, shared.NewValidationError("meters", "must be greater than 0")
		}
	}
	return s.transition(ctx, rollID, "edit", func(r *Roll) bool {
		switch r.Status {
		case StatusShipped, StatusVoided, StatusScrap:
			return false
		}
		r.Meters = patch.Meters.Apply(r.Meters)
		r.RollNo = strings.TrimSpace(patch.RollNo.Apply(r.RollNo))
		r.VariantID = strings.TrimSpace(patch.VariantID.Apply(r.VariantID))
		r.ColorName = strings.TrimSpace(patch.ColorName.Apply(r.ColorName))
		r.Note = strings.TrimSpace(patch.Note.Apply(r.Note))
		return true
	})
}

// DeleteHard never deletes. It reports the block so call sites can surface
// it without error handling; Void is the only removal path.
func (s *Store) DeleteHard(ctx context.Context, rollID string) DeleteReport {
	s.logger.WarnContext(ctx, "hard delete blocked, use void", slog.String("roll_id", rollID))
	return DeleteReport{RollID: rollID, Deleted: false, Reason: shared.ErrPermanentlyBlocked}
}

// Get returns one roll.
func (s *Store) Get(ctx context.Context, rollID string) (Roll, error) {
	items, err := s.rolls.Load(ctx)
	if err != nil {
		return Roll{}, fmt.Errorf("rolls: load: %w", err)
	}
	for _, r := range items {
		if r.ID == rollID {
			return r, nil
		}
	}
	return Roll{}, shared.NewNotFoundError("roll", rollID)
}

// List returns rolls matching filter, most recently received first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Roll, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.NewValidationError("status", "is not a roll status")
	}
	items, err := s.rolls.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("rolls: load: %w", err)
	}
	query := s.locale.NormalizeKey(filter.Query)
	out := make([]Roll, 0, len(items))
	for _, r := range items {
		if filter.PatternID != "" && r.PatternID != filter.PatternID {
			continue
		}
		if filter.VariantID != "" && r.VariantID != filter.VariantID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && r.InAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && r.InAt.After(filter.To) {
			continue
		}
		if query != "" && !s.locale.Contains(r.RollNo, query) && !s.locale.Contains(r.ColorName, query) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].InAt.Equal(out[j].InAt) {
			return out[i].InAt.After(out[j].InAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// transition applies guardAndApply to the latest stored copy of the roll.
// A false return means the guard failed and nothing is written.
func (s *Store) transition(ctx context.Context, rollID, op string, guardAndApply func(*Roll) bool) (Roll, Roll, error) {
	var before, after Roll
	err := s.rolls.Mutate(ctx, func(items []Roll) ([]Roll, error) {
		for i := range items {
			if items[i].ID != rollID {
				continue
			}
			before = items[i]
			next := items[i]
			if !guardAndApply(&next) {
				return nil, &shared.TransitionError{RollID: rollID, Op: op, Status: string(before.Status)}
			}
			items[i] = next
			after = next
			return items, nil
		}
		return nil, shared.NewNotFoundError("roll", rollID)
	})
	if err != nil {
		return Roll{}, Roll{}, fmt.Errorf("rolls: %s: %w", op, err)
	}
	return before, after, nil
}

func clearReservation(r *Roll) {
	r.ReservedFor = ""
	r.ReservedAt = nil
}

func appendNote(existing, entry string) string {
	if strings.TrimSpace(existing) == "" {
		return entry
	}
	return existing + " | " + entry
}

// TotalMeters sums the lengths of rolls.
func TotalMeters(items []Roll) decimal.Decimal {
	total := decimal.Zero
	for _, r := range items {
		total = total.Add(r.Meters)
	}
	return total
}
