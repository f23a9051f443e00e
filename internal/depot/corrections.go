package depot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/fabric-depot/internal/allocation"
	"github.com/odyssey-erp/fabric-depot/internal/catalog"
	"github.com/odyssey-erp/fabric-depot/internal/ledger"
	"github.com/odyssey-erp/fabric-depot/internal/rolls"
	"github.com/odyssey-erp/fabric-depot/internal/shared"
)

// Correction is a roll-level change together with the ADJUSTMENT that
// records it.
type Correction struct {
	Before     rolls.Roll
	After      rolls.Roll
	Adjustment ledger.Transaction
	Lines      []ledger.Line
}

// EditRoll applies patch and records an ADJUSTMENT describing the change.
func (o *Orchestrator) EditRoll(ctx context.Context, rollID string, patch rolls.Patch, at time.Time) (Correction, error) {
	at = o.at(at)
	before, after, err := o.rolls.Edit(ctx, rollID, patch)
	o.metrics.ObserveTransition("edit", err)
	if err != nil {
		return Correction{}, err
	}
	return o.adjust(ctx, before, after, "roll correction: "+describeEdit(before, after), at)
}

// VoidRoll voids a roll entered by mistake and records the reason.
func (o *Orchestrator) VoidRoll(ctx context.Context, rollID, reason string, at time.Time) (Correction, error) {
	at = o.at(at)
	before, after, err := o.rolls.Void(ctx, rollID, at, reason)
	o.metrics.ObserveTransition("void", err)
	if err != nil {
		return Correction{}, err
	}
	why, ok := shared.TrimOptional(reason)
	if !ok {
		why = rolls.DefaultVoidReason
	}
	return o.adjust(ctx, before, after, "VOID: "+why, at)
}

// ScrapRoll writes a roll off as waste and records it.
func (o *Orchestrator) ScrapRoll(ctx context.Context, rollID, reason string, at time.Time) (Correction, error) {
	at = o.at(at)
	before, after, err := o.rolls.Scrap(ctx, rollID, at, reason)
	o.metrics.ObserveTransition("scrap", err)
	if err != nil {
		return Correction{}, err
	}
	note := "SCRAP"
	if why, ok := shared.TrimOptional(reason); ok {
		note += ": " + why
	}
	return o.adjust(ctx, before, after, note, at)
}

func (o *Orchestrator) adjust(ctx context.Context, before, after rolls.Roll, note string, at time.Time) (Correction, error) {
	p, err := o.catalog.GetPattern(ctx, after.PatternID)
	found := err == nil
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return Correction{}, fmt.Errorf("depot: pattern %s: %w", after.PatternID, err)
	}
	snap := catalog.SnapshotOf(p, found, after.PatternID)

	created, err := o.ledger.CreateTransaction(ctx, ledger.NewTransaction{
		Type:      ledger.TypeAdjustment,
		CreatedAt: at,
		Note:      note,
		Lines: []ledger.NewLine{{
			PatternID:           after.PatternID,
			PatternNoSnapshot:   snap.PatternNo,
			PatternNameSnapshot: snap.PatternName,
			Color:               allocation.ColorOf(after, p, found),
			MetrePerTop:         after.Meters,
			TopCount:            1,
			RollIDs:             []string{after.ID},
		}},
	})
	if err != nil {
		o.logger.Error("roll changed but adjustment write failed",
			slog.String("roll_id", after.ID),
			slog.String("note", note),
			slog.Any("error", err),
		)
		return Correction{Before: before, After: after}, fmt.Errorf("depot: adjustment for %s: %w", after.ID, err)
	}
	o.metrics.ObserveTransaction(string(ledger.TypeAdjustment))
	return Correction{Before: before, After: after, Adjustment: created.Transaction, Lines: created.Lines}, nil
}

func describeEdit(before, after rolls.Roll) string {
	var changes []string
	if !before.Meters.Equal(after.Meters) {
		changes = append(changes, fmt.Sprintf("%s -> %s m", before.Meters, after.Meters))
	}
	field := func(name, from, to string) {
		if from != to {
			changes = append(changes, fmt.Sprintf("%s %s -> %s", name, orNone(from), orNone(to)))
		}
	}
	field("rollNo", before.RollNo, after.RollNo)
	field("variant", before.VariantID, after.VariantID)
	field("color", before.ColorName, after.ColorName)
	field("note", before.Note, after.Note)
	if len(changes) == 0 {
		return "no change"
	}
	return strings.Join(changes, "; ")
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
