// Package depot coordinates the roll store, allocation engine and ledger for
// the compound operations that must leave rolls and ledger consistent: bulk
// ship, bulk reserve, reversal and single-roll corrections.
package depot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/fabric-depot/internal/allocation"
	"github.com/odyssey-erp/fabric-depot/internal/catalog"
	"github.com/odyssey-erp/fabric-depot/internal/customers"
	"github.com/odyssey-erp/fabric-depot/internal/ledger"
	"github.com/odyssey-erp/fabric-depot/internal/observability"
	"github.com/odyssey-erp/fabric-depot/internal/platform/lock"
	"github.com/odyssey-erp/fabric-depot/internal/rolls"
	"github.com/odyssey-erp/fabric-depot/internal/shared"
)

var (
	// ErrNoRollsAffected aborts a bulk operation in which no roll moved.
	ErrNoRollsAffected = errors.New("depot: no rolls affected")
	// ErrNothingToReverse aborts a reversal in which no roll could be moved back.
	ErrNothingToReverse = errors.New("depot: nothing to reverse")
	// ErrAlreadyReversed rejects reversing a transaction twice.
	ErrAlreadyReversed = errors.New("depot: transaction already reversed")
	// ErrNotReversible rejects reversing anything but shipments and reservations.
	ErrNotReversible = errors.New("depot: transaction type cannot be reversed")
)

// Deps collects the collaborators of an Orchestrator.
type Deps struct {
	Rolls     *rolls.Store
	Customers *customers.Directory
	Ledger    *ledger.Ledger
	Catalog   catalog.Catalog
	Locker    lock.Locker
	Metrics   *observability.Metrics
	Locale    shared.Locale
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Orchestrator runs the ledger's compound operations.
type Orchestrator struct {
	rolls     *rolls.Store
	customers *customers.Directory
	ledger    *ledger.Ledger
	catalog   catalog.Catalog
	engine    *allocation.Engine
	locker    lock.Locker
	metrics   *observability.Metrics
	locale    shared.Locale
	logger    *slog.Logger
	now       func() time.Time
}

// New validates deps and constructs an Orchestrator. Locker defaults to an
// in-process lock, Logger to slog.Default and Clock to time.Now.
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Rolls == nil:
		return nil, errors.New("depot: roll store is required")
	case deps.Customers == nil:
		return nil, errors.New("depot: customer directory is required")
	case deps.Ledger == nil:
		return nil, errors.New("depot: ledger is required")
	case deps.Catalog == nil:
		return nil, errors.New("depot: catalog is required")
	}
	o := &Orchestrator{
		rolls:     deps.Rolls,
		customers: deps.Customers,
		ledger:    deps.Ledger,
		catalog:   deps.Catalog,
		engine:    allocation.NewEngine(deps.Locale),
		locker:    deps.Locker,
		metrics:   deps.Metrics,
		locale:    deps.Locale,
		logger:    deps.Logger,
		now:       deps.Clock,
	}
	if o.locker == nil {
		o.locker = lock.NewLocal()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

func (o *Orchestrator) at(t time.Time) time.Time {
	if t.IsZero() {
		return o.now().UTC()
	}
	return t.UTC()
}

// patterns resolves every distinct pattern id concurrently. Unknown patterns
// are left out of the map; callers fall back to snapshots of the id.
func (o *Orchestrator) patterns(ctx context.Context, ids []string) (map[string]catalog.Pattern, error) {
	out := make(map[string]catalog.Pattern, len(ids))
	var mu sync.Mutex
	seen := make(map[string]struct{}, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		g.Go(func() error {
			p, err := o.catalog.GetPattern(gctx, id)
			if errors.Is(err, shared.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("depot: pattern %s: %w", id, err)
			}
			mu.Lock()
			out[id] = p
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func patternIDs(items []rolls.Roll) []string {
	ids := make([]string, 0, len(items))
	for _, r := range items {
		ids = append(ids, r.PatternID)
	}
	return ids
}

// groups loads rolls (optionally for one pattern) and groups them.
func (o *Orchestrator) groups(ctx context.Context, patternID string) ([]allocation.Group, error) {
	items, err := o.rolls.List(ctx, rolls.Filter{PatternID: patternID})
	if err != nil {
		return nil, err
	}
	patterns, err := o.patterns(ctx, patternIDs(items))
	if err != nil {
		return nil, err
	}
	return o.engine.Group(items, patterns), nil
}
