// Package catalog is the read side of the pattern catalogue that rolls
// belong to. The depot ledger never mutates patterns; Store.Put exists for
// seeding and for the catalogue's own owner.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/odyssey-erp/fabric-depot/internal/platform/kvstore"
	"github.com/odyssey-erp/fabric-depot/internal/shared"
)

// Variant is a named colour option under a pattern.
type Variant struct {
	ID        string `json:"id"`
	ColorName string `json:"colorName,omitempty"`
	Name      string `json:"name,omitempty"`
}

// DisplayName returns the colour label operators see for the variant.
func (v Variant) DisplayName() string {
	if s, ok := shared.TrimOptional(v.ColorName); ok {
		return s
	}
	if s, ok := shared.TrimOptional(v.Name); ok {
		return s
	}
	return ""
}

// Pattern is a fabric design.
type Pattern struct {
	ID         string    `json:"id"`
	FabricCode string    `json:"fabricCode"`
	FabricName string    `json:"fabricName"`
	Variants   []Variant `json:"variants,omitempty"`
}

// Variant looks up a variant by id.
func (p Pattern) Variant(id string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// Catalog resolves patterns by id.
type Catalog interface {
	GetPattern(ctx context.Context, id string) (Pattern, error)
}

// Store keeps patterns in the shared collection store.
type Store struct {
	patterns kvstore.Collection[Pattern]
}

// NewStore constructs a kvstore-backed Catalog.
func NewStore(store kvstore.Store) *Store {
	return &Store{patterns: kvstore.NewCollection[Pattern](store, kvstore.CollectionPatterns)}
}

// GetPattern implements Catalog.
func (s *Store) GetPattern(ctx context.Context, id string) (Pattern, error) {
	items, err := s.patterns.Load(ctx)
	if err != nil {
		return Pattern{}, fmt.Errorf("catalog: load patterns: %w", err)
	}
	for _, p := range items {
		if p.ID == id {
			return p, nil
		}
	}
	return Pattern{}, shared.NewNotFoundError("pattern", id)
}

// List returns every pattern.
func (s *Store) List(ctx context.Context) ([]Pattern, error) {
	items, err := s.patterns.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: load patterns: %w", err)
	}
	return items, nil
}

// Put inserts or replaces a pattern.
func (s *Store) Put(ctx context.Context, p Pattern) error {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return shared.NewValidationError("id", "is required")
	}
	if strings.TrimSpace(p.FabricCode) == "" {
		return shared.NewValidationError("fabricCode", "is required")
	}
	return s.patterns.Mutate(ctx, func(items []Pattern) ([]Pattern, error) {
		for i := range items {
			if items[i].ID == p.ID {
				items[i] = p
				return items, nil
			}
		}
		return append(items, p), nil
	})
}

// Snapshot is the pattern identity frozen onto ledger lines.
type Snapshot struct {
	PatternNo   string
	PatternName string
}

// DeletedPatternName labels lines whose pattern is no longer in the catalogue.
const DeletedPatternName = "deleted pattern"

// SnapshotOf returns the line snapshot for p, falling back to the id when
// the catalogue lookup failed.
func SnapshotOf(p Pattern, found bool, patternID string) Snapshot {
	if !found {
		return Snapshot{PatternNo: patternID, PatternName: DeletedPatternName}
	}
	no, ok := shared.TrimOptional(p.FabricCode)
	if !ok {
		no = patternID
	}
	name, ok := shared.TrimOptional(p.FabricName)
	if !ok {
		name = no
	}
	return Snapshot{PatternNo: no, PatternName: name}
}
