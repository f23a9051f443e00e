// Package allocation turns a flat roll set into operator-facing groups of
// (pattern, colour, unit length) and picks FIFO rolls out of them. Everything
// here is pure: callers load rolls and patterns and pass them in.
package allocation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fabric-depot/internal/catalog"
	"github.com/odyssey-erp/fabric-depot/internal/rolls"
	"github.com/odyssey-erp/fabric-depot/internal/shared"
)

// NoColor labels rolls that carry neither a variant nor a colour name.
const NoColor = "no color"

// GroupKey identifies a group. ColorKey is the locale-normalised colour and
// Meters the canonical string form of the unit length.
type GroupKey struct {
	PatternID string `json:"patternId"`
	ColorKey  string `json:"colorKey"`
	Meters    string `json:"meters"`
}

func (k GroupKey) String() string {
	return k.PatternID + "|" + k.ColorKey + "|" + k.Meters
}

// ParseGroupKey parses the String form of a key.
func ParseGroupKey(s string) (GroupKey, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return GroupKey{}, shared.NewValidationError("groupKey", "must look like pattern|color|meters")
	}
	m, err := decimal.NewFromString(parts[2])
	if err != nil {
		return GroupKey{}, shared.NewValidationError("groupKey", "has malformed meters")
	}
	return GroupKey{PatternID: parts[0], ColorKey: parts[1], Meters: m.String()}, nil
}

// Group is a set of rolls sharing pattern, colour and unit length.
type Group struct {
	Key         GroupKey
	PatternID   string
	PatternNo   string
	PatternName string
	Color       string
	Meters      decimal.Decimal

	// Rolls holds every member ordered by status priority then newest first.
	Rolls []rolls.Roll
	// InStock holds allocatable members, oldest first.
	InStock  []rolls.Roll
	Reserved []rolls.Roll
	Shipped  []rolls.Roll
	ByStatus map[rolls.Status][]rolls.Roll

	TotalCount      int
	TotalMeters     decimal.Decimal
	AvailableCount  int
	AvailableMeters decimal.Decimal
	ReservedCount   int
	ReservedMeters  decimal.Decimal
}

// Engine groups and allocates rolls using locale-aware colour handling.
type Engine struct {
	locale shared.Locale
}

// NewEngine constructs an Engine.
func NewEngine(locale shared.Locale) *Engine {
	return &Engine{locale: locale}
}

// ColorOf resolves the display colour of a roll: the variant's display name,
// else the roll's own colour name, else NoColor.
func ColorOf(r rolls.Roll, pattern catalog.Pattern, found bool) string {
	if found && r.VariantID != "" {
		if v, ok := pattern.Variant(r.VariantID); ok {
			if name := v.DisplayName(); name != "" {
				return name
			}
		}
	}
	if c, ok := shared.TrimOptional(r.ColorName); ok {
		return c
	}
	return NoColor
}

// KeyOf returns the group key a roll belongs to.
func (e *Engine) KeyOf(r rolls.Roll, pattern catalog.Pattern, found bool) GroupKey {
	return GroupKey{
		PatternID: r.PatternID,
		ColorKey:  e.locale.NormalizeKey(ColorOf(r, pattern, found)),
		Meters:    r.Meters.String(),
	}
}

// Group partitions items into groups. patterns may be missing entries; such
// rolls fall back to their own colour names. Groups with nothing in stock,
// reserved, shipped or returned are dropped.
func (e *Engine) Group(items []rolls.Roll, patterns map[string]catalog.Pattern) []Group {
	index := make(map[GroupKey]*Group)
	order := make([]GroupKey, 0)
	for _, r := range items {
		p, found := patterns[r.PatternID]
		key := e.KeyOf(r, p, found)
		g, ok := index[key]
		if !ok {
			snap := catalog.SnapshotOf(p, found, r.PatternID)
			g = &Group{
				Key:         key,
				PatternID:   r.PatternID,
				PatternNo:   snap.PatternNo,
				PatternName: snap.PatternName,
				Color:       ColorOf(r, p, found),
				Meters:      r.Meters,
				ByStatus:    make(map[rolls.Status][]rolls.Roll),
			}
			index[key] = g
			order = append(order, key)
		}
		g.Rolls = append(g.Rolls, r)
		g.ByStatus[r.Status] = append(g.ByStatus[r.Status], r)
	}

	out := make([]Group, 0, len(order))
	for _, key := range order {
		g := index[key]
		finish(g)
		if len(g.InStock)+len(g.Reserved)+len(g.Shipped) == 0 {
			continue
		}
		out = append(out, *g)
	}

	coll := e.locale.Collator()
	sort.SliceStable(out, func(i, j int) bool {
		if c := coll.CompareString(out[i].Color, out[j].Color); c != 0 {
			return c < 0
		}
		if c := out[i].Meters.Cmp(out[j].Meters); c != 0 {
			return c < 0
		}
		return out[i].PatternID < out[j].PatternID
	})
	return out
}

func finish(g *Group) {
	for _, r := range g.Rolls {
		switch {
		case r.Status.StockResident():
			g.InStock = append(g.InStock, r)
		case r.Status == rolls.StatusReserved:
			g.Reserved = append(g.Reserved, r)
		case r.Status == rolls.StatusShipped:
			g.Shipped = append(g.Shipped, r)
		}
	}
	sortFIFO(g.InStock)
	sort.SliceStable(g.Rolls, func(i, j int) bool {
		a, b := g.Rolls[i], g.Rolls[j]
		if a.Status.Priority() != b.Status.Priority() {
			return a.Status.Priority() < b.Status.Priority()
		}
		if !a.InAt.Equal(b.InAt) {
			return a.InAt.After(b.InAt)
		}
		return a.ID < b.ID
	})

	g.AvailableCount = len(g.InStock)
	g.AvailableMeters = rolls.TotalMeters(g.InStock)
	g.ReservedCount = len(g.Reserved)
	g.ReservedMeters = rolls.TotalMeters(g.Reserved)
	g.TotalCount = g.AvailableCount + g.ReservedCount
	g.TotalMeters = g.AvailableMeters.Add(g.ReservedMeters)
}

func sortFIFO(items []rolls.Roll) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].InAt.Equal(items[j].InAt) {
			return items[i].InAt.Before(items[j].InAt)
		}
		return items[i].ID < items[j].ID
	})
}

// Find returns the group with key.
func Find(groups []Group, key GroupKey) (Group, bool) {
	for _, g := range groups {
		if g.Key == key {
			return g, true
		}
	}
	return Group{}, false
}

// Selection is the outcome of SelectForQuantity.
type Selection struct {
	RollIDs   []string
	Requested int
	Shortfall int
}

// SelectForQuantity picks the requested number of oldest in-stock rolls.
// When the group holds fewer, all of them are returned and Shortfall says
// how many are missing.
func SelectForQuantity(g Group, requested int) (Selection, error) {
	if requested <= 0 {
		return Selection{}, shared.NewValidationError("count", fmt.Sprintf("must be greater than 0, got %d", requested))
	}
	n := requested
	if n > len(g.InStock) {
		n = len(g.InStock)
	}
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = g.InStock[i].ID
	}
	return Selection{RollIDs: ids, Requested: requested, Shortfall: requested - n}, nil
}
