package allocation

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fabric-depot/internal/catalog"
	"github.com/odyssey-erp/fabric-depot/internal/rolls"
)

// ColorRow aggregates one colour of a pattern across unit lengths.
type ColorRow struct {
	Color           string
	TotalCount      int
	TotalMeters     decimal.Decimal
	AvailableCount  int
	AvailableMeters decimal.Decimal
	ReservedCount   int
	ReservedMeters  decimal.Decimal
}

// ColorSummary aggregates the active rolls of one pattern by colour.
// Totals cover allocatable and reserved rolls only.
func (e *Engine) ColorSummary(items []rolls.Roll, pattern catalog.Pattern, found bool) []ColorRow {
	index := make(map[string]*ColorRow)
	for _, r := range items {
		if pattern.ID != "" && r.PatternID != pattern.ID {
			continue
		}
		reserved := r.Status == rolls.StatusReserved
		if !r.Status.StockResident() && !reserved {
			continue
		}
		color := ColorOf(r, pattern, found)
		key := e.locale.NormalizeKey(color)
		row, ok := index[key]
		if !ok {
			row = &ColorRow{Color: color, TotalMeters: decimal.Zero, AvailableMeters: decimal.Zero, ReservedMeters: decimal.Zero}
			index[key] = row
		}
		row.TotalCount++
		row.TotalMeters = row.TotalMeters.Add(r.Meters)
		if reserved {
			row.ReservedCount++
			row.ReservedMeters = row.ReservedMeters.Add(r.Meters)
		} else {
			row.AvailableCount++
			row.AvailableMeters = row.AvailableMeters.Add(r.Meters)
		}
	}

	out := make([]ColorRow, 0, len(index))
	for _, row := range index {
		out = append(out, *row)
	}
	coll := e.locale.Collator()
	sort.SliceStable(out, func(i, j int) bool {
		return coll.CompareString(out[i].Color, out[j].Color) < 0
	})
	return out
}

// StatusTotal is the count and length of rolls in one status.
type StatusTotal struct {
	Count  int
	Meters decimal.Decimal
}

// StockTotals partitions rolls received within [from, to] by status. Zero
// bounds are open. Every status is present in the result.
func StockTotals(items []rolls.Roll, from, to time.Time) map[rolls.Status]StatusTotal {
	out := make(map[rolls.Status]StatusTotal, len(rolls.Statuses))
	for _, s := range rolls.Statuses {
		out[s] = StatusTotal{Meters: decimal.Zero}
	}
	for _, r := range items {
		if !from.IsZero() && r.InAt.Before(from) {
			continue
		}
		if !to.IsZero() && r.InAt.After(to) {
			continue
		}
		t := out[r.Status]
		t.Count++
		t.Meters = t.Meters.Add(r.Meters)
		out[r.Status] = t
	}
	return out
}
