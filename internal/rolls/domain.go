package rolls

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fabric-depot/internal/shared"
)

// Status enumerates the roll lifecycle states.
type Status string

const (
	// StatusInStock is the entry state of every received roll.
	StatusInStock Status = "IN_STOCK"
	// StatusReserved marks a roll held for a customer.
	StatusReserved Status = "RESERVED"
	// StatusShipped marks a roll that left the depot.
	StatusShipped Status = "SHIPPED"
	// StatusReturned is stock that was once shipped; it allocates like IN_STOCK.
	StatusReturned Status = "RETURNED"
	// StatusVoided is the terminal state for rolls entered by mistake.
	StatusVoided Status = "VOIDED"
	// StatusScrap marks rolls written off as waste.
	StatusScrap Status = "SCRAP"
)

// Statuses lists every valid status in display priority order.
var Statuses = []Status{StatusInStock, StatusReserved, StatusReturned, StatusVoided, StatusScrap, StatusShipped}

// Valid reports whether s is one of the defined states.
func (s Status) Valid() bool {
	for _, st := range Statuses {
		if st == s {
			return true
		}
	}
	return false
}

// StockResident reports whether the roll is physically available for allocation.
func (s Status) StockResident() bool {
	return s == StatusInStock || s == StatusReturned
}

// Priority orders statuses for detail listings.
func (s Status) Priority() int {
	for i, st := range Statuses {
		if st == s {
			return i
		}
	}
	return len(Statuses)
}

// Roll is one physical length of fabric.
type Roll struct {
	ID           string          `json:"id"`
	PatternID    string          `json:"patternId"`
	VariantID    string          `json:"variantId,omitempty"`
	ColorName    string          `json:"colorName,omitempty"`
	Meters       decimal.Decimal `json:"meters"`
	RollNo       string          `json:"rollNo,omitempty"`
	Status       Status          `json:"status"`
	InAt         time.Time       `json:"inAt"`
	OutAt        *time.Time      `json:"outAt,omitempty"`
	ReservedAt   *time.Time      `json:"reservedAt,omitempty"`
	ReservedFor  string          `json:"reservedFor,omitempty"`
	Counterparty string          `json:"counterparty,omitempty"`
	Note         string          `json:"note,omitempty"`
}

// ReceiveInput describes a stock receipt.
type ReceiveInput struct {
	PatternID string          `json:"patternId" validate:"required"`
	VariantID string          `json:"variantId"`
	ColorName string          `json:"colorName"`
	Meters    decimal.Decimal `json:"meters" validate:"gt=0"`
	RollNo    string          `json:"rollNo"`
	InAt      time.Time       `json:"inAt" validate:"required"`
	Note      string          `json:"note"`
}

// Patch is an explicit correction. Absent fields are left untouched and
// null fields are cleared; Meters cannot be cleared.
type Patch struct {
	Meters    shared.Field[decimal.Decimal]
	RollNo    shared.Field[string]
	VariantID shared.Field[string]
	ColorName shared.Field[string]
	Note      shared.Field[string]
}

// Empty reports whether the patch carries no fields.
func (p Patch) Empty() bool {
	return !p.Meters.Present() && !p.RollNo.Present() && !p.VariantID.Present() &&
		!p.ColorName.Present() && !p.Note.Present()
}

// Filter narrows List results. Zero values mean "no constraint"; From and To
// are inclusive bounds on InAt.
type Filter struct {
	PatternID string
	VariantID string
	Status    Status
	From      time.Time
	To        time.Time
	Query     string
}

// DeleteReport is the outcome of a hard delete attempt, which is always blocked.
type DeleteReport struct {
	RollID  string
	Deleted bool
	Reason  error
}

// DefaultVoidReason is recorded when a void carries no reason.
const DefaultVoidReason = "manual removal"
