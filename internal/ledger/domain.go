package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrEmptyTransaction is returned when a transaction carries no lines.
var ErrEmptyTransaction = errors.New("ledger: transaction has no lines")

// Type classifies the business event a transaction records.
type Type string

const (
	TypeShipment    Type = "SHIPMENT"
	TypeReservation Type = "RESERVATION"
	TypeReversal    Type = "REVERSAL"
	TypeAdjustment  Type = "ADJUSTMENT"
)

// Valid reports whether t is a known transaction type.
func (t Type) Valid() bool {
	switch t {
	case TypeShipment, TypeReservation, TypeReversal, TypeAdjustment:
		return true
	}
	return false
}

// Status is the transaction lifecycle state. It only moves ACTIVE -> REVERSED.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusReversed Status = "REVERSED"
)

// Totals is the denormalised aggregate of a transaction's lines.
type Totals struct {
	TotalTops    int             `json:"totalTops"`
	TotalMetres  decimal.Decimal `json:"totalMetres"`
	PatternCount int             `json:"patternCount"`
}

// Equal compares totals with exact decimal semantics.
func (t Totals) Equal(o Totals) bool {
	return t.TotalTops == o.TotalTops && t.PatternCount == o.PatternCount && t.TotalMetres.Equal(o.TotalMetres)
}

// Transaction is one ledger entry.
type Transaction struct {
	ID                      string     `json:"id"`
	Type                    Type       `json:"type"`
	Status                  Status     `json:"status"`
	CreatedAt               time.Time  `json:"createdAt"`
	CustomerID              string     `json:"customerId,omitempty"`
	CustomerName            string     `json:"customerName,omitempty"`
	Note                    string     `json:"note,omitempty"`
	Totals                  *Totals    `json:"totals,omitempty"`
	TargetTransactionID     string     `json:"targetTransactionId,omitempty"`
	ReversedAt              *time.Time `json:"reversedAt,omitempty"`
	ReversedByTransactionID string     `json:"reversedByTransactionId,omitempty"`
}

// Reversed reports whether the transaction has been reversed.
func (t Transaction) Reversed() bool { return t.Status == StatusReversed }

// Line is one (pattern, colour, unit length) batch moved by a transaction.
type Line struct {
	ID                  string          `json:"id"`
	TransactionID       string          `json:"transactionId"`
	PatternID           string          `json:"patternId"`
	PatternNoSnapshot   string          `json:"patternNoSnapshot"`
	PatternNameSnapshot string          `json:"patternNameSnapshot"`
	Color               string          `json:"color"`
	MetrePerTop         decimal.Decimal `json:"metrePerTop"`
	TopCount            int             `json:"topCount"`
	TotalMetres         decimal.Decimal `json:"totalMetres"`
	RollIDs             []string        `json:"rollIds,omitempty"`
}

// NewLine is a line as supplied by callers of CreateTransaction.
type NewLine struct {
	PatternID           string          `json:"patternId" validate:"required"`
	PatternNoSnapshot   string          `json:"patternNoSnapshot"`
	PatternNameSnapshot string          `json:"patternNameSnapshot"`
	Color               string          `json:"color" validate:"required"`
	MetrePerTop         decimal.Decimal `json:"metrePerTop" validate:"gt=0"`
	TopCount            int             `json:"topCount" validate:"gt=0"`
	// TotalMetres overrides metrePerTop * topCount when set; it must not be negative.
	TotalMetres *decimal.Decimal `json:"totalMetres"`
	RollIDs     []string         `json:"rollIds"`
}

// NewTransaction is the input of CreateTransaction.
//
// Stored totals always equal the aggregate of the stored lines. Totals is
// optional: when nil the aggregate is computed, and when set it is checked
// against that aggregate and the whole transaction is rejected with a
// validation error on "totals" if they differ. Caller-supplied totals are
// never stored as given.
type NewTransaction struct {
	Type                Type
	CreatedAt           time.Time
	CustomerID          string
	CustomerName        string
	Note                string
	TargetTransactionID string
	// Totals is an optional check value; it must equal ComputeTotals of Lines.
	Totals *Totals
	Lines  []NewLine
}

// WithLines pairs a transaction with its lines.
type WithLines struct {
	Transaction Transaction
	Lines       []Line
}
