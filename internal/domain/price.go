package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource tags where a resolved price came from.
type PriceSource string

const (
	PriceSourcePrimary   PriceSource = "primary"
	PriceSourceSecondary PriceSource = "secondary"
	PriceSourceCached    PriceSource = "cached"
)

// PriceEntry is one resolved price. Immutable once created.
// Prices are fixed-point integers scaled by 1e6; everything on-chain works
// in micro-USD to avoid floating-point drift.
type PriceEntry struct {
	PriceE6   int64       `json:"price_e6"`
	Source    PriceSource `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
}

// PriceE6FromDecimal converts a USD quote to fixed-point micro-USD,
// rounding half away from zero.
func PriceE6FromDecimal(quote decimal.Decimal) int64 {
	return quote.Mul(decimal.NewFromInt(1_000_000)).Round(0).IntPart()
}
