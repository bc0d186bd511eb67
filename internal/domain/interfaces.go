package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// QuoteSource is one off-chain USD price source keyed by asset id.
// A missing price is an error, never a zero value.
type QuoteSource interface {
	Name() string
	Quote(ctx context.Context, assetID string) (decimal.Decimal, error)
}

// TxSubmitter sends instructions to the chain. It retries transient
// failures internally and returns the signature or the final error; the
// core treats the call as atomic.
type TxSubmitter interface {
	Submit(ctx context.Context, instructions []Instruction) (string, error)
}

// MarketRegistry enumerates the current on-chain market set. The list may
// change between calls; callers must tolerate additions and removals.
type MarketRegistry interface {
	Markets(ctx context.Context) ([]MarketSnapshot, error)
}
