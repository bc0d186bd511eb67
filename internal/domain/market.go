package domain

import (
	"encoding/hex"
	"strings"
	"time"
)

// Address is an on-chain account address as the RPC node reports it
// (hex-encoded 32 bytes). The keeper never interprets addresses beyond
// equality and the zero check.
type Address string

// IsZero reports whether the address is the default (unset) account.
func (a Address) IsZero() bool {
	if a == "" {
		return true
	}
	return strings.Trim(string(a), "0") == ""
}

// FeedID identifies an external index price feed.
type FeedID [32]byte

// IsZero reports whether the feed id is all zeroes (no external feed bound).
func (f FeedID) IsZero() bool {
	for _, b := range f {
		if b != 0 {
			return false
		}
	}
	return true
}

func (f FeedID) String() string {
	return hex.EncodeToString(f[:])
}

// MarketSnapshot is the last-known on-chain configuration of a market.
// Replaced wholesale on every rediscovery, never partially mutated.
type MarketSnapshot struct {
	Market          Address
	OracleAuthority Address
	IndexFeed       FeedID
	CollateralAsset string // quote-source asset id, e.g. "bitcoin"
}

// IsAdminOracle is the single oracle-mode predicate. A market is
// admin-oracle (the keeper supplies its price) when an oracle authority is
// set, or when no external index feed is bound at all. A set authority
// always wins over the feed id.
func IsAdminOracle(s MarketSnapshot) bool {
	if !s.OracleAuthority.IsZero() {
		return true
	}
	return s.IndexFeed.IsZero()
}

// CrankState is the scheduler's per-market bookkeeping. Counters are
// in-memory and advisory; they survive rediscovery but not a restart.
type CrankState struct {
	Market       Address
	Snapshot     MarketSnapshot
	LastCrank    time.Time // zero if never cranked successfully
	SuccessCount uint64
	FailureCount uint64
	Active       bool // false once the market vanishes from the registry
}
