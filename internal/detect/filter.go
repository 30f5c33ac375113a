package detect

import (
	"github.com/himyeticapital/polytracker/internal/catalog"
	"github.com/himyeticapital/polytracker/internal/config"
	"github.com/himyeticapital/polytracker/pkg/types"
)

// RejectReason says which filter stage dropped a trade.
type RejectReason string

const (
	RejectNone     RejectReason = ""
	RejectUnknown  RejectReason = "unknown_market" // asset not in the catalog
	RejectExcluded RejectReason = "excluded_market"
	RejectSize     RejectReason = "below_min_size"
	RejectLP       RejectReason = "lp_activity"
)

// Filter is the three-stage reject chain applied before signal detection.
// The first rejecting stage stops the chain; a rejected trade never touches
// any MarketStats aggregate beyond the LP pairing bookkeeping it exists for.
type Filter struct {
	cfg   config.FilterConfig
	cat   *catalog.Catalog
	store *Store
}

// NewFilter creates the filter pipeline over the given catalog and store.
func NewFilter(cfg config.FilterConfig, cat *catalog.Catalog, store *Store) *Filter {
	return &Filter{cfg: cfg, cat: cat, store: store}
}

// Check applies all three stages. It returns the market metadata alongside
// the verdict so detection does not repeat the catalog lookup.
func (f *Filter) Check(t types.Trade) (types.MarketMeta, RejectReason) {
	// Stage 1: catalog membership and keyword exclusion. Exclusion was
	// precomputed against the title at catalog load.
	meta, ok := f.cat.Lookup(t.AssetID)
	if !ok {
		return types.MarketMeta{}, RejectUnknown
	}
	if meta.Excluded {
		return meta, RejectExcluded
	}

	// Stage 2: minimum notional.
	if t.USDValue < f.cfg.MinUSDSize {
		return meta, RejectSize
	}

	// Stage 3: LP/arbitrage pairing. A wallet taking both sides of the
	// same market within the window is providing liquidity, not betting.
	stats := f.store.Get(t.AssetID)
	if t.Wallet != "" {
		if stats.takeOpposite(t.Wallet, t.Outcome, t.Timestamp, f.cfg.LPDetectionWindowMS) {
			return meta, RejectLP
		}
		stats.recordPending(t)
	}

	return meta, RejectNone
}
