// Package detect implements the filter pipeline, the per-market statistics
// store, and the six signal predicates.
//
// The statistics store is a shared mutable resource with exactly one
// writer: the detection loop in detector.go. Windows are maintained as
// ordered slices with lazy pruning on access — no timers, no background
// sweeps — which keeps the single-writer discipline trivial.
package detect

import (
	"github.com/himyeticapital/polytracker/pkg/types"
)

// recentTradeCap bounds the rolling usd-value window per market.
const recentTradeCap = 100

// buyerRecord is one BUY in the cluster window.
type buyerRecord struct {
	wallet    string
	outcome   types.Outcome
	timestamp int64 // milliseconds
}

// pendingTrade is the last trade a wallet placed on this market, kept for
// LP/arbitrage pairing. It carries enough to retract the leg's aggregate
// contributions if the opposite leg arrives inside the window.
type pendingTrade struct {
	outcome   types.Outcome
	timestamp int64   // milliseconds
	usdValue  float64 // contribution to recentTrades, for unwinding
	wasBuy    bool    // whether a cluster-window buyer record was added
}

// MarketStats is the per-asset mutable aggregate. All access goes through
// the single detection goroutine; no locking.
type MarketStats struct {
	recentTrades []float64 // usd values of the last ≤100 surviving trades, oldest first

	lastPrice    float64
	hasLastPrice bool

	consensusYes float64 // most recent observed YES-outcome price
	hasConsensus bool

	recentBuyers    []buyerRecord
	pendingOpposite map[string]pendingTrade // wallet → last trade
}

func newMarketStats() *MarketStats {
	return &MarketStats{
		pendingOpposite: make(map[string]pendingTrade),
	}
}

// SampleCount returns the number of usd values in the rolling window.
func (m *MarketStats) SampleCount() int { return len(m.recentTrades) }

// Mean returns the average usd value over the rolling window, 0 if empty.
func (m *MarketStats) Mean() float64 {
	if len(m.recentTrades) == 0 {
		return 0
	}
	var sum float64
	for _, v := range m.recentTrades {
		sum += v
	}
	return sum / float64(len(m.recentTrades))
}

// LastPrice returns the price of the most recent surviving trade.
func (m *MarketStats) LastPrice() (float64, bool) { return m.lastPrice, m.hasLastPrice }

// ConsensusYes returns the most recent observed YES-outcome price.
func (m *MarketStats) ConsensusYes() (float64, bool) { return m.consensusYes, m.hasConsensus }

// pruneBuyers drops cluster-window entries older than windowMS.
func (m *MarketStats) pruneBuyers(nowMS, windowMS int64) {
	cutoff := nowMS - windowMS
	i := 0
	for i < len(m.recentBuyers) && m.recentBuyers[i].timestamp < cutoff {
		i++
	}
	if i > 0 {
		m.recentBuyers = m.recentBuyers[i:]
	}
}

// addBuyer appends a BUY to the cluster window after pruning stale entries.
func (m *MarketStats) addBuyer(wallet string, outcome types.Outcome, nowMS, windowMS int64) {
	m.pruneBuyers(nowMS, windowMS)
	m.recentBuyers = append(m.recentBuyers, buyerRecord{wallet: wallet, outcome: outcome, timestamp: nowMS})
}

// distinctBuyers counts distinct wallets that bought the given outcome
// within the current window.
func (m *MarketStats) distinctBuyers(outcome types.Outcome) int {
	seen := make(map[string]struct{}, len(m.recentBuyers))
	for _, rec := range m.recentBuyers {
		if rec.outcome == outcome {
			seen[rec.wallet] = struct{}{}
		}
	}
	return len(seen)
}

// takeOpposite reports whether wallet has an unpruned pending trade of the
// opposite outcome within windowMS of nowMS, consuming it if so. Stale
// entries encountered on the way are pruned lazily. Consuming the entry
// also retracts the earlier leg's contributions to recentTrades and the
// cluster window, so a balanced LP pair leaves no statistical trace.
func (m *MarketStats) takeOpposite(wallet string, outcome types.Outcome, nowMS, windowMS int64) bool {
	entry, ok := m.pendingOpposite[wallet]
	if !ok {
		return false
	}

	delta := nowMS - entry.timestamp
	if delta < 0 {
		delta = -delta
	}
	if delta > windowMS {
		delete(m.pendingOpposite, wallet)
		return false
	}
	if entry.outcome == outcome {
		return false
	}

	delete(m.pendingOpposite, wallet)
	m.unwindTrade(wallet, entry)
	return true
}

// unwindTrade removes the paired leg's window contributions: the most
// recent matching usd value and, for a BUY, its cluster-window record.
func (m *MarketStats) unwindTrade(wallet string, entry pendingTrade) {
	for i := len(m.recentTrades) - 1; i >= 0; i-- {
		if m.recentTrades[i] == entry.usdValue {
			m.recentTrades = append(m.recentTrades[:i], m.recentTrades[i+1:]...)
			break
		}
	}

	if entry.wasBuy {
		for i := len(m.recentBuyers) - 1; i >= 0; i-- {
			rec := m.recentBuyers[i]
			if rec.wallet == wallet && rec.timestamp == entry.timestamp && rec.outcome == entry.outcome {
				m.recentBuyers = append(m.recentBuyers[:i], m.recentBuyers[i+1:]...)
				break
			}
		}
	}
}

// recordPending remembers this trade for future LP pairing, overwriting any
// previous entry for the wallet.
func (m *MarketStats) recordPending(t types.Trade) {
	m.pendingOpposite[t.Wallet] = pendingTrade{
		outcome:   t.Outcome,
		timestamp: t.Timestamp,
		usdValue:  t.USDValue,
		wasBuy:    t.Side == types.BUY,
	}
}

// applyTrade folds a surviving trade into the aggregates. Called after
// signal evaluation so predicates see the pre-update window.
func (m *MarketStats) applyTrade(t types.Trade) {
	m.recentTrades = append(m.recentTrades, t.USDValue)
	if len(m.recentTrades) > recentTradeCap {
		m.recentTrades = m.recentTrades[len(m.recentTrades)-recentTradeCap:]
	}

	m.lastPrice = t.Price
	m.hasLastPrice = true

	if t.Outcome == types.YES {
		m.consensusYes = t.Price
	} else {
		m.consensusYes = 1 - t.Price
	}
	m.hasConsensus = true
}

// Store holds MarketStats keyed by asset ID for the process lifetime.
type Store struct {
	markets map[string]*MarketStats
}

// NewStore creates an empty statistics store.
func NewStore() *Store {
	return &Store{markets: make(map[string]*MarketStats)}
}

// Get returns the stats for an asset, creating them on first touch.
func (s *Store) Get(assetID string) *MarketStats {
	stats, ok := s.markets[assetID]
	if !ok {
		stats = newMarketStats()
		s.markets[assetID] = stats
	}
	return stats
}

// Peek returns the stats for an asset without creating them.
func (s *Store) Peek(assetID string) (*MarketStats, bool) {
	stats, ok := s.markets[assetID]
	return stats, ok
}
