package detect

import (
	"github.com/himyeticapital/polytracker/internal/config"
	"github.com/himyeticapital/polytracker/pkg/types"
)

// highConfidenceUSD promotes a single-signal alert to HIGH on size alone.
const highConfidenceUSD = 25000.0

// Engine evaluates the six signal predicates against a filtered trade.
// Every predicate reads the market's pre-trade window: Evaluate runs
// before the trade is folded into MarketStats, with the one exception of
// the cluster window, where the current BUY is registered first so it
// counts toward its own cluster.
type Engine struct {
	cfg config.FilterConfig
}

// NewEngine creates a signal engine with the given thresholds.
func NewEngine(cfg config.FilterConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate runs all predicates in a fixed order and returns the firing
// signals. txCount is the wallet's on-chain transaction count; txKnown is
// false while the chain lookup is pending or failed, in which case the
// fresh-wallet signal cannot fire.
func (e *Engine) Evaluate(t types.Trade, meta types.MarketMeta, stats *MarketStats, txCount int, txKnown bool) []types.Signal {
	var signals []types.Signal

	if sig, ok := e.whale(t, stats); ok {
		signals = append(signals, sig)
	}
	if txKnown && txCount < e.cfg.FreshWalletMaxTxs {
		signals = append(signals, types.Signal{Kind: types.SignalFreshWallet, TxCount: txCount})
	}
	if sig, ok := e.cluster(t, stats); ok {
		signals = append(signals, sig)
	}
	if sig, ok := e.timing(t, meta); ok {
		signals = append(signals, sig)
	}
	if sig, ok := e.oddsMove(t, stats); ok {
		signals = append(signals, sig)
	}
	if sig, ok := e.contrarian(t, stats); ok {
		signals = append(signals, sig)
	}

	return signals
}

// DeriveConfidence maps a signal set to an alert priority: HIGH for two
// or more concurrent signals or an outsized notional, MEDIUM otherwise.
func DeriveConfidence(signals []types.Signal, usdValue float64) types.Confidence {
	if len(signals) >= 2 || usdValue >= highConfidenceUSD {
		return types.ConfidenceHigh
	}
	return types.ConfidenceMedium
}

// whale fires on absolute size, or on size relative to the market's
// recent mean once the window has enough samples to make the mean
// meaningful. The relative branch reports the multiplier as evidence;
// the absolute branch reports none.
func (e *Engine) whale(t types.Trade, stats *MarketStats) (types.Signal, bool) {
	if t.USDValue >= e.cfg.WhaleThresholdUSD {
		return types.Signal{Kind: types.SignalWhale}, true
	}
	if stats.SampleCount() >= 20 {
		mean := stats.Mean()
		if mean > 0 && t.USDValue >= e.cfg.WhaleMultiplier*mean {
			return types.Signal{Kind: types.SignalWhale, Multiplier: t.USDValue / mean}, true
		}
	}
	return types.Signal{}, false
}

// cluster fires when enough distinct wallets bought the same outcome
// inside the window. Only BUYs participate; the current trade is added
// to the window before counting.
func (e *Engine) cluster(t types.Trade, stats *MarketStats) (types.Signal, bool) {
	windowMS := int64(e.cfg.ClusterWindowSeconds) * 1000
	if t.Side != types.BUY {
		stats.pruneBuyers(t.Timestamp, windowMS)
		return types.Signal{}, false
	}

	stats.addBuyer(t.Wallet, t.Outcome, t.Timestamp, windowMS)
	n := stats.distinctBuyers(t.Outcome)
	if n >= e.cfg.ClusterMinWallets {
		return types.Signal{Kind: types.SignalCluster, ClusterSize: n}, true
	}
	return types.Signal{}, false
}

// timing fires when the market resolves within the threshold. Markets
// with an unknown or already-past end time never fire.
func (e *Engine) timing(t types.Trade, meta types.MarketMeta) (types.Signal, bool) {
	if meta.EndTime.IsZero() {
		return types.Signal{}, false
	}
	remaining := meta.EndTime.Sub(t.Time())
	if remaining <= 0 {
		return types.Signal{}, false
	}
	hours := remaining.Hours()
	if hours <= e.cfg.TimingHoursThreshold {
		return types.Signal{Kind: types.SignalTiming, HoursToClose: hours}, true
	}
	return types.Signal{}, false
}

// oddsMove fires when the trade price jumps from the last observed price.
// The first trade on a market has no reference price and never fires.
func (e *Engine) oddsMove(t types.Trade, stats *MarketStats) (types.Signal, bool) {
	last, ok := stats.LastPrice()
	if !ok {
		return types.Signal{}, false
	}
	delta := t.Price - last
	if delta < 0 {
		delta = -delta
	}
	if delta >= e.cfg.OddsMovementThreshold {
		return types.Signal{Kind: types.SignalOddsMove, PriceDelta: delta}, true
	}
	return types.Signal{}, false
}

// contrarian fires on a sized bet that increases exposure to the minority
// outcome of a market with a strong consensus. Buying the minority side
// and selling the majority side both qualify.
func (e *Engine) contrarian(t types.Trade, stats *MarketStats) (types.Signal, bool) {
	if t.USDValue < e.cfg.ContrarianMinSizeUSD {
		return types.Signal{}, false
	}
	consensusYes, ok := stats.ConsensusYes()
	if !ok {
		return types.Signal{}, false
	}

	strength := consensusYes
	if 1-consensusYes > strength {
		strength = 1 - consensusYes
	}
	if strength < e.cfg.ContrarianConsensusThreshold {
		return types.Signal{}, false
	}

	majority := types.YES
	if consensusYes < 0.5 {
		majority = types.NO
	}
	minority := majority.Opposite()

	againstConsensus := (t.Side == types.BUY && t.Outcome == minority) ||
		(t.Side == types.SELL && t.Outcome == majority)
	if !againstConsensus {
		return types.Signal{}, false
	}

	return types.Signal{Kind: types.SignalContrarian, ConsensusYes: consensusYes}, true
}
