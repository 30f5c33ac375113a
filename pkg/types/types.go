// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the tracker — trade events,
// signal classifications, alert bundles, and WebSocket frame payloads.
// It has no dependencies on internal packages, so it can be imported by
// any layer.
package types

import (
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of a trade: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Outcome is the binary side of a prediction market.
type Outcome string

const (
	YES Outcome = "YES"
	NO  Outcome = "NO"
)

// Opposite returns the other outcome.
func (o Outcome) Opposite() Outcome {
	if o == YES {
		return NO
	}
	return YES
}

// SignalKind classifies why a trade was flagged.
type SignalKind string

const (
	SignalWhale       SignalKind = "WHALE"        // absolutely large, or large vs. recent market mean
	SignalFreshWallet SignalKind = "FRESH_WALLET" // low on-chain transaction count (burner account)
	SignalCluster     SignalKind = "CLUSTER"      // multiple distinct wallets buying the same outcome
	SignalTiming      SignalKind = "TIMING"       // trade close to market resolution
	SignalOddsMove    SignalKind = "ODDS_MOVE"    // trade far from the last observed price
	SignalContrarian  SignalKind = "CONTRARIAN"   // sized bet against a strong consensus
)

// Confidence is the derived alert priority. HIGH alerts survive queue
// overflow; MEDIUM alerts are the first to be shed.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
)

// ————————————————————————————————————————————————————————————————————————
// Trade
// ————————————————————————————————————————————————————————————————————————

// Trade is a single fill received from the CLOB trade stream, normalized
// by the feed. Immutable after creation.
type Trade struct {
	ID        string  // upstream trade ID, unique per trade
	AssetID   string  // CLOB token ID of the traded outcome
	Side      Side    // BUY or SELL
	Outcome   Outcome // YES or NO
	Price     float64 // implied probability, 0.0–1.0
	Size      float64 // shares
	USDValue  float64 // price × size
	Wallet    string  // taker address, lowercase hex
	Timestamp int64   // millisecond epoch
}

// Time converts the millisecond timestamp to a time.Time.
func (t Trade) Time() time.Time {
	return time.UnixMilli(t.Timestamp)
}

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// MarketMeta is the catalog's view of one tradeable outcome token.
// Populated once at startup from the Gamma API and cached for the process
// lifetime; the filter and enricher read it without further network calls.
type MarketMeta struct {
	AssetID  string    // CLOB token ID
	Title    string    // the prediction question
	Slug     string    // human-readable URL slug
	Outcome  Outcome   // which side of the market this token represents
	EndTime  time.Time // scheduled resolution time (zero if unknown)
	Excluded bool      // title matched an EXCLUDE_MARKET_KEYWORDS entry
}

// ————————————————————————————————————————————————————————————————————————
// Signals and alerts
// ————————————————————————————————————————————————————————————————————————

// Signal is one firing predicate with its kind-specific evidence.
// Unused evidence fields are left at their zero value.
type Signal struct {
	Kind SignalKind

	Multiplier   float64 // WHALE: usd_value / mean(recent_trades), 0 for absolute whales
	TxCount      int     // FRESH_WALLET: wallet's on-chain transaction count
	ClusterSize  int     // CLUSTER: distinct wallets on the same outcome in window
	HoursToClose float64 // TIMING: hours between trade and market close
	PriceDelta   float64 // ODDS_MOVE: |price − last_price|
	ConsensusYes float64 // CONTRARIAN: YES price the trade bet against
}

// Alert bundles a flagged trade with its signals and enrichment for
// dispatch. Owned by the dispatcher from enqueue to final send-or-drop.
type Alert struct {
	Trade      Trade
	Signals    []Signal // non-empty by construction
	Confidence Confidence

	// Enrichment. Zero values mean "unknown, omit from the message".
	Title       string
	Slug        string
	EndTime     time.Time
	Midpoint    float64
	HasMidpoint bool
	TxCount     int
	HasTxCount  bool
}

// Kinds returns the signal kinds on this alert, in firing order.
func (a Alert) Kinds() []SignalKind {
	kinds := make([]SignalKind, len(a.Signals))
	for i, s := range a.Signals {
		kinds[i] = s.Kind
	}
	return kinds
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket frames
// ————————————————————————————————————————————————————————————————————————
// These structs map 1:1 to JSON messages on the Polymarket market channel.
// Only "trade" frames are processed; other event types are consumed silently.

// WSSubscribeMsg is the subscription frame sent after connecting,
// enumerating every asset ID from the catalog.
type WSSubscribeMsg struct {
	Type     string   `json:"type"` // always "subscribe"
	AssetIDs []string `json:"assets_ids"`
}

// WSTradeEvent is a public trade notification from the market channel.
// Numeric fields arrive as strings to preserve decimal precision.
type WSTradeEvent struct {
	EventType string `json:"event_type"` // always "trade"
	ID        string `json:"id"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"` // condition ID
	Side      string `json:"side"`   // "BUY" or "SELL"
	Outcome   string `json:"outcome"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Taker     string `json:"taker_address"`
	Timestamp string `json:"timestamp"` // millisecond epoch, string-encoded
}
