package detect

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/himyeticapital/polytracker/internal/catalog"
	"github.com/himyeticapital/polytracker/internal/config"
	"github.com/himyeticapital/polytracker/internal/wallet"
	"github.com/himyeticapital/polytracker/pkg/types"
)

// Sink receives finished alerts. Enqueue must not block; the dispatcher
// applies its own overflow policy.
type Sink interface {
	Enqueue(types.Alert)
}

// WalletLookup schedules on-chain tx-count fetches and delivers the
// results asynchronously. Satisfied by *wallet.Fetcher.
type WalletLookup interface {
	Request(wallet string)
	Results() <-chan wallet.Result
}

// Stats is a snapshot of the detection counters for periodic logging.
type Stats struct {
	Received      uint64
	Rejected      uint64
	RejectedBy    map[RejectReason]uint64
	SignalsByKind map[types.SignalKind]uint64
	Alerts        uint64
	WalletsCached int
	Markets       int
}

var signalKinds = []types.SignalKind{
	types.SignalWhale,
	types.SignalFreshWallet,
	types.SignalCluster,
	types.SignalTiming,
	types.SignalOddsMove,
	types.SignalContrarian,
}

func signalIndex(k types.SignalKind) int {
	for i, kind := range signalKinds {
		if kind == k {
			return i
		}
	}
	return -1
}

var rejectReasons = []RejectReason{RejectUnknown, RejectExcluded, RejectSize, RejectLP}

func rejectIndex(r RejectReason) int {
	for i, reason := range rejectReasons {
		if reason == r {
			return i
		}
	}
	return -1
}

// Detector is the single pipeline stage that mutates market statistics.
// It owns the wallet cache and the stats store outright: trades and chain
// lookup results both arrive over channels into one select loop, so no
// lock guards any of its state.
type Detector struct {
	filter  *Filter
	engine  *Engine
	store   *Store
	cache   *wallet.Cache
	fetcher WalletLookup
	sink    Sink
	logger  *slog.Logger

	received     atomic.Uint64
	rejected     atomic.Uint64
	rejectedBy   [4]atomic.Uint64 // indexed by rejectIndex
	signalCounts [6]atomic.Uint64 // indexed by signalIndex
	alerts       atomic.Uint64

	// Gauges mirrored from loop-owned state so Snapshot never touches
	// the cache or store maps.
	walletsCached atomic.Int64
	marketsSeen   atomic.Int64
}

// NewDetector wires the detection stage. The store is created here; the
// filter shares it so LP pairing and signal windows stay consistent.
func NewDetector(cfg config.FilterConfig, cat *catalog.Catalog, fetcher WalletLookup, sink Sink, logger *slog.Logger) *Detector {
	store := NewStore()
	return &Detector{
		filter:  NewFilter(cfg, cat, store),
		engine:  NewEngine(cfg),
		store:   store,
		cache:   wallet.NewCache(),
		fetcher: fetcher,
		sink:    sink,
		logger:  logger.With("component", "detect"),
	}
}

// Run consumes trades until the channel closes or ctx is cancelled.
func (d *Detector) Run(ctx context.Context, trades <-chan types.Trade) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-d.fetcher.Results():
			if !ok {
				continue
			}
			d.cache.Put(res.Wallet, res.TxCount, time.Now())
			d.walletsCached.Store(int64(d.cache.Len()))
		case t, ok := <-trades:
			if !ok {
				return
			}
			d.process(t)
		}
	}
}

func (d *Detector) process(t types.Trade) {
	d.received.Add(1)

	meta, reason := d.filter.Check(t)
	if reason != RejectNone {
		d.rejected.Add(1)
		if i := rejectIndex(reason); i >= 0 {
			d.rejectedBy[i].Add(1)
		}
		return
	}

	now := time.Now()
	info, txKnown := d.cache.Get(t.Wallet, now)
	if !txKnown {
		d.fetcher.Request(t.Wallet)
	}

	stats := d.store.Get(t.AssetID)
	d.marketsSeen.Store(int64(len(d.store.markets)))
	signals := d.engine.Evaluate(t, meta, stats, info.TxCount, txKnown)
	stats.applyTrade(t)

	if len(signals) == 0 {
		return
	}
	for _, s := range signals {
		if i := signalIndex(s.Kind); i >= 0 {
			d.signalCounts[i].Add(1)
		}
	}

	alert := types.Alert{
		Trade:      t,
		Signals:    signals,
		Confidence: DeriveConfidence(signals, t.USDValue),
		Title:      meta.Title,
		Slug:       meta.Slug,
		EndTime:    meta.EndTime,
	}
	if txKnown {
		alert.TxCount = info.TxCount
		alert.HasTxCount = true
	}

	d.alerts.Add(1)
	d.logger.Info("trade flagged",
		"asset_id", t.AssetID,
		"title", meta.Title,
		"usd", t.USDValue,
		"signals", alert.Kinds(),
		"confidence", alert.Confidence,
	)
	d.sink.Enqueue(alert)
}

// Snapshot returns the current counters. Safe to call from another
// goroutine.
func (d *Detector) Snapshot() Stats {
	rejectedBy := make(map[RejectReason]uint64, len(rejectReasons))
	for i, reason := range rejectReasons {
		if n := d.rejectedBy[i].Load(); n > 0 {
			rejectedBy[reason] = n
		}
	}
	byKind := make(map[types.SignalKind]uint64, len(signalKinds))
	for i, kind := range signalKinds {
		if n := d.signalCounts[i].Load(); n > 0 {
			byKind[kind] = n
		}
	}
	return Stats{
		Received:      d.received.Load(),
		Rejected:      d.rejected.Load(),
		RejectedBy:    rejectedBy,
		SignalsByKind: byKind,
		Alerts:        d.alerts.Load(),
		WalletsCached: int(d.walletsCached.Load()),
		Markets:       int(d.marketsSeen.Load()),
	}
}
