// Package alert delivers flagged trades to Discord and Telegram.
//
// The dispatcher sits behind a bounded queue so detection never blocks on
// a slow sink. Delivery order: dedup at enqueue, global pacing, best-effort
// enrichment, then fan-out to per-sink workers that retry transient
// failures independently. One sink being down never stalls the other.
package alert

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/himyeticapital/polytracker/pkg/types"
)

const (
	dedupWindow      = 30 * time.Second
	drainDeadline    = 10 * time.Second
	sinkChannelDepth = 2
	rateLimitedWait  = 5 * time.Second // 429 with no Retry-After header
)

var retryBackoffs = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// Enricher fills in alert context before delivery. Implementations must
// be best effort; returning the alert unchanged is always acceptable.
type Enricher interface {
	Enrich(ctx context.Context, a types.Alert) types.Alert
}

// DispatchStats is a counter snapshot for periodic logging.
type DispatchStats struct {
	Enqueued uint64
	Deduped  uint64
	Sent     uint64
	Failed   uint64
	Queued   int
	Shed     uint64
}

// Dispatcher owns the alert path from enqueue to final send-or-drop.
type Dispatcher struct {
	queue    *Queue
	pacer    *TokenBucket
	enricher Enricher
	sinks    []Sender
	channels []chan types.Alert
	logger   *slog.Logger

	dedupMu sync.Mutex
	dedup   map[string]time.Time // dedup key → last enqueue

	wg sync.WaitGroup

	enqueued atomic.Uint64
	deduped  atomic.Uint64
	sent     atomic.Uint64
	failed   atomic.Uint64
}

// NewDispatcher creates a dispatcher over the given sinks. ratePerSecond
// is the global outbound pace shared across all sinks.
func NewDispatcher(sinks []Sender, enricher Enricher, ratePerSecond float64, logger *slog.Logger) *Dispatcher {
	channels := make([]chan types.Alert, len(sinks))
	for i := range channels {
		channels[i] = make(chan types.Alert, sinkChannelDepth)
	}
	return &Dispatcher{
		queue:    NewQueue(),
		pacer:    NewTokenBucket(1, ratePerSecond),
		enricher: enricher,
		sinks:    sinks,
		channels: channels,
		logger:   logger.With("component", "alert"),
		dedup:    make(map[string]time.Time),
	}
}

// Enqueue accepts an alert from detection. Duplicate alerts for the same
// asset and signal set inside the dedup window are dropped here, before
// they consume a queue slot. Never blocks.
func (d *Dispatcher) Enqueue(a types.Alert) {
	key := dedupKey(a)
	now := time.Now()

	d.dedupMu.Lock()
	if last, ok := d.dedup[key]; ok && now.Sub(last) < dedupWindow {
		d.dedupMu.Unlock()
		d.deduped.Add(1)
		return
	}
	d.dedup[key] = now
	if len(d.dedup) > 1024 {
		for k, ts := range d.dedup {
			if now.Sub(ts) >= dedupWindow {
				delete(d.dedup, k)
			}
		}
	}
	d.dedupMu.Unlock()

	d.enqueued.Add(1)
	d.queue.Push(a)
}

// dedupKey identifies an alert by asset and sorted signal kinds, so the
// same market re-firing the same combination does not spam the sinks.
func dedupKey(a types.Alert) string {
	kinds := make([]string, len(a.Signals))
	for i, s := range a.Signals {
		kinds[i] = string(s.Kind)
	}
	sort.Strings(kinds)
	return a.Trade.AssetID + "|" + strings.Join(kinds, ",")
}

// Run processes the queue until ctx is cancelled, then drains what is
// already queued within the shutdown deadline.
func (d *Dispatcher) Run(ctx context.Context) {
	sendCtx, cancelSend := context.WithCancel(context.Background())
	defer cancelSend()

	for i, s := range d.sinks {
		d.wg.Add(1)
		go d.worker(sendCtx, s, d.channels[i])
	}

	for {
		a, ok := d.queue.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				d.drain(sendCtx, cancelSend)
				return
			case <-d.queue.Wait():
				continue
			}
		}

		if err := d.pacer.Wait(ctx); err != nil {
			// Shutting down mid-wait; this alert joins the drain.
			d.queue.Push(a)
			d.drain(sendCtx, cancelSend)
			return
		}
		d.deliver(sendCtx, a)
	}
}

// deliver enriches one alert and hands it to every sink worker.
func (d *Dispatcher) deliver(ctx context.Context, a types.Alert) {
	a = d.enricher.Enrich(ctx, a)
	for _, ch := range d.channels {
		select {
		case ch <- a:
		case <-ctx.Done():
			return
		}
	}
}

// drain flushes queued alerts after shutdown begins. The deadline caps
// total drain time; in-flight sends are aborted when it expires.
func (d *Dispatcher) drain(sendCtx context.Context, cancelSend context.CancelFunc) {
	d.queue.Close()

	deadline := time.AfterFunc(drainDeadline, cancelSend)
	defer deadline.Stop()

	remaining := d.queue.Len()
	if remaining > 0 {
		d.logger.Info("draining alert queue", "remaining", remaining)
	}

	for {
		a, ok := d.queue.Pop()
		if !ok {
			break
		}
		if err := d.pacer.Wait(sendCtx); err != nil {
			break
		}
		d.deliver(sendCtx, a)
	}

	for _, ch := range d.channels {
		close(ch)
	}
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context, s Sender, ch <-chan types.Alert) {
	defer d.wg.Done()
	for a := range ch {
		d.sendWithRetry(ctx, s, a)
	}
}

// sendWithRetry delivers one alert to one sink, retrying transient
// failures with exponential backoff and honoring server throttling.
func (d *Dispatcher) sendWithRetry(ctx context.Context, s Sender, a types.Alert) {
	for attempt := 0; ; attempt++ {
		err := s.Send(ctx, a)
		if err == nil {
			d.sent.Add(1)
			d.logger.Debug("alert sent", "sink", s.Name(), "asset_id", a.Trade.AssetID)
			return
		}

		var se *SendError
		retryable := errors.As(err, &se) && se.Retryable()
		if !retryable || attempt >= len(retryBackoffs) {
			d.failed.Add(1)
			d.logger.Warn("alert dropped",
				"sink", s.Name(),
				"asset_id", a.Trade.AssetID,
				"attempts", attempt+1,
				"error", err,
			)
			return
		}

		wait := retryBackoffs[attempt]
		if se.Status == http429 {
			wait = rateLimitedWait
			if se.RetryAfter > 0 {
				wait = se.RetryAfter
			}
		}

		select {
		case <-ctx.Done():
			d.failed.Add(1)
			return
		case <-time.After(wait):
		}
	}
}

// Snapshot returns the dispatch counters. Safe from any goroutine.
func (d *Dispatcher) Snapshot() DispatchStats {
	return DispatchStats{
		Enqueued: d.enqueued.Load(),
		Deduped:  d.deduped.Load(),
		Sent:     d.sent.Load(),
		Failed:   d.failed.Load(),
		Queued:   d.queue.Len(),
		Shed:     d.queue.Dropped(),
	}
}
