package alert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/himyeticapital/polytracker/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeSender records deliveries and can fail a scripted number of times.
type fakeSender struct {
	mu       sync.Mutex
	sent     []types.Alert
	failures []error // consumed one per Send before succeeding
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) Send(ctx context.Context, a types.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return err
	}
	f.sent = append(f.sent, a)
	return nil
}

func (f *fakeSender) delivered() []types.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Alert(nil), f.sent...)
}

// timingSender records when each delivery reached the sink.
type timingSender struct {
	mu    sync.Mutex
	times []time.Time
}

func (s *timingSender) Name() string { return "timing" }

func (s *timingSender) Send(_ context.Context, _ types.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.times = append(s.times, time.Now())
	return nil
}

func (s *timingSender) stamps() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.times...)
}

type noopEnricher struct{}

func (noopEnricher) Enrich(_ context.Context, a types.Alert) types.Alert { return a }

func testAlert(assetID string, kinds ...types.SignalKind) types.Alert {
	signals := make([]types.Signal, len(kinds))
	for i, k := range kinds {
		signals[i] = types.Signal{Kind: k}
	}
	return types.Alert{
		Trade:      types.Trade{ID: "t-" + assetID, AssetID: assetID, USDValue: 5000},
		Signals:    signals,
		Confidence: types.ConfidenceMedium,
	}
}

func runDispatcher(t *testing.T, d *Dispatcher) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(15 * time.Second):
			t.Fatal("dispatcher did not stop")
		}
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDispatcherDeliversToAllSinks(t *testing.T) {
	t.Parallel()
	a := &fakeSender{}
	b := &fakeSender{}
	d := NewDispatcher([]Sender{a, b}, noopEnricher{}, 100, testLogger())
	stop := runDispatcher(t, d)
	defer stop()

	d.Enqueue(testAlert("asset-1", types.SignalWhale))

	waitFor(t, 2*time.Second, func() bool {
		return len(a.delivered()) == 1 && len(b.delivered()) == 1
	})
	if got := d.Snapshot().Sent; got != 2 {
		t.Errorf("Sent = %d, want 2", got)
	}
}

func TestDispatcherDedupWithinWindow(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	d := NewDispatcher([]Sender{s}, noopEnricher{}, 100, testLogger())
	stop := runDispatcher(t, d)
	defer stop()

	d.Enqueue(testAlert("asset-1", types.SignalWhale, types.SignalTiming))
	d.Enqueue(testAlert("asset-1", types.SignalTiming, types.SignalWhale)) // same set, other order
	d.Enqueue(testAlert("asset-1", types.SignalWhale))                     // different set
	d.Enqueue(testAlert("asset-2", types.SignalWhale, types.SignalTiming)) // different asset

	waitFor(t, 2*time.Second, func() bool { return len(s.delivered()) == 3 })
	if got := d.Snapshot().Deduped; got != 1 {
		t.Errorf("Deduped = %d, want 1", got)
	}
}

func TestDispatcherRetriesTransientFailure(t *testing.T) {
	t.Parallel()
	s := &fakeSender{failures: []error{
		&SendError{Status: 500, Body: "boom"},
	}}
	d := NewDispatcher([]Sender{s}, noopEnricher{}, 100, testLogger())
	stop := runDispatcher(t, d)
	defer stop()

	d.Enqueue(testAlert("asset-1", types.SignalWhale))

	// First attempt fails, retry after 1s succeeds.
	waitFor(t, 5*time.Second, func() bool { return len(s.delivered()) == 1 })
	stats := d.Snapshot()
	if stats.Sent != 1 || stats.Failed != 0 {
		t.Errorf("Sent/Failed = %d/%d, want 1/0", stats.Sent, stats.Failed)
	}
}

func TestDispatcherDropsPermanentFailure(t *testing.T) {
	t.Parallel()
	s := &fakeSender{failures: []error{
		&SendError{Status: 400, Body: "bad payload"},
	}}
	d := NewDispatcher([]Sender{s}, noopEnricher{}, 100, testLogger())
	stop := runDispatcher(t, d)
	defer stop()

	d.Enqueue(testAlert("asset-1", types.SignalWhale))

	waitFor(t, 2*time.Second, func() bool { return d.Snapshot().Failed == 1 })
	if got := len(s.delivered()); got != 0 {
		t.Errorf("delivered = %d after permanent failure, want 0", got)
	}
}

func TestDispatcherGivesUpAfterRetryBudget(t *testing.T) {
	t.Parallel()
	s := &fakeSender{failures: []error{
		&SendError{Status: 500},
		&SendError{Status: 500},
		&SendError{Status: 500},
		&SendError{Status: 500},
	}}
	d := NewDispatcher([]Sender{s}, noopEnricher{}, 100, testLogger())
	stop := runDispatcher(t, d)
	defer stop()

	d.Enqueue(testAlert("asset-1", types.SignalWhale))

	// 1s + 2s + 4s of backoff before the final failure.
	waitFor(t, 12*time.Second, func() bool { return d.Snapshot().Failed == 1 })
	if got := len(s.delivered()); got != 0 {
		t.Errorf("delivered = %d, want 0", got)
	}
}

func TestDispatcherPacesBurst(t *testing.T) {
	t.Parallel()
	s := &timingSender{}
	// 10 alerts/sec: a token every ~100ms, with a one-token burst.
	d := NewDispatcher([]Sender{s}, noopEnricher{}, 10, testLogger())
	stop := runDispatcher(t, d)
	defer stop()

	for i := 0; i < 4; i++ {
		d.Enqueue(testAlert(fmt.Sprintf("asset-%d", i), types.SignalWhale))
	}

	waitFor(t, 5*time.Second, func() bool { return len(s.stamps()) == 4 })
	stamps := s.stamps()

	// First send spends the initial token; the next three wait on refill,
	// so the burst spreads over at least ~300ms.
	if elapsed := stamps[3].Sub(stamps[0]); elapsed < 250*time.Millisecond {
		t.Errorf("burst of 4 delivered in %v, want ~100ms pacing between sends", elapsed)
	}
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < 50*time.Millisecond {
			t.Errorf("sends %d and %d only %v apart, want paced delivery", i-1, i, gap)
		}
	}
}

func TestDispatcherDrainsOnShutdown(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	d := NewDispatcher([]Sender{s}, noopEnricher{}, 100, testLogger())

	d.Enqueue(testAlert("asset-1", types.SignalWhale))
	d.Enqueue(testAlert("asset-2", types.SignalWhale))

	// Run with an already-cancelled context: everything queued before
	// shutdown still goes out through the drain path.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	if got := len(s.delivered()); got != 2 {
		t.Errorf("delivered = %d after drain, want 2", got)
	}
}

func TestDedupKeyOrderIndependent(t *testing.T) {
	t.Parallel()

	a := testAlert("asset-1", types.SignalWhale, types.SignalCluster)
	b := testAlert("asset-1", types.SignalCluster, types.SignalWhale)
	if dedupKey(a) != dedupKey(b) {
		t.Error("dedup key depends on signal order")
	}

	c := testAlert("asset-2", types.SignalWhale, types.SignalCluster)
	if dedupKey(a) == dedupKey(c) {
		t.Error("dedup key ignores asset")
	}
}
