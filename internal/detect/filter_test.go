package detect

import (
	"testing"
	"time"

	"github.com/himyeticapital/polytracker/internal/catalog"
	"github.com/himyeticapital/polytracker/pkg/types"
)

func testCatalog() *catalog.Catalog {
	return catalog.NewStatic([]types.MarketMeta{
		{AssetID: "asset-1", Title: "Will it happen?", Slug: "will-it-happen", Outcome: types.YES},
		{AssetID: "asset-2", Title: "NBA finals winner", Slug: "nba-finals", Outcome: types.YES, Excluded: true},
	})
}

func newTestFilter() (*Filter, *Store) {
	store := NewStore()
	return NewFilter(testFilterConfig(), testCatalog(), store), store
}

func TestFilterRejectsUnknownMarket(t *testing.T) {
	t.Parallel()
	f, _ := newTestFilter()

	tr := testTrade(5000)
	tr.AssetID = "asset-unknown"
	if _, reason := f.Check(tr); reason != RejectUnknown {
		t.Errorf("reason = %q, want %q", reason, RejectUnknown)
	}
}

func TestFilterRejectsExcludedMarket(t *testing.T) {
	t.Parallel()
	f, _ := newTestFilter()

	tr := testTrade(5000)
	tr.AssetID = "asset-2"
	if _, reason := f.Check(tr); reason != RejectExcluded {
		t.Errorf("reason = %q, want %q", reason, RejectExcluded)
	}
}

func TestFilterRejectsBelowMinSize(t *testing.T) {
	t.Parallel()
	f, _ := newTestFilter()

	tr := testTrade(1999)
	if _, reason := f.Check(tr); reason != RejectSize {
		t.Errorf("reason = %q, want %q", reason, RejectSize)
	}

	tr = testTrade(2000)
	if _, reason := f.Check(tr); reason != RejectNone {
		t.Errorf("reason = %q, want accept at the boundary", reason)
	}
}

func TestFilterAcceptReturnsMeta(t *testing.T) {
	t.Parallel()
	f, _ := newTestFilter()

	meta, reason := f.Check(testTrade(5000))
	if reason != RejectNone {
		t.Fatalf("reason = %q, want accept", reason)
	}
	if meta.Title != "Will it happen?" || meta.Slug != "will-it-happen" {
		t.Errorf("unexpected meta: %+v", meta)
	}
}

func TestLPPairingRejectsBothLegs(t *testing.T) {
	t.Parallel()
	f, store := newTestFilter()
	now := time.Now().UnixMilli()

	first := testTrade(5000)
	first.Outcome = types.YES
	first.Timestamp = now
	if _, reason := f.Check(first); reason != RejectNone {
		t.Fatalf("first leg rejected: %q", reason)
	}
	// Mirror the detection loop: surviving trades update the aggregates.
	store.Get(first.AssetID).applyTrade(first)

	second := testTrade(5000)
	second.Outcome = types.NO
	second.Timestamp = now + 100
	if _, reason := f.Check(second); reason != RejectLP {
		t.Fatalf("second leg not rejected as LP")
	}

	// The pairing retracts the first leg: the window looks untouched.
	stats := store.Get(first.AssetID)
	if got := stats.SampleCount(); got != 0 {
		t.Errorf("SampleCount = %d after LP unwind, want 0", got)
	}
}

func TestLPPairingConsumedOnce(t *testing.T) {
	t.Parallel()
	f, _ := newTestFilter()
	now := time.Now().UnixMilli()

	first := testTrade(5000)
	first.Outcome = types.YES
	first.Timestamp = now
	f.Check(first)

	second := testTrade(5000)
	second.Outcome = types.NO
	second.Timestamp = now + 100
	if _, reason := f.Check(second); reason != RejectLP {
		t.Fatal("second leg not rejected")
	}

	// Pair already consumed: a third opposite trade stands on its own.
	third := testTrade(5000)
	third.Outcome = types.YES
	third.Timestamp = now + 150
	if _, reason := f.Check(third); reason != RejectNone {
		t.Errorf("third trade rejected: %q", reason)
	}
}

func TestLPPairingOutsideWindow(t *testing.T) {
	t.Parallel()
	f, _ := newTestFilter()
	now := time.Now().UnixMilli()

	first := testTrade(5000)
	first.Outcome = types.YES
	first.Timestamp = now
	f.Check(first)

	second := testTrade(5000)
	second.Outcome = types.NO
	second.Timestamp = now + 201
	if _, reason := f.Check(second); reason != RejectNone {
		t.Errorf("reason = %q, want accept outside the window", reason)
	}
}

func TestLPPairingSameOutcomeNotPaired(t *testing.T) {
	t.Parallel()
	f, _ := newTestFilter()
	now := time.Now().UnixMilli()

	first := testTrade(5000)
	first.Outcome = types.YES
	first.Timestamp = now
	f.Check(first)

	second := testTrade(5000)
	second.Outcome = types.YES
	second.Timestamp = now + 100
	if _, reason := f.Check(second); reason != RejectNone {
		t.Errorf("reason = %q, want accept for same-outcome trades", reason)
	}
}

func TestLPPairingDifferentWallets(t *testing.T) {
	t.Parallel()
	f, _ := newTestFilter()
	now := time.Now().UnixMilli()

	first := testTrade(5000)
	first.Wallet = "0xaaa"
	first.Outcome = types.YES
	first.Timestamp = now
	f.Check(first)

	second := testTrade(5000)
	second.Wallet = "0xbbb"
	second.Outcome = types.NO
	second.Timestamp = now + 100
	if _, reason := f.Check(second); reason != RejectNone {
		t.Errorf("reason = %q, want accept across wallets", reason)
	}
}

func TestLPUnwindRemovesClusterRecord(t *testing.T) {
	t.Parallel()
	f, store := newTestFilter()
	e := NewEngine(testFilterConfig())
	now := time.Now().UnixMilli()

	first := testTrade(5000)
	first.Outcome = types.YES
	first.Timestamp = now
	meta, reason := f.Check(first)
	if reason != RejectNone {
		t.Fatal(reason)
	}
	stats := store.Get(first.AssetID)
	e.Evaluate(first, meta, stats, 0, false)
	stats.applyTrade(first)

	second := testTrade(5000)
	second.Outcome = types.NO
	second.Timestamp = now + 100
	if _, reason := f.Check(second); reason != RejectLP {
		t.Fatal("second leg not rejected")
	}

	if got := stats.distinctBuyers(types.YES); got != 0 {
		t.Errorf("distinctBuyers = %d after unwind, want 0", got)
	}
}

func TestFilterSkipsLPForUnknownWallet(t *testing.T) {
	t.Parallel()
	f, store := newTestFilter()
	now := time.Now().UnixMilli()

	first := testTrade(5000)
	first.Wallet = ""
	first.Outcome = types.YES
	first.Timestamp = now
	if _, reason := f.Check(first); reason != RejectNone {
		t.Fatalf("reason = %q", reason)
	}

	second := testTrade(5000)
	second.Wallet = ""
	second.Outcome = types.NO
	second.Timestamp = now + 100
	if _, reason := f.Check(second); reason != RejectNone {
		t.Errorf("anonymous trades must not pair as LP: %q", reason)
	}

	stats := store.Get(first.AssetID)
	if len(stats.pendingOpposite) != 0 {
		t.Error("anonymous trade left a pending LP entry")
	}
}
