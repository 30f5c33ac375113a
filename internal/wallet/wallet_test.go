package wallet

import (
	"testing"
	"time"
)

func TestCacheHitAndMiss(t *testing.T) {
	t.Parallel()
	c := NewCache()
	now := time.Now()

	if _, ok := c.Get("0xaaa", now); ok {
		t.Error("hit on empty cache")
	}

	c.Put("0xaaa", 7, now)
	info, ok := c.Get("0xaaa", now.Add(time.Minute))
	if !ok || info.TxCount != 7 {
		t.Errorf("Get = %+v %v, want TxCount 7", info, ok)
	}
}

func TestCacheExpiry(t *testing.T) {
	t.Parallel()
	c := NewCache()
	now := time.Now()

	c.Put("0xaaa", 7, now)
	if _, ok := c.Get("0xaaa", now.Add(time.Hour+time.Second)); ok {
		t.Error("expired entry returned")
	}
	// Expired read evicts.
	if c.Len() != 0 {
		t.Errorf("Len = %d after expiry, want 0", c.Len())
	}
}

func TestCacheRefreshResetsTTL(t *testing.T) {
	t.Parallel()
	c := NewCache()
	now := time.Now()

	c.Put("0xaaa", 7, now)
	c.Put("0xaaa", 9, now.Add(30*time.Minute))

	info, ok := c.Get("0xaaa", now.Add(80*time.Minute))
	if !ok || info.TxCount != 9 {
		t.Errorf("Get = %+v %v, want refreshed entry", info, ok)
	}
}

func TestRequestNonBlockingWhenFull(t *testing.T) {
	t.Parallel()
	f := &Fetcher{requests: make(chan string, 1)}

	f.Request("0x1")
	// Queue full: must drop rather than block.
	done := make(chan struct{})
	go func() {
		f.Request("0x2")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Request blocked on a full queue")
	}
}

func TestRequestIgnoresEmptyWallet(t *testing.T) {
	t.Parallel()
	f := &Fetcher{requests: make(chan string, 1)}

	f.Request("")
	select {
	case w := <-f.requests:
		t.Errorf("empty wallet queued: %q", w)
	default:
	}
}
