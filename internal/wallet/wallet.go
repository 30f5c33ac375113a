// Package wallet resolves on-chain transaction counts for taker addresses.
//
// The fresh-wallet signal needs eth_getTransactionCount against a Polygon
// RPC endpoint, but the detection stage must never block on the network.
// The split: Cache is a plain TTL map owned by the detection goroutine
// (single writer, no locks); Fetcher is a separate goroutine doing the RPC
// calls and handing results back over a channel that the detection loop
// folds into the cache. A lookup miss schedules a fetch and the signal
// simply does not fire until the count is known — an unknown wallet is
// never reported as fresh.
package wallet

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	cacheTTL     = time.Hour
	rpcTimeout   = 5 * time.Second
	failCooldown = 30 * time.Second // don't hammer the RPC for a failing address
	requestDepth = 256
	resultDepth  = 256
)

// Info is a cached chain lookup for one wallet.
type Info struct {
	TxCount   int
	FetchedAt time.Time
}

// Cache is a TTL map of wallet → Info. Not safe for concurrent use; it is
// owned by the detection goroutine.
type Cache struct {
	ttl     time.Duration
	entries map[string]Info
}

// NewCache creates a cache with the default 1 h TTL.
func NewCache() *Cache {
	return &Cache{ttl: cacheTTL, entries: make(map[string]Info)}
}

// Get returns the cached info for a wallet. Expired entries are evicted
// and reported as misses, which triggers a refresh on the caller's side.
func (c *Cache) Get(wallet string, now time.Time) (Info, bool) {
	info, ok := c.entries[wallet]
	if !ok {
		return Info{}, false
	}
	if now.Sub(info.FetchedAt) > c.ttl {
		delete(c.entries, wallet)
		return Info{}, false
	}
	return info, true
}

// Put stores a fetch result.
func (c *Cache) Put(wallet string, txCount int, now time.Time) {
	c.entries[wallet] = Info{TxCount: txCount, FetchedAt: now}
}

// Len returns the number of live entries (expired ones included until read).
func (c *Cache) Len() int { return len(c.entries) }

// Result is a completed chain lookup delivered back to the detection loop.
type Result struct {
	Wallet  string
	TxCount int
}

// Fetcher performs eth_getTransactionCount lookups off the hot path.
type Fetcher struct {
	client   *ethclient.Client
	requests chan string
	results  chan Result

	lastFail map[string]time.Time
	logger   *slog.Logger
}

// NewFetcher dials the RPC endpoint. Dialing an HTTP URL does not touch
// the network, so this cannot fail at startup for a well-formed URL.
func NewFetcher(rpcURL string, logger *slog.Logger) (*Fetcher, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, err
	}
	return &Fetcher{
		client:   client,
		requests: make(chan string, requestDepth),
		results:  make(chan Result, resultDepth),
		lastFail: make(map[string]time.Time),
		logger:   logger.With("component", "wallet"),
	}, nil
}

// Request schedules a lookup. Non-blocking: if the fetch queue is full the
// request is dropped and the next trade from that wallet will retry.
func (f *Fetcher) Request(wallet string) {
	if wallet == "" {
		return
	}
	select {
	case f.requests <- wallet:
	default:
	}
}

// Results returns the channel of completed lookups.
func (f *Fetcher) Results() <-chan Result { return f.results }

// Run processes lookup requests until ctx is cancelled.
func (f *Fetcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			f.client.Close()
			return
		case wallet := <-f.requests:
			f.fetch(ctx, wallet)
		}
	}
}

func (f *Fetcher) fetch(ctx context.Context, wallet string) {
	if until, ok := f.lastFail[wallet]; ok {
		if time.Since(until) < failCooldown {
			return
		}
		delete(f.lastFail, wallet)
	}

	callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	// Nonce at the latest block is the wallet's sent-transaction count.
	nonce, err := f.client.NonceAt(callCtx, common.HexToAddress(wallet), nil)
	if err != nil {
		// No result delivered: the wallet stays unknown and the
		// fresh-wallet signal cannot fire for it.
		f.lastFail[wallet] = time.Now()
		f.logger.Warn("tx count lookup failed", "wallet", shorten(wallet), "error", err)
		return
	}

	select {
	case f.results <- Result{Wallet: wallet, TxCount: int(nonce)}:
	case <-ctx.Done():
	}
}

func shorten(wallet string) string {
	if len(wallet) <= 10 {
		return wallet
	}
	return wallet[:10] + "…"
}
