// Package feed implements the durable trade-stream subscription.
//
// Client maintains a persistent WebSocket connection to the CLOB market
// channel through an explicit state machine:
//
//	Disconnected → Connecting → Subscribing → Streaming → (Backoff → Connecting)
//
// On transport error, protocol-level failure, or 30 s of silence the client
// drops to Backoff and reconnects with exponential backoff (1 s doubling to
// a 60 s cap). A connection that stays in Streaming for at least 60 s resets
// the backoff counter. Trade frames are normalized and emitted in arrival
// order on a bounded channel; when the consumer lags, the oldest pending
// trade is dropped and counted, because the upstream feed cannot be paused.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/himyeticapital/polytracker/pkg/types"
)

// State is the streaming client's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribing
	StateStreaming
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateBackoff:
		return "backoff"
	default:
		return "disconnected"
	}
}

const (
	initialBackoff  = time.Second
	maxBackoff      = 60 * time.Second
	sustainToReset  = 60 * time.Second // streaming this long resets the attempt counter
	idleTimeout     = 30 * time.Second // silence longer than this forces a reconnect
	subscribeGrace  = 5 * time.Second  // promote to Streaming even without a frame
	pingInterval    = 10 * time.Second
	writeTimeout    = 10 * time.Second
	tradeBufferSize = 1024
)

// Stats are the feed's monotonic counters, read by the periodic stats log.
type Stats struct {
	MessagesReceived uint64
	TradesReceived   uint64
	Malformed        uint64
	Dropped          uint64
	Reconnects       uint64
}

// Client is the streaming trade client.
type Client struct {
	url      string
	assetIDs []string // fixed at construction; the subscription frame is deterministic
	maxRetry int      // 0 = unlimited reconnect attempts

	state   atomic.Int32
	tradeCh chan types.Trade

	conn   *websocket.Conn
	connMu sync.Mutex

	messagesReceived atomic.Uint64
	tradesReceived   atomic.Uint64
	malformed        atomic.Uint64
	dropped          atomic.Uint64
	reconnects       atomic.Uint64

	logger *slog.Logger
}

// New creates a streaming client subscribed to the given asset IDs.
func New(wsURL string, assetIDs []string, maxReconnectAttempts int, logger *slog.Logger) *Client {
	return &Client{
		url:      wsURL,
		assetIDs: assetIDs,
		maxRetry: maxReconnectAttempts,
		tradeCh:  make(chan types.Trade, tradeBufferSize),
		logger:   logger.With("component", "feed"),
	}
}

// Trades returns the channel of normalized trades, in upstream arrival order.
func (c *Client) Trades() <-chan types.Trade { return c.tradeCh }

// State returns the current connection state.
func (c *Client) State() State { return State(c.state.Load()) }

// Stats returns a snapshot of the feed counters.
func (c *Client) Stats() Stats {
	return Stats{
		MessagesReceived: c.messagesReceived.Load(),
		TradesReceived:   c.tradesReceived.Load(),
		Malformed:        c.malformed.Load(),
		Dropped:          c.dropped.Load(),
		Reconnects:       c.reconnects.Load(),
	}
}

// SubscribeFrame returns the exact subscription payload sent on every
// (re)connect. Byte-for-byte stable across reconnects.
func (c *Client) SubscribeFrame() ([]byte, error) {
	return json.Marshal(types.WSSubscribeMsg{Type: "subscribe", AssetIDs: c.assetIDs})
}

// Run connects and maintains the stream until ctx is cancelled. It returns
// a non-nil error only when the configured reconnect budget is exhausted;
// that is the unrecoverable runtime condition.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0

	for {
		c.state.Store(int32(StateConnecting))
		startedStreaming, err := c.connectAndRead(ctx)
		if ctx.Err() != nil {
			c.state.Store(int32(StateDisconnected))
			return nil
		}

		if !startedStreaming.IsZero() && time.Since(startedStreaming) >= sustainToReset {
			attempt = 0
		}
		attempt++
		c.reconnects.Add(1)

		if c.maxRetry > 0 && attempt > c.maxRetry {
			c.state.Store(int32(StateDisconnected))
			return fmt.Errorf("feed: reconnect budget exhausted after %d attempts: %w", c.maxRetry, err)
		}

		backoff := backoffFor(attempt)
		c.state.Store(int32(StateBackoff))
		c.logger.Warn("stream disconnected, reconnecting",
			"error", err,
			"attempt", attempt,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			c.state.Store(int32(StateDisconnected))
			return nil
		case <-time.After(backoff):
		}
	}
}

// backoffFor returns min(1s × 2^(attempt−1), 60s).
func backoffFor(attempt int) time.Duration {
	d := initialBackoff
	for i := 1; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// Close closes the underlying transport, unblocking any pending read.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// connectAndRead runs one connection's full lifecycle. It returns the time
// the Streaming state was entered (zero if never reached) and the error
// that ended the connection.
func (c *Client) connectAndRead(ctx context.Context) (time.Time, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	defer func() {
		c.connMu.Lock()
		conn.Close()
		c.conn = nil
		c.connMu.Unlock()
	}()

	// Handshake complete: the subscription frame is sent while Subscribing.
	c.state.Store(int32(StateSubscribing))

	frame, err := c.SubscribeFrame()
	if err != nil {
		return time.Time{}, fmt.Errorf("marshal subscription: %w", err)
	}
	if err := c.write(websocket.TextMessage, frame); err != nil {
		return time.Time{}, fmt.Errorf("subscribe: %w", err)
	}
	c.logger.Info("subscribed", "assets", len(c.assetIDs))

	// Even if the market is quiet, a healthy connection counts as
	// streaming once the grace period passes.
	var streaming promotion
	promote := func() {
		if streaming.mark() {
			c.state.Store(int32(StateStreaming))
		}
	}
	graceTimer := time.AfterFunc(subscribeGrace, promote)
	defer graceTimer.Stop()

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go c.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return streaming.at(), ctx.Err()
		}

		// Any inbound frame counts as a heartbeat.
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return streaming.at(), fmt.Errorf("read: %w", err)
		}
		if len(msg) == 0 {
			continue
		}

		c.messagesReceived.Add(1)
		promote()
		c.handleFrame(msg)
	}
}

// promotion records the instant a connection entered Streaming. Written by
// the read loop and the grace timer, read on teardown.
type promotion struct {
	mu sync.Mutex
	t  time.Time
}

// mark records the promotion time once. Returns true on the first call.
func (p *promotion) mark() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.t.IsZero() {
		p.t = time.Now()
		return true
	}
	return false
}

func (p *promotion) at() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.t
}

// handleFrame parses one inbound frame. Malformed frames are counted and
// skipped; they never terminate the connection.
func (c *Client) handleFrame(msg []byte) {
	text := strings.TrimSpace(string(msg))
	if text == "PONG" || text == "PING" {
		return
	}

	// Trade frames arrive either as a single object or as a batch array.
	if strings.HasPrefix(text, "[") {
		var events []json.RawMessage
		if err := json.Unmarshal(msg, &events); err != nil {
			c.malformed.Add(1)
			c.logger.Debug("malformed frame", "error", err)
			return
		}
		for _, raw := range events {
			c.handleEvent(raw)
		}
		return
	}

	c.handleEvent(msg)
}

func (c *Client) handleEvent(raw []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.malformed.Add(1)
		c.logger.Debug("malformed event", "error", err)
		return
	}

	switch envelope.EventType {
	case "trade":
		var evt types.WSTradeEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			c.malformed.Add(1)
			c.logger.Warn("unmarshal trade event", "error", err)
			return
		}
		trade, err := normalizeTrade(evt)
		if err != nil {
			c.malformed.Add(1)
			c.logger.Warn("invalid trade event", "error", err, "id", evt.ID)
			return
		}
		c.emit(trade)

	case "book", "price_change", "tick_size_change", "last_trade_price", "best_bid_ask":
		// Heartbeat-bearing events we don't process.

	default:
		c.logger.Debug("unknown event type", "type", envelope.EventType)
	}
}

// emit forwards a trade to the consumer. If the buffer is full the oldest
// pending trade is discarded: the socket must keep draining, and stale
// trades are worth less than fresh ones.
func (c *Client) emit(trade types.Trade) {
	c.tradesReceived.Add(1)
	for {
		select {
		case c.tradeCh <- trade:
			return
		default:
			select {
			case <-c.tradeCh:
				c.dropped.Add(1)
			default:
			}
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(websocket.TextMessage, []byte("PING")); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(msgType int, data []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(msgType, data)
}

// normalizeTrade converts a wire event into the internal Trade. Price and
// size are parsed through decimal so the USD value is exact before the
// float conversion.
func normalizeTrade(evt types.WSTradeEvent) (types.Trade, error) {
	if evt.ID == "" || evt.AssetID == "" {
		return types.Trade{}, fmt.Errorf("missing id or asset_id")
	}

	price, err := decimal.NewFromString(evt.Price)
	if err != nil {
		return types.Trade{}, fmt.Errorf("price %q: %w", evt.Price, err)
	}
	size, err := decimal.NewFromString(evt.Size)
	if err != nil {
		return types.Trade{}, fmt.Errorf("size %q: %w", evt.Size, err)
	}
	if price.IsNegative() || price.GreaterThan(decimal.NewFromInt(1)) {
		return types.Trade{}, fmt.Errorf("price %s out of [0,1]", price)
	}
	if size.IsNegative() {
		return types.Trade{}, fmt.Errorf("negative size %s", size)
	}

	side := types.Side(strings.ToUpper(evt.Side))
	if side != types.BUY && side != types.SELL {
		return types.Trade{}, fmt.Errorf("unknown side %q", evt.Side)
	}

	// The wire encodes the millisecond timestamp as a string, like every
	// other numeric field on the channel.
	ts, err := strconv.ParseInt(evt.Timestamp, 10, 64)
	if err != nil {
		return types.Trade{}, fmt.Errorf("timestamp %q: %w", evt.Timestamp, err)
	}

	outcome := types.YES
	if strings.EqualFold(strings.TrimSpace(evt.Outcome), "no") {
		outcome = types.NO
	}

	return types.Trade{
		ID:        evt.ID,
		AssetID:   evt.AssetID,
		Side:      side,
		Outcome:   outcome,
		Price:     price.InexactFloat64(),
		Size:      size.InexactFloat64(),
		USDValue:  price.Mul(size).InexactFloat64(),
		Wallet:    strings.ToLower(evt.Taker),
		Timestamp: ts,
	}, nil
}
