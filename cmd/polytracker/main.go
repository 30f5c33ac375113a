// PolyTracker — real-time surveillance of Polymarket CLOB trades for
// patterns consistent with informed trading.
//
// Architecture:
//
//	main.go              — entry point: config, wiring, signals, periodic stats
//	catalog/catalog.go   — loads the top-N markets by volume from the Gamma API
//	feed/feed.go         — WebSocket trade stream with stateful auto-reconnect
//	detect/filter.go     — three-stage reject chain (catalog, size, LP pairing)
//	detect/signals.go    — six signal predicates over per-market statistics
//	detect/detector.go   — single-writer detection loop, owns all market state
//	wallet/wallet.go     — async on-chain tx-count lookups with a TTL cache
//	enrich/enricher.go   — best-effort midpoint and metadata fill at dispatch
//	alert/dispatcher.go  — dedup, pacing, retries, Discord + Telegram delivery
//
// Exit codes: 0 clean shutdown, 1 startup failure (config or catalog),
// 2 reconnect budget exhausted at runtime.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/himyeticapital/polytracker/internal/alert"
	"github.com/himyeticapital/polytracker/internal/catalog"
	"github.com/himyeticapital/polytracker/internal/config"
	"github.com/himyeticapital/polytracker/internal/detect"
	"github.com/himyeticapital/polytracker/internal/enrich"
	"github.com/himyeticapital/polytracker/internal/feed"
	"github.com/himyeticapital/polytracker/internal/wallet"
	"github.com/himyeticapital/polytracker/pkg/types"
)

const statsInterval = 5 * time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		return 1
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.NewLoader(*cfg, logger).Load(ctx)
	if err != nil {
		logger.Error("failed to load catalog", "error", err)
		return 1
	}

	var sinks []alert.Sender
	if cfg.Alerts.DiscordWebhookURL != "" {
		sinks = append(sinks, alert.NewDiscordSink(cfg.Alerts.DiscordWebhookURL))
	}
	if cfg.Alerts.TelegramBotToken != "" && cfg.Alerts.TelegramChatID != "" {
		sinks = append(sinks, alert.NewTelegramSink(cfg.Alerts.TelegramBotToken, cfg.Alerts.TelegramChatID))
	}

	enricher := enrich.New(cfg.API.CLOBBaseURL, cat, logger)
	dispatcher := alert.NewDispatcher(sinks, enricher, cfg.Alerts.RatePerSecond, logger)

	if os.Getenv("SEND_TEST_ALERT") == "1" {
		return sendTestAlert(dispatcher, logger)
	}

	fetcher, err := wallet.NewFetcher(cfg.Blockchain.RPCURL, logger)
	if err != nil {
		logger.Error("failed to create wallet fetcher", "error", err)
		return 1
	}

	detector := detect.NewDetector(cfg.Filters, cat, fetcher, dispatcher, logger)
	stream := feed.New(cfg.API.WSURL, cat.AssetIDs(), cfg.API.MaxReconnectAttempts, logger)

	// The dispatcher outlives the other stages so queued alerts drain
	// during shutdown.
	dispCtx, dispCancel := context.WithCancel(context.Background())
	var dispWG sync.WaitGroup
	dispWG.Add(1)
	go func() {
		defer dispWG.Done()
		dispatcher.Run(dispCtx)
	}()

	go fetcher.Run(ctx)
	go detector.Run(ctx, stream.Trades())
	go statsLoop(ctx, logger, stream, detector, dispatcher)

	feedErr := make(chan error, 1)
	go func() {
		feedErr <- stream.Run(ctx)
	}()

	logger.Info("polytracker started",
		"markets", cat.Len(),
		"sinks", len(sinks),
		"min_usd_size", cfg.Filters.MinUSDSize,
	)

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-feedErr:
		if err != nil {
			logger.Error("trade stream unrecoverable", "error", err)
			exitCode = 2
		}
	}

	stop()
	stream.Close()
	dispCancel()
	dispWG.Wait()

	logger.Info("polytracker stopped")
	return exitCode
}

// sendTestAlert pushes one synthetic alert through the full dispatch path
// so sink credentials can be verified without waiting for a real signal.
func sendTestAlert(dispatcher *alert.Dispatcher, logger *slog.Logger) int {
	logger.Info("sending test alert")

	now := time.Now()
	dispatcher.Enqueue(types.Alert{
		Trade: types.Trade{
			ID:        "test-alert",
			AssetID:   "0",
			Side:      types.BUY,
			Outcome:   types.YES,
			Price:     0.42,
			Size:      30000,
			USDValue:  12600,
			Wallet:    "0x0000000000000000000000000000000000000000",
			Timestamp: now.UnixMilli(),
		},
		Signals: []types.Signal{
			{Kind: types.SignalWhale},
			{Kind: types.SignalFreshWallet, TxCount: 3},
		},
		Confidence: types.ConfidenceHigh,
		Title:      "PolyTracker test alert",
		Slug:       "",
		EndTime:    now.Add(12 * time.Hour),
	})

	// Cancel immediately: Run delivers the queued alert during its drain
	// window and returns once the sinks have answered.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dispatcher.Run(ctx)

	stats := dispatcher.Snapshot()
	logger.Info("test alert done", "sent", stats.Sent, "failed", stats.Failed)
	if stats.Failed > 0 || stats.Sent == 0 {
		return 1
	}
	return 0
}

func statsLoop(ctx context.Context, logger *slog.Logger, stream *feed.Client, detector *detect.Detector, dispatcher *alert.Dispatcher) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fs := stream.Stats()
			ds := detector.Snapshot()
			as := dispatcher.Snapshot()
			logger.Info("pipeline stats",
				"state", stream.State().String(),
				"messages", fs.MessagesReceived,
				"trades", fs.TradesReceived,
				"malformed", fs.Malformed,
				"feed_dropped", fs.Dropped,
				"reconnects", fs.Reconnects,
				"filtered", ds.Rejected,
				"filtered_by", ds.RejectedBy,
				"signals_by_kind", ds.SignalsByKind,
				"alerts", ds.Alerts,
				"markets_active", ds.Markets,
				"wallets_cached", ds.WalletsCached,
				"alerts_sent", as.Sent,
				"alerts_deduped", as.Deduped,
				"alerts_failed", as.Failed,
				"queue", as.Queued,
				"queue_shed", as.Shed,
			)
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
