// Package config defines all configuration for the tracker.
// Every tunable is read from the environment at startup; defaults match
// the published thresholds so an empty environment (plus sink credentials)
// is a working deployment.
package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration container.
type Config struct {
	API        APIConfig
	Blockchain BlockchainConfig
	Alerts     AlertConfig
	Filters    FilterConfig
	Logging    LoggingConfig
}

// APIConfig holds Polymarket endpoints and subscription sizing.
type APIConfig struct {
	WSURL        string // CLOB market-channel WebSocket
	GammaBaseURL string // market catalog REST API
	CLOBBaseURL  string // order book REST API (midpoint enrichment)

	MarketLimit          int // top-N markets by 24h volume to subscribe
	MaxReconnectAttempts int // 0 = reconnect forever
}

// BlockchainConfig holds the Polygon RPC endpoint for wallet lookups.
type BlockchainConfig struct {
	RPCURL string
}

// AlertConfig holds sink credentials and dispatcher pacing.
// Discord and Telegram are independent; either may be disabled by leaving
// its credentials empty, but at least one must be fully configured.
type AlertConfig struct {
	DiscordWebhookURL string
	TelegramBotToken  string
	TelegramChatID    string
	RatePerSecond     float64 // global leaky-bucket rate across both sinks
}

// FilterConfig tunes the filter pipeline and signal predicates.
//
//   - MinUSDSize: trades below this never reach detection.
//   - WhaleThresholdUSD / WhaleMultiplier: absolute and relative whale bounds.
//   - FreshWalletMaxTxs: tx-count ceiling for the burner-wallet signal.
//   - ClusterWindowSeconds / ClusterMinWallets: coordinated-buying window.
//   - LPDetectionWindowMS: opposite-outcome pairing window for LP rejection.
//   - TimingHoursThreshold: hours-to-close ceiling for the timing signal.
//   - OddsMovementThreshold: minimum |price − last_price| to flag a move.
//   - ContrarianConsensusThreshold / ContrarianMinSizeUSD: against-consensus bet.
//   - ExcludeMarketKeywords: case-insensitive title substrings to drop.
type FilterConfig struct {
	MinUSDSize                   float64
	WhaleThresholdUSD            float64
	WhaleMultiplier              float64
	FreshWalletMaxTxs            int
	ClusterWindowSeconds         int
	ClusterMinWallets            int
	LPDetectionWindowMS          int64
	TimingHoursThreshold         float64
	OddsMovementThreshold        float64
	ContrarianConsensusThreshold float64
	ContrarianMinSizeUSD         float64
	ExcludeMarketKeywords        []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("POLY_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market")
	v.SetDefault("GAMMA_BASE_URL", "https://gamma-api.polymarket.com")
	v.SetDefault("CLOB_BASE_URL", "https://clob.polymarket.com")
	v.SetDefault("MARKET_LIMIT", 100)
	v.SetDefault("MAX_RECONNECT_ATTEMPTS", 0)

	v.SetDefault("RPC_URL", "https://polygon-rpc.com")

	v.SetDefault("DISCORD_WEBHOOK_URL", "")
	v.SetDefault("TELEGRAM_BOT_TOKEN", "")
	v.SetDefault("TELEGRAM_CHAT_ID", "")
	v.SetDefault("ALERT_RATE_PER_SECOND", 1.0)

	v.SetDefault("MIN_USD_SIZE", 2000.0)
	v.SetDefault("WHALE_THRESHOLD_USD", 10000.0)
	v.SetDefault("WHALE_MULTIPLIER", 5.0)
	v.SetDefault("FRESH_WALLET_MAX_TXS", 10)
	v.SetDefault("CLUSTER_WINDOW_SECONDS", 60)
	v.SetDefault("CLUSTER_MIN_WALLETS", 3)
	v.SetDefault("LP_DETECTION_WINDOW_MS", 200)
	v.SetDefault("TIMING_HOURS_THRESHOLD", 24.0)
	v.SetDefault("ODDS_MOVEMENT_THRESHOLD", 0.05)
	v.SetDefault("CONTRARIAN_CONSENSUS_THRESHOLD", 0.70)
	v.SetDefault("CONTRARIAN_MIN_SIZE_USD", 5000.0)
	v.SetDefault("EXCLUDE_MARKET_KEYWORDS", "")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")

	cfg := &Config{
		API: APIConfig{
			WSURL:                v.GetString("POLY_WS_URL"),
			GammaBaseURL:         v.GetString("GAMMA_BASE_URL"),
			CLOBBaseURL:          v.GetString("CLOB_BASE_URL"),
			MarketLimit:          v.GetInt("MARKET_LIMIT"),
			MaxReconnectAttempts: v.GetInt("MAX_RECONNECT_ATTEMPTS"),
		},
		Blockchain: BlockchainConfig{
			RPCURL: v.GetString("RPC_URL"),
		},
		Alerts: AlertConfig{
			DiscordWebhookURL: v.GetString("DISCORD_WEBHOOK_URL"),
			TelegramBotToken:  v.GetString("TELEGRAM_BOT_TOKEN"),
			TelegramChatID:    v.GetString("TELEGRAM_CHAT_ID"),
			RatePerSecond:     v.GetFloat64("ALERT_RATE_PER_SECOND"),
		},
		Filters: FilterConfig{
			MinUSDSize:                   v.GetFloat64("MIN_USD_SIZE"),
			WhaleThresholdUSD:            v.GetFloat64("WHALE_THRESHOLD_USD"),
			WhaleMultiplier:              v.GetFloat64("WHALE_MULTIPLIER"),
			FreshWalletMaxTxs:            v.GetInt("FRESH_WALLET_MAX_TXS"),
			ClusterWindowSeconds:         v.GetInt("CLUSTER_WINDOW_SECONDS"),
			ClusterMinWallets:            v.GetInt("CLUSTER_MIN_WALLETS"),
			LPDetectionWindowMS:          v.GetInt64("LP_DETECTION_WINDOW_MS"),
			TimingHoursThreshold:         v.GetFloat64("TIMING_HOURS_THRESHOLD"),
			OddsMovementThreshold:        v.GetFloat64("ODDS_MOVEMENT_THRESHOLD"),
			ContrarianConsensusThreshold: v.GetFloat64("CONTRARIAN_CONSENSUS_THRESHOLD"),
			ContrarianMinSizeUSD:         v.GetFloat64("CONTRARIAN_MIN_SIZE_USD"),
			ExcludeMarketKeywords:        ParseKeywordList(v.GetString("EXCLUDE_MARKET_KEYWORDS")),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	return cfg, nil
}

// ParseKeywordList parses EXCLUDE_MARKET_KEYWORDS, which accepts either a
// JSON array (`["Sports","NBA"]`) or a comma-separated list (`Sports,NBA`).
// An empty value means accept every market.
func ParseKeywordList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	if strings.HasPrefix(value, "[") {
		var items []string
		if err := json.Unmarshal([]byte(value), &items); err == nil {
			return trimNonEmpty(items)
		}
	}

	return trimNonEmpty(strings.Split(value, ","))
}

func trimNonEmpty(items []string) []string {
	var out []string
	for _, item := range items {
		item = strings.Trim(strings.TrimSpace(item), `"'`)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks required fields and value ranges. Errors here abort
// startup with exit code 1.
func (c *Config) Validate() error {
	discordOK := c.Alerts.DiscordWebhookURL != ""
	telegramOK := c.Alerts.TelegramBotToken != "" && c.Alerts.TelegramChatID != ""

	if c.Alerts.TelegramBotToken != "" && c.Alerts.TelegramChatID == "" {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if c.Alerts.TelegramChatID != "" && c.Alerts.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required when TELEGRAM_CHAT_ID is set")
	}
	if !discordOK && !telegramOK {
		return fmt.Errorf("no alert sink configured: set DISCORD_WEBHOOK_URL and/or TELEGRAM_BOT_TOKEN + TELEGRAM_CHAT_ID")
	}

	if c.API.MarketLimit <= 0 {
		return fmt.Errorf("MARKET_LIMIT must be > 0")
	}
	if c.Alerts.RatePerSecond <= 0 {
		return fmt.Errorf("ALERT_RATE_PER_SECOND must be > 0")
	}
	if c.Filters.MinUSDSize < 0 {
		return fmt.Errorf("MIN_USD_SIZE must be >= 0")
	}
	if c.Filters.WhaleMultiplier <= 0 {
		return fmt.Errorf("WHALE_MULTIPLIER must be > 0")
	}
	if c.Filters.ClusterMinWallets < 2 {
		return fmt.Errorf("CLUSTER_MIN_WALLETS must be >= 2")
	}
	if c.Filters.ContrarianConsensusThreshold <= 0.5 || c.Filters.ContrarianConsensusThreshold > 1 {
		return fmt.Errorf("CONTRARIAN_CONSENSUS_THRESHOLD must be in (0.5, 1]")
	}
	return nil
}
