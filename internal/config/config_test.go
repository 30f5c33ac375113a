package config

import (
	"reflect"
	"testing"
)

func validConfig() *Config {
	return &Config{
		API: APIConfig{
			WSURL:        "wss://example.com/ws/market",
			GammaBaseURL: "https://gamma.example.com",
			CLOBBaseURL:  "https://clob.example.com",
			MarketLimit:  100,
		},
		Alerts: AlertConfig{
			DiscordWebhookURL: "https://discord.com/api/webhooks/1/x",
			RatePerSecond:     1,
		},
		Filters: FilterConfig{
			MinUSDSize:                   2000,
			WhaleThresholdUSD:            10000,
			WhaleMultiplier:              5,
			FreshWalletMaxTxs:            10,
			ClusterWindowSeconds:         60,
			ClusterMinWallets:            3,
			LPDetectionWindowMS:          200,
			TimingHoursThreshold:         24,
			OddsMovementThreshold:        0.05,
			ContrarianConsensusThreshold: 0.70,
			ContrarianMinSizeUSD:         5000,
		},
	}
}

func TestParseKeywordList(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"Sports", []string{"Sports"}},
		{"Sports,NBA, NFL ", []string{"Sports", "NBA", "NFL"}},
		{`["Sports","NBA"]`, []string{"Sports", "NBA"}},
		{`["Sports", ""]`, []string{"Sports"}},
		{"a,,b", []string{"a", "b"}},
	}
	for _, c := range cases {
		if got := ParseKeywordList(c.in); !reflect.DeepEqual(got, c.want) {
			t.Errorf("ParseKeywordList(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.MarketLimit != 100 {
		t.Errorf("MarketLimit = %d, want 100", cfg.API.MarketLimit)
	}
	if cfg.Filters.MinUSDSize != 2000 {
		t.Errorf("MinUSDSize = %v, want 2000", cfg.Filters.MinUSDSize)
	}
	if cfg.Filters.LPDetectionWindowMS != 200 {
		t.Errorf("LPDetectionWindowMS = %v, want 200", cfg.Filters.LPDetectionWindowMS)
	}
	if cfg.Alerts.RatePerSecond != 1.0 {
		t.Errorf("RatePerSecond = %v, want 1", cfg.Alerts.RatePerSecond)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MIN_USD_SIZE", "500")
	t.Setenv("MARKET_LIMIT", "25")
	t.Setenv("EXCLUDE_MARKET_KEYWORDS", "Sports,NBA")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Filters.MinUSDSize != 500 {
		t.Errorf("MinUSDSize = %v, want 500", cfg.Filters.MinUSDSize)
	}
	if cfg.API.MarketLimit != 25 {
		t.Errorf("MarketLimit = %d, want 25", cfg.API.MarketLimit)
	}
	if !reflect.DeepEqual(cfg.Filters.ExcludeMarketKeywords, []string{"Sports", "NBA"}) {
		t.Errorf("ExcludeMarketKeywords = %v", cfg.Filters.ExcludeMarketKeywords)
	}
}

func TestValidateAccepts(t *testing.T) {
	t.Parallel()
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateRequiresASink(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Alerts.DiscordWebhookURL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error with no sink configured")
	}
}

func TestValidateTelegramPairs(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Alerts.TelegramBotToken = "tok"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for bot token without chat id")
	}

	cfg = validConfig()
	cfg.Alerts.TelegramChatID = "42"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for chat id without bot token")
	}

	cfg = validConfig()
	cfg.Alerts.DiscordWebhookURL = ""
	cfg.Alerts.TelegramBotToken = "tok"
	cfg.Alerts.TelegramChatID = "42"
	if err := cfg.Validate(); err != nil {
		t.Errorf("telegram-only config rejected: %v", err)
	}
}

func TestValidateRanges(t *testing.T) {
	t.Parallel()

	mutations := []func(*Config){
		func(c *Config) { c.API.MarketLimit = 0 },
		func(c *Config) { c.Alerts.RatePerSecond = 0 },
		func(c *Config) { c.Filters.MinUSDSize = -1 },
		func(c *Config) { c.Filters.WhaleMultiplier = 0 },
		func(c *Config) { c.Filters.ClusterMinWallets = 1 },
		func(c *Config) { c.Filters.ContrarianConsensusThreshold = 0.5 },
		func(c *Config) { c.Filters.ContrarianConsensusThreshold = 1.1 },
	}
	for i, mutate := range mutations {
		cfg := validConfig()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("mutation %d: expected validation error", i)
		}
	}
}
