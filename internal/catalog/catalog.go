// Package catalog loads the market universe from the Gamma API at startup.
//
// The loader fetches active markets, ranks them by trailing 24-hour volume,
// truncates to the configured limit, and produces the immutable Catalog the
// rest of the pipeline works from: the WebSocket subscription set, the
// asset → market metadata lookup used by the filter, and the precomputed
// keyword-exclusion flags. The catalog endpoint being unreachable is a fatal
// startup error — the tracker does not run blind.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/himyeticapital/polytracker/internal/config"
	"github.com/himyeticapital/polytracker/pkg/types"
)

const (
	requestTimeout = 10 * time.Second
	retryCount     = 3
	retryWait      = time.Second
)

// GammaMarket is the JSON shape returned by the Gamma API.
type GammaMarket struct {
	ID           string  `json:"id"`
	Question     string  `json:"question"`
	Slug         string  `json:"slug"`
	EndDate      string  `json:"endDate"`
	Volume24hr   float64 `json:"volume24hr"`
	Outcomes     string  `json:"outcomes"`     // JSON array string, e.g. `["Yes","No"]`
	ClobTokenIds string  `json:"clobTokenIds"` // JSON array string of token IDs
}

// Catalog is the immutable startup snapshot of subscribed markets.
// Reads are lock-free; nothing mutates a Catalog after Load returns.
type Catalog struct {
	assets map[string]types.MarketMeta
	order  []string // asset IDs, volume-ranked, YES before NO per market
}

// NewStatic builds a catalog from prepared metadata, bypassing the Gamma
// fetch. Duplicate asset IDs keep the first entry.
func NewStatic(metas []types.MarketMeta) *Catalog {
	cat := &Catalog{assets: make(map[string]types.MarketMeta, len(metas))}
	for _, meta := range metas {
		if _, dup := cat.assets[meta.AssetID]; dup {
			continue
		}
		cat.assets[meta.AssetID] = meta
		cat.order = append(cat.order, meta.AssetID)
	}
	return cat
}

// Lookup returns metadata for an asset ID. ok is false for assets outside
// the subscribed universe.
func (c *Catalog) Lookup(assetID string) (types.MarketMeta, bool) {
	meta, ok := c.assets[assetID]
	return meta, ok
}

// AssetIDs returns the ordered subscription set.
func (c *Catalog) AssetIDs() []string {
	return c.order
}

// Len returns the number of subscribed assets.
func (c *Catalog) Len() int {
	return len(c.order)
}

// Loader fetches and ranks markets from the Gamma API.
type Loader struct {
	http     *resty.Client
	limit    int
	keywords []string // lowercased exclusion substrings
	logger   *slog.Logger
}

// NewLoader creates a catalog loader.
func NewLoader(cfg config.Config, logger *slog.Logger) *Loader {
	client := resty.New().
		SetBaseURL(cfg.API.GammaBaseURL).
		SetTimeout(requestTimeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(retryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	keywords := make([]string, 0, len(cfg.Filters.ExcludeMarketKeywords))
	for _, kw := range cfg.Filters.ExcludeMarketKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}

	return &Loader{
		http:     client,
		limit:    cfg.API.MarketLimit,
		keywords: keywords,
		logger:   logger.With("component", "catalog"),
	}
}

// Load fetches the top markets by 24h volume and builds the catalog.
func (l *Loader) Load(ctx context.Context) (*Catalog, error) {
	markets, err := l.fetchMarkets(ctx)
	if err != nil {
		return nil, err
	}

	// The API is asked for volume ordering, but rank client-side anyway:
	// the ordering contract is ours, not the server's.
	sort.SliceStable(markets, func(i, j int) bool {
		return markets[i].Volume24hr > markets[j].Volume24hr
	})
	if len(markets) > l.limit {
		markets = markets[:l.limit]
	}

	cat := &Catalog{assets: make(map[string]types.MarketMeta)}
	for _, m := range markets {
		for _, meta := range l.convertMarket(m) {
			if _, dup := cat.assets[meta.AssetID]; dup {
				continue
			}
			cat.assets[meta.AssetID] = meta
			cat.order = append(cat.order, meta.AssetID)
		}
	}

	if len(cat.order) == 0 {
		return nil, fmt.Errorf("catalog: no subscribable assets in top %d markets", l.limit)
	}

	l.logger.Info("catalog loaded",
		"markets", len(markets),
		"assets", len(cat.order),
		"excluded_keywords", len(l.keywords),
	)
	return cat, nil
}

func (l *Loader) fetchMarkets(ctx context.Context) ([]GammaMarket, error) {
	var markets []GammaMarket
	resp, err := l.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"closed":    "false",
			"active":    "true",
			"order":     "volume24hr",
			"ascending": "false",
			"limit":     strconv.Itoa(l.limit),
		}).
		SetResult(&markets).
		Get("/markets")
	if err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch markets: status %d: %s", resp.StatusCode(), resp.String())
	}
	return markets, nil
}

// convertMarket expands one Gamma market into per-token metadata entries.
// Markets with unparseable token IDs are skipped; an unparseable end date
// yields a zero EndTime (the timing signal then never fires for it).
func (l *Loader) convertMarket(m GammaMarket) []types.MarketMeta {
	var tokenIDs []string
	if err := json.Unmarshal([]byte(m.ClobTokenIds), &tokenIDs); err != nil || len(tokenIDs) == 0 {
		l.logger.Debug("skipping market without token IDs", "slug", m.Slug)
		return nil
	}

	var outcomes []string
	_ = json.Unmarshal([]byte(m.Outcomes), &outcomes)

	var endTime time.Time
	if m.EndDate != "" {
		if parsed, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
			endTime = parsed
		}
	}

	excluded := l.isExcluded(m.Question)

	metas := make([]types.MarketMeta, 0, len(tokenIDs))
	for i, tokenID := range tokenIDs {
		outcome := types.YES
		if i < len(outcomes) {
			if !strings.EqualFold(strings.TrimSpace(outcomes[i]), "yes") {
				outcome = types.NO
			}
		} else if i > 0 {
			outcome = types.NO
		}

		metas = append(metas, types.MarketMeta{
			AssetID:  tokenID,
			Title:    m.Question,
			Slug:     m.Slug,
			Outcome:  outcome,
			EndTime:  endTime,
			Excluded: excluded,
		})
	}
	return metas
}

func (l *Loader) isExcluded(title string) bool {
	lower := strings.ToLower(title)
	for _, kw := range l.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
