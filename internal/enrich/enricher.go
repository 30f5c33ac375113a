// Package enrich adds display context to alerts before dispatch.
//
// Enrichment is best effort and happens on the dispatcher's side of the
// queue, never on the detection hot path: a slow or failing CLOB request
// can delay one alert's send but can never delay trade ingestion.
package enrich

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/himyeticapital/polytracker/internal/catalog"
	"github.com/himyeticapital/polytracker/pkg/types"
)

const midpointTimeout = 2 * time.Second

type midpointResponse struct {
	Mid string `json:"mid"`
}

// Enricher fills alert metadata from the catalog and fetches the current
// book midpoint from the CLOB API.
type Enricher struct {
	http   *resty.Client
	cat    *catalog.Catalog
	logger *slog.Logger
}

// New creates an enricher against the CLOB REST base URL.
func New(clobBaseURL string, cat *catalog.Catalog, logger *slog.Logger) *Enricher {
	client := resty.New().
		SetBaseURL(clobBaseURL).
		SetTimeout(midpointTimeout)

	return &Enricher{
		http:   client,
		cat:    cat,
		logger: logger.With("component", "enrich"),
	}
}

// Enrich fills in whatever the alert is missing. Catalog fields are
// authoritative when present; the midpoint fetch may fail silently, in
// which case HasMidpoint stays false and the sinks omit the field.
func (e *Enricher) Enrich(ctx context.Context, a types.Alert) types.Alert {
	if a.Title == "" || a.Slug == "" || a.EndTime.IsZero() {
		if meta, ok := e.cat.Lookup(a.Trade.AssetID); ok {
			if a.Title == "" {
				a.Title = meta.Title
			}
			if a.Slug == "" {
				a.Slug = meta.Slug
			}
			if a.EndTime.IsZero() {
				a.EndTime = meta.EndTime
			}
		}
	}

	if mid, ok := e.midpoint(ctx, a.Trade.AssetID); ok {
		a.Midpoint = mid
		a.HasMidpoint = true
	}

	return a
}

func (e *Enricher) midpoint(ctx context.Context, assetID string) (float64, bool) {
	var body midpointResponse
	resp, err := e.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", assetID).
		SetResult(&body).
		Get("/midpoint")
	if err != nil {
		e.logger.Debug("midpoint fetch failed", "asset_id", assetID, "error", err)
		return 0, false
	}
	if resp.StatusCode() != http.StatusOK || body.Mid == "" {
		return 0, false
	}

	mid, err := decimal.NewFromString(body.Mid)
	if err != nil {
		return 0, false
	}
	v := mid.InexactFloat64()
	if v < 0 || v > 1 {
		return 0, false
	}
	return v, true
}
