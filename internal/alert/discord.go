package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/himyeticapital/polytracker/pkg/types"
)

const sinkTimeout = 10 * time.Second

// discordEmbed mirrors the webhook embed object. Only the fields the
// tracker uses are mapped.
type discordEmbed struct {
	Title  string         `json:"title"`
	URL    string         `json:"url,omitempty"`
	Color  int            `json:"color"`
	Fields []discordField `json:"fields"`
	Footer *discordFooter `json:"footer,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// DiscordSink posts alerts to a Discord webhook as rich embeds.
type DiscordSink struct {
	http       *resty.Client
	webhookURL string
}

// NewDiscordSink creates a Discord webhook sink.
func NewDiscordSink(webhookURL string) *DiscordSink {
	return &DiscordSink{
		http:       resty.New().SetTimeout(sinkTimeout),
		webhookURL: webhookURL,
	}
}

func (s *DiscordSink) Name() string { return "discord" }

// Send posts the alert embed. Retries are the dispatcher's concern.
func (s *DiscordSink) Send(ctx context.Context, a types.Alert) error {
	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(discordPayload{Embeds: []discordEmbed{buildEmbed(a)}}).
		Post(s.webhookURL)
	return classifyResponse(resp, err)
}

func buildEmbed(a types.Alert) discordEmbed {
	t := a.Trade

	color := colorMedium
	if a.Confidence == types.ConfidenceHigh {
		color = colorHigh
	}

	fields := []discordField{
		{
			Name: "Trade",
			Value: fmt.Sprintf("%s **%s %s** @ %.3f\n**%s** (%.0f shares)",
				sideEmoji(t.Side), t.Side, t.Outcome, t.Price, formatUSD(t.USDValue), t.Size),
			Inline: true,
		},
		{
			Name:   "Signals",
			Value:  signalLines(a),
			Inline: true,
		},
	}

	if t.Wallet != "" {
		value := "`" + shortWallet(t.Wallet) + "`"
		if a.HasTxCount {
			value += fmt.Sprintf("\n%d transactions", a.TxCount)
		}
		fields = append(fields, discordField{Name: "Wallet", Value: value, Inline: true})
	}

	if a.HasMidpoint {
		fields = append(fields, discordField{
			Name:   "Current Odds",
			Value:  fmt.Sprintf("%s: %.0f%% | %s: %.0f%%", a.Trade.Outcome, a.Midpoint*100, a.Trade.Outcome.Opposite(), (1-a.Midpoint)*100),
			Inline: false,
		})
	}

	if !a.EndTime.IsZero() {
		fields = append(fields, discordField{
			Name:   "Resolves",
			Value:  a.EndTime.UTC().Format("2006-01-02 15:04 UTC"),
			Inline: false,
		})
	}

	return discordEmbed{
		Title:  headerEmoji(a.Confidence) + " " + marketName(a),
		URL:    marketURL(a),
		Color:  color,
		Fields: fields,
		Footer: &discordFooter{
			Text: fmt.Sprintf("Confidence: %s | %s", a.Confidence, formatUTC(t.Timestamp)),
		},
	}
}
