package alert

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/himyeticapital/polytracker/pkg/types"
)

const telegramAPIBase = "https://api.telegram.org"

type telegramPayload struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// TelegramSink sends alerts through the Telegram bot API as HTML messages.
type TelegramSink struct {
	http    *resty.Client
	sendURL string
	chatID  string
}

// NewTelegramSink creates a Telegram bot sink.
func NewTelegramSink(botToken, chatID string) *TelegramSink {
	return &TelegramSink{
		http:    resty.New().SetTimeout(sinkTimeout),
		sendURL: fmt.Sprintf("%s/bot%s/sendMessage", telegramAPIBase, botToken),
		chatID:  chatID,
	}
}

func (s *TelegramSink) Name() string { return "telegram" }

// Send posts the alert message. Retries are the dispatcher's concern.
func (s *TelegramSink) Send(ctx context.Context, a types.Alert) error {
	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(telegramPayload{
			ChatID:                s.chatID,
			Text:                  buildTelegramMessage(a),
			ParseMode:             "HTML",
			DisableWebPagePreview: true,
		}).
		Post(s.sendURL)
	return classifyResponse(resp, err)
}

func buildTelegramMessage(a types.Alert) string {
	t := a.Trade

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s ALERT: %s</b>\n\n", headerEmoji(a.Confidence), html.EscapeString(marketName(a)))

	fmt.Fprintf(&b, "<b>Side:</b> %s %s %s\n", t.Side, t.Outcome, sideEmoji(t.Side))
	fmt.Fprintf(&b, "<b>Price:</b> %.3f\n", t.Price)
	fmt.Fprintf(&b, "<b>Amount:</b> %s\n", formatUSD(t.USDValue))
	fmt.Fprintf(&b, "<b>Signals:</b> %s\n", html.EscapeString(signalNames(a)))

	if a.HasTxCount {
		fmt.Fprintf(&b, "<b>Wallet:</b> %d txs\n", a.TxCount)
	}
	if a.HasMidpoint {
		fmt.Fprintf(&b, "<b>Current:</b> %.0f%% %s\n", a.Midpoint*100, t.Outcome)
	}

	var links []string
	if u := marketURL(a); u != "" {
		links = append(links, fmt.Sprintf(`<a href="%s">view market</a>`, u))
	}
	if u := walletURL(a); u != "" {
		links = append(links, fmt.Sprintf(`<a href="%s">check wallet</a>`, u))
	}
	if len(links) > 0 {
		b.WriteString("\n" + strings.Join(links, " | "))
	}

	return b.String()
}
