package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/himyeticapital/polytracker/pkg/types"
)

// Discord embed colors.
const (
	colorHigh   = 15158332 // red
	colorMedium = 15105570 // orange
)

func headerEmoji(c types.Confidence) string {
	if c == types.ConfidenceHigh {
		return "🚨"
	}
	return "⚠️"
}

func sideEmoji(s types.Side) string {
	if s == types.BUY {
		return "📈"
	}
	return "📉"
}

func marketURL(a types.Alert) string {
	if a.Slug == "" {
		return ""
	}
	return "https://polymarket.com/event/" + a.Slug
}

func walletURL(a types.Alert) string {
	if a.Trade.Wallet == "" {
		return ""
	}
	return "https://polygonscan.com/address/" + a.Trade.Wallet
}

func marketName(a types.Alert) string {
	if a.Title != "" {
		return a.Title
	}
	id := a.Trade.AssetID
	if len(id) > 16 {
		id = id[:16] + "..."
	}
	return "Market " + id
}

func shortWallet(wallet string) string {
	if wallet == "" {
		return "unknown"
	}
	if len(wallet) > 10 {
		return wallet[:10] + "..."
	}
	return wallet
}

// signalLine renders one signal with its evidence for display.
func signalLine(s types.Signal) string {
	switch s.Kind {
	case types.SignalWhale:
		if s.Multiplier > 0 {
			return fmt.Sprintf("🐋 Whale Trade (%.1f× market avg)", s.Multiplier)
		}
		return "🐋 Whale Trade"
	case types.SignalFreshWallet:
		return fmt.Sprintf("✨ Fresh Wallet (%d txs)", s.TxCount)
	case types.SignalCluster:
		return fmt.Sprintf("👥 Cluster (%d wallets)", s.ClusterSize)
	case types.SignalTiming:
		return fmt.Sprintf("⏰ Near Close (%.1fh left)", s.HoursToClose)
	case types.SignalOddsMove:
		return fmt.Sprintf("📊 Odds Move (Δ%.2f)", s.PriceDelta)
	case types.SignalContrarian:
		return fmt.Sprintf("🔄 Contrarian (consensus %.0f%% YES)", s.ConsensusYes*100)
	default:
		return string(s.Kind)
	}
}

func signalLines(a types.Alert) string {
	lines := make([]string, len(a.Signals))
	for i, s := range a.Signals {
		lines[i] = signalLine(s)
	}
	return strings.Join(lines, "\n")
}

func signalNames(a types.Alert) string {
	names := make([]string, len(a.Signals))
	for i, s := range a.Signals {
		names[i] = string(s.Kind)
	}
	return strings.Join(names, " + ")
}

func formatUTC(ts int64) string {
	return time.UnixMilli(ts).UTC().Format("15:04:05 UTC")
}

// formatUSD renders a dollar amount with thousands separators, no cents.
func formatUSD(v float64) string {
	if v < 0 {
		v = 0
	}
	digits := fmt.Sprintf("%.0f", v)
	var b strings.Builder
	b.WriteByte('$')
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
		if len(digits) > lead {
			b.WriteByte(',')
		}
	}
	for i := lead; i < len(digits); i += 3 {
		b.WriteString(digits[i : i+3])
		if i+3 < len(digits) {
			b.WriteByte(',')
		}
	}
	return b.String()
}
