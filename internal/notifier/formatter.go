package notifier

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"TradeSentinel/internal/model"
)

// FormatBuy formats a filled entry order.
func FormatBuy(e model.Execution) Message {
	return Message{
		Title: fmt.Sprintf("📈 BUY %s %s", e.Code, e.Name),
		Text:  fmt.Sprintf("Bought %d shares at %s", e.Quantity, won(e.Price)),
		Color: ColorGood,
		Fields: []Field{
			{Title: "Amount", Value: won(e.Price * float64(e.Quantity)), Short: true},
			{Title: "Order", Value: e.OrderNo, Short: true},
			{Title: "Reasons", Value: e.Reason},
		},
	}
}

// FormatSell formats a filled exit order with its realized result.
func FormatSell(e model.Execution) Message {
	color := ColorGood
	if e.RealizedPL < 0 {
		color = ColorDanger
	}
	return Message{
		Title: fmt.Sprintf("📉 SELL %s %s (%s)", e.Code, e.Name, e.Reason),
		Text:  fmt.Sprintf("Sold %d shares at %s", e.Quantity, won(e.Price)),
		Color: color,
		Fields: []Field{
			{Title: "Realized P/L", Value: won(e.RealizedPL), Short: true},
			{Title: "Return", Value: pct(e.Return), Short: true},
		},
	}
}

// FormatScan summarizes one scan cycle: how many candidates were analyzed and the buy signals.
func FormatScan(analyzed int, signals []model.Signal) Message {
	var b strings.Builder
	buys := 0
	for _, s := range signals {
		if !s.Buy {
			continue
		}
		buys++
		c := s.Candidate
		fmt.Fprintf(&b, "• %s %s %s [%s] ADX %.1f RSI %.1f\n",
			c.Code, c.Name, won(c.Quote.Price), s.ReasonText(), c.Indicators.ADX, c.Indicators.RSI)
	}
	if buys == 0 {
		b.WriteString("No buy signals")
	}
	return Message{
		Title: fmt.Sprintf("🔎 Scan: %d analyzed, %d admitted, %d buy", analyzed, len(signals), buys),
		Text:  strings.TrimRight(b.String(), "\n"),
		Color: ColorGood,
	}
}

// FormatSummary formats the end-of-day report of open positions and the day's executions.
func FormatSummary(day time.Time, positions []model.Position, executions []model.Execution) Message {
	var b strings.Builder
	if len(positions) == 0 {
		b.WriteString("No open positions\n")
	}
	unrealized := decimal.Zero
	for _, p := range positions {
		unrealized = unrealized.Add(decimal.NewFromFloat(p.UnrealizedPL))
		fmt.Fprintf(&b, "• %s %s x%d  %s → %s  %s\n",
			p.Code, p.Name, p.Quantity, won(p.EntryPrice), won(p.CurrentPrice), pct(p.UnrealizedReturn))
	}

	realized := decimal.Zero
	buys, sells, wins := 0, 0, 0
	for _, e := range executions {
		if e.Side == model.Buy {
			buys++
			continue
		}
		sells++
		realized = realized.Add(decimal.NewFromFloat(e.RealizedPL))
		if e.RealizedPL > 0 {
			wins++
		}
	}
	unrealizedF, _ := unrealized.Float64()
	realizedF, _ := realized.Float64()

	return Message{
		Title: fmt.Sprintf("📅 Daily summary | %s", day.Format("2006-01-02")),
		Text:  strings.TrimRight(b.String(), "\n"),
		Color: ColorGood,
		Fields: []Field{
			{Title: "Positions", Value: strconv.Itoa(len(positions)), Short: true},
			{Title: "Unrealized P/L", Value: won(unrealizedF), Short: true},
			{Title: "Trades", Value: fmt.Sprintf("%d buy / %d sell", buys, sells), Short: true},
			{Title: "Realized P/L", Value: won(realizedF), Short: true},
			{Title: "Wins", Value: fmt.Sprintf("%d/%d", wins, sells), Short: true},
		},
	}
}

// FormatError formats a failed stage of a cycle.
func FormatError(stage string, err error) Message {
	return Message{
		Title: "🚨 " + stage + " failed",
		Text:  fmt.Sprintf("```%v```", err),
		Color: ColorDanger,
	}
}

// FormatDeploy formats a start or stop notice.
func FormatDeploy(event string, paper bool) Message {
	mode := "real"
	if paper {
		mode = "paper"
	}
	color := ColorGood
	if event != "started" {
		color = ColorWarning
	}
	return Message{
		Title: "🚀 TradeSentinel " + event,
		Text:  fmt.Sprintf("Trading mode: %s", mode),
		Color: color,
	}
}

func pct(ret float64) string {
	return fmt.Sprintf("%+.2f%%", ret*100)
}

// won renders an amount as whole won with thousands separators.
func won(v float64) string {
	s := decimal.NewFromFloat(v).Round(0).String()
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + "원"
	if neg {
		return "-" + out
	}
	return out
}
