package portfolio

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"TradeSentinel/internal/model"
)

// Rules configure sizing and exits. Returns are fractions: -0.03 is -3%.
type Rules struct {
	MaxPositions        int
	StopLoss            float64 // exit when return <= StopLoss
	TakeProfit          float64 // exit when return >= TakeProfit
	TrailingStop        float64 // exit when the drop from the high-water mark >= TrailingStop
	TrailingActivation  float64 // trailing stop armed once the peak return exceeds this
	MinOrderValue       float64
	MaxPositionFraction float64 // cap per name as a fraction of available cash
	LiquidationWindow   time.Duration
	BreakEvenBand       float64       // positions within +-band are held through the close
	MarketClose         time.Duration // offset from local midnight
	Location            *time.Location
}

// DefaultRules returns the production defaults.
func DefaultRules() Rules {
	return Rules{
		MaxPositions:        5,
		StopLoss:            -0.03,
		TakeProfit:          0.05,
		TrailingStop:        0.02,
		TrailingActivation:  0.02,
		MinOrderValue:       50000,
		MaxPositionFraction: 0.3,
		LiquidationWindow:   10 * time.Minute,
		BreakEvenBand:       0.01,
		MarketClose:         15*time.Hour + 20*time.Minute,
		Location:            time.FixedZone("KST", 9*60*60),
	}
}

// eps absorbs float noise at the thresholds; boundaries are inclusive.
const eps = 1e-9

// EvaluateExit checks the exit triggers in priority order: stop-loss, take-profit,
// trailing stop, time liquidation. The first match wins.
func (r Rules) EvaluateExit(p model.Position, now time.Time) (model.ExitReason, bool) {
	ret := p.UnrealizedReturn
	switch {
	case ret <= r.StopLoss+eps:
		return model.ExitStopLoss, true
	case ret >= r.TakeProfit-eps:
		return model.ExitTakeProfit, true
	case r.trailingArmed(p) && drawdown(p) >= r.TrailingStop-eps:
		return model.ExitTrailingStop, true
	case r.InLiquidationWindow(now) && math.Abs(ret) >= r.BreakEvenBand:
		return model.ExitTimeLiquidation, true
	}
	return "", false
}

func (r Rules) trailingArmed(p model.Position) bool {
	return p.TrailingArmed || peakReturn(p) > r.TrailingActivation+eps
}

// InLiquidationWindow reports whether now falls in the final window before the close.
func (r Rules) InLiquidationWindow(now time.Time) bool {
	if r.LiquidationWindow <= 0 {
		return false
	}
	loc := r.Location
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	closeAt := midnight.Add(r.MarketClose)
	return !local.Before(closeAt.Add(-r.LiquidationWindow)) && local.Before(closeAt)
}

// SizeOrder divides cash across the free slots, caps it per name, floors it at the
// minimum order value (never above cash) and converts it to whole shares.
func (r Rules) SizeOrder(cash, price float64, held int) int64 {
	slots := r.MaxPositions - held
	if slots <= 0 || cash <= 0 || price <= 0 {
		return 0
	}
	available := decimal.NewFromFloat(cash)
	size := available.Div(decimal.NewFromInt(int64(slots)))
	if r.MaxPositionFraction > 0 {
		if limit := available.Mul(decimal.NewFromFloat(r.MaxPositionFraction)); size.GreaterThan(limit) {
			size = limit
		}
	}
	if floor := decimal.NewFromFloat(r.MinOrderValue); size.LessThan(floor) {
		size = floor
	}
	if size.GreaterThan(available) {
		size = available
	}
	return size.Div(decimal.NewFromFloat(price)).Floor().IntPart()
}

// profit returns the P/L and return of qty shares bought at entry and valued at price.
func profit(entry, price float64, qty int64) (pl, ret float64) {
	e := decimal.NewFromFloat(entry)
	diff := decimal.NewFromFloat(price).Sub(e)
	pl, _ = diff.Mul(decimal.NewFromInt(qty)).Float64()
	if e.IsPositive() {
		ret, _ = diff.Div(e).Float64()
	}
	return pl, ret
}

func peakReturn(p model.Position) float64 {
	_, ret := profit(p.EntryPrice, p.HighWaterMark, p.Quantity)
	return ret
}

// drawdown is the fractional drop of the current price from the high-water mark.
func drawdown(p model.Position) float64 {
	if p.HighWaterMark <= 0 {
		return 0
	}
	return (p.HighWaterMark - p.CurrentPrice) / p.HighWaterMark
}
