package calculator

import (
	"math"

	"TradeSentinel/internal/model"
)

// windowRange returns the highest high and lowest low of the period bars ending at index end.
func windowRange(bars []model.PriceBar, end, period int) (high, low float64, ok bool) {
	start := end - period + 1
	if period <= 0 || start < 0 || end >= len(bars) {
		return 0, 0, false
	}
	high = math.Inf(-1)
	low = math.Inf(1)
	for i := start; i <= end; i++ {
		if bars[i].High > high {
			high = bars[i].High
		}
		if bars[i].Low < low {
			low = bars[i].Low
		}
	}
	return high, low, true
}

// rangePosition returns where v sits between low and high; 0.5 for an empty range.
func rangePosition(v, high, low float64) float64 {
	if high <= low {
		return 0.5
	}
	return (v - low) / (high - low)
}
