package calculator

import "TradeSentinel/internal/model"

// CalculateOBV returns the on-balance volume series, starting at zero.
func CalculateOBV(bars []model.PriceBar) []float64 {
	obv := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		obv[i] = obv[i-1]
		switch {
		case bars[i].Close > bars[i-1].Close:
			obv[i] += bars[i].Volume
		case bars[i].Close < bars[i-1].Close:
			obv[i] -= bars[i].Volume
		}
	}
	return obv
}
