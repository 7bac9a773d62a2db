package calculator

import "TradeSentinel/internal/model"

// CalculateMFI computes the money flow index over the last period bars.
// Flow is positive when the typical price rose against the prior bar, negative when it fell.
func CalculateMFI(bars []model.PriceBar, period int) float64 {
	n := len(bars)
	if period <= 0 || n < period+1 {
		return Neutral
	}
	var positive, negative float64
	for i := n - period; i < n; i++ {
		tp := typicalPrice(bars[i])
		prev := typicalPrice(bars[i-1])
		flow := tp * bars[i].Volume
		switch {
		case tp > prev:
			positive += flow
		case tp < prev:
			negative += flow
		}
	}
	return oscillator(positive, negative)
}

func typicalPrice(b model.PriceBar) float64 {
	return (b.High + b.Low + b.Close) / 3
}
