package calculator

import (
	"errors"

	"TradeSentinel/internal/model"
)

// CalculateSMA computes the simple moving average of the given prices over the specified period.
func CalculateSMA(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(prices) < period {
		return 0, errors.New("not enough data for SMA calculation")
	}
	return mean(prices[len(prices)-period:]), nil
}

// movingAverage returns the trailing SMA, or fallback when the window is not covered.
func movingAverage(prices []float64, period int, fallback float64) float64 {
	v, err := CalculateSMA(prices, period)
	if err != nil {
		return fallback
	}
	return v
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func extractCloses(bars []model.PriceBar) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}
