package calculator

import "TradeSentinel/internal/model"

// Stochastic holds slow %K/%D for the last two bars.
type Stochastic struct {
	K     float64
	D     float64
	PrevK float64
	PrevD float64
}

// CalculateSlowStochastic computes slow %K (smoothed fast %K) and slow %D for the last and prior bar.
// All four values are Neutral until the prior bar's slow %D is defined.
func CalculateSlowStochastic(bars []model.PriceBar, kPeriod, smooth int) Stochastic {
	neutral := Stochastic{K: Neutral, D: Neutral, PrevK: Neutral, PrevD: Neutral}
	n := len(bars)
	firstK := kPeriod - 1
	firstSlowK := firstK + smooth - 1
	firstSlowD := firstSlowK + smooth - 1
	if kPeriod <= 0 || smooth <= 0 || n < firstSlowD+2 {
		return neutral
	}

	fastK := make([]float64, n)
	for i := firstK; i < n; i++ {
		high, low, _ := windowRange(bars, i, kPeriod)
		fastK[i] = 100 * rangePosition(bars[i].Close, high, low)
	}
	slowK := make([]float64, n)
	for i := firstSlowK; i < n; i++ {
		slowK[i] = mean(fastK[i-smooth+1 : i+1])
	}
	slowD := make([]float64, n)
	for i := firstSlowD; i < n; i++ {
		slowD[i] = mean(slowK[i-smooth+1 : i+1])
	}
	return Stochastic{K: slowK[n-1], D: slowD[n-1], PrevK: slowK[n-2], PrevD: slowD[n-2]}
}
