package calculator

// MACD holds the latest MACD line, signal line and histogram.
type MACD struct {
	Line      float64
	Signal    float64
	Histogram float64
}

// CalculateMACD computes EMA(fast)-EMA(slow) and its EMA(signal).
// Returns zeros until slow+signal-1 closes are available.
func CalculateMACD(closes []float64, fast, slow, signal int) MACD {
	if fast <= 0 || slow <= fast || signal <= 0 || len(closes) < slow+signal-1 {
		return MACD{}
	}
	f := emaSeries(closes, fast)
	s := emaSeries(closes, slow)
	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = f[i] - s[i]
	}
	sig := emaSeries(line, signal)
	last := len(closes) - 1
	return MACD{Line: line[last], Signal: sig[last], Histogram: line[last] - sig[last]}
}

// emaSeries is an exponential moving average seeded with the first value.
func emaSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}
