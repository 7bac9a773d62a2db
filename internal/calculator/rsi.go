package calculator

// Neutral is the value reported by bounded oscillators when their window is not covered.
const Neutral = 50.0

// CalculateRSI computes RSI from the mean gain and mean loss of the last period close-to-close changes.
// Requires period+1 closes; returns Neutral otherwise.
func CalculateRSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return Neutral
	}
	var gain, loss float64
	for i := len(closes) - period; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	return oscillator(gain, loss)
}

// oscillator maps an up/down ratio onto 0..100. Sums and means give the same ratio.
func oscillator(up, down float64) float64 {
	switch {
	case up == 0 && down == 0:
		return Neutral
	case down == 0:
		return 100
	}
	return 100 - 100/(1+up/down)
}
