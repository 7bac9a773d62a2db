package calculator

import (
	"math"

	"TradeSentinel/internal/model"
)

// Directional holds ADX and the directional indicators of the last bar.
type Directional struct {
	ADX     float64
	PlusDI  float64
	MinusDI float64
}

// CalculateADX computes ADX using simple period averages of true range and directional movement.
// Needs 2*period bars; returns zeros otherwise.
func CalculateADX(bars []model.PriceBar, period int) Directional {
	n := len(bars)
	if period <= 0 || n < 2*period {
		return Directional{}
	}
	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		cur, prev := bars[i], bars[i-1]
		up := cur.High - prev.High
		down := prev.Low - cur.Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
		tr[i] = math.Max(cur.High-cur.Low, math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
	}

	var out Directional
	dx := make([]float64, n)
	for i := period; i < n; i++ {
		lo, hi := i-period+1, i+1
		atr := mean(tr[lo:hi])
		var pdi, mdi float64
		if atr > 0 {
			pdi = 100 * mean(plusDM[lo:hi]) / atr
			mdi = 100 * mean(minusDM[lo:hi]) / atr
		}
		if sum := pdi + mdi; sum > 0 {
			dx[i] = 100 * math.Abs(pdi-mdi) / sum
		}
		out.PlusDI, out.MinusDI = pdi, mdi
	}
	out.ADX = mean(dx[n-period:])
	return out
}
