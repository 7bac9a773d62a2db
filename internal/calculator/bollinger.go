package calculator

import (
	"errors"
	"math"
)

// Bands are Bollinger bands around a moving average.
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// CalculateBollinger returns the period SMA plus and minus k population standard deviations.
func CalculateBollinger(closes []float64, period int, k float64) (Bands, error) {
	middle, err := CalculateSMA(closes, period)
	if err != nil {
		return Bands{}, err
	}
	if period < 2 {
		return Bands{}, errors.New("bollinger period must be at least 2")
	}
	var sq float64
	for _, c := range closes[len(closes)-period:] {
		d := c - middle
		sq += d * d
	}
	sd := math.Sqrt(sq / float64(period))
	return Bands{Upper: middle + k*sd, Middle: middle, Lower: middle - k*sd}, nil
}

// Position returns (price-lower)/(upper-lower), 0.5 when the bands have collapsed.
func (b Bands) Position(price float64) float64 {
	return rangePosition(price, b.Upper, b.Lower)
}
