package calculator

import "TradeSentinel/internal/model"

// FullHistory is the number of bars needed for every indicator window.
const FullHistory = 120

// Compute derives the indicator snapshot from a chronological history.
// Shorter histories still produce a snapshot with neutral values where a window is not covered;
// ok reports whether the history was long enough for the full set.
func Compute(history []model.PriceBar) (snap model.IndicatorSnapshot, ok bool) {
	n := len(history)
	if n == 0 {
		return model.IndicatorSnapshot{}, false
	}
	closes := extractCloses(history)
	price := closes[n-1]

	snap.Bars = n
	snap.Price = price
	snap.PrevClose = price
	if n > 1 {
		snap.PrevClose = closes[n-2]
	}

	// Unavailable averages fall back to the price so "price above MA" stays false.
	snap.MA5 = movingAverage(closes, 5, price)
	snap.MA20 = movingAverage(closes, 20, price)
	snap.MA60 = movingAverage(closes, 60, price)
	snap.MA120 = movingAverage(closes, 120, price)
	snap.PrevMA5 = movingAverage(closes[:n-1], 5, snap.PrevClose)

	bands, err := CalculateBollinger(closes, 20, 2)
	if err != nil {
		bands = Bands{Upper: price, Middle: price, Lower: price}
	}
	snap.BBUpper, snap.BBMiddle, snap.BBLower = bands.Upper, bands.Middle, bands.Lower
	snap.BBPosition = bands.Position(price)

	snap.RSI = CalculateRSI(closes, 14)
	snap.MFI = CalculateMFI(history, 14)

	m := CalculateMACD(closes, 12, 26, 9)
	snap.MACD, snap.MACDSignal, snap.MACDHist = m.Line, m.Signal, m.Histogram

	d := CalculateADX(history, 14)
	snap.ADX, snap.PlusDI, snap.MinusDI = d.ADX, d.PlusDI, d.MinusDI

	obv := CalculateOBV(history)
	snap.OBV = obv[n-1]
	snap.OBVMA20 = movingAverage(obv, 20, snap.OBV)

	st := CalculateSlowStochastic(history, 14, 3)
	snap.SlowK, snap.SlowD, snap.PrevSlowK, snap.PrevSlowD = st.K, st.D, st.PrevK, st.PrevD

	return snap, n >= FullHistory
}
