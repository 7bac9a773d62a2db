package model

// IndicatorSnapshot holds the technical indicators of one stock computed from its daily history.
// Values whose window is not covered by the history hold neutral defaults.
type IndicatorSnapshot struct {
	Bars      int
	Price     float64
	PrevClose float64

	MA5     float64
	MA20    float64
	MA60    float64
	MA120   float64
	PrevMA5 float64

	BBUpper    float64
	BBMiddle   float64
	BBLower    float64
	BBPosition float64 // 0 at the lower band, 1 at the upper band

	RSI float64
	MFI float64

	MACD       float64
	MACDSignal float64
	MACDHist   float64

	ADX     float64
	PlusDI  float64
	MinusDI float64

	OBV     float64
	OBVMA20 float64

	SlowK     float64
	SlowD     float64
	PrevSlowK float64
	PrevSlowD float64
}
