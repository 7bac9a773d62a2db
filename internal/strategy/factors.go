package strategy

import "TradeSentinel/internal/model"

// criterion is one admission condition.
type criterion func(c *model.Candidate) bool

func allOf(cs ...criterion) criterion {
	return func(c *model.Candidate) bool {
		for _, f := range cs {
			if !f(c) {
				return false
			}
		}
		return true
	}
}

func anyOf(cs ...criterion) criterion {
	return func(c *model.Candidate) bool {
		for _, f := range cs {
			if f(c) {
				return true
			}
		}
		return false
	}
}

// trend: strong ADX and price above the 60- or 120-bar average.
func (cl *Classifier) trend(c *model.Candidate) bool {
	s := c.Indicators
	return s.ADX > cl.th.ADXMin && (s.Price > s.MA60 || s.Price > s.MA120)
}

// smartMoney: foreign plus institutional net buying over the flow window. Unknown flow never passes.
func smartMoney(c *model.Candidate) bool {
	return c.Flow.Known && c.Flow.SmartMoney() > 0
}

// accumulation: OBV above its 20-bar average.
func accumulation(c *model.Candidate) bool {
	return c.Indicators.OBV > c.Indicators.OBVMA20
}

func (cl *Classifier) fundamentals(c *model.Candidate) bool {
	return c.Indicators.Price >= cl.th.FundamentalMinPrice
}

// Buy reasons.
const (
	ReasonMFIOversold    = "mfi_oversold"
	ReasonRSIOversold    = "rsi_oversold"
	ReasonStochCross     = "stoch_golden_cross"
	ReasonStochCrossDeep = "stoch_golden_cross_deep"
	ReasonBandReentry    = "band_reentry"
	ReasonMA5Breakout    = "ma5_breakout"
)

// buyReasons evaluates every buy rule; any one qualifies.
func (cl *Classifier) buyReasons(s model.IndicatorSnapshot) []string {
	var reasons []string
	if s.MFI < cl.th.MFIOversold {
		reasons = append(reasons, ReasonMFIOversold)
	}
	if s.RSI < cl.th.RSIOversold {
		reasons = append(reasons, ReasonRSIOversold)
	}
	if s.PrevSlowK <= s.PrevSlowD && s.SlowK > s.SlowD {
		if s.SlowK < cl.th.StochDeep {
			reasons = append(reasons, ReasonStochCrossDeep)
		} else {
			reasons = append(reasons, ReasonStochCross)
		}
	}
	if s.PrevClose < s.BBLower && s.Price > s.BBLower && s.Price > s.PrevClose {
		reasons = append(reasons, ReasonBandReentry)
	}
	if s.PrevClose < s.PrevMA5 && s.Price > s.MA5 {
		reasons = append(reasons, ReasonMA5Breakout)
	}
	return reasons
}
