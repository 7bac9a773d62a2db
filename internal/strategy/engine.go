// Package strategy decides which candidates are eligible and which of them are buy signals.
package strategy

import (
	"fmt"
	"sort"

	"TradeSentinel/internal/model"
)

// Policy selects how the admission conditions combine.
type Policy string

const (
	// PolicyRelaxed requires the trend plus any one of smart money, accumulation or fundamentals.
	PolicyRelaxed Policy = "relaxed"
	// PolicyStrict requires the trend plus all three.
	PolicyStrict Policy = "strict"
)

// Thresholds configure the classifier.
type Thresholds struct {
	Policy              Policy
	ADXMin              float64
	FundamentalMinPrice float64
	MFIOversold         float64
	RSIOversold         float64
	StochDeep           float64
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Policy:              PolicyRelaxed,
		ADXMin:              25,
		FundamentalMinPrice: 5000,
		MFIOversold:         20,
		RSIOversold:         30,
		StochDeep:           20,
	}
}

// Classifier applies the universe filter and the buy rules.
type Classifier struct {
	th    Thresholds
	admit criterion
}

// NewClassifier validates the policy and builds a Classifier.
func NewClassifier(th Thresholds) (*Classifier, error) {
	cl := &Classifier{th: th}
	switch th.Policy {
	case PolicyRelaxed, "":
		cl.th.Policy = PolicyRelaxed
		cl.admit = allOf(cl.trend, anyOf(smartMoney, accumulation, cl.fundamentals))
	case PolicyStrict:
		cl.admit = allOf(cl.trend, smartMoney, accumulation, cl.fundamentals)
	default:
		return nil, fmt.Errorf("unknown admission policy %q", th.Policy)
	}
	return cl, nil
}

// Admit reports whether the candidate belongs to the tradable universe.
func (cl *Classifier) Admit(c model.Candidate) bool {
	return cl.admit(&c)
}

// Classify returns whether the snapshot is a buy and every rule that fired.
func (cl *Classifier) Classify(s model.IndicatorSnapshot) (bool, []string) {
	reasons := cl.buyReasons(s)
	return len(reasons) > 0, reasons
}

// Evaluate admits and classifies the candidates. Admitted ones are returned buy signals first,
// then by trend strength (ADX).
func (cl *Classifier) Evaluate(cands []model.Candidate) []model.Signal {
	var out []model.Signal
	for _, c := range cands {
		if !cl.Admit(c) {
			continue
		}
		buy, reasons := cl.Classify(c.Indicators)
		out = append(out, model.Signal{
			Candidate: c,
			Admitted:  true,
			Buy:       buy,
			Reasons:   reasons,
			Strength:  c.Indicators.ADX,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Buy != out[j].Buy {
			return out[i].Buy
		}
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		return out[i].Candidate.Code < out[j].Candidate.Code
	})
	return out
}

// Actionable returns at most n buy signals from an Evaluate result.
func Actionable(signals []model.Signal, n int) []model.Signal {
	var out []model.Signal
	for _, s := range signals {
		if len(out) >= n {
			break
		}
		if s.Buy {
			out = append(out, s)
		}
	}
	return out
}
