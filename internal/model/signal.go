package model

import "strings"

// Provenance records which ranking lists a candidate was discovered in.
type Provenance uint8

const (
	FromVolume Provenance = 1 << iota
	FromChange

	FromBoth = FromVolume | FromChange
)

func (p Provenance) String() string {
	switch p {
	case FromBoth:
		return "both"
	case FromVolume:
		return "volume"
	case FromChange:
		return "change"
	default:
		return "none"
	}
}

// Candidate is a stock discovered during one scan cycle.
type Candidate struct {
	Code       string
	Name       string
	Provenance Provenance
	Quote      Quote
	Indicators IndicatorSnapshot
	Complete   bool // history covered the full indicator set
	Flow       InvestorFlow
}

// Signal is the classifier's verdict on a candidate.
type Signal struct {
	Candidate Candidate
	Admitted  bool
	Buy       bool
	Reasons   []string
	Strength  float64
}

// ReasonText joins the buy reasons for display.
func (s Signal) ReasonText() string {
	if len(s.Reasons) == 0 {
		return "-"
	}
	return strings.Join(s.Reasons, ", ")
}

// WatchItem is the persisted watch-list record for one stock.
type WatchItem struct {
	Code       string   `json:"code"`
	Name       string   `json:"name"`
	Provenance string   `json:"provenance"`
	Price      float64  `json:"price"`
	ChangeRate float64  `json:"change_rate"`
	RSI        float64  `json:"rsi"`
	MFI        float64  `json:"mfi"`
	ADX        float64  `json:"adx"`
	Buy        bool     `json:"buy"`
	Reasons    []string `json:"reasons"`
}

// NewWatchItem flattens a signal into its watch-list record.
func NewWatchItem(s Signal) WatchItem {
	c := s.Candidate
	return WatchItem{
		Code:       c.Code,
		Name:       c.Name,
		Provenance: c.Provenance.String(),
		Price:      c.Quote.Price,
		ChangeRate: c.Quote.ChangeRate,
		RSI:        c.Indicators.RSI,
		MFI:        c.Indicators.MFI,
		ADX:        c.Indicators.ADX,
		Buy:        s.Buy,
		Reasons:    s.Reasons,
	}
}
