package model

import "time"

// PriceBar is one trading day of a stock's history.
type PriceBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Quote is the latest price snapshot for a stock. Ranking lists are returned as quotes too.
type Quote struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	ChangeRate float64 `json:"change_rate"` // percent vs previous close
	Volume     float64 `json:"volume"`
}

// Empty reports whether the upstream returned no usable price.
func (q Quote) Empty() bool { return q.Price <= 0 }

// RankKind selects one of the brokerage ranking lists.
type RankKind int

const (
	RankVolume RankKind = iota
	RankChange
)

func (k RankKind) String() string {
	if k == RankChange {
		return "change"
	}
	return "volume"
}

// InvestorFlow is the net buying of foreign and institutional investors over a trailing window.
type InvestorFlow struct {
	Code           string  `json:"code"`
	ForeignNet     float64 `json:"foreign_net"`
	InstitutionNet float64 `json:"institution_net"`
	Days           int     `json:"days"`
	Known          bool    `json:"known"`
}

// SmartMoney returns the combined foreign and institutional net buy quantity.
func (f InvestorFlow) SmartMoney() float64 {
	return f.ForeignNet + f.InstitutionNet
}

// AccountBalance summarizes the trading account.
type AccountBalance struct {
	Cash      float64 `json:"cash"`
	NetAsset  float64 `json:"net_asset"`
	TotalEval float64 `json:"total_eval"`
}

// Credential is a brokerage access token. A renewed credential replaces the old one.
type Credential struct {
	Token         string    `json:"token"`
	IssuedAt      time.Time `json:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
}

// UsableAt reports whether the token may still be used at t given a renewal margin.
func (c *Credential) UsableAt(t time.Time, margin time.Duration) bool {
	if c == nil || c.Token == "" {
		return false
	}
	return t.Before(c.ExpiresAt.Add(-margin))
}
