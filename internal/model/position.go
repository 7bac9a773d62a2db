package model

import "time"

// PositionState is the lifecycle state of a position.
type PositionState string

const (
	StateNone    PositionState = "NONE"
	StateHeld    PositionState = "HELD"
	StateClosing PositionState = "CLOSING"
)

// Position is an open holding in one stock.
type Position struct {
	Code             string        `json:"code"`
	Name             string        `json:"name"`
	Quantity         int64         `json:"quantity"`
	EntryPrice       float64       `json:"entry_price"`
	EntryTime        time.Time     `json:"entry_time"`
	HighWaterMark    float64       `json:"high_water_mark"`
	CurrentPrice     float64       `json:"current_price"`
	UnrealizedPL     float64       `json:"unrealized_pl"`
	UnrealizedReturn float64       `json:"unrealized_return"`
	RealizedPL       float64       `json:"realized_pl"`
	TrailingArmed    bool          `json:"trailing_armed"`
	State            PositionState `json:"state"`
	EntryReasons     []string      `json:"entry_reasons,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Side is an order direction.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Order is a market order for a fixed quantity.
type Order struct {
	Side     Side
	Code     string
	Quantity int64
}

// OrderResult is the brokerage acknowledgement of an order.
type OrderResult struct {
	OrderNo  string
	Code     string
	Side     Side
	Quantity int64
}

// ExitReason names the trigger that closed a position.
type ExitReason string

const (
	ExitStopLoss        ExitReason = "stop_loss"
	ExitTakeProfit      ExitReason = "take_profit"
	ExitTrailingStop    ExitReason = "trailing_stop"
	ExitTimeLiquidation ExitReason = "time_liquidation"
)

// SellIntent asks for a held position to be closed.
type SellIntent struct {
	Code   string
	Name   string
	Reason ExitReason
	Price  float64
	Return float64
}

// Execution records a filled order.
type Execution struct {
	ID         string    `json:"id"`
	OrderNo    string    `json:"order_no"`
	Side       Side      `json:"side"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	Quantity   int64     `json:"quantity"`
	Price      float64   `json:"price"`
	Reason     string    `json:"reason"`
	RealizedPL float64   `json:"realized_pl"`
	Return     float64   `json:"return"`
	At         time.Time `json:"at"`
}
