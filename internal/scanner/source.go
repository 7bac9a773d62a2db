package scanner

import (
	"context"

	"TradeSentinel/internal/model"
)

// Ranker returns a market-wide ranking list.
type Ranker interface {
	Ranking(ctx context.Context, kind model.RankKind) ([]model.Quote, error)
}

// HistorySource returns daily bars, oldest first.
type HistorySource interface {
	History(ctx context.Context, code string, days int) ([]model.PriceBar, error)
}

// FlowSource returns foreign and institutional net buying.
type FlowSource interface {
	InvestorFlow(ctx context.Context, code string, days int) (model.InvestorFlow, error)
}
