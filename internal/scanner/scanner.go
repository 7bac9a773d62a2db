// Package scanner discovers candidates from the ranking lists and attaches their indicators.
package scanner

import (
	"context"
	"math"
	"sort"
	"sync"

	"TradeSentinel/internal/calculator"
	"TradeSentinel/internal/logging"
	"TradeSentinel/internal/model"
)

// Options bound the scan.
type Options struct {
	MinPrice      float64 // reject prices below this
	MinVolume     float64 // reject traded volume below this
	MaxChangeRate float64 // reject |change %| above this
	MaxCandidates int     // candidates analyzed per scan
	HistoryDays   int
	FlowDays      int
	Concurrency   int
}

// DefaultOptions mirrors the production configuration defaults.
func DefaultOptions() Options {
	return Options{
		MinPrice:      1000,
		MinVolume:     100000,
		MaxChangeRate: 20,
		MaxCandidates: 20,
		HistoryDays:   150,
		FlowDays:      5,
		Concurrency:   4,
	}
}

// Scanner merges the ranking lists and computes indicators for the survivors.
type Scanner struct {
	opts    Options
	ranker  Ranker
	history HistorySource
	flows   FlowSource
}

// New creates a Scanner. flows may be nil.
func New(opts Options, ranker Ranker, history HistorySource, flows FlowSource) *Scanner {
	def := DefaultOptions()
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = def.MaxCandidates
	}
	if opts.HistoryDays <= 0 {
		opts.HistoryDays = def.HistoryDays
	}
	if opts.FlowDays <= 0 {
		opts.FlowDays = def.FlowDays
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	return &Scanner{opts: opts, ranker: ranker, history: history, flows: flows}
}

// Scan returns this cycle's candidates with indicators attached.
// Failed ranking lists and failed histories are logged and skipped.
func (s *Scanner) Scan(ctx context.Context) []model.Candidate {
	merged := s.collect(ctx)
	survivors := s.preFilter(merged)
	logging.Infof(ctx, "scan: %d ranked, %d after pre-filter", len(merged), len(survivors))
	return s.analyze(ctx, survivors)
}

// collect pulls both ranking lists and merges them by code.
func (s *Scanner) collect(ctx context.Context) []model.Candidate {
	byCode := make(map[string]*model.Candidate)
	var order []string
	for _, src := range []struct {
		kind model.RankKind
		tag  model.Provenance
	}{
		{model.RankVolume, model.FromVolume},
		{model.RankChange, model.FromChange},
	} {
		quotes, err := s.ranker.Ranking(ctx, src.kind)
		if err != nil {
			logging.Warnf(ctx, "scan: %s ranking unavailable: %v", src.kind, err)
			continue
		}
		for _, q := range quotes {
			if c, ok := byCode[q.Code]; ok {
				c.Provenance |= src.tag
				continue
			}
			byCode[q.Code] = &model.Candidate{Code: q.Code, Name: q.Name, Provenance: src.tag, Quote: q}
			order = append(order, q.Code)
		}
	}
	out := make([]model.Candidate, 0, len(order))
	for _, code := range order {
		out = append(out, *byCode[code])
	}
	return out
}

// preFilter drops cheap, illiquid and limit-move names, then keeps the strongest MaxCandidates.
func (s *Scanner) preFilter(cands []model.Candidate) []model.Candidate {
	var out []model.Candidate
	for _, c := range cands {
		q := c.Quote
		if q.Price < s.opts.MinPrice || q.Volume < s.opts.MinVolume {
			continue
		}
		if s.opts.MaxChangeRate > 0 && math.Abs(q.ChangeRate) > s.opts.MaxChangeRate {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		bi, bj := out[i].Provenance == model.FromBoth, out[j].Provenance == model.FromBoth
		if bi != bj {
			return bi
		}
		if out[i].Quote.Volume != out[j].Quote.Volume {
			return out[i].Quote.Volume > out[j].Quote.Volume
		}
		return out[i].Code < out[j].Code
	})
	if len(out) > s.opts.MaxCandidates {
		out = out[:s.opts.MaxCandidates]
	}
	return out
}

// analyze fans the survivors out to a bounded worker pool, preserving input order.
func (s *Scanner) analyze(ctx context.Context, cands []model.Candidate) []model.Candidate {
	jobs := make(chan int)
	done := make([]bool, len(cands))
	var wg sync.WaitGroup
	for w := 0; w < s.opts.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				done[i] = s.enrich(ctx, &cands[i])
			}
		}()
	}
feed:
	for i := range cands {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	out := make([]model.Candidate, 0, len(cands))
	for i, ok := range done {
		if ok {
			out = append(out, cands[i])
		}
	}
	return out
}

// enrich attaches indicators and investor flow. It reports false when the candidate must be dropped.
func (s *Scanner) enrich(ctx context.Context, c *model.Candidate) bool {
	bars, err := s.history.History(ctx, c.Code, s.opts.HistoryDays)
	if err != nil {
		logging.Warnf(ctx, "scan: dropping %s: %v", c.Code, err)
		return false
	}
	if len(bars) == 0 {
		logging.Warnf(ctx, "scan: dropping %s: no history", c.Code)
		return false
	}
	snap, ok := calculator.Compute(withLiveQuote(bars, c.Quote))
	if !ok {
		logging.Warnf(ctx, "scan: %s has %d bars, indicators degraded", c.Code, len(bars))
	}
	c.Indicators = snap
	c.Complete = ok

	if s.flows != nil {
		flow, err := s.flows.InvestorFlow(ctx, c.Code, s.opts.FlowDays)
		if err != nil {
			logging.Warnf(ctx, "scan: investor flow %s unavailable: %v", c.Code, err)
			flow = model.InvestorFlow{Code: c.Code}
		}
		c.Flow = flow
	}
	return true
}

// withLiveQuote returns a copy of bars whose last (in-session) bar reflects the ranking quote.
// Cached history can lag the market by up to its TTL.
func withLiveQuote(bars []model.PriceBar, q model.Quote) []model.PriceBar {
	if q.Empty() || len(bars) == 0 {
		return bars
	}
	out := make([]model.PriceBar, len(bars))
	copy(out, bars)
	last := &out[len(out)-1]
	last.Close = q.Price
	last.High = max(last.High, q.Price)
	if last.Low <= 0 || q.Price < last.Low {
		last.Low = q.Price
	}
	last.Volume = max(last.Volume, q.Volume)
	return out
}
