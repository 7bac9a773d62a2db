package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"TradeSentinel/internal/model"
)

type fakeMarket struct {
	mu         sync.Mutex
	rankings   map[model.RankKind][]model.Quote
	rankErr    map[model.RankKind]error
	historyErr map[string]error
	flowErr    map[string]error
	requested  []string
}

func (f *fakeMarket) Ranking(_ context.Context, kind model.RankKind) ([]model.Quote, error) {
	if err := f.rankErr[kind]; err != nil {
		return nil, err
	}
	return f.rankings[kind], nil
}

func (f *fakeMarket) History(_ context.Context, code string, days int) ([]model.PriceBar, error) {
	f.mu.Lock()
	f.requested = append(f.requested, code)
	f.mu.Unlock()
	if err := f.historyErr[code]; err != nil {
		return nil, err
	}
	bars := make([]model.PriceBar, days)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		p := 10000 + float64(i)*10
		bars[i] = model.PriceBar{Date: start.AddDate(0, 0, i), Open: p, High: p + 50, Low: p - 50, Close: p, Volume: 200000}
	}
	return bars, nil
}

func (f *fakeMarket) InvestorFlow(_ context.Context, code string, days int) (model.InvestorFlow, error) {
	if err := f.flowErr[code]; err != nil {
		return model.InvestorFlow{}, err
	}
	return model.InvestorFlow{Code: code, ForeignNet: 100, Days: days, Known: true}, nil
}

func quote(code string, price, change, volume float64) model.Quote {
	return model.Quote{Code: code, Name: "n" + code, Price: price, ChangeRate: change, Volume: volume}
}

func newFake() *fakeMarket {
	return &fakeMarket{
		rankings:   map[model.RankKind][]model.Quote{},
		rankErr:    map[model.RankKind]error{},
		historyErr: map[string]error{},
		flowErr:    map[string]error{},
	}
}

func codes(cands []model.Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Code
	}
	return out
}

func TestScan_DeduplicatesAcrossRankings(t *testing.T) {
	f := newFake()
	f.rankings[model.RankVolume] = []model.Quote{quote("005930", 70000, 1, 5e6), quote("000660", 150000, 2, 3e6)}
	f.rankings[model.RankChange] = []model.Quote{quote("005930", 70000, 1, 5e6), quote("035720", 50000, 8, 1e6)}

	got := New(DefaultOptions(), f, f, f).Scan(context.Background())
	if len(got) != 3 {
		t.Fatalf("got %v, want 3 candidates", codes(got))
	}
	seen := map[string]int{}
	for _, c := range got {
		seen[c.Code]++
	}
	if seen["005930"] != 1 {
		t.Fatalf("005930 appears %d times", seen["005930"])
	}
	want := map[string]string{"005930": "both", "000660": "volume", "035720": "change"}
	for _, c := range got {
		if c.Provenance.String() != want[c.Code] {
			t.Errorf("%s provenance = %s, want %s", c.Code, c.Provenance, want[c.Code])
		}
	}
	if got[0].Code != "005930" {
		t.Errorf("candidates found in both lists should come first, got %v", codes(got))
	}
}

func TestScan_PreFilter(t *testing.T) {
	f := newFake()
	f.rankings[model.RankVolume] = []model.Quote{
		quote("000001", 900, 1, 5e6),     // below min price
		quote("000002", 5000, 1, 50000),  // thin volume
		quote("000003", 5000, 29.9, 5e6), // limit move
		quote("000004", 5000, -25, 5e6),  // limit move down
		quote("000005", 5000, 4, 5e6),
	}

	got := New(DefaultOptions(), f, f, f).Scan(context.Background())
	if len(got) != 1 || got[0].Code != "000005" {
		t.Fatalf("got %v, want [000005]", codes(got))
	}
	if len(f.requested) != 1 {
		t.Errorf("history fetched for %v, want only the survivor", f.requested)
	}
}

func TestScan_CapsCandidates(t *testing.T) {
	f := newFake()
	var vol []model.Quote
	for i := 0; i < 30; i++ {
		code := string(rune('A'+i%26)) + string(rune('a'+i/26))
		vol = append(vol, quote(code, 5000, 1, float64(1e6+i)))
	}
	f.rankings[model.RankVolume] = vol
	opts := DefaultOptions()
	opts.MaxCandidates = 5

	got := New(opts, f, f, f).Scan(context.Background())
	if len(got) != 5 {
		t.Fatalf("got %d candidates, want 5", len(got))
	}
	// highest volume first
	if got[0].Quote.Volume != 1e6+29 {
		t.Errorf("first candidate volume = %v", got[0].Quote.Volume)
	}
}

func TestScan_IsolatesFailures(t *testing.T) {
	f := newFake()
	f.rankErr[model.RankChange] = errors.New("ranking down")
	f.rankings[model.RankVolume] = []model.Quote{quote("000660", 150000, 2, 3e6), quote("005930", 70000, 1, 5e6)}
	f.historyErr["000660"] = errors.New("timeout")
	f.flowErr["005930"] = errors.New("rejected")

	got := New(DefaultOptions(), f, f, f).Scan(context.Background())
	if len(got) != 1 || got[0].Code != "005930" {
		t.Fatalf("got %v, want [005930]", codes(got))
	}
	c := got[0]
	if c.Flow.Known {
		t.Error("flow should be unknown after a failed lookup")
	}
	if !c.Complete || c.Indicators.Bars != 150 {
		t.Errorf("indicators not attached: complete=%v bars=%d", c.Complete, c.Indicators.Bars)
	}
}

func TestScan_AttachesFlow(t *testing.T) {
	f := newFake()
	f.rankings[model.RankVolume] = []model.Quote{quote("005930", 70000, 1, 5e6)}

	got := New(DefaultOptions(), f, f, f).Scan(context.Background())
	if len(got) != 1 {
		t.Fatalf("got %v", codes(got))
	}
	if !got[0].Flow.Known || got[0].Flow.SmartMoney() != 100 {
		t.Errorf("flow = %+v", got[0].Flow)
	}
}

func TestScan_LastBarTracksRankingQuote(t *testing.T) {
	f := newFake()
	f.rankings[model.RankVolume] = []model.Quote{quote("005930", 70000, 1, 5e6)}

	got := New(DefaultOptions(), f, f, f).Scan(context.Background())
	if len(got) != 1 {
		t.Fatalf("got %v", codes(got))
	}
	snap := got[0].Indicators
	if snap.Price != 70000 {
		t.Errorf("price = %.0f, want the live quote 70000", snap.Price)
	}
	if want := 10000 + 148*10.0; snap.PrevClose != want {
		t.Errorf("prev close = %.0f, want %.0f", snap.PrevClose, want)
	}
}

func TestWithLiveQuote(t *testing.T) {
	bars := []model.PriceBar{
		{Open: 100, High: 110, Low: 90, Close: 105, Volume: 1000},
		{Open: 105, High: 108, Low: 100, Close: 104, Volume: 500},
	}
	out := withLiveQuote(bars, model.Quote{Price: 112, Volume: 800})
	last := out[1]
	if last.Close != 112 || last.High != 112 || last.Low != 100 || last.Volume != 800 {
		t.Errorf("last bar = %+v", last)
	}
	if bars[1].Close != 104 {
		t.Error("input bars must not be modified")
	}
	if same := withLiveQuote(bars, model.Quote{}); same[1].Close != 104 {
		t.Error("an empty quote leaves the bars untouched")
	}
}
