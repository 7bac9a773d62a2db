package portfolio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"TradeSentinel/internal/model"
)

var kst = time.FixedZone("KST", 9*60*60)

type fakeBroker struct {
	mu       sync.Mutex
	cash     float64
	orderErr error
	orders   []model.Order
	quotes   map[string]float64
	block    chan struct{}
	entered  chan struct{}
}

func (b *fakeBroker) Quote(_ context.Context, code string) (model.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.quotes[code]
	if !ok {
		return model.Quote{}, errors.New("quote unavailable")
	}
	return model.Quote{Code: code, Price: p}, nil
}

func (b *fakeBroker) Balance(context.Context) (model.AccountBalance, error) {
	return model.AccountBalance{Cash: b.cash}, nil
}

func (b *fakeBroker) PlaceOrder(_ context.Context, o model.Order) (model.OrderResult, error) {
	if b.entered != nil {
		b.entered <- struct{}{}
	}
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.orderErr != nil {
		return model.OrderResult{}, b.orderErr
	}
	b.orders = append(b.orders, o)
	return model.OrderResult{OrderNo: "0000123", Code: o.Code, Side: o.Side, Quantity: o.Quantity}, nil
}

type memStore struct {
	mu         sync.Mutex
	positions  map[string]model.Position
	executions []model.Execution
}

func newMemStore() *memStore { return &memStore{positions: map[string]model.Position{}} }

func (s *memStore) SavePosition(p model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.Code] = p
	return nil
}

func (s *memStore) DeletePosition(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, code)
	return nil
}

func (s *memStore) LoadPositions() ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Position
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) SaveWatchlist([]model.WatchItem) error                { return nil }
func (s *memStore) LoadWatchlist() ([]model.WatchItem, error)            { return nil, nil }
func (s *memStore) ExecutionsSince(time.Time) ([]model.Execution, error) { return s.executions, nil }
func (s *memStore) Close() error                                         { return nil }

func (s *memStore) RecordExecution(e model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = append(s.executions, e)
	return nil
}

func newTestManager(t *testing.T, b *fakeBroker, store *memStore, at time.Time) *Manager {
	t.Helper()
	m, err := NewManager(DefaultRules(), b, store)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m.now = func() time.Time { return at }
	return m
}

func heldAt(code string, entry float64, qty int64) model.Position {
	return model.Position{Code: code, Name: code, Quantity: qty, EntryPrice: entry, HighWaterMark: entry, CurrentPrice: entry, State: model.StateHeld}
}

func signalFor(code string, price float64) model.Signal {
	return model.Signal{
		Candidate: model.Candidate{Code: code, Name: "name-" + code, Quote: model.Quote{Code: code, Price: price}},
		Admitted:  true,
		Buy:       true,
		Reasons:   []string{"rsi_oversold"},
	}
}

var morning = time.Date(2025, 3, 4, 11, 0, 0, 0, kst)

func TestStopLossAtBoundary(t *testing.T) {
	store := newMemStore()
	store.positions["005930"] = heldAt("005930", 10000, 10)
	m := newTestManager(t, &fakeBroker{}, store, morning)

	intent, ok := m.UpdatePrice("005930", 9700)
	if !ok {
		t.Fatal("expected a sell intent at exactly -3%")
	}
	if intent.Reason != model.ExitStopLoss {
		t.Errorf("reason = %s, want stop_loss", intent.Reason)
	}
	if _, ok := m.UpdatePrice("005930", 9701); ok {
		t.Error("no exit expected just above the stop")
	}
}

func TestHighWaterMarkNeverDecreases(t *testing.T) {
	store := newMemStore()
	store.positions["000660"] = heldAt("000660", 10000, 10)
	m := newTestManager(t, &fakeBroker{}, store, morning)

	want := []float64{10100, 10300, 10300, 10300}
	for i, price := range []float64{10100, 10300, 10250, 10200} {
		m.UpdatePrice("000660", price)
		got := m.Positions()[0].HighWaterMark
		if got != want[i] {
			t.Fatalf("step %d: hwm = %.0f, want %.0f", i, got, want[i])
		}
	}
	if got := store.positions["000660"].HighWaterMark; got != 10300 {
		t.Errorf("persisted hwm = %.0f, want 10300", got)
	}
}

func TestTrailingStopNeedsActivation(t *testing.T) {
	store := newMemStore()
	store.positions["035720"] = heldAt("035720", 10000, 10)
	m := newTestManager(t, &fakeBroker{}, store, morning)

	// peak +1.5%, then a 2.5% drawdown: trailing not armed yet
	m.UpdatePrice("035720", 10150)
	if _, ok := m.UpdatePrice("035720", 9900); ok {
		t.Fatal("trailing stop fired before activation")
	}
	if m.Positions()[0].TrailingArmed {
		t.Error("trailing armed below activation")
	}

	// peak +4%, then a 2.4% drawdown
	m.UpdatePrice("035720", 10400)
	if !m.Positions()[0].TrailingArmed {
		t.Fatal("trailing should be armed after +4%")
	}
	intent, ok := m.UpdatePrice("035720", 10150)
	if !ok || intent.Reason != model.ExitTrailingStop {
		t.Fatalf("got %+v %v, want trailing_stop", intent, ok)
	}
}

func TestEvaluateExitPriority(t *testing.T) {
	r := DefaultRules()
	inWindow := time.Date(2025, 3, 4, 15, 12, 0, 0, kst)
	afterClose := time.Date(2025, 3, 4, 15, 25, 0, 0, kst)

	tests := []struct {
		name string
		pos  model.Position
		now  time.Time
		want model.ExitReason
		exit bool
	}{
		{"stop beats time", model.Position{EntryPrice: 100, HighWaterMark: 100, CurrentPrice: 96, UnrealizedReturn: -0.04}, inWindow, model.ExitStopLoss, true},
		{"take profit", model.Position{EntryPrice: 100, HighWaterMark: 105, CurrentPrice: 105, UnrealizedReturn: 0.05}, morning, model.ExitTakeProfit, true},
		{"take profit beats trailing", model.Position{EntryPrice: 100, HighWaterMark: 110, CurrentPrice: 106, UnrealizedReturn: 0.06, TrailingArmed: true}, morning, model.ExitTakeProfit, true},
		{"time liquidation on loss", model.Position{EntryPrice: 100, HighWaterMark: 100, CurrentPrice: 98, UnrealizedReturn: -0.02}, inWindow, model.ExitTimeLiquidation, true},
		{"break-even held", model.Position{EntryPrice: 100, HighWaterMark: 101, CurrentPrice: 100.5, UnrealizedReturn: 0.005}, inWindow, "", false},
		{"outside window", model.Position{EntryPrice: 100, HighWaterMark: 100, CurrentPrice: 98, UnrealizedReturn: -0.02}, afterClose, "", false},
		{"quiet", model.Position{EntryPrice: 100, HighWaterMark: 101, CurrentPrice: 101, UnrealizedReturn: 0.01}, morning, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, exit := r.EvaluateExit(tt.pos, tt.now)
			if exit != tt.exit || got != tt.want {
				t.Errorf("EvaluateExit = (%q, %v), want (%q, %v)", got, exit, tt.want, tt.exit)
			}
		})
	}
}

func TestSizeOrder(t *testing.T) {
	r := DefaultRules()
	tests := []struct {
		name  string
		cash  float64
		price float64
		held  int
		want  int64
	}{
		{"split across free slots", 1000000, 10000, 0, 20},
		{"capped per name", 1000000, 10000, 3, 30},
		{"floored at minimum order", 100000, 10000, 4, 5},
		{"floor never exceeds cash", 40000, 10000, 4, 4},
		{"price above budget", 100000, 200000, 0, 0},
		{"no free slot", 1000000, 10000, 5, 0},
		{"no cash", 0, 10000, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.SizeOrder(tt.cash, tt.price, tt.held); got != tt.want {
				t.Errorf("SizeOrder(%.0f, %.0f, %d) = %d, want %d", tt.cash, tt.price, tt.held, got, tt.want)
			}
		})
	}
}

func TestEnterCreatesHeldPosition(t *testing.T) {
	b := &fakeBroker{cash: 1000000}
	store := newMemStore()
	m := newTestManager(t, b, store, morning)

	exec, err := m.Enter(context.Background(), signalFor("005930", 10000))
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if exec.Quantity != 20 || exec.Side != model.Buy || exec.ID == "" {
		t.Errorf("unexpected execution %+v", exec)
	}
	p, ok := store.positions["005930"]
	if !ok {
		t.Fatal("position not persisted")
	}
	if p.State != model.StateHeld || p.HighWaterMark != 10000 || p.Quantity != 20 {
		t.Errorf("unexpected position %+v", p)
	}
	if len(store.executions) != 1 {
		t.Errorf("executions recorded = %d, want 1", len(store.executions))
	}

	if _, err := m.Enter(context.Background(), signalFor("005930", 10000)); !errors.Is(err, ErrAlreadyHeld) {
		t.Errorf("second Enter err = %v, want ErrAlreadyHeld", err)
	}
}

func TestEnterRejections(t *testing.T) {
	t.Run("capacity", func(t *testing.T) {
		store := newMemStore()
		for _, code := range []string{"A1", "A2", "A3", "A4", "A5"} {
			store.positions[code] = heldAt(code, 1000, 1)
		}
		b := &fakeBroker{cash: 1000000}
		m := newTestManager(t, b, store, morning)
		if _, err := m.Enter(context.Background(), signalFor("B1", 1000)); !errors.Is(err, ErrCapacity) {
			t.Errorf("err = %v, want ErrCapacity", err)
		}
		if len(b.orders) != 0 {
			t.Error("no order should be placed")
		}
	})
	t.Run("insufficient capital", func(t *testing.T) {
		b := &fakeBroker{cash: 30000}
		m := newTestManager(t, b, newMemStore(), morning)
		if _, err := m.Enter(context.Background(), signalFor("B1", 50000)); !errors.Is(err, ErrInsufficientCapital) {
			t.Errorf("err = %v, want ErrInsufficientCapital", err)
		}
		if len(b.orders) != 0 || m.Count() != 0 {
			t.Error("no order or position expected")
		}
	})
}

func TestExitFailureKeepsPositionHeld(t *testing.T) {
	store := newMemStore()
	store.positions["005930"] = heldAt("005930", 10000, 10)
	b := &fakeBroker{orderErr: errors.New("rejected")}
	m := newTestManager(t, b, store, morning)

	intent, _ := m.UpdatePrice("005930", 9600)
	if _, err := m.Exit(context.Background(), intent); err == nil {
		t.Fatal("expected error")
	}
	ps := m.Positions()
	if len(ps) != 1 || ps[0].State != model.StateHeld {
		t.Fatalf("position should stay HELD, got %+v", ps)
	}

	b.orderErr = nil
	exec, err := m.Exit(context.Background(), intent)
	if err != nil {
		t.Fatalf("retry Exit: %v", err)
	}
	if exec.Reason != "stop_loss" || exec.RealizedPL != -4000 {
		t.Errorf("unexpected execution %+v", exec)
	}
	if m.Count() != 0 {
		t.Error("position should be closed")
	}
	if _, ok := store.positions["005930"]; ok {
		t.Error("position should be deleted from the store")
	}
}

func TestExitRejectsDuplicateSell(t *testing.T) {
	store := newMemStore()
	store.positions["005930"] = heldAt("005930", 10000, 10)
	b := &fakeBroker{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	m := newTestManager(t, b, store, morning)
	intent := model.SellIntent{Code: "005930", Reason: model.ExitStopLoss, Price: 9600}

	done := make(chan error, 1)
	go func() {
		_, err := m.Exit(context.Background(), intent)
		done <- err
	}()
	<-b.entered

	if _, err := m.Exit(context.Background(), intent); !errors.Is(err, ErrInFlight) {
		t.Errorf("duplicate Exit err = %v, want ErrInFlight", err)
	}
	if _, ok := m.UpdatePrice("005930", 9000); ok {
		t.Error("a CLOSING position must not produce new intents")
	}
	close(b.block)
	if err := <-done; err != nil {
		t.Fatalf("first Exit: %v", err)
	}
	if len(b.orders) != 1 {
		t.Errorf("orders = %d, want 1", len(b.orders))
	}
}

func TestRefreshSkipsFailedQuotes(t *testing.T) {
	store := newMemStore()
	store.positions["A"] = heldAt("A", 10000, 1)
	store.positions["B"] = heldAt("B", 10000, 1)
	b := &fakeBroker{quotes: map[string]float64{"A": 10600}}
	m := newTestManager(t, b, store, morning)

	intents, err := m.Refresh(context.Background())
	if err == nil {
		t.Error("expected the failed quote to be reported")
	}
	if len(intents) != 1 || intents[0].Code != "A" || intents[0].Reason != model.ExitTakeProfit {
		t.Fatalf("intents = %+v", intents)
	}
}

func TestRestoredClosingPositionIsHeld(t *testing.T) {
	store := newMemStore()
	p := heldAt("005930", 10000, 10)
	p.State = model.StateClosing
	store.positions["005930"] = p
	m := newTestManager(t, &fakeBroker{}, store, morning)
	if got := m.Positions()[0].State; got != model.StateHeld {
		t.Errorf("state = %s, want HELD", got)
	}
}
