// Package portfolio owns open positions: entry sizing, price refresh, exit evaluation and order dispatch.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"TradeSentinel/internal/logging"
	"TradeSentinel/internal/model"
	"TradeSentinel/internal/recorder"
)

var (
	ErrAlreadyHeld         = errors.New("position already held or pending")
	ErrCapacity            = errors.New("maximum open positions reached")
	ErrInsufficientCapital = errors.New("insufficient capital for one share")
	ErrInFlight            = errors.New("order already in flight")
	ErrNotHeld             = errors.New("no position held")
)

// Broker is the order-submission boundary.
type Broker interface {
	Quote(ctx context.Context, code string) (model.Quote, error)
	Balance(ctx context.Context) (model.AccountBalance, error)
	PlaceOrder(ctx context.Context, order model.Order) (model.OrderResult, error)
}

// Manager handles position state with concurrency safety. It is the only writer of positions.
type Manager struct {
	mu        sync.Mutex
	rules     Rules
	broker    Broker
	store     recorder.Store
	positions map[string]*model.Position
	inflight  map[string]model.Side
	now       func() time.Time
}

// NewManager creates a Manager, loading persisted positions from the store.
func NewManager(rules Rules, broker Broker, store recorder.Store) (*Manager, error) {
	if store == nil {
		store = recorder.NewNoopRecorder()
	}
	saved, err := store.LoadPositions()
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	m := &Manager{
		rules:     rules,
		broker:    broker,
		store:     store,
		positions: make(map[string]*model.Position, len(saved)),
		inflight:  make(map[string]model.Side),
		now:       time.Now,
	}
	for i := range saved {
		p := saved[i]
		// A sell interrupted by a restart is re-evaluated as held.
		p.State = model.StateHeld
		m.positions[p.Code] = &p
	}
	if len(saved) > 0 {
		log.Printf("[INFO] restored %d open positions", len(saved))
	}
	return m, nil
}

// Rules returns the configured rules.
func (m *Manager) Rules() Rules { return m.rules }

// Positions returns a copy of all open positions ordered by code.
func (m *Manager) Positions() []model.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Count returns the number of open positions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// Refresh updates every held position with a fresh quote and returns the sell intents.
// A failed quote skips that position; the failures are returned joined.
func (m *Manager) Refresh(ctx context.Context) ([]model.SellIntent, error) {
	var intents []model.SellIntent
	var errs []error
	for _, code := range m.heldCodes() {
		if ctx.Err() != nil {
			return intents, ctx.Err()
		}
		q, err := m.broker.Quote(ctx, code)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if q.Empty() {
			logging.Warnf(ctx, "refresh %s: no price", code)
			continue
		}
		if intent, ok := m.UpdatePrice(code, q.Price); ok {
			intents = append(intents, intent)
		}
	}
	return intents, errors.Join(errs...)
}

// UpdatePrice applies a price to a held position, persists it and evaluates the exit triggers.
func (m *Manager) UpdatePrice(code string, price float64) (model.SellIntent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[code]
	if !ok || p.State != model.StateHeld || price <= 0 {
		return model.SellIntent{}, false
	}
	now := m.now()
	p.CurrentPrice = price
	if price > p.HighWaterMark {
		p.HighWaterMark = price
	}
	p.UnrealizedPL, p.UnrealizedReturn = profit(p.EntryPrice, price, p.Quantity)
	if !p.TrailingArmed && peakReturn(*p) > m.rules.TrailingActivation+eps {
		p.TrailingArmed = true
	}
	p.UpdatedAt = now
	m.save(p)

	reason, exit := m.rules.EvaluateExit(*p, now)
	if !exit {
		return model.SellIntent{}, false
	}
	return model.SellIntent{Code: code, Name: p.Name, Reason: reason, Price: price, Return: p.UnrealizedReturn}, true
}

// Enter sizes and submits a market buy for a signal. On success the position is HELD
// with its high-water mark at the entry price.
func (m *Manager) Enter(ctx context.Context, sig model.Signal) (model.Execution, error) {
	c := sig.Candidate
	price := c.Quote.Price
	if price <= 0 {
		price = c.Indicators.Price
	}

	m.mu.Lock()
	if _, held := m.positions[c.Code]; held {
		m.mu.Unlock()
		return model.Execution{}, fmt.Errorf("buy %s: %w", c.Code, ErrAlreadyHeld)
	}
	if _, pending := m.inflight[c.Code]; pending {
		m.mu.Unlock()
		return model.Execution{}, fmt.Errorf("buy %s: %w", c.Code, ErrAlreadyHeld)
	}
	occupied := len(m.positions) + m.pendingBuysLocked()
	if occupied >= m.rules.MaxPositions {
		m.mu.Unlock()
		return model.Execution{}, fmt.Errorf("buy %s: %w", c.Code, ErrCapacity)
	}
	m.inflight[c.Code] = model.Buy
	m.mu.Unlock()
	defer m.clearInflight(c.Code)

	bal, err := m.broker.Balance(ctx)
	if err != nil {
		return model.Execution{}, fmt.Errorf("buy %s: %w", c.Code, err)
	}
	qty := m.rules.SizeOrder(bal.Cash, price, occupied)
	if qty < 1 {
		return model.Execution{}, fmt.Errorf("buy %s at %.0f with cash %.0f: %w", c.Code, price, bal.Cash, ErrInsufficientCapital)
	}
	res, err := m.broker.PlaceOrder(ctx, model.Order{Side: model.Buy, Code: c.Code, Quantity: qty})
	if err != nil {
		return model.Execution{}, fmt.Errorf("buy %s: %w", c.Code, err)
	}

	now := m.now()
	p := &model.Position{
		Code:          c.Code,
		Name:          c.Name,
		Quantity:      qty,
		EntryPrice:    price,
		EntryTime:     now,
		HighWaterMark: price,
		CurrentPrice:  price,
		State:         model.StateHeld,
		EntryReasons:  sig.Reasons,
		UpdatedAt:     now,
	}
	m.mu.Lock()
	m.positions[c.Code] = p
	m.save(p)
	m.mu.Unlock()

	exec := model.Execution{
		ID:       uuid.New().String(),
		OrderNo:  res.OrderNo,
		Side:     model.Buy,
		Code:     c.Code,
		Name:     c.Name,
		Quantity: qty,
		Price:    price,
		Reason:   sig.ReasonText(),
		At:       now,
	}
	m.record(exec)
	logging.Infof(ctx, "bought %s x%d at %.0f (%s)", c.Code, qty, price, exec.Reason)
	return exec, nil
}

// Exit submits a market sell for the whole position. A failed order leaves the position HELD.
func (m *Manager) Exit(ctx context.Context, intent model.SellIntent) (model.Execution, error) {
	m.mu.Lock()
	p, ok := m.positions[intent.Code]
	if !ok {
		m.mu.Unlock()
		return model.Execution{}, fmt.Errorf("sell %s: %w", intent.Code, ErrNotHeld)
	}
	if _, busy := m.inflight[intent.Code]; busy || p.State != model.StateHeld {
		m.mu.Unlock()
		return model.Execution{}, fmt.Errorf("sell %s: %w", intent.Code, ErrInFlight)
	}
	m.inflight[intent.Code] = model.Sell
	p.State = model.StateClosing
	qty := p.Quantity
	m.mu.Unlock()

	res, err := m.broker.PlaceOrder(ctx, model.Order{Side: model.Sell, Code: intent.Code, Quantity: qty})

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, intent.Code)
	if err != nil {
		p.State = model.StateHeld
		return model.Execution{}, fmt.Errorf("sell %s: %w", intent.Code, err)
	}

	price := intent.Price
	if price <= 0 {
		price = p.CurrentPrice
	}
	pl, ret := profit(p.EntryPrice, price, qty)
	delete(m.positions, intent.Code)
	if err := m.store.DeletePosition(intent.Code); err != nil {
		log.Printf("[ERROR] failed to delete position %s: %v", intent.Code, err)
	}

	exec := model.Execution{
		ID:         uuid.New().String(),
		OrderNo:    res.OrderNo,
		Side:       model.Sell,
		Code:       intent.Code,
		Name:       p.Name,
		Quantity:   qty,
		Price:      price,
		Reason:     string(intent.Reason),
		RealizedPL: pl,
		Return:     ret,
		At:         m.now(),
	}
	m.record(exec)
	logging.Infof(ctx, "sold %s x%d at %.0f (%s, %+.2f%%)", intent.Code, qty, price, intent.Reason, ret*100)
	return exec, nil
}

func (m *Manager) heldCodes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var codes []string
	for code, p := range m.positions {
		if p.State == model.StateHeld {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

func (m *Manager) pendingBuysLocked() int {
	n := 0
	for code, side := range m.inflight {
		if _, held := m.positions[code]; side == model.Buy && !held {
			n++
		}
	}
	return n
}

func (m *Manager) clearInflight(code string) {
	m.mu.Lock()
	delete(m.inflight, code)
	m.mu.Unlock()
}

// save must be called with mu held.
func (m *Manager) save(p *model.Position) {
	if err := m.store.SavePosition(*p); err != nil {
		log.Printf("[ERROR] failed to save position %s: %v", p.Code, err)
	}
}

func (m *Manager) record(e model.Execution) {
	if err := m.store.RecordExecution(e); err != nil {
		log.Printf("[ERROR] failed to record execution %s: %v", e.ID, err)
	}
}
