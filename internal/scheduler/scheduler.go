package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"TradeSentinel/internal/logging"
	"TradeSentinel/internal/model"
	"TradeSentinel/internal/notifier"
	"TradeSentinel/internal/portfolio"
	"TradeSentinel/internal/strategy"
)

// TokenSource gates every cycle on a usable credential.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Scanner produces analyzed candidates.
type Scanner interface {
	Scan(ctx context.Context) []model.Candidate
}

// Classifier turns candidates into ordered signals.
type Classifier interface {
	Evaluate(cands []model.Candidate) []model.Signal
}

// Portfolio is the position lifecycle the cycles drive.
type Portfolio interface {
	Refresh(ctx context.Context) ([]model.SellIntent, error)
	Exit(ctx context.Context, intent model.SellIntent) (model.Execution, error)
	Enter(ctx context.Context, sig model.Signal) (model.Execution, error)
	Positions() []model.Position
}

// Store persists the watch list and reads back the trade journal.
type Store interface {
	SaveWatchlist(items []model.WatchItem) error
	ExecutionsSince(t time.Time) ([]model.Execution, error)
}

// Options control job timing and the error ceiling.
type Options struct {
	PositionInterval     time.Duration
	ScanInterval         time.Duration
	SummaryCron          string
	MarketOpen           time.Duration // offset from local midnight
	MarketClose          time.Duration
	EntryCutoff          time.Duration // no new entries this close to the market close
	Location             *time.Location
	MaxEntriesPerCycle   int
	MaxConsecutiveErrors int
	StopTimeout          time.Duration
}

// Deps are the collaborators of the control loop.
type Deps struct {
	Tokens     TokenSource
	Scanner    Scanner
	Classifier Classifier
	Portfolio  Portfolio
	Store      Store
	Notifier   notifier.Notifier
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron *cron.Cron
	Ctx  context.Context

	opts     Options
	deps     Deps
	shutdown func()
	now      func() time.Time

	cycleMu      sync.Mutex // one cycle at a time across all jobs
	errMu        sync.Mutex
	consecutive  int
	shutdownOnce sync.Once
}

// NewScheduler creates a new Scheduler. shutdown is called once when consecutive failures reach the ceiling.
func NewScheduler(ctx context.Context, opts Options, deps Deps, shutdown func()) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.FixedZone("KST", 9*60*60)
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 30 * time.Second
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier.Noop{}
	}
	if shutdown == nil {
		shutdown = func() {}
	}
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(opts.Location),
			cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		Ctx:      ctx,
		opts:     opts,
		deps:     deps,
		shutdown: shutdown,
		now:      time.Now,
	}
}

// RegisterAll registers the position refresh, scan and daily summary jobs.
func (s *Scheduler) RegisterAll() error {
	if _, err := s.Cron.AddFunc(every(s.opts.PositionInterval), s.positionJob); err != nil {
		return fmt.Errorf("register position task: %w", err)
	}
	if _, err := s.Cron.AddFunc(every(s.opts.ScanInterval), s.scanJob); err != nil {
		return fmt.Errorf("register scan task: %w", err)
	}
	if s.opts.SummaryCron != "" {
		if _, err := s.Cron.AddFunc(s.opts.SummaryCron, s.summaryJob); err != nil {
			return fmt.Errorf("register summary task: %w", err)
		}
	}
	return nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] scheduler started")
}

// Stop stops the cron scheduler and waits for a running job, bounded by StopTimeout.
func (s *Scheduler) Stop() {
	done := s.Cron.Stop().Done()
	select {
	case <-done:
		log.Println("[INFO] scheduler stopped")
	case <-time.After(s.opts.StopTimeout):
		log.Printf("[WARN] scheduler stop timed out after %v with a job still running", s.opts.StopTimeout)
	}
}

// MarketOpenAt reports whether t falls in a weekday trading session.
func (s *Scheduler) MarketOpenAt(t time.Time) bool {
	local := t.In(s.opts.Location)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	tod := sinceMidnight(local)
	return tod >= s.opts.MarketOpen && tod < s.opts.MarketClose
}

func (s *Scheduler) entriesAllowedAt(t time.Time) bool {
	return sinceMidnight(t.In(s.opts.Location)) < s.opts.MarketClose-s.opts.EntryCutoff
}

func sinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
}

func (s *Scheduler) positionJob() {
	if !s.MarketOpenAt(s.now()) {
		return
	}
	s.run("positions", s.RunPositionCycle)
}

func (s *Scheduler) scanJob() {
	if !s.MarketOpenAt(s.now()) {
		return
	}
	s.run("scan", s.RunScanCycle)
}

func (s *Scheduler) summaryJob() {
	s.run("summary", s.RunSummary)
}

func (s *Scheduler) run(name string, cycle func(context.Context) error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	ctx := logging.WithCycle(s.Ctx, logging.NewCycleID())
	if ctx.Err() != nil {
		return
	}
	start := s.now()
	err := cycle(ctx)
	s.recordOutcome(ctx, name, err)
	if err == nil {
		logging.Infof(ctx, "%s cycle done in %v", name, s.now().Sub(start).Round(time.Millisecond))
	}
}

// recordOutcome tracks the failure streak. The errors channel hears about the first failure of a streak.
func (s *Scheduler) recordOutcome(ctx context.Context, name string, err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if err == nil {
		s.consecutive = 0
		return
	}
	s.consecutive++
	logging.Errorf(ctx, "%s cycle failed (%d consecutive): %v", name, s.consecutive, err)
	if s.consecutive == 1 {
		s.trySend(ctx, notifier.ChannelErrors, notifier.FormatError(name+" cycle", err))
	}
	if limit := s.opts.MaxConsecutiveErrors; limit > 0 && s.consecutive >= limit {
		s.shutdownOnce.Do(func() {
			logging.Errorf(ctx, "%d consecutive failed cycles, shutting down", s.consecutive)
			s.trySend(ctx, notifier.ChannelErrors, notifier.FormatError("trader", fmt.Errorf("%d consecutive failed cycles, shutting down: %w", s.consecutive, err)))
			s.shutdown()
		})
	}
}

// ConsecutiveErrors returns the current failure streak.
func (s *Scheduler) ConsecutiveErrors() int {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.consecutive
}

// RunPositionCycle refreshes held positions and executes any exits.
func (s *Scheduler) RunPositionCycle(ctx context.Context) error {
	if _, err := s.deps.Tokens.Token(ctx); err != nil {
		return fmt.Errorf("token: %w", err)
	}
	return s.sellPass(ctx)
}

// RunScanCycle runs sells first, then scans, classifies, saves the watch list and enters the best signals.
func (s *Scheduler) RunScanCycle(ctx context.Context) error {
	if _, err := s.deps.Tokens.Token(ctx); err != nil {
		return fmt.Errorf("token: %w", err)
	}
	sellErr := s.sellPass(ctx)

	cands := s.deps.Scanner.Scan(ctx)
	signals := s.deps.Classifier.Evaluate(cands)
	logging.Infof(ctx, "scan: %d analyzed, %d admitted", len(cands), len(signals))

	items := make([]model.WatchItem, 0, len(signals))
	for _, sig := range signals {
		items = append(items, model.NewWatchItem(sig))
	}
	if err := s.deps.Store.SaveWatchlist(items); err != nil {
		logging.Errorf(ctx, "save watch list: %v", err)
	}

	buys := strategy.Actionable(signals, s.opts.MaxEntriesPerCycle)
	if len(buys) > 0 {
		s.trySend(ctx, notifier.ChannelTrading, notifier.FormatScan(len(cands), signals))
	}
	if !s.entriesAllowedAt(s.now()) {
		if len(buys) > 0 {
			logging.Infof(ctx, "entry cutoff reached, skipping %d buy signals", len(buys))
		}
		return sellErr
	}
	return errors.Join(sellErr, s.buyPass(ctx, buys))
}

func (s *Scheduler) sellPass(ctx context.Context) error {
	intents, refreshErr := s.deps.Portfolio.Refresh(ctx)
	if refreshErr != nil {
		logging.Warnf(ctx, "refresh: %v", refreshErr)
	}
	var errs []error
	for _, intent := range intents {
		exec, err := s.deps.Portfolio.Exit(ctx, intent)
		switch {
		case errors.Is(err, portfolio.ErrInFlight), errors.Is(err, portfolio.ErrNotHeld):
			logging.Infof(ctx, "skip sell %s: %v", intent.Code, err)
		case err != nil:
			errs = append(errs, err)
			s.trySend(ctx, notifier.ChannelErrors, notifier.FormatError("sell "+intent.Code, err))
		default:
			s.trySend(ctx, notifier.ChannelTrading, notifier.FormatSell(exec))
		}
	}
	// A refresh error only fails the cycle when nothing could be refreshed.
	if refreshErr != nil && len(intents) == 0 && len(s.deps.Portfolio.Positions()) > 0 {
		errs = append(errs, refreshErr)
	}
	return errors.Join(errs...)
}

func (s *Scheduler) buyPass(ctx context.Context, buys []model.Signal) error {
	var errs []error
	for _, sig := range buys {
		code := sig.Candidate.Code
		exec, err := s.deps.Portfolio.Enter(ctx, sig)
		switch {
		case errors.Is(err, portfolio.ErrAlreadyHeld):
			logging.Infof(ctx, "skip buy %s: %v", code, err)
			continue
		case errors.Is(err, portfolio.ErrInsufficientCapital):
			logging.Infof(ctx, "skip buy %s: %v", code, err)
			continue
		case errors.Is(err, portfolio.ErrCapacity):
			logging.Infof(ctx, "stop buying: %v", err)
			return errors.Join(errs...)
		case err != nil:
			errs = append(errs, err)
			s.trySend(ctx, notifier.ChannelErrors, notifier.FormatError("buy "+code, err))
			continue
		}
		s.trySend(ctx, notifier.ChannelTrading, notifier.FormatBuy(exec))
	}
	return errors.Join(errs...)
}

// RunSummary reports open positions and today's executions to the summary channel.
func (s *Scheduler) RunSummary(ctx context.Context) error {
	now := s.now().In(s.opts.Location)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.opts.Location)
	execs, err := s.deps.Store.ExecutionsSince(midnight)
	if err != nil {
		return fmt.Errorf("load executions: %w", err)
	}
	s.trySend(ctx, notifier.ChannelSummary, notifier.FormatSummary(now, s.deps.Portfolio.Positions(), execs))
	return nil
}

func (s *Scheduler) trySend(ctx context.Context, ch notifier.Channel, msg notifier.Message) {
	s.deps.Notifier.Notify(ctx, ch, msg)
}
