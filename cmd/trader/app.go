package main

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"TradeSentinel/internal/auth"
	"TradeSentinel/internal/broker"
	"TradeSentinel/internal/cache"
	"TradeSentinel/internal/config"
	"TradeSentinel/internal/notifier"
	"TradeSentinel/internal/portfolio"
	"TradeSentinel/internal/recorder"
	"TradeSentinel/internal/scanner"
	"TradeSentinel/internal/strategy"
)

// app holds the wired components shared by the run and scan commands.
type app struct {
	cfg        *config.Config
	loc        *time.Location
	tokens     *auth.Manager
	client     *broker.Client
	rdb        *redis.Client
	scanner    *scanner.Scanner
	classifier *strategy.Classifier
	store      recorder.Store
	notifier   notifier.Notifier
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, loc: loc}

	bc := broker.Config{
		BaseURL:        cfg.Broker.BaseURL,
		AppKey:         cfg.Broker.AppKey,
		AppSecret:      cfg.Broker.AppSecret,
		AccountNo:      cfg.Broker.AccountNo,
		Paper:          cfg.Broker.Paper,
		Proxy:          cfg.Proxy,
		QuoteTimeout:   cfg.Broker.QuoteTimeout,
		HistoryTimeout: cfg.Broker.HistoryTimeout,
		MaxAttempts:    cfg.Broker.MaxAttempts,
		RetryBase:      cfg.Broker.RetryBase,
	}
	a.tokens, err = auth.NewManager(broker.NewTokenIssuer(bc), cfg.Broker.TokenFile, auth.Options{
		RenewMargin: cfg.Broker.RenewMargin,
		MinInterval: cfg.Broker.MinRenewGap,
	})
	if err != nil {
		return nil, err
	}
	a.client = broker.NewClient(bc, a.tokens)

	if cfg.Redis.Addr != "" {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := a.rdb.Ping(pingCtx).Err(); err != nil {
			log.Printf("[WARN] redis %s unreachable, history cache disabled: %v", cfg.Redis.Addr, err)
			_ = a.rdb.Close()
			a.rdb = nil
		}
		cancel()
	}
	history := cache.NewCachingHistory(a.rdb, cfg.Redis.HistoryTTL, a.client, loc)

	sc := cfg.Scanner
	a.scanner = scanner.New(scanner.Options{
		MinPrice:      sc.MinPrice,
		MinVolume:     sc.MinVolume,
		MaxChangeRate: sc.MaxChangeRate,
		MaxCandidates: sc.MaxCandidates,
		HistoryDays:   sc.HistoryDays,
		FlowDays:      sc.FlowDays,
		Concurrency:   sc.Concurrency,
	}, a.client, history, a.client)

	st := cfg.Strategy
	a.classifier, err = strategy.NewClassifier(strategy.Thresholds{
		Policy:              strategy.Policy(st.AdmissionPolicy),
		ADXMin:              st.ADXMin,
		FundamentalMinPrice: st.FundamentalMinPrice,
		MFIOversold:         st.MFIOversold,
		RSIOversold:         st.RSIOversold,
		StochDeep:           st.StochDeep,
	})
	if err != nil {
		return nil, err
	}

	a.store = openStore(cfg.Database.SQLitePath)
	a.notifier = newNotifier(cfg)
	return a, nil
}

func openStore(path string) recorder.Store {
	if path == "" {
		return recorder.NewNoopRecorder()
	}
	sr, err := recorder.NewSQLiteRecorder(path)
	if err != nil {
		log.Printf("[WARN] init sqlite recorder failed, using noop: %v", err)
		return recorder.NewNoopRecorder()
	}
	return sr
}

func newNotifier(cfg *config.Config) notifier.Notifier {
	sc := cfg.Slack
	if sc.BotToken == "" && sc.WebhookURL == "" {
		log.Println("[WARN] Slack is not configured, notifications disabled")
		return notifier.Noop{}
	}
	channels := make(map[notifier.Channel]string, len(sc.Channels))
	for name, target := range sc.Channels {
		channels[notifier.Channel(name)] = target
	}
	return notifier.NewSlackNotifier(notifier.SlackOptions{
		BotToken:       sc.BotToken,
		WebhookURL:     sc.WebhookURL,
		DefaultChannel: sc.DefaultChannel,
		Channels:       channels,
		Proxy:          cfg.Proxy,
		MaxRetries:     sc.MaxRetries,
	})
}

func (a *app) rules() (portfolio.Rules, error) {
	closeAt, err := a.cfg.MarketClose()
	if err != nil {
		return portfolio.Rules{}, err
	}
	t := a.cfg.Trading
	return portfolio.Rules{
		MaxPositions:        t.MaxPositions,
		StopLoss:            t.StopLoss,
		TakeProfit:          t.TakeProfit,
		TrailingStop:        t.TrailingStop,
		TrailingActivation:  t.TrailingActivation,
		MinOrderValue:       t.MinOrderValue,
		MaxPositionFraction: t.MaxPositionFraction,
		LiquidationWindow:   t.LiquidationWindow,
		BreakEvenBand:       t.BreakEvenBand,
		MarketClose:         closeAt,
		Location:            a.loc,
	}, nil
}

func (a *app) Close() {
	if err := a.notifier.Close(); err != nil {
		log.Printf("[WARN] close notifier: %v", err)
	}
	if err := a.store.Close(); err != nil {
		log.Printf("[WARN] close store: %v", err)
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}
