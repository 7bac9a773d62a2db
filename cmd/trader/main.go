package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"TradeSentinel/internal/config"
	"TradeSentinel/internal/logging"
	"TradeSentinel/internal/notifier"
	"TradeSentinel/internal/portfolio"
	"TradeSentinel/internal/scheduler"
	"TradeSentinel/internal/status"
	"TradeSentinel/internal/strategy"
)

var cfgPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "KIS equity trading engine",
		Long: `trader scans the KIS rankings for oversold stocks in a trend, enters
positions with market orders and manages their exits.`,
		RunE: runTrader,
	}
	defaultPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		defaultPath = v
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultPath, "Path to the YAML config")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the trading loop until interrupted",
		RunE:  runTrader,
	})
	rootCmd.AddCommand(scanCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func runTrader(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logFile, err := logging.Setup(logging.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return err
	}
	defer logFile.Close()
	log.Printf("[INFO] TradeSentinel starting (paper=%v, account=%s)", cfg.Broker.Paper, maskAccount(cfg.Broker.AccountNo))

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	rules, err := a.rules()
	if err != nil {
		return err
	}
	pm, err := portfolio.NewManager(rules, a.client, a.store)
	if err != nil {
		return err
	}

	opts, err := schedulerOptions(cfg, a)
	if err != nil {
		return err
	}
	sched := scheduler.NewScheduler(ctx, opts, scheduler.Deps{
		Tokens:     a.tokens,
		Scanner:    a.scanner,
		Classifier: a.classifier,
		Portfolio:  pm,
		Store:      a.store,
		Notifier:   a.notifier,
	}, cancel)
	if err := sched.RegisterAll(); err != nil {
		return fmt.Errorf("register cron tasks: %w", err)
	}

	if _, err := a.tokens.Token(ctx); err != nil {
		log.Printf("[WARN] initial token request failed, cycles will retry: %v", err)
	}

	var statusSrv *status.Server
	if cfg.Status.Addr != "" {
		statusSrv = status.NewServer(cfg.Status.Addr, status.Deps{
			Positions:   pm.Positions,
			Watchlist:   a.store.LoadWatchlist,
			Credential:  a.tokens.Status,
			ErrorStreak: sched.ConsecutiveErrors,
		})
		statusSrv.Start()
	}

	sched.Start()
	a.notifier.Notify(ctx, notifier.ChannelDeploy, notifier.FormatDeploy("started", cfg.Broker.Paper))
	log.Println("[INFO] TradeSentinel is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal or the scheduler's error ceiling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	select {
	case sig := <-sigCh:
		log.Printf("[INFO] %v received, stopping...", sig)
	case <-ctx.Done():
		log.Println("[ERROR] trader stopping after repeated failures")
	}

	sched.Stop()
	cancel()
	if statusSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := statusSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] status server shutdown: %v", err)
		}
		done()
	}
	a.notifier.Notify(context.Background(), notifier.ChannelDeploy, notifier.FormatDeploy("stopped", cfg.Broker.Paper))
	log.Println("[INFO] TradeSentinel stopped")
	return nil
}

func schedulerOptions(cfg *config.Config, a *app) (scheduler.Options, error) {
	open, err := cfg.MarketOpen()
	if err != nil {
		return scheduler.Options{}, err
	}
	closeAt, err := cfg.MarketClose()
	if err != nil {
		return scheduler.Options{}, err
	}
	return scheduler.Options{
		PositionInterval:     cfg.Schedule.PositionInterval,
		ScanInterval:         cfg.Schedule.ScanInterval,
		SummaryCron:          cfg.Schedule.SummaryCron,
		MarketOpen:           open,
		MarketClose:          closeAt,
		EntryCutoff:          cfg.Trading.LiquidationWindow,
		Location:             a.loc,
		MaxEntriesPerCycle:   cfg.Trading.MaxEntriesPerCycle,
		MaxConsecutiveErrors: cfg.Schedule.MaxConsecutiveErrors,
		StopTimeout:          cfg.Schedule.StopTimeout,
	}, nil
}

func scanCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan and print the signals without ordering",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := logging.WithCycle(cmd.Context(), logging.NewCycleID())
			if _, err := a.tokens.Token(ctx); err != nil {
				return fmt.Errorf("token: %w", err)
			}
			cands := a.scanner.Scan(ctx)
			signals := a.classifier.Evaluate(cands)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d analyzed, %d admitted\n", len(cands), len(signals))
			for _, s := range signals {
				c := s.Candidate
				mark := " "
				if s.Buy {
					mark = "*"
				}
				fmt.Fprintf(out, "%s %-8s %-20s %10.0f  ADX %5.1f  RSI %5.1f  %-6s %s\n",
					mark, c.Code, c.Name, c.Quote.Price, c.Indicators.ADX, c.Indicators.RSI, c.Provenance, s.ReasonText())
			}
			n := scanLimit(cmd.Flags().Changed("limit"), limit, cfg)
			for _, s := range strategy.Actionable(signals, n) {
				fmt.Fprintf(out, "would buy %s\n", s.Candidate.Code)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of buy signals an entry cycle would act on (default trading.max_entries_per_cycle)")
	return cmd
}

// scanLimit mirrors the live cycle's entry cap unless --limit was given.
func scanLimit(flagSet bool, flag int, cfg *config.Config) int {
	if flagSet && flag > 0 {
		return flag
	}
	return cfg.Trading.MaxEntriesPerCycle
}

func maskAccount(no string) string {
	if len(no) <= 4 {
		return "****"
	}
	return no[:4] + "****"
}
