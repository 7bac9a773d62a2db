package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Broker struct {
		AppKey         string        `yaml:"app_key"`
		AppSecret      string        `yaml:"app_secret"`
		AccountNo      string        `yaml:"account_no"`
		Paper          bool          `yaml:"paper"`
		BaseURL        string        `yaml:"base_url"`
		TokenFile      string        `yaml:"token_file"`
		QuoteTimeout   time.Duration `yaml:"quote_timeout"`
		HistoryTimeout time.Duration `yaml:"history_timeout"`
		MaxAttempts    int           `yaml:"max_attempts"`
		RetryBase      time.Duration `yaml:"retry_base"`
		RenewMargin    time.Duration `yaml:"renew_margin"`
		MinRenewGap    time.Duration `yaml:"min_renew_interval"`
	} `yaml:"broker"`
	Trading struct {
		MaxPositions        int           `yaml:"max_positions"`
		MaxEntriesPerCycle  int           `yaml:"max_entries_per_cycle"`
		StopLoss            float64       `yaml:"stop_loss"`
		TakeProfit          float64       `yaml:"take_profit"`
		TrailingStop        float64       `yaml:"trailing_stop"`
		TrailingActivation  float64       `yaml:"trailing_activation"`
		MinOrderValue       float64       `yaml:"min_order_value"`
		MaxPositionFraction float64       `yaml:"max_position_fraction"`
		LiquidationWindow   time.Duration `yaml:"liquidation_window"`
		BreakEvenBand       float64       `yaml:"break_even_band"`
	} `yaml:"trading"`
	Scanner struct {
		MinPrice      float64 `yaml:"min_price"`
		MinVolume     float64 `yaml:"min_volume"`
		MaxChangeRate float64 `yaml:"max_change_rate"`
		MaxCandidates int     `yaml:"max_candidates"`
		HistoryDays   int     `yaml:"history_days"`
		FlowDays      int     `yaml:"flow_days"`
		Concurrency   int     `yaml:"concurrency"`
	} `yaml:"scanner"`
	Strategy struct {
		AdmissionPolicy     string  `yaml:"admission_policy"`
		ADXMin              float64 `yaml:"adx_min"`
		FundamentalMinPrice float64 `yaml:"fundamental_min_price"`
		MFIOversold         float64 `yaml:"mfi_oversold"`
		RSIOversold         float64 `yaml:"rsi_oversold"`
		StochDeep           float64 `yaml:"stoch_deep"`
	} `yaml:"strategy"`
	Schedule struct {
		PositionInterval     time.Duration `yaml:"position_interval"`
		ScanInterval         time.Duration `yaml:"scan_interval"`
		SummaryCron          string        `yaml:"summary_cron"`
		MarketOpen           string        `yaml:"market_open"`
		MarketClose          string        `yaml:"market_close"`
		Timezone             string        `yaml:"timezone"`
		MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`
		StopTimeout          time.Duration `yaml:"stop_timeout"`
	} `yaml:"schedule"`
	Slack struct {
		BotToken       string            `yaml:"bot_token"`
		WebhookURL     string            `yaml:"webhook_url"`
		DefaultChannel string            `yaml:"default_channel"`
		Channels       map[string]string `yaml:"channels"`
		MaxRetries     int               `yaml:"max_retries"`
	} `yaml:"slack"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Redis struct {
		Addr       string        `yaml:"addr"`
		Password   string        `yaml:"password"`
		DB         int           `yaml:"db"`
		HistoryTTL time.Duration `yaml:"history_ttl"`
	} `yaml:"redis"`
	Log struct {
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"log"`
	Status struct {
		Addr string `yaml:"addr"`
	} `yaml:"status"`
	Proxy string `yaml:"proxy"`
}

// Load reads .env and the YAML file, then applies environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("KIS_APP_KEY"); v != "" {
		c.Broker.AppKey = v
	}
	if v := os.Getenv("KIS_APP_SECRET"); v != "" {
		c.Broker.AppSecret = v
	}
	if v := os.Getenv("KIS_ACCOUNT_NUMBER"); v != "" {
		c.Broker.AccountNo = v
	}
	if v := os.Getenv("KIS_PAPER"); v != "" {
		paper, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("KIS_PAPER: %w", err)
		}
		c.Broker.Paper = paper
	}
	if v := os.Getenv("KIS_BASE_URL"); v != "" {
		c.Broker.BaseURL = v
	}
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		c.Slack.BotToken = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		c.Slack.WebhookURL = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Database.SQLitePath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("STATUS_ADDR"); v != "" {
		c.Status.Addr = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		c.Proxy = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	b := &c.Broker
	if b.AccountNo != "" && !strings.Contains(b.AccountNo, "-") {
		b.AccountNo += "-01"
	}
	if b.BaseURL == "" {
		if b.Paper {
			b.BaseURL = "https://openapivts.koreainvestment.com:29443"
		} else {
			b.BaseURL = "https://openapi.koreainvestment.com:9443"
		}
	}
	setDefault(&b.TokenFile, "data/kis_token.json")
	setDefault(&b.QuoteTimeout, 5*time.Second)
	setDefault(&b.HistoryTimeout, 15*time.Second)
	setDefault(&b.MaxAttempts, 3)
	setDefault(&b.RetryBase, time.Second)
	setDefault(&b.RenewMargin, time.Hour)
	setDefault(&b.MinRenewGap, time.Minute)

	t := &c.Trading
	setDefault(&t.MaxPositions, 5)
	setDefault(&t.MaxEntriesPerCycle, 2)
	setDefault(&t.StopLoss, -0.03)
	setDefault(&t.TakeProfit, 0.05)
	setDefault(&t.TrailingStop, 0.02)
	setDefault(&t.TrailingActivation, 0.02)
	setDefault(&t.MinOrderValue, 50000)
	setDefault(&t.MaxPositionFraction, 0.3)
	setDefault(&t.LiquidationWindow, 10*time.Minute)
	setDefault(&t.BreakEvenBand, 0.01)

	s := &c.Scanner
	setDefault(&s.MinPrice, 1000)
	setDefault(&s.MinVolume, 100000)
	setDefault(&s.MaxChangeRate, 20)
	setDefault(&s.MaxCandidates, 20)
	setDefault(&s.HistoryDays, 150)
	setDefault(&s.FlowDays, 5)
	setDefault(&s.Concurrency, 4)

	st := &c.Strategy
	setDefault(&st.AdmissionPolicy, "relaxed")
	setDefault(&st.ADXMin, 25)
	setDefault(&st.FundamentalMinPrice, 5000)
	setDefault(&st.MFIOversold, 20)
	setDefault(&st.RSIOversold, 30)
	setDefault(&st.StochDeep, 20)

	sc := &c.Schedule
	setDefault(&sc.PositionInterval, 30*time.Second)
	setDefault(&sc.ScanInterval, 5*time.Minute)
	setDefault(&sc.SummaryCron, "0 30 15 * * 1-5")
	setDefault(&sc.MarketOpen, "09:00")
	setDefault(&sc.MarketClose, "15:20")
	setDefault(&sc.Timezone, "Asia/Seoul")
	setDefault(&sc.MaxConsecutiveErrors, 10)
	setDefault(&sc.StopTimeout, 30*time.Second)

	setDefault(&c.Slack.DefaultChannel, "#kis-bot")
	setDefault(&c.Slack.MaxRetries, 2)
	setDefault(&c.Database.SQLitePath, "data/trade_sentinel.db")
	setDefault(&c.Redis.HistoryTTL, 10*time.Minute)
	setDefault(&c.Log.MaxSizeMB, 50)
	setDefault(&c.Log.MaxBackups, 7)
	setDefault(&c.Log.MaxAgeDays, 30)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that all required fields are set and values are in range.
func (c *Config) Validate() error {
	if c.Broker.AppKey == "" {
		return fmt.Errorf("broker.app_key is required")
	}
	if c.Broker.AppSecret == "" {
		return fmt.Errorf("broker.app_secret is required")
	}
	if c.Broker.AccountNo == "" {
		return fmt.Errorf("broker.account_no is required")
	}
	if c.Trading.MaxPositions <= 0 {
		return fmt.Errorf("trading.max_positions must be positive")
	}
	if c.Trading.StopLoss >= 0 {
		return fmt.Errorf("trading.stop_loss must be negative, got %v", c.Trading.StopLoss)
	}
	if c.Trading.TakeProfit <= 0 {
		return fmt.Errorf("trading.take_profit must be positive")
	}
	if f := c.Trading.MaxPositionFraction; f <= 0 || f > 1 {
		return fmt.Errorf("trading.max_position_fraction must be in (0, 1], got %v", f)
	}
	if p := c.Strategy.AdmissionPolicy; p != "relaxed" && p != "strict" {
		return fmt.Errorf("strategy.admission_policy must be relaxed or strict, got %q", p)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	open, err := c.MarketOpen()
	if err != nil {
		return err
	}
	closeAt, err := c.MarketClose()
	if err != nil {
		return err
	}
	if open >= closeAt {
		return fmt.Errorf("schedule.market_open %s must precede market_close %s", c.Schedule.MarketOpen, c.Schedule.MarketClose)
	}
	return nil
}

// Location returns the exchange time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		// Containers without tzdata still know Korea's fixed offset.
		if c.Schedule.Timezone == "Asia/Seoul" {
			return time.FixedZone("KST", 9*60*60), nil
		}
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return loc, nil
}

// MarketOpen returns the session open as an offset from midnight.
func (c *Config) MarketOpen() (time.Duration, error) {
	return clockOffset("schedule.market_open", c.Schedule.MarketOpen)
}

// MarketClose returns the session close as an offset from midnight.
func (c *Config) MarketClose() (time.Duration, error) {
	return clockOffset("schedule.market_close", c.Schedule.MarketClose)
}

func clockOffset(field, hhmm string) (time.Duration, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
