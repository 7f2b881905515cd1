// Package config loads the watcher configuration from a YAML or JSON file,
// applies environment overrides and validates everything once at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"pivotwatch/internal/marketdata/angel"
	"pivotwatch/internal/markethours"
	"pivotwatch/internal/model"
	"pivotwatch/internal/pattern"
	"pivotwatch/internal/zigzag"
)

// Source types.
const (
	SourceSQLite = "sqlite"
	SourceAngel  = "angel"
)

// Watch is one symbol/timeframe pair to monitor.
type Watch struct {
	Symbol    string `yaml:"symbol"`
	Timeframe string `yaml:"timeframe"`
}

// SourceConfig selects where bars come from.
type SourceConfig struct {
	Type       string       `yaml:"type"`
	SQLitePath string       `yaml:"sqlite_path"`
	Angel      angel.Config `yaml:"angel"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
	Stream        string `yaml:"stream"`
	StreamMaxLen  int64  `yaml:"stream_max_len"`
}

type WSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`   // mounted on the metrics server
	Replay  int    `yaml:"replay"` // alerts kept for reconnecting clients
}

// NotifyConfig lists the alert transports. Every configured one receives each alert.
type NotifyConfig struct {
	WebhookURL  string         `yaml:"webhook_url"`
	Telegram    TelegramConfig `yaml:"telegram"`
	Slack       SlackConfig    `yaml:"slack"`
	Redis       RedisConfig    `yaml:"redis"`
	WS          WSConfig       `yaml:"ws"`
	Journal     bool           `yaml:"journal"`      // record deliveries in SQLite
	JournalPath string         `yaml:"journal_path"` // defaults to source.sqlite_path
	Log         bool           `yaml:"log"`
}

// Config holds all application configuration.
type Config struct {
	// Single-watch form; used when Watches is empty.
	Symbol    string `yaml:"symbol"`
	Timeframe string `yaml:"timeframe"`

	Watches         []Watch            `yaml:"watches"`
	BarsToFetch     int                `yaml:"bars_to_fetch"`
	PollInterval    time.Duration      `yaml:"poll_interval"`
	PollIntervalSec int                `yaml:"poll_interval_sec"` // overrides PollInterval when set
	ZigZag          zigzag.Params      `yaml:"zigzag"`
	Patterns        [][]string         `yaml:"patterns"`
	BufferSize      int                `yaml:"buffer_size"`
	PivotsTail      int                `yaml:"pivots_tail"`
	FallbackPoint   float64            `yaml:"fallback_point"`
	Source          SourceConfig       `yaml:"source"`
	Session         markethours.Config `yaml:"session"`
	Notify          NotifyConfig       `yaml:"notify"`
	MetricsAddr     string             `yaml:"metrics_addr"`
	LogLevel        string             `yaml:"log_level"`

	patterns []model.Pattern
	targets  []Target
}

// Target is a validated watch.
type Target struct {
	Symbol    string
	Timeframe model.Timeframe
}

func (t Target) String() string { return t.Symbol + "/" + string(t.Timeframe) }

// Default returns the configuration used for every field a file leaves out.
func Default() *Config {
	return &Config{
		Symbol:        "XAUUSD",
		Timeframe:     "M5",
		BarsToFetch:   3000,
		PollInterval:  5 * time.Second,
		ZigZag:        zigzag.DefaultParams(),
		Patterns:      [][]string{{"HL", "HH", "LL", "LH", "LL"}},
		BufferSize:    pattern.DefaultCapacity,
		PivotsTail:    10,
		FallbackPoint: 0.0001,
		Source:        SourceConfig{Type: SourceSQLite, SQLitePath: "data/bars.db"},
		MetricsAddr:   ":9090",
		LogLevel:      "info",
	}
}

// Load reads path (YAML or JSON; empty means defaults only), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets the environment override credentials and endpoints.
func (c *Config) applyEnv() {
	c.Symbol = getEnv("PIVOTWATCH_SYMBOL", c.Symbol)
	c.Timeframe = getEnv("PIVOTWATCH_TIMEFRAME", c.Timeframe)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)

	c.Source.Type = getEnv("SOURCE_TYPE", c.Source.Type)
	c.Source.SQLitePath = getEnv("SQLITE_PATH", c.Source.SQLitePath)
	c.Source.Angel.APIKey = getEnv("ANGEL_API_KEY", c.Source.Angel.APIKey)
	c.Source.Angel.ClientCode = getEnv("ANGEL_CLIENT_CODE", c.Source.Angel.ClientCode)
	c.Source.Angel.Password = getEnv("ANGEL_PASSWORD", c.Source.Angel.Password)
	c.Source.Angel.TOTPSecret = getEnv("ANGEL_TOTP_SECRET", c.Source.Angel.TOTPSecret)

	c.Notify.WebhookURL = getEnv("WEBHOOK_URL", c.Notify.WebhookURL)
	c.Notify.Telegram.BotToken = getEnv("TELEGRAM_BOT_TOKEN", c.Notify.Telegram.BotToken)
	c.Notify.Telegram.ChatID = getEnv("TELEGRAM_CHAT_ID", c.Notify.Telegram.ChatID)
	c.Notify.Slack.Token = getEnv("SLACK_TOKEN", c.Notify.Slack.Token)
	c.Notify.Slack.Channel = getEnv("SLACK_CHANNEL", c.Notify.Slack.Channel)
	c.Notify.Redis.Addr = getEnv("REDIS_ADDR", c.Notify.Redis.Addr)
	c.Notify.Redis.Password = getEnv("REDIS_PASSWORD", c.Notify.Redis.Password)

	if v := getEnv("POLL_INTERVAL", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.PollInterval = d
			c.PollIntervalSec = 0
		}
	}
	if v := getEnv("BARS_TO_FETCH", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BarsToFetch = n
		}
	}
}

// normalize folds the legacy symbol/timeframe and poll_interval_sec fields
// into their current form and fills in path defaults. It is idempotent.
func (c *Config) normalize() {
	if c.PollIntervalSec > 0 {
		c.PollInterval = time.Duration(c.PollIntervalSec) * time.Second
	}
	if len(c.Watches) == 0 && c.Symbol != "" {
		c.Watches = []Watch{{Symbol: c.Symbol, Timeframe: c.Timeframe}}
	}
	c.Source.Type = strings.ToLower(strings.TrimSpace(c.Source.Type))
	if c.Notify.WS.Enabled && c.Notify.WS.Path == "" {
		c.Notify.WS.Path = "/ws"
	}
	if c.Notify.JournalPath == "" {
		c.Notify.JournalPath = c.Source.SQLitePath
	}
}

// Validate normalizes c and reports every configuration problem at once.
func (c *Config) Validate() error {
	c.normalize()

	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	c.targets = c.targets[:0]
	seen := map[Target]bool{}
	if len(c.Watches) == 0 {
		add("at least one watch (or symbol + timeframe) is required")
	}
	for i, w := range c.Watches {
		sym := strings.TrimSpace(w.Symbol)
		if sym == "" {
			add("watches[%d]: symbol is required", i)
			continue
		}
		tf, err := model.ParseTimeframe(w.Timeframe)
		if err != nil {
			add("watches[%d]: %v", i, err)
			continue
		}
		t := Target{Symbol: sym, Timeframe: tf}
		if seen[t] {
			add("watches[%d]: duplicate watch %s", i, t)
			continue
		}
		seen[t] = true
		c.targets = append(c.targets, t)
	}

	if c.PollInterval <= 0 {
		add("poll_interval must be > 0")
	}
	if !(c.FallbackPoint > 0) {
		add("fallback_point must be > 0")
	}
	if c.FallbackPoint > 0 {
		if err := c.ZigZag.Validate(c.FallbackPoint); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if c.BarsToFetch < c.ZigZag.MinBars() {
		add("bars_to_fetch=%d is below the %d bars zigzag depth %d needs", c.BarsToFetch, c.ZigZag.MinBars(), c.ZigZag.Depth)
	}
	if c.BufferSize <= 0 {
		add("buffer_size must be > 0")
	}
	if c.PivotsTail < 0 {
		add("pivots_tail must be >= 0")
	}

	c.patterns = c.patterns[:0]
	if len(c.Patterns) == 0 {
		add("at least one pattern is required")
	}
	for i, raw := range c.Patterns {
		p, err := model.ParsePattern(raw)
		switch {
		case err != nil:
			add("patterns[%d]: %v", i, err)
		case len(p) == 0:
			add("patterns[%d]: empty pattern would match every pivot", i)
		case c.BufferSize > 0 && len(p) > c.BufferSize:
			add("patterns[%d]: %d labels can never fit a buffer of %d", i, len(p), c.BufferSize)
		default:
			c.patterns = append(c.patterns, p)
		}
	}

	switch c.Source.Type {
	case SourceSQLite:
		if c.Source.SQLitePath == "" {
			add("source.sqlite_path is required for the sqlite source")
		}
	case SourceAngel:
		a := c.Source.Angel
		if a.APIKey == "" || a.ClientCode == "" || a.Password == "" || a.TOTPSecret == "" {
			add("source.angel: api_key, client_code, password and totp_secret are required")
		}
		for _, t := range c.targets {
			if _, ok := a.Tokens[t.Symbol]; !ok {
				add("source.angel.tokens: no symbol token for %s", t.Symbol)
			}
			if _, err := angel.Interval(t.Timeframe); err != nil {
				add("watch %s: %v", t, err)
			}
		}
	default:
		add("source.type %q: want %s or %s", c.Source.Type, SourceSQLite, SourceAngel)
	}

	if c.Session.Enabled() {
		if _, err := markethours.New(c.Session); err != nil {
			add("session: %v", err)
		}
	}

	n := c.Notify
	if (n.Telegram.BotToken == "") != (n.Telegram.ChatID == "") {
		add("notify.telegram: bot_token and chat_id go together")
	}
	if (n.Slack.Token == "") != (n.Slack.Channel == "") {
		add("notify.slack: token and channel go together")
	}
	if n.Journal && n.JournalPath == "" {
		add("notify.journal needs journal_path or source.sqlite_path")
	}

	return errs
}

// Targets returns the validated watches.
func (c *Config) Targets() []Target { return c.targets }

// CompiledPatterns returns the validated patterns in configured order.
func (c *Config) CompiledPatterns() []model.Pattern { return c.patterns }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
