// Package angel supplies bars from Angel One SmartAPI historical candles.
package angel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"pivotwatch/internal/model"
	"pivotwatch/pkg/smartconnect"
)

// Config configures the Angel One bar source.
type Config struct {
	APIKey     string             `json:"api_key" yaml:"api_key"`
	ClientCode string             `json:"client_code" yaml:"client_code"`
	Password   string             `json:"password" yaml:"password"`
	TOTPSecret string             `json:"totp_secret" yaml:"totp_secret"`
	Exchange   string             `json:"exchange" yaml:"exchange"`     // default NSE
	Tokens     map[string]string  `json:"tokens" yaml:"tokens"`         // symbol -> symbol token
	TickSizes  map[string]float64 `json:"tick_sizes" yaml:"tick_sizes"` // symbol -> tick size
	RootURL    string             `json:"root_url" yaml:"root_url"`
}

// candleClient is the part of smartconnect the source uses.
type candleClient interface {
	GenerateSession(ctx context.Context, clientCode, password, totp string) (smartconnect.Session, error)
	GetCandleData(ctx context.Context, r smartconnect.CandleRequest) ([]smartconnect.Candle, error)
}

type interval struct {
	name    string
	maxDays int // per-request range limit
}

var intervals = map[model.Timeframe]interval{
	model.M1:  {"ONE_MINUTE", 30},
	model.M5:  {"FIVE_MINUTE", 100},
	model.M15: {"FIFTEEN_MINUTE", 200},
	model.M30: {"THIRTY_MINUTE", 200},
	model.H1:  {"ONE_HOUR", 400},
	model.D1:  {"ONE_DAY", 2000},
}

// Interval maps a timeframe to the SmartAPI interval name.
func Interval(tf model.Timeframe) (string, error) {
	iv, ok := intervals[tf]
	if !ok {
		return "", fmt.Errorf("angel: timeframe %s not offered by getCandleData", tf)
	}
	return iv.name, nil
}

// Source implements model.BarSource over SmartAPI.
type Source struct {
	cfg    Config
	client candleClient
	now    func() time.Time

	mu       sync.Mutex
	loggedIn bool
}

// New creates a source. Login happens lazily on the first fetch.
func New(cfg Config) *Source {
	if cfg.Exchange == "" {
		cfg.Exchange = "NSE"
	}
	return &Source{
		cfg:    cfg,
		client: smartconnect.New(smartconnect.Config{APIKey: cfg.APIKey, RootURL: cfg.RootURL}),
		now:    time.Now,
	}
}

// Login creates a session with a freshly generated TOTP code.
func (s *Source) Login(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginLocked(ctx)
}

func (s *Source) loginLocked(ctx context.Context) error {
	code, err := totp.GenerateCode(s.cfg.TOTPSecret, s.now())
	if err != nil {
		return fmt.Errorf("angel: totp: %w", err)
	}
	if _, err := s.client.GenerateSession(ctx, s.cfg.ClientCode, s.cfg.Password, code); err != nil {
		return fmt.Errorf("angel: %w", err)
	}
	s.loggedIn = true
	return nil
}

// FetchRecentBars downloads enough history to cover count bars and returns the
// newest count of them, oldest first.
func (s *Source) FetchRecentBars(ctx context.Context, symbol string, tf model.Timeframe, count int) ([]model.Bar, error) {
	token, ok := s.cfg.Tokens[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: no symbol token for %s", model.ErrDataUnavailable, symbol)
	}
	iv, ok := intervals[tf]
	if !ok {
		return nil, fmt.Errorf("%w: timeframe %s not offered by getCandleData", model.ErrDataUnavailable, tf)
	}

	to := s.now()
	req := smartconnect.CandleRequest{
		Exchange:    s.cfg.Exchange,
		SymbolToken: token,
		Interval:    iv.name,
		From:        to.Add(-lookback(tf, iv, count)),
		To:          to,
	}

	candles, err := s.fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDataUnavailable, err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: no candles for %s %s", model.ErrDataUnavailable, symbol, tf)
	}
	if len(candles) > count {
		candles = candles[len(candles)-count:]
	}

	bars := make([]model.Bar, len(candles))
	for i, c := range candles {
		bars[i] = model.Bar{Time: c.Time, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
	}
	model.Reindex(bars)
	return bars, nil
}

func (s *Source) fetch(ctx context.Context, req smartconnect.CandleRequest) ([]smartconnect.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loggedIn {
		if err := s.loginLocked(ctx); err != nil {
			return nil, err
		}
	}
	candles, err := s.client.GetCandleData(ctx, req)
	if errors.Is(err, smartconnect.ErrTokenExpired) {
		log.Printf("[angel] session expired, logging in again")
		s.loggedIn = false
		if err := s.loginLocked(ctx); err != nil {
			return nil, err
		}
		candles, err = s.client.GetCandleData(ctx, req)
	}
	return candles, err
}

// lookback is the request span for count bars. Sessions cover only part of the
// calendar, so the span is stretched and then capped at the interval's limit.
func lookback(tf model.Timeframe, iv interval, count int) time.Duration {
	span := time.Duration(count) * tf.Duration() * 4
	if tf == model.D1 {
		span = time.Duration(count) * tf.Duration() * 3 / 2
	}
	limit := time.Duration(iv.maxDays) * 24 * time.Hour
	if span > limit {
		span = limit
	}
	if span < 24*time.Hour {
		span = 24 * time.Hour
	}
	return span
}

// PointSize returns the configured tick size, 0 when none is configured, and
// model.ErrSymbolUnknown for symbols without a token.
func (s *Source) PointSize(ctx context.Context, symbol string) (float64, error) {
	if _, ok := s.cfg.Tokens[symbol]; !ok {
		return 0, fmt.Errorf("%w: no symbol token for %s", model.ErrSymbolUnknown, symbol)
	}
	return s.cfg.TickSizes[symbol], nil
}
