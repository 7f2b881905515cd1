package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"pivotwatch/internal/model"
)

const (
	defaultChannelPrefix = "pivotwatch:alerts"
	defaultStream        = "pivotwatch:alerts:stream"
	defaultStreamMaxLen  = 10000
)

// Config configures the Redis alert publisher.
type Config struct {
	Addr          string // e.g. "localhost:6379"
	Password      string
	DB            int
	ChannelPrefix string // pub/sub channel prefix; alerts go to {prefix}:{symbol}:{tf}
	Stream        string // capped stream every alert is appended to
	StreamMaxLen  int64
}

// commander is the subset of the go-redis client the publisher uses.
type commander interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
	XAdd(ctx context.Context, a *goredis.XAddArgs) *goredis.StringCmd
}

// Publisher fans alerts out over Redis pub/sub and appends them to a capped
// stream for late consumers. It implements model.Notifier.
type Publisher struct {
	client  *goredis.Client
	cmd     commander
	cfg     Config
	breaker *CircuitBreaker
}

// New connects to Redis and creates a publisher guarded by a circuit breaker.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	p := newPublisher(client, cfg, NewCircuitBreaker(5, 10*time.Second))
	p.client = client
	return p, nil
}

func newPublisher(cmd commander, cfg Config, breaker *CircuitBreaker) *Publisher {
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = defaultChannelPrefix
	}
	if cfg.Stream == "" {
		cfg.Stream = defaultStream
	}
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = defaultStreamMaxLen
	}
	return &Publisher{cmd: cmd, cfg: cfg, breaker: breaker}
}

// Client returns the underlying Redis client for health checks (nil in tests).
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker exposes the circuit breaker so callers can hook state changes.
func (p *Publisher) Breaker() *CircuitBreaker { return p.breaker }

// Channel returns the pub/sub channel for a symbol and timeframe.
func (p *Publisher) Channel(symbol, tf string) string {
	return p.cfg.ChannelPrefix + ":" + symbol + ":" + tf
}

func (p *Publisher) Deliver(ctx context.Context, alert model.Alert) (bool, string) {
	data := alert.JSON()

	var id string
	err := p.breaker.Execute(func() error {
		if err := p.cmd.Publish(ctx, p.Channel(alert.Symbol, alert.Timeframe), data).Err(); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		var err error
		id, err = p.cmd.XAdd(ctx, &goredis.XAddArgs{
			Stream: p.cfg.Stream,
			MaxLen: p.cfg.StreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{
				"id":     alert.ID,
				"symbol": alert.Symbol,
				"tf":     alert.Timeframe,
				"data":   string(data),
			},
		}).Result()
		if err != nil {
			return fmt.Errorf("xadd: %w", err)
		}
		return nil
	})

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return false, "Redis Skipped: " + err.Error()
	case err != nil:
		log.Printf("[redis] deliver %s failed: %v", alert.ID, err)
		return false, "Redis Error: " + err.Error()
	}
	return true, "Redis OK: " + id
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
