package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pivotwatch/internal/model"
)

type fakeCommander struct {
	published map[string][]string
	added     []*goredis.XAddArgs
	err       error
}

func (f *fakeCommander) Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd {
	if f.err != nil {
		return goredis.NewIntResult(0, f.err)
	}
	if f.published == nil {
		f.published = map[string][]string{}
	}
	f.published[channel] = append(f.published[channel], string(message.([]byte)))
	return goredis.NewIntResult(1, nil)
}

func (f *fakeCommander) XAdd(ctx context.Context, a *goredis.XAddArgs) *goredis.StringCmd {
	f.added = append(f.added, a)
	return goredis.NewStringResult("1700000000000-0", nil)
}

func alertFor(symbol string) model.Alert {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return model.NewAlert(symbol, model.M5, model.Pattern{model.HL, model.HH},
		[]model.Label{model.HL, model.HH}, 1.2345, nil, 10, t0)
}

func TestPublisher_PublishesAndStreams(t *testing.T) {
	fc := &fakeCommander{}
	p := newPublisher(fc, Config{}, NewCircuitBreaker(3, time.Second))

	a := alertFor("EURUSD")
	ok, msg := p.Deliver(context.Background(), a)

	require.True(t, ok, msg)
	assert.Equal(t, "Redis OK: 1700000000000-0", msg)
	require.Len(t, fc.published["pivotwatch:alerts:EURUSD:M5"], 1)
	assert.JSONEq(t, string(a.JSON()), fc.published["pivotwatch:alerts:EURUSD:M5"][0])

	require.Len(t, fc.added, 1)
	assert.Equal(t, defaultStream, fc.added[0].Stream)
	assert.Equal(t, int64(defaultStreamMaxLen), fc.added[0].MaxLen)
	assert.True(t, fc.added[0].Approx)
}

func TestPublisher_FailuresTripBreaker(t *testing.T) {
	fc := &fakeCommander{err: errors.New("connection refused")}
	p := newPublisher(fc, Config{ChannelPrefix: "alerts"}, NewCircuitBreaker(2, time.Minute))

	for i := 0; i < 2; i++ {
		ok, msg := p.Deliver(context.Background(), alertFor("XAUUSD"))
		assert.False(t, ok)
		assert.Contains(t, msg, "Redis Error: publish: connection refused")
	}
	assert.Equal(t, StateOpen, p.Breaker().CurrentState())

	ok, msg := p.Deliver(context.Background(), alertFor("XAUUSD"))
	assert.False(t, ok)
	assert.Equal(t, "Redis Skipped: circuit breaker is open", msg)
	assert.Empty(t, fc.added)
}

func TestPublisher_Channel(t *testing.T) {
	p := newPublisher(&fakeCommander{}, Config{ChannelPrefix: "x"}, NewCircuitBreaker(1, time.Second))
	assert.Equal(t, "x:XAUUSD:H1", p.Channel("XAUUSD", "H1"))
	assert.NoError(t, p.Close())
}
