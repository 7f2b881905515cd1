package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pivotwatch/internal/model"
)

type recordingNotifier struct {
	ok     bool
	alerts []model.Alert
}

func (r *recordingNotifier) Deliver(_ context.Context, a model.Alert) (bool, string) {
	r.alerts = append(r.alerts, a)
	if r.ok {
		return true, "Webhook OK: 200"
	}
	return false, "Webhook Failed: 500 - boom"
}

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func pv(idx int, price float64, kind model.PivotKind) model.Pivot {
	return model.Pivot{Index: idx, Price: price, Kind: kind, Time: t0.Add(time.Duration(idx) * 5 * time.Minute)}
}

// HH LL HH HL HH
func risingPivots() []model.Pivot {
	return []model.Pivot{
		pv(1, 10, model.PivotHigh),
		pv(2, 5, model.PivotLow),
		pv(3, 11, model.PivotHigh),
		pv(4, 6, model.PivotLow),
		pv(5, 12, model.PivotHigh),
	}
}

func newTestSession() *Session {
	s := NewSession("XAUUSD", model.M5, 10)
	s.now = func() time.Time { return t0.Add(time.Hour) }
	return s
}

func TestRunCycle_FiresOnMatch(t *testing.T) {
	s := newTestSession()
	n := &recordingNotifier{ok: true}

	res, err := s.RunCycle(context.Background(), Cycle{
		Pivots:    risingPivots(),
		LastClose: 11.5,
		Patterns:  []model.Pattern{{model.HL, model.HH}},
	}, n)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Labels)
	assert.Equal(t, 5, res.Appended)
	assert.Len(t, res.Matched, 1)
	require.Len(t, n.alerts, 1)

	a := n.alerts[0]
	assert.Equal(t, model.EventPatternDetected, a.Event)
	assert.Equal(t, "XAUUSD", a.Symbol)
	assert.Equal(t, "M5", a.Timeframe)
	assert.Equal(t, []string{"HL", "HH"}, a.MatchedPattern)
	assert.Equal(t, []string{"HL", "HH"}, a.BufferTail)
	assert.Equal(t, 11.5, a.PriceClose)
	assert.Len(t, a.PivotsTail, 5)
	assert.Equal(t, "2024-03-01T10:00:00Z", a.TSUTC)

	assert.True(t, s.Seen(Fingerprint{Symbol: "XAUUSD", Timeframe: model.M5, Pattern: "HL,HH", PivotIndex: 5}))
	assert.Equal(t, 5, s.Consumed())
}

func TestRunCycle_DedupIsIdempotent(t *testing.T) {
	s := newTestSession()
	n := &recordingNotifier{ok: true}
	c := Cycle{Pivots: risingPivots(), Patterns: []model.Pattern{{model.HL, model.HH}}}

	_, err := s.RunCycle(context.Background(), c, n)
	require.NoError(t, err)
	before := s.Buffer()

	res, err := s.RunCycle(context.Background(), c, n)
	require.NoError(t, err)

	assert.Len(t, n.alerts, 1, "no second alert for the same pivot")
	assert.Equal(t, 0, res.Appended)
	assert.Len(t, res.Matched, 1)
	assert.Equal(t, 1, res.Duplicates)
	assert.Empty(t, res.Deliveries)
	assert.Equal(t, before, s.Buffer())
}

func TestRunCycle_NewTrailingPivotFiresIndependently(t *testing.T) {
	s := newTestSession()
	n := &recordingNotifier{ok: true}
	patterns := []model.Pattern{{model.HL, model.HH}, {model.HH, model.HL}}

	_, err := s.RunCycle(context.Background(), Cycle{Pivots: risingPivots(), Patterns: patterns}, n)
	require.NoError(t, err)
	require.Len(t, n.alerts, 1)

	next := append(risingPivots(), pv(6, 7, model.PivotLow)) // HL
	res, err := s.RunCycle(context.Background(), Cycle{Pivots: next, Patterns: patterns}, n)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Appended)
	require.Len(t, n.alerts, 2)
	assert.Equal(t, []string{"HH", "HL"}, n.alerts[1].MatchedPattern)
	assert.NotEqual(t, n.alerts[0].ID, n.alerts[1].ID)
	assert.True(t, s.Seen(Fingerprint{Symbol: "XAUUSD", Timeframe: model.M5, Pattern: "HH,HL", PivotIndex: 6}))
}

func TestRunCycle_SeveralPatternsOnOnePivot(t *testing.T) {
	s := newTestSession()
	n := &recordingNotifier{ok: true}
	patterns := []model.Pattern{
		{model.HH},
		{model.HL, model.HH},
		{model.LL, model.HH}, // no match
	}

	res, err := s.RunCycle(context.Background(), Cycle{Pivots: risingPivots(), Patterns: patterns}, n)
	require.NoError(t, err)

	assert.Len(t, res.Matched, 2)
	require.Len(t, n.alerts, 2)
	assert.Equal(t, []string{"HH"}, n.alerts[0].MatchedPattern)
	assert.Equal(t, []string{"HL", "HH"}, n.alerts[1].MatchedPattern)
}

func TestRunCycle_FailedDeliveryStillMarksSeen(t *testing.T) {
	s := newTestSession()
	n := &recordingNotifier{ok: false}
	c := Cycle{Pivots: risingPivots(), Patterns: []model.Pattern{{model.HL, model.HH}}}

	res, err := s.RunCycle(context.Background(), c, n)
	require.NoError(t, err)
	require.Len(t, res.Deliveries, 1)
	assert.False(t, res.Deliveries[0].OK)
	assert.Contains(t, res.Deliveries[0].Message, "Webhook Failed")

	_, err = s.RunCycle(context.Background(), c, n)
	require.NoError(t, err)
	assert.Len(t, n.alerts, 1, "failed deliveries are not retried")
}

func TestRunCycle_NoPivotsIsNoop(t *testing.T) {
	s := newTestSession()
	n := &recordingNotifier{ok: true}

	res, err := s.RunCycle(context.Background(), Cycle{Patterns: []model.Pattern{{}}}, n)
	require.NoError(t, err)
	assert.Equal(t, CycleResult{}, res)
	assert.Empty(t, s.Buffer())
	assert.Empty(t, n.alerts)
}

func TestRunCycle_InvalidPivotsLeaveSessionUntouched(t *testing.T) {
	s := newTestSession()
	n := &recordingNotifier{ok: true}

	_, err := s.RunCycle(context.Background(), Cycle{Pivots: risingPivots()[:2]}, n)
	require.NoError(t, err)

	cases := map[string][]model.Pivot{
		"unordered": {pv(1, 10, model.PivotHigh), pv(3, 5, model.PivotLow), pv(2, 11, model.PivotHigh)},
		"duplicate": {pv(1, 10, model.PivotHigh), pv(1, 5, model.PivotLow), pv(4, 11, model.PivotHigh)},
		"bad kind":  {pv(1, 10, model.PivotHigh), pv(2, 5, model.PivotLow), {Index: 3, Price: 1}},
	}
	for name, pivots := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.RunCycle(context.Background(), Cycle{
				Pivots:   pivots,
				Patterns: []model.Pattern{{model.HH}},
			}, n)
			require.ErrorIs(t, err, ErrInvalidPivots)
			assert.Equal(t, 2, s.Consumed())
			assert.Equal(t, []model.Label{model.HH, model.LL}, s.Buffer())
		})
	}
	assert.Empty(t, n.alerts)
}

func TestRunCycle_ShrinkingHistoryAppendsNothing(t *testing.T) {
	s := newTestSession()

	_, err := s.RunCycle(context.Background(), Cycle{Pivots: risingPivots()}, nil)
	require.NoError(t, err)

	res, err := s.RunCycle(context.Background(), Cycle{Pivots: risingPivots()[1:]}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Appended)
	assert.Equal(t, 4, s.Consumed())
	assert.Len(t, s.Buffer(), 5)
}

func TestRunCycle_PivotsTailLimit(t *testing.T) {
	s := newTestSession()
	s.SetPivotsTail(2)
	n := &recordingNotifier{ok: true}

	_, err := s.RunCycle(context.Background(), Cycle{
		Pivots:   risingPivots(),
		Patterns: []model.Pattern{{model.HH}},
	}, n)
	require.NoError(t, err)
	require.Len(t, n.alerts, 1)

	tail := n.alerts[0].PivotsTail
	require.Len(t, tail, 2)
	assert.Equal(t, 4, tail[0].Index)
	assert.Equal(t, "L", tail[0].Kind)
	assert.Equal(t, "2024-03-01T09:25:00Z", tail[1].TimeUTC)
}

func TestSession_BufferEvictsBeyondCapacity(t *testing.T) {
	s := NewSession("EURUSD", model.H1, 3)

	_, err := s.RunCycle(context.Background(), Cycle{Pivots: risingPivots()}, nil)
	require.NoError(t, err)
	assert.Equal(t, []model.Label{model.HH, model.HL, model.HH}, s.Buffer())
}
