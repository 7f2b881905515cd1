// Package watcher turns a stream of pivot snapshots into de-duplicated pattern
// alerts. A Session holds the state of one symbol/timeframe watch; Service drives
// sessions on a polling interval against a bar source.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pivotwatch/internal/logger"
	"pivotwatch/internal/model"
	"pivotwatch/internal/pattern"
)

// DefaultPivotsTail is the number of trailing pivots attached to an alert.
const DefaultPivotsTail = 10

// ErrInvalidPivots is returned when a cycle's pivots are not strictly ordered
// by index or carry an unknown kind. The session is left untouched.
var ErrInvalidPivots = errors.New("invalid pivots")

// Fingerprint identifies one pattern match on one pivot. A fingerprint fires at
// most once per session.
type Fingerprint struct {
	Symbol     string
	Timeframe  model.Timeframe
	Pattern    string // model.Pattern.Key()
	PivotIndex int
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%s:%s:%s@%d", f.Symbol, f.Timeframe, f.Pattern, f.PivotIndex)
}

// Cycle is the input of one evaluation: every pivot extracted so far, the last
// close price and the patterns to look for, in priority order.
type Cycle struct {
	Pivots    []model.Pivot
	LastClose float64
	Patterns  []model.Pattern
}

// Delivery records one alert handed to the notifier and its outcome.
type Delivery struct {
	Alert   model.Alert
	OK      bool
	Message string
}

// CycleResult summarises what a cycle did.
type CycleResult struct {
	Labels     int // labels classified from the cycle's pivots
	Appended   int // labels newly pushed into the buffer
	Matched    []model.Pattern // patterns the buffer ended with, including duplicates
	Duplicates int             // matches suppressed by an already seen fingerprint
	Deliveries []Delivery
}

// Session is the persistent state of a single watch.
//
// A Session is not safe for concurrent use. Each watch owns exactly one.
type Session struct {
	symbol     string
	timeframe  model.Timeframe
	pivotsTail int

	buf      *pattern.Buffer
	consumed int
	seen     map[Fingerprint]struct{}

	now func() time.Time
}

// NewSession creates an empty session with a label buffer of bufferCap
// (pattern.DefaultCapacity when bufferCap <= 0).
func NewSession(symbol string, tf model.Timeframe, bufferCap int) *Session {
	return &Session{
		symbol:     symbol,
		timeframe:  tf,
		pivotsTail: DefaultPivotsTail,
		buf:        pattern.NewBuffer(bufferCap),
		seen:       make(map[Fingerprint]struct{}),
		now:        time.Now,
	}
}

// SetPivotsTail changes how many trailing pivots are attached to alerts.
// Values <= 0 restore the default.
func (s *Session) SetPivotsTail(n int) {
	if n <= 0 {
		n = DefaultPivotsTail
	}
	s.pivotsTail = n
}

// Symbol returns the watched symbol.
func (s *Session) Symbol() string { return s.symbol }

// Timeframe returns the watched timeframe.
func (s *Session) Timeframe() model.Timeframe { return s.timeframe }

// Buffer returns a snapshot of the label buffer, oldest first.
func (s *Session) Buffer() []model.Label { return s.buf.Snapshot() }

// Consumed returns how many labels have been taken from the pivot history.
func (s *Session) Consumed() int { return s.consumed }

// Seen reports whether fp has already fired.
func (s *Session) Seen(fp Fingerprint) bool {
	_, ok := s.seen[fp]
	return ok
}

// RunCycle classifies the cycle's pivots, feeds the labels not yet consumed into
// the buffer and delivers an alert for every pattern the buffer now ends with,
// unless that pattern already fired on the current last pivot.
//
// Delivery failures do not fail the cycle; the fingerprint is marked seen
// either way. An error is returned only for malformed pivots, before any state
// changes.
func (s *Session) RunCycle(ctx context.Context, c Cycle, n model.Notifier) (CycleResult, error) {
	var res CycleResult
	if len(c.Pivots) == 0 {
		return res, nil
	}
	if err := validatePivots(c.Pivots); err != nil {
		return res, err
	}

	labels := pattern.Classify(c.Pivots)
	res.Labels = len(labels)
	if len(labels) > s.consumed {
		fresh := labels[s.consumed:]
		s.buf.Extend(fresh)
		res.Appended = len(fresh)
	}
	s.consumed = len(labels)

	last := c.Pivots[len(c.Pivots)-1]
	for _, p := range c.Patterns {
		if len(p) == 0 || !s.buf.EndsWith(p) {
			continue
		}
		res.Matched = append(res.Matched, p)

		fp := Fingerprint{
			Symbol:     s.symbol,
			Timeframe:  s.timeframe,
			Pattern:    p.Key(),
			PivotIndex: last.Index,
		}
		if s.Seen(fp) {
			res.Duplicates++
			slog.Debug("already alerted",
				append(logger.LogWithCycle(ctx), "fingerprint", fp.String())...)
			continue
		}

		alert := model.NewAlert(s.symbol, s.timeframe, p, s.buf.Tail(len(p)),
			c.LastClose, c.Pivots, s.pivotsTail, s.now())

		ok, msg := false, "no notifier configured"
		if n != nil {
			ok, msg = n.Deliver(ctx, alert)
		}
		s.seen[fp] = struct{}{}

		attrs := append(logger.LogWithCycle(ctx),
			"symbol", s.symbol,
			"timeframe", string(s.timeframe),
			"pattern", p.String(),
			"pivot_index", last.Index,
			"alert_id", alert.ID,
			"delivery", msg,
		)
		if ok {
			slog.Info("pattern detected", attrs...)
		} else {
			slog.Warn("pattern detected, delivery failed", attrs...)
		}
		res.Deliveries = append(res.Deliveries, Delivery{Alert: alert, OK: ok, Message: msg})
	}
	return res, nil
}

func validatePivots(pivots []model.Pivot) error {
	for i, p := range pivots {
		if !p.Kind.Valid() {
			return fmt.Errorf("%w: pivot %d has kind %d", ErrInvalidPivots, i, int(p.Kind))
		}
		if i > 0 && p.Index <= pivots[i-1].Index {
			return fmt.Errorf("%w: index %d not after %d", ErrInvalidPivots, p.Index, pivots[i-1].Index)
		}
	}
	return nil
}
