package watcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"pivotwatch/internal/logger"
	"pivotwatch/internal/markethours"
	"pivotwatch/internal/metrics"
	"pivotwatch/internal/model"
	"pivotwatch/internal/zigzag"
)

// Watch is one symbol/timeframe pair driven by the service.
type Watch struct {
	Symbol    string
	Timeframe model.Timeframe
}

func (w Watch) String() string { return w.Symbol + "/" + string(w.Timeframe) }

// ServiceConfig holds the polling parameters shared by every watch.
type ServiceConfig struct {
	Watches       []Watch
	BarsToFetch   int
	PollInterval  time.Duration
	ZigZag        zigzag.Params
	Patterns      []model.Pattern
	BufferSize    int
	PivotsTail    int
	FallbackPoint float64 // used when the source reports a point size of 0
}

// Service polls a bar source for every watch and feeds the extracted pivots
// into that watch's Session.
type Service struct {
	cfg      ServiceConfig
	source   model.BarSource
	notifier model.Notifier

	prom   *metrics.Metrics
	health *metrics.HealthStatus
	market *markethours.Session

	order  []Watch
	states map[Watch]*watchState

	now func() time.Time
}

// watchState guards one session so status reads can run beside its cycles.
type watchState struct {
	mu        sync.Mutex
	sess      *Session
	lastCycle time.Time
	lastErr   error
	alerts    int
}

// WatchStatus is a point-in-time view of one watch.
type WatchStatus struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Buffer    []string  `json:"buffer"`
	Consumed  int       `json:"consumed"`
	Alerts    int       `json:"alerts"`
	LastCycle time.Time `json:"last_cycle"`
	LastError string    `json:"last_error,omitempty"`
}

// NewService creates one Session per configured watch. Duplicate watches are
// collapsed.
func NewService(cfg ServiceConfig, source model.BarSource, notifier model.Notifier) *Service {
	svc := &Service{
		cfg:      cfg,
		source:   source,
		notifier: notifier,
		states:   make(map[Watch]*watchState, len(cfg.Watches)),
		now:      time.Now,
	}
	for _, w := range cfg.Watches {
		if _, ok := svc.states[w]; ok {
			continue
		}
		sess := NewSession(w.Symbol, w.Timeframe, cfg.BufferSize)
		sess.SetPivotsTail(cfg.PivotsTail)
		svc.states[w] = &watchState{sess: sess}
		svc.order = append(svc.order, w)
	}
	return svc
}

// SetMetrics attaches Prometheus metrics and the health status. Either may be nil.
func (svc *Service) SetMetrics(m *metrics.Metrics, h *metrics.HealthStatus) {
	svc.prom = m
	svc.health = h
	if h != nil {
		names := make([]string, len(svc.order))
		for i, w := range svc.order {
			names[i] = w.String()
		}
		h.SetWatches(names)
	}
}

// SetMarketHours gates cycles on a trading session. Nil disables the gate.
func (svc *Service) SetMarketHours(s *markethours.Session) {
	svc.market = s
}

// Watches returns the watches in configured order.
func (svc *Service) Watches() []Watch { return svc.order }

// Session returns the session for w, or nil if w is not watched. The session
// must not be used while Run is active.
func (svc *Service) Session(w Watch) *Session {
	if st, ok := svc.states[w]; ok {
		return st.sess
	}
	return nil
}

// Status returns a snapshot of every watch in configured order.
func (svc *Service) Status() []WatchStatus {
	out := make([]WatchStatus, 0, len(svc.order))
	for _, w := range svc.order {
		st := svc.states[w]
		st.mu.Lock()
		ws := WatchStatus{
			Symbol:    w.Symbol,
			Timeframe: string(w.Timeframe),
			Buffer:    model.Pattern(st.sess.Buffer()).Strings(),
			Consumed:  st.sess.Consumed(),
			Alerts:    st.alerts,
			LastCycle: st.lastCycle,
		}
		if st.lastErr != nil {
			ws.LastError = st.lastErr.Error()
		}
		st.mu.Unlock()
		out = append(out, ws)
	}
	return out
}

// CheckSymbols resolves the point size of every watched symbol and reports
// all symbols the source does not know.
func (svc *Service) CheckSymbols(ctx context.Context) error {
	var errs error
	checked := map[string]bool{}
	for _, w := range svc.order {
		if checked[w.Symbol] {
			continue
		}
		checked[w.Symbol] = true
		point, err := svc.source.PointSize(ctx, w.Symbol)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("symbol %s: %w", w.Symbol, err))
			continue
		}
		if point <= 0 {
			log.Printf("[watcher] %s reports no point size, using fallback %g", w.Symbol, svc.cfg.FallbackPoint)
		}
	}
	return errs
}

// Run checks every symbol, then polls each watch in its own goroutine until
// ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	if len(svc.order) == 0 {
		return errors.New("watcher: nothing to watch")
	}
	if svc.cfg.PollInterval <= 0 {
		return fmt.Errorf("watcher: poll interval %s must be > 0", svc.cfg.PollInterval)
	}
	if err := svc.CheckSymbols(ctx); err != nil {
		return err
	}

	log.Printf("[watcher] watching %d series every %s", len(svc.order), svc.cfg.PollInterval)

	var wg sync.WaitGroup
	for _, w := range svc.order {
		wg.Add(1)
		go func(w Watch) {
			defer wg.Done()
			svc.pollLoop(ctx, w)
		}(w)
	}
	wg.Wait()

	log.Println("[watcher] stopped")
	return nil
}

func (svc *Service) pollLoop(ctx context.Context, w Watch) {
	ticker := time.NewTicker(svc.cfg.PollInterval)
	defer ticker.Stop()

	for {
		svc.step(ctx, w)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// step runs one gated cycle and accounts for its outcome. Errors end only the
// current cycle.
func (svc *Service) step(ctx context.Context, w Watch) {
	now := svc.now()
	if svc.market != nil {
		open := svc.market.IsOpen(now)
		if svc.prom != nil {
			if open {
				svc.prom.MarketState.Set(1)
			} else {
				svc.prom.MarketState.Set(0)
			}
		}
		if svc.health != nil {
			svc.health.SetMarketOpen(open)
		}
		if !open {
			if svc.prom != nil {
				svc.prom.MarketSkipped.Inc()
			}
			slog.Debug("market closed, cycle skipped", "watch", w.String(), "status", svc.market.StatusString(now))
			return
		}
	}

	_, err := svc.RunOnce(ctx, w)
	if svc.health != nil {
		svc.health.RecordCycle(svc.now(), err)
	}
	if err != nil {
		if svc.prom != nil {
			svc.prom.CycleErrors.WithLabelValues(w.Symbol, string(w.Timeframe), errorReason(err)).Inc()
		}
		slog.Error("cycle failed", "watch", w.String(), "error", err)
	}
}

// RunOnce runs a single fetch, extract and match cycle for w. Cycles of the
// same watch are serialised.
func (svc *Service) RunOnce(ctx context.Context, w Watch) (CycleResult, error) {
	st, ok := svc.states[w]
	if !ok {
		return CycleResult{}, fmt.Errorf("watcher: %s is not watched", w)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	res, err := svc.cycle(ctx, w, st.sess)
	st.lastCycle = svc.now()
	st.lastErr = err
	st.alerts += len(res.Deliveries)
	return res, err
}

func (svc *Service) cycle(ctx context.Context, w Watch, sess *Session) (CycleResult, error) {
	start := svc.now()
	ctx = logger.WithCycleID(ctx, logger.GenerateCycleID(w.Symbol, start))
	tf := string(w.Timeframe)

	bars, err := svc.source.FetchRecentBars(ctx, w.Symbol, w.Timeframe, svc.cfg.BarsToFetch)
	if err != nil {
		return CycleResult{}, fmt.Errorf("fetch %s: %w", w, err)
	}
	point, err := svc.source.PointSize(ctx, w.Symbol)
	if err != nil {
		return CycleResult{}, fmt.Errorf("point size %s: %w", w.Symbol, err)
	}
	if point <= 0 {
		point = svc.cfg.FallbackPoint
		if svc.prom != nil {
			svc.prom.FallbackPoints.WithLabelValues(w.Symbol).Inc()
		}
	}

	pivots, err := zigzag.Extract(bars, svc.cfg.ZigZag, point)
	if err != nil {
		return CycleResult{}, fmt.Errorf("extract %s: %w", w, err)
	}
	if len(pivots) == 0 {
		slog.Debug("no pivots yet", append(logger.LogWithCycle(ctx),
			"watch", w.String(), "bars", len(bars), "min_bars", svc.cfg.ZigZag.MinBars())...)
	}

	res, err := sess.RunCycle(ctx, Cycle{
		Pivots:    pivots,
		LastClose: model.LastClose(bars),
		Patterns:  svc.cfg.Patterns,
	}, svc.notifier)
	if err != nil {
		return res, fmt.Errorf("cycle %s: %w", w, err)
	}

	if svc.prom != nil {
		svc.prom.CyclesTotal.WithLabelValues(w.Symbol, tf).Inc()
		svc.prom.CycleDur.WithLabelValues(tf).Observe(svc.now().Sub(start).Seconds())
		svc.prom.BarsFetched.WithLabelValues(w.Symbol, tf).Set(float64(len(bars)))
		svc.prom.Pivots.WithLabelValues(w.Symbol, tf).Set(float64(len(pivots)))
		svc.prom.LabelsTotal.WithLabelValues(w.Symbol, tf).Add(float64(res.Appended))
		svc.prom.Duplicates.Add(float64(res.Duplicates))
		for _, p := range res.Matched {
			svc.prom.MatchesTotal.WithLabelValues(w.Symbol, tf, p.Key()).Inc()
		}
		for _, d := range res.Deliveries {
			svc.prom.AlertsFired.WithLabelValues(w.Symbol, tf, strings.Join(d.Alert.MatchedPattern, ",")).Inc()
		}
	}
	return res, nil
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, model.ErrDataUnavailable):
		return "data_unavailable"
	case errors.Is(err, model.ErrSymbolUnknown):
		return "symbol_unknown"
	case errors.Is(err, zigzag.ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, ErrInvalidPivots):
		return "invalid_pivots"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
