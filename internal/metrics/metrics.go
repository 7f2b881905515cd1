package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pattern watcher.
type Metrics struct {
	CyclesTotal   *prometheus.CounterVec   // labels: symbol, tf
	CycleErrors   *prometheus.CounterVec   // labels: symbol, tf, reason
	CycleDur      *prometheus.HistogramVec // labels: tf
	BarsFetched   *prometheus.GaugeVec     // labels: symbol, tf
	Pivots        *prometheus.GaugeVec     // labels: symbol, tf
	LabelsTotal   *prometheus.CounterVec   // labels: symbol, tf
	MatchesTotal  *prometheus.CounterVec   // labels: symbol, tf, pattern
	AlertsFired   *prometheus.CounterVec   // labels: symbol, tf, pattern
	Duplicates    prometheus.Counter
	DeliveryFails *prometheus.CounterVec // labels: notifier

	// Market session gate
	MarketState    prometheus.Gauge // 0=closed, 1=open
	MarketSkipped  prometheus.Counter
	FallbackPoints *prometheus.CounterVec // labels: symbol

	// Redis publisher circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// WebSocket gateway
	WSClients prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg
// (the default registerer when reg is nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pivotwatch_cycles_total",
			Help: "Completed watch cycles",
		}, []string{"symbol", "tf"}),
		CycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pivotwatch_cycle_errors_total",
			Help: "Failed watch cycles by reason",
		}, []string{"symbol", "tf", "reason"}),
		CycleDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pivotwatch_cycle_duration_seconds",
			Help:    "Fetch + extract + match latency per cycle",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"tf"}),
		BarsFetched: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pivotwatch_bars_fetched",
			Help: "Bars returned by the source in the last cycle",
		}, []string{"symbol", "tf"}),
		Pivots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pivotwatch_pivots",
			Help: "Pivots extracted in the last cycle",
		}, []string{"symbol", "tf"}),
		LabelsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pivotwatch_labels_appended_total",
			Help: "Labels pushed into the pattern buffer",
		}, []string{"symbol", "tf"}),
		MatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pivotwatch_matches_total",
			Help: "Pattern matches including already alerted ones",
		}, []string{"symbol", "tf", "pattern"}),
		AlertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pivotwatch_alerts_total",
			Help: "Alerts handed to the notifier",
		}, []string{"symbol", "tf", "pattern"}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pivotwatch_duplicates_suppressed_total",
			Help: "Matches suppressed because the fingerprint already fired",
		}),
		DeliveryFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pivotwatch_delivery_failures_total",
			Help: "Failed alert deliveries by notifier",
		}, []string{"notifier"}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pivotwatch_market_state",
			Help: "Trading session state (0=closed, 1=open)",
		}),
		MarketSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pivotwatch_market_closed_skips_total",
			Help: "Cycles skipped because the trading session was closed",
		}),
		FallbackPoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pivotwatch_fallback_point_total",
			Help: "Cycles that used the configured fallback point size",
		}, []string{"symbol"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pivotwatch_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pivotwatch_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pivotwatch_ws_clients",
			Help: "Connected alert stream clients",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleErrors,
		m.CycleDur,
		m.BarsFetched,
		m.Pivots,
		m.LabelsTotal,
		m.MatchesTotal,
		m.AlertsFired,
		m.Duplicates,
		m.DeliveryFails,
		m.MarketState,
		m.MarketSkipped,
		m.FallbackPoints,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.WSClients,
	)

	return m
}

// HealthStatus represents the watcher health.
type HealthStatus struct {
	mu sync.RWMutex

	SourceOK       bool      `json:"source_ok"`
	LastCycleTime  time.Time `json:"last_cycle_time"`
	LastError      string    `json:"last_error"`
	MarketOpen     bool      `json:"market_open"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteEnabled  bool      `json:"sqlite_enabled"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	Watches        []string  `json:"watches"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt:  time.Now(),
		MarketOpen: true,
	}
}

// RecordCycle stores the outcome of a cycle. A nil err marks the source healthy.
func (h *HealthStatus) RecordCycle(t time.Time, err error) {
	h.mu.Lock()
	h.LastCycleTime = t
	h.SourceOK = err == nil
	if err != nil {
		h.LastError = err.Error()
	} else {
		h.LastError = ""
	}
	h.mu.Unlock()
}

func (h *HealthStatus) SetMarketOpen(v bool) {
	h.mu.Lock()
	h.MarketOpen = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetWatches(w []string) {
	h.mu.Lock()
	h.Watches = w
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either client may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisDown := h.RedisEnabled && !h.RedisConnected
	sqliteDown := h.SQLiteEnabled && !h.SQLiteOK
	if redisDown || sqliteDown || (!h.LastCycleTime.IsZero() && !h.SourceOK) {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.LastCycleTime.IsZero() && !h.SourceOK && sqliteDown {
		overallStatus = "unhealthy"
	}

	cycleAge := ""
	if !h.LastCycleTime.IsZero() {
		cycleAge = time.Since(h.LastCycleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string   `json:"status"`
		Uptime          string   `json:"uptime"`
		SourceOK        bool     `json:"source_ok"`
		LastCycleTime   string   `json:"last_cycle_time"`
		CycleAge        string   `json:"cycle_age"`
		LastError       string   `json:"last_error,omitempty"`
		MarketOpen      bool     `json:"market_open"`
		RedisConnected  bool     `json:"redis_connected"`
		RedisLatencyMs  float64  `json:"redis_latency_ms"`
		SQLiteOK        bool     `json:"sqlite_ok"`
		SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
		Watches         []string `json:"watches"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		SourceOK:        h.SourceOK,
		LastCycleTime:   h.LastCycleTime.Format(time.RFC3339),
		CycleAge:        cycleAge,
		LastError:       h.LastError,
		MarketOpen:      h.MarketOpen,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		Watches:         h.Watches,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz, plus any extra
// handlers mounted before Start.
type Server struct {
	addr string
	mux  *http.ServeMux
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		mux:  mux,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handle mounts an extra handler (the alert stream, for instance).
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
