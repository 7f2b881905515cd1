package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"pivotwatch/config"
	"pivotwatch/internal/api"
	"pivotwatch/internal/gateway"
	"pivotwatch/internal/marketdata/angel"
	"pivotwatch/internal/markethours"
	"pivotwatch/internal/metrics"
	"pivotwatch/internal/model"
	"pivotwatch/internal/notification"
	redisstore "pivotwatch/internal/store/redis"
	sqlitestore "pivotwatch/internal/store/sqlite"
	"pivotwatch/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "poll the bar source and deliver pattern alerts",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

// closers run in reverse order on shutdown.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup closers
	defer cleanup.run()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)

	// ---- Bar source ----
	src, barDB, err := openSource(ctx, cfg, &cleanup)
	if err != nil {
		return err
	}

	// ---- Notifiers ----
	notifier, rdb, journalDB, err := buildNotifier(cfg, prom, metricsSrv, barDB, &cleanup)
	if err != nil {
		return err
	}

	// ---- Watcher ----
	svc := watcher.NewService(serviceConfig(cfg), src, notifier)
	svc.SetMetrics(prom, health)
	if cfg.Session.Enabled() {
		sess, err := markethours.New(cfg.Session)
		if err != nil {
			return err
		}
		svc.SetMarketHours(sess)
		log.Printf("[pivotwatch] session gate: %s", sess.StatusString(time.Now()))
	}

	var alertLister api.AlertLister
	if j, ok := notifier.(*sqlitestore.Journal); ok {
		alertLister = j
	}
	metricsSrv.Handle("/api/v1/", api.NewRouter(svc, alertLister))

	metricsSrv.Start()
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		metricsSrv.Stop(shutCtx)
	}()

	livenessDB := barDB
	if livenessDB == nil {
		livenessDB = journalDB
	}
	health.StartLivenessChecker(ctx, rdb, livenessDB, 10*time.Second)

	for _, t := range cfg.Targets() {
		log.Printf("[pivotwatch] watching %s (depth=%d deviation=%g backstep=%d)",
			t, cfg.ZigZag.Depth, cfg.ZigZag.DeviationPoints, cfg.ZigZag.Backstep)
	}
	for _, p := range cfg.CompiledPatterns() {
		log.Printf("[pivotwatch] pattern %s", p)
	}

	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	log.Println("[pivotwatch] shutdown complete")
	return nil
}

func serviceConfig(cfg *config.Config) watcher.ServiceConfig {
	watches := make([]watcher.Watch, 0, len(cfg.Targets()))
	for _, t := range cfg.Targets() {
		watches = append(watches, watcher.Watch{Symbol: t.Symbol, Timeframe: t.Timeframe})
	}
	return watcher.ServiceConfig{
		Watches:       watches,
		BarsToFetch:   cfg.BarsToFetch,
		PollInterval:  cfg.PollInterval,
		ZigZag:        cfg.ZigZag,
		Patterns:      cfg.CompiledPatterns(),
		BufferSize:    cfg.BufferSize,
		PivotsTail:    cfg.PivotsTail,
		FallbackPoint: cfg.FallbackPoint,
	}
}

// openSource returns the configured bar source and, for SQLite, its database.
func openSource(ctx context.Context, cfg *config.Config, cleanup *closers) (model.BarSource, *sql.DB, error) {
	switch cfg.Source.Type {
	case config.SourceAngel:
		src := angel.New(cfg.Source.Angel)
		if err := src.Login(ctx); err != nil {
			return nil, nil, fmt.Errorf("angel login: %w", err)
		}
		return src, nil, nil
	default:
		store, err := openBarStore(cfg.Source.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		cleanup.add(func() { store.Close() })
		return store, store.DB(), nil
	}
}

func openBarStore(path string) (*sqlitestore.BarStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return sqlitestore.Open(path)
}

// buildNotifier assembles every configured transport behind one notifier,
// wrapped by the journal when enabled.
func buildNotifier(cfg *config.Config, prom *metrics.Metrics, srv *metrics.Server,
	barDB *sql.DB, cleanup *closers) (model.Notifier, *goredis.Client, *sql.DB, error) {

	n := cfg.Notify
	var targets []notification.Named
	var rdb *goredis.Client

	if n.Log {
		targets = append(targets, notification.Named{Name: "log", Notifier: notification.NewLogNotifier()})
	}
	if n.WebhookURL != "" {
		targets = append(targets, notification.Named{Name: "webhook", Notifier: notification.NewWebhookNotifier(n.WebhookURL)})
	}
	if n.Telegram.BotToken != "" {
		targets = append(targets, notification.Named{
			Name:     "telegram",
			Notifier: notification.NewTelegramNotifier(n.Telegram.BotToken, n.Telegram.ChatID),
		})
	}
	if n.Slack.Token != "" {
		targets = append(targets, notification.Named{
			Name:     "slack",
			Notifier: notification.NewSlackNotifier(n.Slack.Token, n.Slack.Channel),
		})
	}
	if n.Redis.Addr != "" {
		pub, err := redisstore.New(redisstore.Config{
			Addr:          n.Redis.Addr,
			Password:      n.Redis.Password,
			DB:            n.Redis.DB,
			ChannelPrefix: n.Redis.ChannelPrefix,
			Stream:        n.Redis.Stream,
			StreamMaxLen:  n.Redis.StreamMaxLen,
		})
		if err != nil {
			log.Printf("[pivotwatch] WARNING: redis init failed: %v (continuing without redis)", err)
		} else {
			pub.Breaker().OnStateChange = func(from, to redisstore.State) {
				prom.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					prom.RedisCircuitBreakerTrips.Inc()
				}
				log.Printf("[redis] circuit breaker %s -> %s", from, to)
			}
			cleanup.add(func() { pub.Close() })
			rdb = pub.Client()
			targets = append(targets, notification.Named{Name: "redis", Notifier: pub})
		}
	}
	if n.WS.Enabled {
		hub := gateway.NewHub(n.WS.Replay)
		hub.OnClientCount = func(c int) { prom.WSClients.Set(float64(c)) }
		srv.Handle(n.WS.Path, hub)
		cleanup.add(hub.Close)
		targets = append(targets, notification.Named{Name: "ws", Notifier: hub})
		log.Printf("[pivotwatch] alert stream on %s%s", cfg.MetricsAddr, n.WS.Path)
	}
	if len(targets) == 0 {
		log.Println("[pivotwatch] no notifier configured, alerts are only logged")
		targets = append(targets, notification.Named{Name: "log", Notifier: notification.NewLogNotifier()})
	}

	multi := notification.NewMulti(func(name, msg string) {
		prom.DeliveryFails.WithLabelValues(name).Inc()
	}, targets...)
	if !n.Journal {
		return multi, rdb, nil, nil
	}

	journalDB := barDB
	if journalDB == nil || n.JournalPath != cfg.Source.SQLitePath {
		store, err := openBarStore(n.JournalPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("journal: %w", err)
		}
		cleanup.add(func() { store.Close() })
		journalDB = store.DB()
	}
	journal, err := sqlitestore.NewJournal(journalDB, multi)
	if err != nil {
		return nil, nil, nil, err
	}
	return journal, rdb, journalDB, nil
}
