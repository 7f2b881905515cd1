package model

import "context"

// ── Collaborator ports ──
// These interfaces decouple the watcher from concrete data sources and
// transports (SQLite, Angel One, webhooks, Redis, WebSocket).

// BarSource supplies recent bars and instrument point sizes.
type BarSource interface {
	// FetchRecentBars returns up to count of the newest bars, oldest first,
	// with Index set to the position in the returned slice.
	// Fails with ErrDataUnavailable when nothing can be supplied.
	FetchRecentBars(ctx context.Context, symbol string, tf Timeframe, count int) ([]Bar, error)

	// PointSize returns the minimum price increment for symbol. A zero result with a
	// nil error means the source has no value and the caller may use its fallback.
	// Fails with ErrSymbolUnknown when the symbol cannot be resolved.
	PointSize(ctx context.Context, symbol string) (float64, error)
}

// Notifier delivers an alert. Delivery failures are reported through ok/msg and
// never returned as errors, so callers can apply fire-once semantics unconditionally.
type Notifier interface {
	Deliver(ctx context.Context, alert Alert) (ok bool, msg string)
}
