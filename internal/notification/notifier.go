// Package notification delivers pattern alerts to external channels
// (webhooks, Telegram, Slack) and fans one alert out to several of them.
package notification

import (
	"context"
	"log"
	"strings"

	"pivotwatch/internal/model"
)

// Notifier is the delivery contract shared by every backend.
type Notifier = model.Notifier

// LogNotifier logs alerts (useful for development and dry runs).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Deliver(ctx context.Context, alert model.Alert) (bool, string) {
	log.Printf("[notify] %s buffer=%s close=%g", alert.Title(), strings.Join(alert.BufferTail, ","), alert.PriceClose)
	return true, "Logged"
}

// Named pairs a notifier with the name used in logs and metrics.
type Named struct {
	Name     string
	Notifier Notifier
}

// FailureFunc is called for every backend that failed to deliver.
type FailureFunc func(name, msg string)

// Multi delivers to every backend in order. Delivery succeeds only when all
// backends succeed; the message joins the per-backend messages.
type Multi struct {
	targets   []Named
	onFailure FailureFunc
}

// NewMulti creates a fan-out notifier. onFailure may be nil.
func NewMulti(onFailure FailureFunc, targets ...Named) *Multi {
	return &Multi{targets: targets, onFailure: onFailure}
}

// Len returns the number of backends.
func (m *Multi) Len() int { return len(m.targets) }

func (m *Multi) Deliver(ctx context.Context, alert model.Alert) (bool, string) {
	if len(m.targets) == 0 {
		return false, "no notifier configured"
	}
	allOK := true
	msgs := make([]string, 0, len(m.targets))
	for _, t := range m.targets {
		ok, msg := t.Notifier.Deliver(ctx, alert)
		msgs = append(msgs, t.Name+": "+msg)
		if !ok {
			allOK = false
			if m.onFailure != nil {
				m.onFailure(t.Name, msg)
			}
		}
	}
	return allOK, strings.Join(msgs, "; ")
}
