package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventPatternDetected is the event tag carried by every pattern alert.
const EventPatternDetected = "zigzag_pattern_detected"

// PivotInfo is the payload form of a pivot.
type PivotInfo struct {
	Index   int     `json:"index"`
	TimeUTC string  `json:"time_utc"` // RFC 3339, UTC
	Price   float64 `json:"price"`
	Kind    string  `json:"kind"` // "H" or "L"
}

// Alert is the notification payload emitted when a pattern matches.
type Alert struct {
	ID             string      `json:"id"`
	Event          string      `json:"event"`
	Symbol         string      `json:"symbol"`
	Timeframe      string      `json:"timeframe"`
	MatchedPattern []string    `json:"matched_pattern"`
	BufferTail     []string    `json:"buffer_tail"`
	PriceClose     float64     `json:"price_close"`
	PivotsTail     []PivotInfo `json:"pivots_tail"`
	TSUTC          string      `json:"ts_utc"`
}

// NewAlert builds the payload for a match. pivotsTail limits how many of the
// newest pivots are attached as context.
func NewAlert(symbol string, tf Timeframe, matched Pattern, bufferTail []Label,
	lastClose float64, pivots []Pivot, pivotsTail int, now time.Time) Alert {

	start := len(pivots) - pivotsTail
	if start < 0 || pivotsTail <= 0 {
		start = 0
	}
	tail := make([]PivotInfo, 0, len(pivots)-start)
	for _, p := range pivots[start:] {
		tail = append(tail, PivotInfo{
			Index:   p.Index,
			TimeUTC: p.Time.UTC().Format(time.RFC3339),
			Price:   p.Price,
			Kind:    p.Kind.String(),
		})
	}

	return Alert{
		ID:             uuid.NewString(),
		Event:          EventPatternDetected,
		Symbol:         symbol,
		Timeframe:      string(tf),
		MatchedPattern: matched.Strings(),
		BufferTail:     Pattern(bufferTail).Strings(),
		PriceClose:     lastClose,
		PivotsTail:     tail,
		TSUTC:          now.UTC().Format(time.RFC3339Nano),
	}
}

// JSON returns the JSON-encoded alert.
func (a *Alert) JSON() []byte {
	b, _ := json.Marshal(a)
	return b
}

// Title is a short human-readable headline for chat transports.
func (a *Alert) Title() string {
	return a.Symbol + " " + a.Timeframe + " pattern [" + strings.Join(a.MatchedPattern, ",") + "]"
}
