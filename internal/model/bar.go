package model

import (
	"encoding/json"
	"time"
)

// Bar is one OHLC bar of a fetched series. Index is the 0-based position of the bar
// inside the series it was fetched with, so it is only meaningful relative to that series.
type Bar struct {
	Index  int       `json:"index"`
	Time   time.Time `json:"time"` // bar open time (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// JSON returns the JSON-encoded bar (ignoring errors, used for logging and streams).
func (b *Bar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}

// Reindex rewrites Index so that bars[i].Index == i. Sources call this after
// trimming or sorting a series.
func Reindex(bars []Bar) {
	for i := range bars {
		bars[i].Index = i
	}
}

// LastClose returns the close of the newest bar, or 0 for an empty series.
func LastClose(bars []Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	return bars[len(bars)-1].Close
}
