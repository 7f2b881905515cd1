package model

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is a bar period in MetaTrader notation (M5, H1, D1, ...).
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
	W1  Timeframe = "W1"
	MN1 Timeframe = "MN1"
)

var timeframeDurations = map[Timeframe]time.Duration{
	M1:  time.Minute,
	M5:  5 * time.Minute,
	M15: 15 * time.Minute,
	M30: 30 * time.Minute,
	H1:  time.Hour,
	H4:  4 * time.Hour,
	D1:  24 * time.Hour,
	W1:  7 * 24 * time.Hour,
	MN1: 30 * 24 * time.Hour, // nominal
}

// ParseTimeframe normalizes and validates a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("unsupported timeframe %q", s)
	}
	return tf, nil
}

// Duration returns the nominal bar length.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}
