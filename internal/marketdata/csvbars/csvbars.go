// Package csvbars reads OHLC bars from CSV exports so they can be loaded into
// the SQLite bar store.
//
// Columns are time, open, high, low, close and an optional volume. A header
// row is skipped. Times may be RFC 3339, "2006-01-02 15:04[:05]", the MT5
// "2006.01.02 15:04[:05]" form or unix seconds, and are read as UTC.
package csvbars

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"pivotwatch/internal/model"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006.01.02 15:04:05",
	"2006.01.02 15:04",
	"2006-01-02",
}

// Read parses every bar in r and returns them sorted by time and indexed from 0.
func Read(r io.Reader) ([]model.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var bars []model.Bar
	row := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csvbars: %w", err)
		}
		row++
		if row == 1 && isHeader(rec) {
			continue
		}
		b, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("csvbars: record %d: %w", row, err)
		}
		bars = append(bars, b)
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	model.Reindex(bars)
	return bars, nil
}

func isHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	switch strings.ToLower(strings.Trim(rec[0], "<> ")) {
	case "time", "date", "datetime", "timestamp":
		return true
	}
	return false
}

func parseRecord(rec []string) (model.Bar, error) {
	if len(rec) < 5 {
		return model.Bar{}, fmt.Errorf("want at least 5 columns, got %d", len(rec))
	}
	t, err := parseTime(rec[0])
	if err != nil {
		return model.Bar{}, err
	}
	vals := make([]float64, 5)
	for i := 1; i < len(rec) && i <= 5; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil {
			return model.Bar{}, fmt.Errorf("column %d: %w", i+1, err)
		}
		vals[i-1] = v
	}
	b := model.Bar{Time: t, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]}
	if b.High < b.Low {
		return model.Bar{}, fmt.Errorf("high %g below low %g", b.High, b.Low)
	}
	return b, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}
