// Package report renders scan results and the alert journal for the terminal.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"pivotwatch/internal/model"
	"pivotwatch/internal/pattern"
	"pivotwatch/internal/store/sqlite"
)

var (
	headline = color.New(color.FgGreen, color.Bold)
	warn     = color.New(color.FgYellow)
	failed   = color.New(color.FgRed)
)

// ScanSummary describes one offline scan.
type ScanSummary struct {
	Symbol     string
	Timeframe  model.Timeframe
	Bars       int
	Pivots     []model.Pivot
	Detections []pattern.Detection
}

// Scan writes a headline and one row per detection.
func Scan(w io.Writer, s ScanSummary) error {
	headline.Fprintf(w, "%s %s: %d bars, %d pivots, %d detections\n",
		s.Symbol, s.Timeframe, s.Bars, len(s.Pivots), len(s.Detections))
	if len(s.Detections) == 0 {
		warn.Fprintln(w, "no pattern matched")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PIVOT\tTIME (UTC)\tKIND\tPRICE\tPATTERN")
	for _, d := range s.Detections {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%g\t%s\n",
			d.Pivot.Index,
			d.Pivot.Time.UTC().Format("2006-01-02 15:04"),
			d.Pivot.Kind,
			d.Pivot.Price,
			d.Pattern,
		)
	}
	return tw.Flush()
}

// Alerts writes journal rows, newest first as given.
func Alerts(w io.Writer, recs []sqlite.AlertRecord) error {
	if len(recs) == 0 {
		warn.Fprintln(w, "no alerts recorded")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME (UTC)\tSYMBOL\tTF\tPATTERN\tPIVOT\tCLOSE\tDELIVERY")
	for _, r := range recs {
		status := "ok"
		if !r.Delivered {
			status = failed.Sprint("failed")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t[%s]\t%d\t%g\t%s %s\n",
			r.At.UTC().Format(time.DateTime),
			r.Symbol,
			r.Timeframe,
			r.Pattern,
			r.PivotIndex,
			r.PriceClose,
			status,
			strings.TrimSpace(r.Message),
		)
	}
	return tw.Flush()
}
