package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pivotwatch/config"
	"pivotwatch/internal/model"
	"pivotwatch/internal/pattern"
	"pivotwatch/internal/report"
	"pivotwatch/internal/zigzag"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "replay stored history and list every pivot where a pattern completed",
	Args:  cobra.NoArgs,
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().String("symbol", "", "scan only this symbol")
	scanCmd.Flags().String("timeframe", "", "scan only this timeframe")
	scanCmd.Flags().Int("bars", 0, "bars to load (default bars_to_fetch)")
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var cleanup closers
	defer cleanup.run()

	src, _, err := openSource(ctx, cfg, &cleanup)
	if err != nil {
		return err
	}

	targets, err := scanTargets(cmd, cfg)
	if err != nil {
		return err
	}
	count, _ := cmd.Flags().GetInt("bars")
	if count <= 0 {
		count = cfg.BarsToFetch
	}

	for _, t := range targets {
		summary, err := scanOne(ctx, src, cfg, t, count)
		if err != nil {
			return fmt.Errorf("scan %s: %w", t, err)
		}
		if err := report.Scan(os.Stdout, summary); err != nil {
			return err
		}
	}
	return nil
}

func scanTargets(cmd *cobra.Command, cfg *config.Config) ([]config.Target, error) {
	symbol, _ := cmd.Flags().GetString("symbol")
	tfFlag, _ := cmd.Flags().GetString("timeframe")
	if symbol != "" && tfFlag != "" {
		tf, err := model.ParseTimeframe(tfFlag)
		if err != nil {
			return nil, err
		}
		return []config.Target{{Symbol: symbol, Timeframe: tf}}, nil
	}

	var out []config.Target
	for _, t := range cfg.Targets() {
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		if tfFlag != "" && !sameTimeframe(t.Timeframe, tfFlag) {
			continue
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no configured watch matches symbol=%q timeframe=%q", symbol, tfFlag)
	}
	return out, nil
}

func sameTimeframe(tf model.Timeframe, s string) bool {
	parsed, err := model.ParseTimeframe(s)
	return err == nil && parsed == tf
}

func scanOne(ctx context.Context, src model.BarSource, cfg *config.Config, t config.Target, count int) (report.ScanSummary, error) {
	bars, err := src.FetchRecentBars(ctx, t.Symbol, t.Timeframe, count)
	if err != nil {
		return report.ScanSummary{}, err
	}
	point, err := src.PointSize(ctx, t.Symbol)
	if err != nil {
		return report.ScanSummary{}, err
	}
	if point <= 0 {
		point = cfg.FallbackPoint
	}
	pivots, err := zigzag.Extract(bars, cfg.ZigZag, point)
	if err != nil {
		return report.ScanSummary{}, err
	}
	return report.ScanSummary{
		Symbol:     t.Symbol,
		Timeframe:  t.Timeframe,
		Bars:       len(bars),
		Pivots:     pivots,
		Detections: pattern.Scan(pivots, cfg.CompiledPatterns(), cfg.BufferSize),
	}, nil
}
