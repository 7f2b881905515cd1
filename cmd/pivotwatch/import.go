package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"pivotwatch/internal/marketdata/csvbars"
	"pivotwatch/internal/model"
)

var importCmd = &cobra.Command{
	Use:   "import FILE.csv",
	Short: "load CSV bars into the SQLite bar store",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func init() {
	importCmd.Flags().String("symbol", "", "symbol the bars belong to (required)")
	importCmd.Flags().String("timeframe", "", "timeframe of the bars (required)")
	importCmd.Flags().Float64("point", 0, "point size to record for the symbol")
	importCmd.MarkFlagRequired("symbol")
	importCmd.MarkFlagRequired("timeframe")
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	symbol, _ := cmd.Flags().GetString("symbol")
	tfFlag, _ := cmd.Flags().GetString("timeframe")
	point, _ := cmd.Flags().GetFloat64("point")
	tf, err := model.ParseTimeframe(tfFlag)
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	bars, err := csvbars.Read(f)
	if err != nil {
		return err
	}

	store, err := openBarStore(cfg.Source.SQLitePath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SaveBars(ctx, symbol, tf, bars); err != nil {
		return fmt.Errorf("import: %w", err)
	}
	if point > 0 {
		if err := store.SetPointSize(ctx, symbol, point); err != nil {
			return err
		}
	}
	log.Printf("[pivotwatch] imported %d %s %s bars into %s", len(bars), symbol, tf, cfg.Source.SQLitePath)
	return nil
}
