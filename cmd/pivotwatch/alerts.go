package main

import (
	"os"

	"github.com/spf13/cobra"

	"pivotwatch/internal/report"
	sqlitestore "pivotwatch/internal/store/sqlite"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "show the most recent journaled alerts",
	Args:  cobra.NoArgs,
	RunE:  runAlerts,
}

func init() {
	alertsCmd.Flags().Int("limit", 20, "rows to show")
}

func runAlerts(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := openBarStore(cfg.Notify.JournalPath)
	if err != nil {
		return err
	}
	defer store.Close()

	journal, err := sqlitestore.NewJournal(store.DB(), nil)
	if err != nil {
		return err
	}
	recs, err := journal.Recent(ctx, limit)
	if err != nil {
		return err
	}
	return report.Alerts(os.Stdout, recs)
}
