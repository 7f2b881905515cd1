// Command pivotwatch watches zigzag swing structure on market bars and alerts
// when the latest higher-high / lower-low labels complete a configured pattern.
package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"pivotwatch/config"
	"pivotwatch/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "pivotwatch",
	Short: "zigzag pattern watcher",
	Long:  "Extracts zigzag pivots, labels them HH/HL/LH/LL and alerts when a configured label pattern completes.",

	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (YAML or JSON)")
	rootCmd.PersistentFlags().String("dotenv", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().Bool("debug", false, "debug logging")

	rootCmd.AddCommand(watchCmd, scanCmd, importCmd, alertsCmd)
}

// loadConfig loads the dotenv file (if present) and the config, then sets up logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dotenvFile, _ := cmd.Flags().GetString("dotenv")
	if _, err := os.Stat(dotenvFile); err == nil {
		if err := godotenv.Load(dotenvFile); err != nil {
			return nil, err
		}
	}

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level := logger.ParseLevel(cfg.LogLevel)
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		level = slog.LevelDebug
	}
	logger.Init("pivotwatch", level)
	return cfg, nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
