package main

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/balacloud/swing-trade-analyzer-sub001/internal/app"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/core"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/logger"
)

var (
	scanCategory    string
	scanConcurrency int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Fetch one category for every watchlist symbol",
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanCategory, "category", "quote", "data category: ohlcv, fundamentals or quote")
	scanCmd.Flags().IntVar(&scanConcurrency, "concurrency", app.DefaultScanConcurrency, "max in-flight symbols")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	log := logger.Must(debug)
	defer log.Sync()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	category, err := core.ParseCategory(scanCategory)
	if err != nil {
		return err
	}

	a, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("building app: %w", err)
	}
	defer a.Close()

	if len(a.Watchlist()) == 0 {
		return fmt.Errorf("watchlist is empty")
	}

	results := a.Scan(cmd.Context(), category, scanConcurrency)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
