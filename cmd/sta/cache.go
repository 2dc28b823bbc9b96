package main

import (
	"fmt"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/balacloud/swing-trade-analyzer-sub001/internal/app"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/core"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/logger"
)

var (
	clearSymbol   string
	clearCategory string
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the durable cache",
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache entry counts and hit rate",
	RunE:  runCacheStatus,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cache entries, optionally scoped by symbol and category",
	RunE:  runCacheClear,
}

var cacheExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a cache snapshot to the archive backend",
	RunE:  runCacheExport,
}

func init() {
	cacheClearCmd.Flags().StringVar(&clearSymbol, "symbol", "", "only this symbol")
	cacheClearCmd.Flags().StringVar(&clearCategory, "category", "", "only this category")
	cacheCmd.AddCommand(cacheStatusCmd, cacheClearCmd, cacheExportCmd)
	rootCmd.AddCommand(cacheCmd)
}

func withApp(fn func(a *app.App, log *zap.Logger) error) error {
	log := logger.Must(debug)
	defer log.Sync()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("building app: %w", err)
	}
	defer a.Close()

	return fn(a, log)
}

func runCacheStatus(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app.App, log *zap.Logger) error {
		stats, err := a.Store().Stats()
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	})
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app.App, log *zap.Logger) error {
		var category core.Category
		if clearCategory != "" {
			parsed, err := core.ParseCategory(clearCategory)
			if err != nil {
				return err
			}
			category = parsed
		}

		removed, err := a.Store().Clear(strings.ToUpper(strings.TrimSpace(clearSymbol)), category)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d entries\n", removed)
		return nil
	})
}

func runCacheExport(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app.App, log *zap.Logger) error {
		path, n, err := a.ExportCache(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("exported %d entries to %s\n", n, path)
		return nil
	})
}
