package main

import (
	"fmt"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/balacloud/swing-trade-analyzer-sub001/internal/app"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/core"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/logger"
)

var (
	fetchCategory string
	fetchFields   string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch SYMBOL",
	Short: "Fetch market data for one symbol",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchCategory, "category", "quote", "data category: ohlcv, fundamentals or quote")
	fetchCmd.Flags().StringVar(&fetchFields, "fields", "", "comma-separated fields, empty for all")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	log := logger.Must(debug)
	defer log.Sync()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	category, err := core.ParseCategory(fetchCategory)
	if err != nil {
		return err
	}

	req := core.FetchRequest{
		Symbol:   strings.ToUpper(strings.TrimSpace(args[0])),
		Category: category,
	}
	if fetchFields != "" {
		req.Fields = strings.Split(fetchFields, ",")
	}

	a, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("building app: %w", err)
	}
	defer a.Close()

	res, err := a.Orchestrator().Fetch(cmd.Context(), req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
