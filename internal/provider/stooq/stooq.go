package stooq

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/balacloud/swing-trade-analyzer-sub001/internal/core"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/provider"
)

const defaultBaseURL = "https://stooq.com/q/l/"

// Stooq serves the latest daily bar from the stooq CSV endpoint. Keyless, so
// it works as a last-resort fallback when keyed providers are down.
type Stooq struct {
	client  *retryablehttp.Client
	baseURL string
}

// New creates a Stooq provider.
func New() *Stooq {
	return &Stooq{
		client:  provider.NewHTTPClient(10 * time.Second),
		baseURL: defaultBaseURL,
	}
}

func (s *Stooq) Name() string {
	return "stooq"
}

func (s *Stooq) Capabilities() []core.Category {
	return []core.Category{core.CategoryOHLCV, core.CategoryQuote}
}

func (s *Stooq) Fetch(ctx context.Context, symbol string, category core.Category, fields []string) (map[string]float64, error) {
	bar, err := s.latestBar(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var all map[string]float64
	switch category {
	case core.CategoryOHLCV:
		all = bar
	case core.CategoryQuote:
		// The daily close doubles as the latest price.
		all = map[string]float64{}
		if v, ok := bar["close"]; ok {
			all["price"] = v
		}
		if v, ok := bar["volume"]; ok {
			all["volume"] = v
		}
	default:
		return nil, core.WrapError(core.ErrSchema, fmt.Errorf("unsupported category %s", category))
	}
	return provider.FilterFields(all, fields), nil
}

// toStooqSymbol converts plain US tickers to stooq's suffixed form.
func toStooqSymbol(symbol string) string {
	if strings.Contains(symbol, ".") {
		return strings.ToLower(symbol)
	}
	return strings.ToLower(symbol) + ".us"
}

func (s *Stooq) latestBar(ctx context.Context, symbol string) (map[string]float64, error) {
	url := fmt.Sprintf("%s?s=%s&f=sd2t2ohlcv&h&e=csv", s.baseURL, toStooqSymbol(symbol))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, core.WrapError(core.ErrTransport, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, core.WrapError(core.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ClassifyStatus(resp.StatusCode)
	}

	records, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		return nil, core.WrapError(core.ErrSchema, err)
	}
	// Header row plus one data row: Symbol,Date,Time,Open,High,Low,Close,Volume
	if len(records) < 2 || len(records[1]) < 8 {
		return nil, core.WrapError(core.ErrSchema, fmt.Errorf("stooq: unexpected csv shape"))
	}

	row := records[1]
	if row[3] == "N/D" || row[6] == "N/D" {
		return nil, core.WrapError(core.ErrNotFound, fmt.Errorf("stooq: no data for %s", symbol))
	}

	all := make(map[string]float64, 5)
	for i, name := range []string{"open", "high", "low", "close", "volume"} {
		raw := row[3+i]
		if raw == "N/D" || raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, core.WrapError(core.ErrSchema, fmt.Errorf("stooq: bad %s value %q", name, raw))
		}
		all[name] = v
	}
	return all, nil
}
