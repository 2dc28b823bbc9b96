package yahoo

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/balacloud/swing-trade-analyzer-sub001/internal/core"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/provider"
)

const defaultBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// validSymbol matches stock symbols like AAPL, MSFT, BRK-B
var validSymbol = regexp.MustCompile(`^[A-Za-z0-9.\-]{1,12}$`)

// Yahoo serves quotes and daily OHLCV bars from the Yahoo Finance chart API.
// No API key required.
type Yahoo struct {
	client  *retryablehttp.Client
	baseURL string
}

// New creates a Yahoo provider.
func New() *Yahoo {
	return &Yahoo{
		client:  provider.NewHTTPClient(10 * time.Second),
		baseURL: defaultBaseURL,
	}
}

func (y *Yahoo) Name() string {
	return "yahoo"
}

func (y *Yahoo) Capabilities() []core.Category {
	return []core.Category{core.CategoryQuote, core.CategoryOHLCV}
}

// Fetch returns the requested subset of fields; fields Yahoo cannot supply
// are simply absent from the result.
func (y *Yahoo) Fetch(ctx context.Context, symbol string, category core.Category, fields []string) (map[string]float64, error) {
	if !validSymbol.MatchString(symbol) {
		return nil, core.WrapError(core.ErrNotFound, fmt.Errorf("invalid symbol format: %q", symbol))
	}

	chart, err := y.chart(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var all map[string]float64
	switch category {
	case core.CategoryQuote:
		all = quoteFields(chart)
	case core.CategoryOHLCV:
		all = barFields(chart)
		if all == nil {
			return nil, core.WrapError(core.ErrSchema, fmt.Errorf("yahoo: no complete bar for %s", symbol))
		}
	default:
		return nil, core.WrapError(core.ErrSchema, fmt.Errorf("unsupported category %s", category))
	}
	return provider.FilterFields(all, fields), nil
}

func (y *Yahoo) chart(ctx context.Context, symbol string) (*chartResult, error) {
	url := fmt.Sprintf("%s/%s?interval=1d&range=5d", y.baseURL, symbol)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, core.WrapError(core.ErrTransport, err)
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, core.WrapError(core.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ClassifyStatus(resp.StatusCode)
	}

	var result chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, core.WrapError(core.ErrSchema, err)
	}

	if result.Chart.Error != nil {
		if result.Chart.Error.Code == "Not Found" {
			return nil, core.WrapError(core.ErrNotFound, fmt.Errorf("yahoo: %s", result.Chart.Error.Description))
		}
		return nil, core.WrapError(core.ErrSchema, fmt.Errorf("yahoo: %s", result.Chart.Error.Description))
	}
	if len(result.Chart.Result) == 0 {
		return nil, core.WrapError(core.ErrNotFound, fmt.Errorf("no data for symbol %s", symbol))
	}
	return &result.Chart.Result[0], nil
}

func quoteFields(r *chartResult) map[string]float64 {
	meta := r.Meta
	all := map[string]float64{
		"price":  meta.RegularMarketPrice,
		"volume": float64(meta.RegularMarketVolume),
	}
	if meta.ChartPreviousClose > 0 {
		all["prev_close"] = meta.ChartPreviousClose
		all["change_pct"] = (meta.RegularMarketPrice - meta.ChartPreviousClose) / meta.ChartPreviousClose * 100
	}
	return all
}

// barFields extracts the latest bar with complete data. The chart arrays
// can be ragged (shorter than the timestamp list), so every index is bounds
// checked rather than trusted.
func barFields(r *chartResult) map[string]float64 {
	if len(r.Indicators.Quote) == 0 {
		return nil
	}
	q := r.Indicators.Quote[0]
	for i := len(r.Timestamp) - 1; i >= 0; i-- {
		if i >= len(q.Open) || i >= len(q.High) || i >= len(q.Low) || i >= len(q.Close) {
			continue
		}
		if q.Open[i] == nil || q.High[i] == nil || q.Low[i] == nil || q.Close[i] == nil {
			continue
		}
		all := map[string]float64{
			"open":  *q.Open[i],
			"high":  *q.High[i],
			"low":   *q.Low[i],
			"close": *q.Close[i],
		}
		if i < len(q.Volume) && q.Volume[i] != nil {
			all["volume"] = float64(*q.Volume[i])
		}
		return all
	}
	return nil
}

// Yahoo API response types
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta       chartMeta  `json:"meta"`
	Timestamp  []int64    `json:"timestamp"`
	Indicators indicators `json:"indicators"`
}

type chartMeta struct {
	Symbol              string  `json:"symbol"`
	RegularMarketPrice  float64 `json:"regularMarketPrice"`
	RegularMarketVolume int64   `json:"regularMarketVolume"`
	ChartPreviousClose  float64 `json:"chartPreviousClose"`
}

type indicators struct {
	Quote []quoteIndicator `json:"quote"`
}

type quoteIndicator struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*int64   `json:"volume"`
}
