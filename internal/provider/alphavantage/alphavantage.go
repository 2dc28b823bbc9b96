package alphavantage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/balacloud/swing-trade-analyzer-sub001/internal/core"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/provider"
)

const defaultBaseURL = "https://www.alphavantage.co/query"

// AlphaVantage serves company fundamentals and daily OHLCV bars. Requires an
// API key; the free tier is heavily rate limited, which the per-provider
// token bucket is configured around.
type AlphaVantage struct {
	client  *retryablehttp.Client
	baseURL string
	apiKey  string
}

// New creates an AlphaVantage provider.
func New(apiKey string) *AlphaVantage {
	return &AlphaVantage{
		client:  provider.NewHTTPClient(15 * time.Second),
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
	}
}

func (a *AlphaVantage) Name() string {
	return "alphavantage"
}

func (a *AlphaVantage) Capabilities() []core.Category {
	return []core.Category{core.CategoryFundamentals, core.CategoryOHLCV}
}

func (a *AlphaVantage) Fetch(ctx context.Context, symbol string, category core.Category, fields []string) (map[string]float64, error) {
	if a.apiKey == "" {
		return nil, core.WrapError(core.ErrAuth, fmt.Errorf("alphavantage: no API key configured"))
	}

	switch category {
	case core.CategoryFundamentals:
		all, err := a.overview(ctx, symbol)
		if err != nil {
			return nil, err
		}
		return provider.FilterFields(all, fields), nil
	case core.CategoryOHLCV:
		all, err := a.dailyBar(ctx, symbol)
		if err != nil {
			return nil, err
		}
		return provider.FilterFields(all, fields), nil
	}
	return nil, core.WrapError(core.ErrSchema, fmt.Errorf("unsupported category %s", category))
}

func (a *AlphaVantage) get(ctx context.Context, function, symbol string, out any) error {
	q := url.Values{}
	q.Set("function", function)
	q.Set("symbol", symbol)
	q.Set("apikey", a.apiKey)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return core.WrapError(core.ErrTransport, err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return core.WrapError(core.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return provider.ClassifyStatus(resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return core.WrapError(core.ErrSchema, err)
	}
	return nil
}

// overview fetches the OVERVIEW document and maps the ratio fields. Values
// the API reports as "None" or "-" are left out rather than coerced to zero.
func (a *AlphaVantage) overview(ctx context.Context, symbol string) (map[string]float64, error) {
	var doc struct {
		Symbol            string `json:"Symbol"`
		PERatio           string `json:"PERatio"`
		PriceToBookRatio  string `json:"PriceToBookRatio"`
		ReturnOnEquityTTM string `json:"ReturnOnEquityTTM"`
		QuarterlyEPSGrow  string `json:"QuarterlyEarningsGrowthYOY"`
		DividendYield     string `json:"DividendYield"`
		MarketCap         string `json:"MarketCapitalization"`

		// Throttling is reported in-band with HTTP 200.
		Note        string `json:"Note"`
		Information string `json:"Information"`
	}
	if err := a.get(ctx, "OVERVIEW", symbol, &doc); err != nil {
		return nil, err
	}
	if doc.Note != "" || doc.Information != "" {
		return nil, core.WrapError(core.ErrRateLimited, fmt.Errorf("alphavantage: %s%s", doc.Note, doc.Information))
	}
	if doc.Symbol == "" {
		return nil, core.WrapError(core.ErrNotFound, fmt.Errorf("no overview for symbol %s", symbol))
	}

	all := make(map[string]float64)
	putNumeric(all, "pe", doc.PERatio)
	putNumeric(all, "pb", doc.PriceToBookRatio)
	putNumeric(all, "roe", doc.ReturnOnEquityTTM)
	putNumeric(all, "eps_growth", doc.QuarterlyEPSGrow)
	putNumeric(all, "dividend_yield", doc.DividendYield)
	putNumeric(all, "market_cap", doc.MarketCap)
	return all, nil
}

func (a *AlphaVantage) dailyBar(ctx context.Context, symbol string) (map[string]float64, error) {
	var doc struct {
		Series map[string]map[string]string `json:"Time Series (Daily)"`

		Note        string `json:"Note"`
		Information string `json:"Information"`
		ErrMessage  string `json:"Error Message"`
	}
	if err := a.get(ctx, "TIME_SERIES_DAILY", symbol, &doc); err != nil {
		return nil, err
	}
	if doc.Note != "" || doc.Information != "" {
		return nil, core.WrapError(core.ErrRateLimited, fmt.Errorf("alphavantage: %s%s", doc.Note, doc.Information))
	}
	if doc.ErrMessage != "" {
		return nil, core.WrapError(core.ErrNotFound, fmt.Errorf("alphavantage: %s", doc.ErrMessage))
	}
	if len(doc.Series) == 0 {
		return nil, core.WrapError(core.ErrSchema, fmt.Errorf("alphavantage: empty time series for %s", symbol))
	}

	dates := make([]string, 0, len(doc.Series))
	for d := range doc.Series {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	latest := doc.Series[dates[len(dates)-1]]

	all := make(map[string]float64)
	putNumeric(all, "open", latest["1. open"])
	putNumeric(all, "high", latest["2. high"])
	putNumeric(all, "low", latest["3. low"])
	putNumeric(all, "close", latest["4. close"])
	putNumeric(all, "volume", latest["5. volume"])
	return all, nil
}

func putNumeric(m map[string]float64, key, raw string) {
	if raw == "" || raw == "None" || raw == "-" {
		return
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return
	}
	m[key] = v
}
