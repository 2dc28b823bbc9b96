package yahoo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/balacloud/swing-trade-analyzer-sub001/internal/core"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/provider"
)

func TestYahoo_ImplementsProvider(t *testing.T) {
	var _ provider.Provider = (*Yahoo)(nil)
}

func TestYahoo_Name(t *testing.T) {
	y := New()
	if y.Name() != "yahoo" {
		t.Errorf("expected 'yahoo', got '%s'", y.Name())
	}
}

func TestYahoo_Capabilities(t *testing.T) {
	y := New()
	if !provider.Supports(y, core.CategoryQuote) || !provider.Supports(y, core.CategoryOHLCV) {
		t.Error("yahoo should serve quote and ohlcv")
	}
	if provider.Supports(y, core.CategoryFundamentals) {
		t.Error("yahoo does not serve fundamentals")
	}
}

const chartBody = `{
  "chart": {
    "result": [{
      "meta": {
        "symbol": "AAPL",
        "regularMarketPrice": 190.5,
        "regularMarketVolume": 52000000,
        "chartPreviousClose": 188.0
      },
      "timestamp": [1767625200, 1767711600],
      "indicators": {
        "quote": [{
          "open":   [187.0, 189.2],
          "high":   [189.5, 191.1],
          "low":    [186.4, 188.7],
          "close":  [188.0, 190.5],
          "volume": [48000000, 52000000]
        }]
      }
    }],
    "error": null
  }
}`

func newTestServer(t *testing.T, status int, body string) (*Yahoo, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	y := New()
	y.baseURL = srv.URL
	return y, srv
}

func TestYahoo_FetchQuote(t *testing.T) {
	y, _ := newTestServer(t, http.StatusOK, chartBody)

	fields, err := y.Fetch(context.Background(), "AAPL", core.CategoryQuote, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if fields["price"] != 190.5 {
		t.Errorf("price = %v, want 190.5", fields["price"])
	}
	if fields["prev_close"] != 188.0 {
		t.Errorf("prev_close = %v, want 188.0", fields["prev_close"])
	}
	if fields["volume"] != 52000000 {
		t.Errorf("volume = %v", fields["volume"])
	}
	// (190.5-188)/188*100
	if pct := fields["change_pct"]; pct < 1.32 || pct > 1.34 {
		t.Errorf("change_pct = %v, want ~1.33", pct)
	}
}

func TestYahoo_FetchOHLCVLatestBar(t *testing.T) {
	y, _ := newTestServer(t, http.StatusOK, chartBody)

	fields, err := y.Fetch(context.Background(), "AAPL", core.CategoryOHLCV, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	want := map[string]float64{"open": 189.2, "high": 191.1, "low": 188.7, "close": 190.5, "volume": 52000000}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("%s = %v, want %v", k, fields[k], v)
		}
	}
}

func TestYahoo_FetchRequestedSubset(t *testing.T) {
	y, _ := newTestServer(t, http.StatusOK, chartBody)

	fields, err := y.Fetch(context.Background(), "AAPL", core.CategoryOHLCV, []string{"close"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(fields) != 1 {
		t.Fatalf("fields = %v, want only close", fields)
	}
	if fields["close"] != 190.5 {
		t.Errorf("close = %v", fields["close"])
	}
}

// raggedChartBody has price arrays shorter than the timestamp list and no
// volume for the surviving bar, as Yahoo sometimes returns mid-session.
const raggedChartBody = `{
  "chart": {
    "result": [{
      "meta": {
        "symbol": "AAPL",
        "regularMarketPrice": 190.5,
        "regularMarketVolume": 52000000,
        "chartPreviousClose": 188.0
      },
      "timestamp": [1767625200, 1767711600],
      "indicators": {
        "quote": [{
          "open":   [187.0],
          "high":   [189.5],
          "low":    [186.4],
          "close":  [188.0],
          "volume": []
        }]
      }
    }],
    "error": null
  }
}`

func TestYahoo_FetchOHLCVRaggedArrays(t *testing.T) {
	y, _ := newTestServer(t, http.StatusOK, raggedChartBody)

	fields, err := y.Fetch(context.Background(), "AAPL", core.CategoryOHLCV, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	// Only index 0 has a complete bar; volume is absent, not fabricated.
	want := map[string]float64{"open": 187.0, "high": 189.5, "low": 186.4, "close": 188.0}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("%s = %v, want %v", k, fields[k], v)
		}
	}
	if _, ok := fields["volume"]; ok {
		t.Errorf("volume should be absent, got %v", fields["volume"])
	}
}

func TestYahoo_FetchOHLCVNoCompleteBarIsSchemaError(t *testing.T) {
	// Arrays shorter than every timestamp index: no bar can be extracted.
	body := `{
  "chart": {
    "result": [{
      "meta": {"symbol": "AAPL", "regularMarketPrice": 190.5},
      "timestamp": [1767625200, 1767711600],
      "indicators": {
        "quote": [{"open": [], "high": [], "low": [], "close": [], "volume": []}]
      }
    }],
    "error": null
  }
}`
	y, _ := newTestServer(t, http.StatusOK, body)

	_, err := y.Fetch(context.Background(), "AAPL", core.CategoryOHLCV, nil)
	if err == nil {
		t.Fatal("expected error for a chart with no usable bar")
	}
	if got := core.ClassOf(err); got != core.ClassSchema {
		t.Errorf("class = %s, want %s", got, core.ClassSchema)
	}
}

func TestYahoo_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		class  core.Class
	}{
		{"throttled", http.StatusTooManyRequests, "slow down", core.ClassRateLimited},
		{"auth", http.StatusUnauthorized, "no", core.ClassAuth},
		{"server error", http.StatusInternalServerError, "oops", core.ClassTransport},
		{"bad json", http.StatusOK, "<html>", core.ClassSchema},
		{"unknown symbol", http.StatusOK, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`, core.ClassNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			y, _ := newTestServer(t, tt.status, tt.body)
			_, err := y.Fetch(context.Background(), "AAPL", core.CategoryQuote, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := core.ClassOf(err); got != tt.class {
				t.Errorf("class = %s, want %s", got, tt.class)
			}
		})
	}
}

func TestYahoo_InvalidSymbolIsNotFound(t *testing.T) {
	y := New()
	_, err := y.Fetch(context.Background(), "not a symbol!!", core.CategoryQuote, nil)
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}
