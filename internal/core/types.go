package core

import (
	"fmt"
	"strings"
	"time"
)

// Category identifies a class of market data served by providers.
type Category string

const (
	CategoryOHLCV        Category = "ohlcv"
	CategoryFundamentals Category = "fundamentals"
	CategoryQuote        Category = "quote"
)

// Categories lists all known categories in a stable order.
func Categories() []Category {
	return []Category{CategoryOHLCV, CategoryFundamentals, CategoryQuote}
}

// ParseCategory converts a string into a Category.
func ParseCategory(s string) (Category, error) {
	switch Category(strings.ToLower(s)) {
	case CategoryOHLCV:
		return CategoryOHLCV, nil
	case CategoryFundamentals:
		return CategoryFundamentals, nil
	case CategoryQuote:
		return CategoryQuote, nil
	}
	return "", fmt.Errorf("unknown category: %q", s)
}

// Known field names per category. A request with an empty field set
// expands to the full set for its category.
var categoryFields = map[Category][]string{
	CategoryOHLCV:        {"open", "high", "low", "close", "volume"},
	CategoryFundamentals: {"pe", "pb", "roe", "eps_growth", "dividend_yield", "market_cap"},
	CategoryQuote:        {"price", "prev_close", "change_pct", "volume"},
}

// KnownFields returns the full field set for a category.
func KnownFields(c Category) []string {
	fields := categoryFields[c]
	out := make([]string, len(fields))
	copy(out, fields)
	return out
}

// Provenance values that are not provider names.
const (
	ProvenanceCache       = "cache"
	ProvenanceUnavailable = "unavailable"
)

// FetchRequest asks for a set of fields of one category for one symbol.
type FetchRequest struct {
	Symbol   string   `json:"symbol"`
	Category Category `json:"category"`
	Fields   []string `json:"fields,omitempty"` // empty = all known fields
}

// Validate checks the request against the known categories and fields.
func (r FetchRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	known, ok := categoryFields[r.Category]
	if !ok {
		return fmt.Errorf("unknown category: %q", r.Category)
	}
	for _, f := range r.Fields {
		found := false
		for _, k := range known {
			if f == k {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown field %q for category %s", f, r.Category)
		}
	}
	return nil
}

// RequestedFields expands an empty field set to the category's full set.
func (r FetchRequest) RequestedFields() []string {
	if len(r.Fields) == 0 {
		return KnownFields(r.Category)
	}
	out := make([]string, len(r.Fields))
	copy(out, r.Fields)
	return out
}

// FetchResult is the merged answer for one request. A nil field value means
// the field is unavailable; it is never substituted with a zero. Provenance
// maps each requested field to the provider that supplied it, "cache", or
// "unavailable".
type FetchResult struct {
	Symbol     string              `json:"symbol"`
	Category   Category            `json:"category"`
	Fields     map[string]*float64 `json:"fields"`
	Provenance map[string]string   `json:"provenance"`
	FetchedAt  time.Time           `json:"fetched_at"`
	Stale      bool                `json:"stale"`
	CacheAge   time.Duration       `json:"cache_age,omitempty"`
}

// NewFetchResult builds a result with every requested field marked
// unavailable.
func NewFetchResult(symbol string, category Category, fields []string) *FetchResult {
	res := &FetchResult{
		Symbol:     symbol,
		Category:   category,
		Fields:     make(map[string]*float64, len(fields)),
		Provenance: make(map[string]string, len(fields)),
	}
	for _, f := range fields {
		res.Fields[f] = nil
		res.Provenance[f] = ProvenanceUnavailable
	}
	return res
}

// Missing returns the requested fields that have no value yet, in request
// order.
func (r *FetchResult) Missing(requested []string) []string {
	var missing []string
	for _, f := range requested {
		if r.Fields[f] == nil {
			missing = append(missing, f)
		}
	}
	return missing
}

// Complete reports whether every requested field has a value.
func (r *FetchResult) Complete(requested []string) bool {
	return len(r.Missing(requested)) == 0
}

// Fill sets a field from the given source unless it already has a value.
// Fields filled by an earlier (higher priority) source are never overwritten.
func (r *FetchResult) Fill(field string, value float64, source string) bool {
	if r.Fields[field] != nil {
		return false
	}
	v := value
	r.Fields[field] = &v
	r.Provenance[field] = source
	return true
}
