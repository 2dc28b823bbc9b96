package provider

import (
	"context"

	"github.com/balacloud/swing-trade-analyzer-sub001/internal/core"
)

// Config holds provider configuration passed in from the application.
type Config struct {
	Enabled bool
	APIKey  string
	Extra   map[string]any
}

// Provider is a capability-tagged client for one external data source.
//
// Fetch returns the subset of requested fields the provider could supply; a
// partial result is a success, not a failure. Errors are classified via the
// core taxonomy so the orchestrator can do breaker accounting. A provider
// never touches the cache, breaker or limiter; those are managed around the
// call by the orchestrator.
type Provider interface {
	// Metadata
	Name() string
	Capabilities() []core.Category

	// Data fetching
	Fetch(ctx context.Context, symbol string, category core.Category, fields []string) (map[string]float64, error)
}

// Supports reports whether p can serve the category.
func Supports(p Provider, category core.Category) bool {
	for _, c := range p.Capabilities() {
		if c == category {
			return true
		}
	}
	return false
}
