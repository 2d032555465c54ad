// Package enrich refines analyzed token sets after consensus analysis.
// Enrichment is advisory: it may improve semantic labels but can never
// fail a scan or touch token values, usage, or confidence.
package enrich

import (
	"context"

	"github.com/tokenlens/tokenlens/internal/config"
	"github.com/tokenlens/tokenlens/internal/monitoring"
	"github.com/tokenlens/tokenlens/internal/tokens"
)

// Enricher transforms a token set into a refined one. Implementations
// must return a usable set even when refinement fails.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, set *tokens.Set) (*tokens.Set, error)
}

// Noop passes the set through unchanged.
type Noop struct{}

func (Noop) Name() string { return "noop" }

func (Noop) Enrich(_ context.Context, set *tokens.Set) (*tokens.Set, error) {
	return set, nil
}

// New builds the configured enricher. Unconfigured or noop strategies get
// the passthrough.
func New(cfg config.EnrichConfig, metrics *monitoring.MetricsCollector) (Enricher, error) {
	if !cfg.Enabled() {
		return Noop{}, nil
	}
	return NewLLM(cfg, metrics)
}
