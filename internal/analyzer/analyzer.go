// Package analyzer folds raw CSS observations into a canonical token set.
//
// Each category is reduced independently: colors are clustered perceptually
// (CIEDE2000), spacing snaps to an inferred base unit, and the remaining
// scalar categories keep frequent values merged by relative distance. The
// analyzer is deterministic: identical observation bags always produce an
// identical token set, which is what makes no-op rescans diff empty.
package analyzer

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/tokenlens/tokenlens/internal/config"
	"github.com/tokenlens/tokenlens/internal/cssparse"
	"github.com/tokenlens/tokenlens/internal/monitoring"
	"github.com/tokenlens/tokenlens/internal/tokens"
)

// Analyzer holds the consensus thresholds.
type Analyzer struct {
	cfg config.AnalyzerConfig
	log zerolog.Logger
}

// New creates an analyzer with the given thresholds.
func New(cfg config.AnalyzerConfig) *Analyzer {
	return &Analyzer{cfg: cfg, log: monitoring.Component("analyzer")}
}

// MaxObservations is the per-category cap the extractor should honor.
func (a *Analyzer) MaxObservations() int { return a.cfg.MaxObservations }

// Result is the consensus output for one scan.
type Result struct {
	Set *tokens.Set

	// BaseUnit is the inferred spacing base in px (0 when no spacing was
	// observed). SpacingPx lists the canonical spacing values ascending;
	// both feed the layout profile.
	BaseUnit  int
	SpacingPx []float64

	Warnings []string
}

// Analyze reduces the observation bag category by category. It checks the
// context between categories so the analyze-phase deadline cuts in promptly.
func (a *Analyzer) Analyze(ctx context.Context, obs *cssparse.Observations) (*Result, error) {
	res := &Result{Set: &tokens.Set{}}

	steps := []func(*cssparse.Observations, *Result){
		a.analyzeColors,
		a.analyzeSpacing,
		a.analyzeFamilies,
		a.analyzeScalars,
		a.analyzeShadows,
		a.analyzeMotion,
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("consensus interrupted: %w", err)
		}
		step(obs, res)
	}

	res.Set.Sort()
	a.log.Debug().
		Int("tokens", res.Set.Len()).
		Int("base_unit", res.BaseUnit).
		Float64("consensus", res.Set.ConsensusScore()).
		Msg("Consensus complete")
	return res, nil
}

// confidence implements the shared formula: min(1, log2(1+usage)/8) scaled
// by cohesion. Categories without a cohesion definition pass 1.
func confidence(usage, cohesion float64) float64 {
	if usage <= 0 {
		return 0
	}
	c := math.Log2(1+usage) / 8
	if c > 1 {
		c = 1
	}
	return c * cohesion
}

// preferCanonical breaks a tie between two candidate representatives with
// equal usage: the shorter canonical string wins, then lexicographic order
// for full determinism.
func preferCanonical(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func roundUsage(u float64) int64 {
	return int64(math.Round(u))
}
