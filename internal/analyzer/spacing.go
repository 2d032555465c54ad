// Spacing consensus: base-unit inference and snapping.
package analyzer

import (
	"fmt"
	"math"
	"sort"

	"github.com/tokenlens/tokenlens/internal/cssparse"
	"github.com/tokenlens/tokenlens/internal/tokens"
)

// Candidate base units, coarse to fine preference on ties.
var baseUnitCandidates = []int{8, 6, 4, 2}

// Values within this many px of a base-unit multiple are snapped to it.
const snapTolerancePx = 1.0

type spacingObs struct {
	px    float64
	usage float64
}

func collectSpacing(bucket *cssparse.Bucket) []spacingObs {
	out := make([]spacingObs, 0, len(bucket.Observations))
	for _, o := range bucket.Observations {
		if o.Unresolved {
			continue
		}
		d, ok := o.Value.(tokens.DimensionValue)
		if !ok {
			continue
		}
		px, ok := tokens.ConvertToPx(d)
		if !ok || px <= 0 || math.IsInf(px, 0) || math.IsNaN(px) {
			continue
		}
		out = append(out, spacingObs{px: px, usage: o.Usage})
	}
	return out
}

// inferBaseUnit picks the b maximizing the usage mass of exact multiples.
// Candidates are walked coarse-first so an equal score goes to the larger
// base: a coarser scale asserts more structure.
func inferBaseUnit(obs []spacingObs) int {
	best, bestScore := 0, -1.0
	for _, b := range baseUnitCandidates {
		score := 0.0
		for _, o := range obs {
			if math.Abs(math.Mod(o.px, float64(b))) < 1e-6 {
				score += o.usage
			}
		}
		if score > bestScore {
			best, bestScore = b, score
		}
	}
	if bestScore <= 0 {
		return 0
	}
	return best
}

func (a *Analyzer) analyzeSpacing(obs *cssparse.Observations, res *Result) {
	spacing := collectSpacing(obs.Bucket(cssparse.CatSpacing))
	if len(spacing) == 0 {
		return
	}

	base := inferBaseUnit(spacing)
	if base == 0 {
		res.Warnings = append(res.Warnings, "spacing: no base unit fits the observed values")
		return
	}
	res.BaseUnit = base

	// Snap each observation to its nearest multiple; values further than
	// the tolerance from any multiple do not form tokens.
	usageByMultiple := map[int]float64{}
	for _, o := range spacing {
		k := int(math.Round(o.px / float64(base)))
		if k < 1 {
			continue
		}
		if math.Abs(o.px-float64(k*base)) > snapTolerancePx {
			continue
		}
		usageByMultiple[k] += o.usage
	}

	multiples := make([]int, 0, len(usageByMultiple))
	for k := range usageByMultiple {
		multiples = append(multiples, k)
	}
	sort.Ints(multiples)

	for _, k := range multiples {
		px := float64(k * base)
		usage := usageByMultiple[k]
		res.SpacingPx = append(res.SpacingPx, px)
		res.Set.Add(tokens.Token{
			Path:       tokens.JoinPath(tokens.CategoryDimension, fmt.Sprintf("space-%d", k)),
			Value:      tokens.DimensionValue{Value: px, Unit: "px"},
			Usage:      roundUsage(usage),
			Confidence: confidence(usage, 1),
		})
	}
}
