// Scalar consensus: frequency-threshold clustering for typography sizes,
// weights, line heights, letter spacing, and radii.
package analyzer

import (
	"fmt"
	"math"
	"sort"

	"github.com/tokenlens/tokenlens/internal/cssparse"
	"github.com/tokenlens/tokenlens/internal/tokens"
)

type scalarObs struct {
	raw   string
	value float64 // comparable numeric form (px, ms, ratio, weight)
	token tokens.Value
	usage float64
}

type scalarCluster struct {
	rep   scalarObs
	usage float64
}

// clusterScalars keeps observations above the frequency floor and merges
// neighbors within the relative-distance window. The representative of a
// merged cluster is its highest-usage member; equal usage prefers the
// shorter canonical string.
func clusterScalars(obs []scalarObs, total, floor, mergeRel float64) []scalarCluster {
	if len(obs) == 0 {
		return nil
	}

	kept := obs[:0:0]
	for _, o := range obs {
		if total > 0 && o.usage/total < floor {
			continue
		}
		kept = append(kept, o)
	}
	if len(kept) == 0 {
		return nil
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].value != kept[j].value {
			return kept[i].value < kept[j].value
		}
		return preferCanonical(kept[i].raw, kept[j].raw)
	})

	var out []scalarCluster
	for _, o := range kept {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if relativeDistance(last.rep.value, o.value) <= mergeRel {
				last.usage += o.usage
				if o.usage > last.rep.usage ||
					(o.usage == last.rep.usage && preferCanonical(o.raw, last.rep.raw)) {
					last.rep = o
				}
				continue
			}
		}
		out = append(out, scalarCluster{rep: o, usage: o.usage})
	}
	return out
}

func relativeDistance(a, b float64) float64 {
	max := math.Max(math.Abs(a), math.Abs(b))
	if max == 0 {
		return 0
	}
	return math.Abs(a-b) / max
}

// analyzeScalars covers the four scalar typography buckets and radii.
func (a *Analyzer) analyzeScalars(obs *cssparse.Observations, res *Result) {
	a.scalarCategory(obs, res, cssparse.CatFontSize, "typography.size", "size", byValue)
	a.scalarCategory(obs, res, cssparse.CatFontWeight, "typography.weight", "weight", byWeight)
	a.scalarCategory(obs, res, cssparse.CatLineHeight, "typography.lineHeight", "line-height", byValue)
	a.scalarCategory(obs, res, cssparse.CatLetterSpacing, "typography.letterSpacing", "letter-spacing", byValue)
	a.scalarCategory(obs, res, cssparse.CatRadius, tokens.CategoryRadius, "radius", byValue)
}

// Naming strategies for scalar tokens.
type scalarNaming int

const (
	byValue  scalarNaming = iota // name-{k}, k by ascending value
	byWeight                     // weight-{numeric}
)

func (a *Analyzer) scalarCategory(obs *cssparse.Observations, res *Result,
	cat cssparse.Category, pathPrefix, name string, naming scalarNaming) {

	bucket := obs.Bucket(cat)
	scalars := make([]scalarObs, 0, len(bucket.Observations))
	for _, o := range bucket.Observations {
		if o.Unresolved || o.Value == nil {
			continue
		}
		v, ok := comparableValue(o.Value)
		if !ok {
			continue
		}
		scalars = append(scalars, scalarObs{raw: o.Raw, value: v, token: o.Value, usage: o.Usage})
	}

	clusters := clusterScalars(scalars, bucket.TotalUsage, a.cfg.FrequencyFloor, a.cfg.MergeRelative)
	for i, c := range clusters {
		var tokenName string
		switch naming {
		case byWeight:
			tokenName = fmt.Sprintf("%s-%d", name, int(c.rep.value))
		default:
			tokenName = fmt.Sprintf("%s-%d", name, i+1)
		}
		res.Set.Add(tokens.Token{
			Path:       tokens.JoinPath(pathPrefix, tokenName),
			Value:      c.rep.token,
			Usage:      roundUsage(c.usage),
			Confidence: confidence(c.usage, 1),
		})
	}
}

// comparableValue reduces a scalar token value to one number for distance
// computation. Lengths compare in px, durations in ms.
func comparableValue(v tokens.Value) (float64, bool) {
	switch tv := v.(type) {
	case tokens.DimensionValue:
		if px, ok := tokens.ConvertToPx(tv); ok {
			return px, true
		}
		if ms, ok := tokens.ConvertToMs(tv); ok {
			return ms, true
		}
		return tv.Value, true
	case tokens.NumberValue:
		return tv.Value, true
	case tokens.FontWeightValue:
		return float64(tv.Weight), true
	default:
		return 0, false
	}
}
