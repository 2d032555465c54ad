// Shadow and motion consensus.
package analyzer

import (
	"fmt"
	"math"
	"sort"

	"github.com/tokenlens/tokenlens/internal/cssparse"
	"github.com/tokenlens/tokenlens/internal/tokens"
)

type shadowObs struct {
	raw    string
	value  tokens.ShadowValue
	coords []float64 // px offsets, blur, spread per layer
	usage  float64
}

func shadowCoords(v tokens.ShadowValue) []float64 {
	coords := make([]float64, 0, len(v.Layers)*4)
	for _, l := range v.Layers {
		for _, d := range []tokens.DimensionValue{l.OffsetX, l.OffsetY, l.Blur, l.Spread} {
			px, ok := tokens.ConvertToPx(d)
			if !ok {
				px = d.Value
			}
			coords = append(coords, px)
		}
	}
	return coords
}

// euclidean over numeric components; shadows with different layer counts
// never merge.
func shadowDistance(a, b []float64) (float64, bool) {
	if len(a) != len(b) {
		return 0, false
	}
	var sum, scale float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
		m := math.Max(math.Abs(a[i]), math.Abs(b[i]))
		scale += m * m
	}
	if scale == 0 {
		return 0, true
	}
	return math.Sqrt(sum) / math.Sqrt(scale), true
}

func (a *Analyzer) analyzeShadows(obs *cssparse.Observations, res *Result) {
	bucket := obs.Bucket(cssparse.CatShadow)

	var shadows []shadowObs
	for _, o := range bucket.Observations {
		if o.Unresolved {
			continue
		}
		sv, ok := o.Value.(tokens.ShadowValue)
		if !ok || len(sv.Layers) == 0 {
			continue
		}
		if bucket.TotalUsage > 0 && o.Usage/bucket.TotalUsage < a.cfg.FrequencyFloor {
			continue
		}
		shadows = append(shadows, shadowObs{raw: o.Raw, value: sv, coords: shadowCoords(sv), usage: o.Usage})
	}
	if len(shadows) == 0 {
		return
	}

	// Greedy merge into the first cluster within the relative window.
	type cluster struct {
		rep   shadowObs
		usage float64
	}
	var clusters []cluster
	for _, s := range shadows {
		merged := false
		for i := range clusters {
			d, comparable := shadowDistance(clusters[i].rep.coords, s.coords)
			if comparable && d <= a.cfg.MergeRelative {
				clusters[i].usage += s.usage
				if s.usage > clusters[i].rep.usage ||
					(s.usage == clusters[i].rep.usage && preferCanonical(s.raw, clusters[i].rep.raw)) {
					clusters[i].rep = s
				}
				merged = true
				break
			}
		}
		if !merged {
			clusters = append(clusters, cluster{rep: s, usage: s.usage})
		}
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		if clusters[i].usage != clusters[j].usage {
			return clusters[i].usage > clusters[j].usage
		}
		return preferCanonical(clusters[i].rep.raw, clusters[j].rep.raw)
	})
	for i, c := range clusters {
		res.Set.Add(tokens.Token{
			Path:       tokens.JoinPath(tokens.CategoryShadow, fmt.Sprintf("shadow-%d", i+1)),
			Value:      c.rep.value,
			Usage:      roundUsage(c.usage),
			Confidence: confidence(c.usage, 1),
		})
	}
}

func (a *Analyzer) analyzeMotion(obs *cssparse.Observations, res *Result) {
	bucket := obs.Bucket(cssparse.CatMotion)

	// Durations cluster within a timing-function group; the pair is the
	// token identity, so "200ms ease" and "210ms linear" never merge.
	type motionObs struct {
		raw   string
		value tokens.TransitionValue
		ms    float64
		usage float64
	}
	groups := map[string][]motionObs{}
	for _, o := range bucket.Observations {
		if o.Unresolved {
			continue
		}
		tv, ok := o.Value.(tokens.TransitionValue)
		if !ok {
			continue
		}
		if bucket.TotalUsage > 0 && o.Usage/bucket.TotalUsage < a.cfg.FrequencyFloor {
			continue
		}
		ms, ok := tokens.ConvertToMs(tv.Duration)
		if !ok {
			ms = tv.Duration.Value
		}
		groups[tv.TimingFunction] = append(groups[tv.TimingFunction],
			motionObs{raw: o.Raw, value: tv, ms: ms, usage: o.Usage})
	}

	type cluster struct {
		rep   motionObs
		usage float64
	}
	var clusters []cluster
	timings := make([]string, 0, len(groups))
	for t := range groups {
		timings = append(timings, t)
	}
	sort.Strings(timings)

	for _, timing := range timings {
		members := groups[timing]
		sort.SliceStable(members, func(i, j int) bool {
			if members[i].ms != members[j].ms {
				return members[i].ms < members[j].ms
			}
			return preferCanonical(members[i].raw, members[j].raw)
		})
		for _, m := range members {
			if len(clusters) > 0 {
				last := &clusters[len(clusters)-1]
				if last.rep.value.TimingFunction == timing &&
					relativeDistance(last.rep.ms, m.ms) <= a.cfg.MergeRelative {
					last.usage += m.usage
					if m.usage > last.rep.usage ||
						(m.usage == last.rep.usage && preferCanonical(m.raw, last.rep.raw)) {
						last.rep = m
					}
					continue
				}
			}
			clusters = append(clusters, cluster{rep: m, usage: m.usage})
		}
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		if clusters[i].usage != clusters[j].usage {
			return clusters[i].usage > clusters[j].usage
		}
		return preferCanonical(clusters[i].rep.raw, clusters[j].rep.raw)
	})
	for i, c := range clusters {
		res.Set.Add(tokens.Token{
			Path:       tokens.JoinPath(tokens.CategoryMotion, fmt.Sprintf("motion-%d", i+1)),
			Value:      c.rep.value,
			Usage:      roundUsage(c.usage),
			Confidence: confidence(c.usage, 1),
		})
	}
}
