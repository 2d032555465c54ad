// Color consensus: perceptual clustering and semantic naming.
package analyzer

import (
	"fmt"
	"math"
	"sort"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/tokenlens/tokenlens/internal/cssparse"
	"github.com/tokenlens/tokenlens/internal/tokens"
)

// Chroma below this (Lab a/b plane) reads as a neutral.
const neutralChroma = 0.09

// deltaE is CIEDE2000 on the standard 0..100 scale, matching the
// configured thresholds. See tokens.DeltaE for the scaling note.
func deltaE(a, b colorful.Color) float64 {
	return a.DistanceCIEDE2000(b) * 100
}

// Neutral ladder steps, light to dark.
var neutralSteps = []int{50, 100, 200, 300, 400, 500, 600, 700, 800, 900}

type colorMember struct {
	raw   string
	rgba  tokens.RGBA
	usage float64
}

type colorCluster struct {
	members []colorMember
	usage   float64

	// Centroid accumulates in Lab, usage-weighted.
	l, a, b float64
}

func (c *colorCluster) centroid() colorful.Color {
	return colorful.Lab(c.l, c.a, c.b)
}

func (c *colorCluster) absorb(m colorMember) {
	l, a, b := m.rgba.Color().Lab()
	total := c.usage + m.usage
	if total > 0 {
		c.l = (c.l*c.usage + l*m.usage) / total
		c.a = (c.a*c.usage + a*m.usage) / total
		c.b = (c.b*c.usage + b*m.usage) / total
	}
	c.usage = total
	c.members = append(c.members, m)
}

// representative picks the canonical notation for the cluster: highest
// usage wins; ties prefer full opacity, then the shorter string.
func (c *colorCluster) representative() colorMember {
	best := c.members[0]
	for _, m := range c.members[1:] {
		switch {
		case m.usage > best.usage:
			best = m
		case m.usage == best.usage:
			mOpaque, bestOpaque := m.rgba.A == 1, best.rgba.A == 1
			if mOpaque != bestOpaque {
				if mOpaque {
					best = m
				}
				continue
			}
			if preferCanonical(m.raw, best.raw) {
				best = m
			}
		}
	}
	return best
}

// cohesion is the fraction of members within the cohesion window of the
// centroid.
func (c *colorCluster) cohesion(window float64) float64 {
	if len(c.members) == 0 {
		return 0
	}
	center := c.centroid()
	within := 0
	for _, m := range c.members {
		if deltaE(m.rgba.Color(), center) <= window {
			within++
		}
	}
	return float64(within) / float64(len(c.members))
}

func (a *Analyzer) analyzeColors(obs *cssparse.Observations, res *Result) {
	bucket := obs.Bucket(cssparse.CatColor)

	var clusters []*colorCluster
	for _, o := range bucket.Observations {
		if o.Unresolved {
			continue
		}
		rgba, ok := tokens.ParseColor(o.Raw)
		if !ok {
			continue
		}
		// Fully transparent colors carry no design intent.
		if rgba.A == 0 {
			continue
		}
		m := colorMember{raw: o.Raw, rgba: rgba, usage: o.Usage}

		var home *colorCluster
		bestDist := a.cfg.ColorClusterDeltaE
		col := rgba.Color()
		for _, c := range clusters {
			if d := deltaE(col, c.centroid()); d <= bestDist {
				home, bestDist = c, d
			}
		}
		if home == nil {
			home = &colorCluster{}
			clusters = append(clusters, home)
		}
		home.absorb(m)
	}
	if len(clusters) == 0 {
		return
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		if clusters[i].usage != clusters[j].usage {
			return clusters[i].usage > clusters[j].usage
		}
		return preferCanonical(clusters[i].representative().raw, clusters[j].representative().raw)
	})

	names := nameColorClusters(clusters)
	for i, c := range clusters {
		rep := c.representative()
		res.Set.Add(tokens.Token{
			Path:       tokens.JoinPath(tokens.CategoryColor, names[i]),
			Value:      tokens.ColorValue{Raw: rep.raw},
			Usage:      roundUsage(c.usage),
			Confidence: confidence(c.usage, c.cohesion(a.cfg.ColorCohesionDeltaE)),
			Semantic:   names[i],
		})
	}
}

// nameColorClusters assigns the semantic vocabulary. Clusters arrive in
// usage order. Low-chroma clusters take the neutral ladder by lightness;
// the top non-neutral clusters become primary/secondary/accent; the rest
// get a hue-family name when one is free, color-{k} otherwise.
func nameColorClusters(clusters []*colorCluster) []string {
	names := make([]string, len(clusters))
	takenSteps := map[int]bool{}
	takenRoles := map[string]bool{}

	brandRoles := []string{"primary", "secondary", "accent"}
	brandIdx := 0
	overflow := 1

	for i, c := range clusters {
		l, la, lb := c.centroid().Lab()
		chroma := math.Sqrt(la*la + lb*lb)

		if chroma < neutralChroma {
			step := nearestNeutralStep(l, takenSteps)
			takenSteps[step] = true
			names[i] = fmt.Sprintf("neutral-%d", step)
			continue
		}
		if brandIdx < len(brandRoles) {
			names[i] = brandRoles[brandIdx]
			brandIdx++
			continue
		}
		if role := hueRole(c.centroid()); role != "" && !takenRoles[role] {
			takenRoles[role] = true
			names[i] = role
			continue
		}
		names[i] = fmt.Sprintf("color-%d", overflow)
		overflow++
	}
	return names
}

// nearestNeutralStep maps Lab lightness onto the 50..900 ladder, walking to
// the closest free step when the natural one is taken.
func nearestNeutralStep(lightness float64, taken map[int]bool) int {
	idx := int(math.Round((1 - lightness) * float64(len(neutralSteps)-1)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(neutralSteps) {
		idx = len(neutralSteps) - 1
	}
	for offset := 0; offset < len(neutralSteps); offset++ {
		for _, cand := range []int{idx + offset, idx - offset} {
			if cand >= 0 && cand < len(neutralSteps) && !taken[neutralSteps[cand]] {
				return neutralSteps[cand]
			}
		}
	}
	return neutralSteps[idx]
}

// hueRole maps a hue angle to the status vocabulary.
func hueRole(c colorful.Color) string {
	h, chroma, _ := c.Hcl()
	if chroma < neutralChroma {
		return ""
	}
	switch {
	case h >= 90 && h < 170:
		return "success"
	case h >= 20 && h < 90:
		return "warning"
	case h < 20 || h >= 340:
		return "danger"
	case h >= 200 && h < 280:
		return "info"
	default:
		return ""
	}
}
