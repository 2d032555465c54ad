// Media query evaluation: enough of the width algebra to weight selectors
// and enumerate breakpoints, nothing more.
package cssparse

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// CommonViewports are the widths the profiler treats as representative
// device classes: phone, tablet, desktop.
var CommonViewports = []float64{360, 768, 1280}

var (
	prefixWidthRe = regexp.MustCompile(`(min-width|max-width|width)\s*:\s*([0-9]*\.?[0-9]+)(px|em|rem)`)
	rangeLeftRe   = regexp.MustCompile(`([0-9]*\.?[0-9]+)(px|em|rem)\s*(<=|<)\s*width`)
	rangeRightRe  = regexp.MustCompile(`width\s*(<=|<|>=|>)\s*([0-9]*\.?[0-9]+)(px|em|rem)`)
)

// widthBounds reduces one media prelude to a [min,max] px interval.
// Queries without width features return ok=false.
func widthBounds(prelude string) (min, max float64, ok bool) {
	prelude = strings.ToLower(prelude)
	min, max = 0, math.Inf(1)

	for _, m := range prefixWidthRe.FindAllStringSubmatch(prelude, -1) {
		v := toPx(m[2], m[3])
		switch m[1] {
		case "min-width":
			if v > min {
				min = v
			}
		case "max-width":
			if v < max {
				max = v
			}
		case "width":
			min, max = v, v
		}
		ok = true
	}
	for _, m := range rangeLeftRe.FindAllStringSubmatch(prelude, -1) {
		// "Npx < width" reads as a lower bound.
		if v := toPx(m[1], m[2]); v > min {
			min = v
		}
		ok = true
	}
	for _, m := range rangeRightRe.FindAllStringSubmatch(prelude, -1) {
		v := toPx(m[2], m[3])
		switch m[1] {
		case "<", "<=":
			if v < max {
				max = v
			}
		case ">", ">=":
			if v > min {
				min = v
			}
		}
		ok = true
	}
	return min, max, ok
}

func toPx(num, unit string) float64 {
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if unit == "em" || unit == "rem" {
		v *= 16
	}
	return v
}

// MediaWeight computes the selector weight for a media context: 1 plus a
// quarter point per common viewport class the context admits. Rules outside
// any width-constrained media weigh exactly 1.
func MediaWeight(media []string) float64 {
	return 1 + 0.25*float64(matchingViewports(media))
}

func matchingViewports(media []string) int {
	constrained := false
	bounds := make([][2]float64, 0, len(media))
	for _, m := range media {
		min, max, ok := widthBounds(m)
		if !ok {
			continue
		}
		constrained = true
		bounds = append(bounds, [2]float64{min, max})
	}
	if !constrained {
		return 0
	}

	count := 0
	for _, w := range CommonViewports {
		fits := true
		for _, b := range bounds {
			if w < b[0] || w > b[1] {
				fits = false
				break
			}
		}
		if fits {
			count++
		}
	}
	return count
}

// MediaBreakpoints lists the distinct px width bounds a media context pins,
// for the layout profiler's breakpoint census.
func MediaBreakpoints(media []string) []float64 {
	var out []float64
	for _, m := range media {
		min, max, ok := widthBounds(m)
		if !ok {
			continue
		}
		if min > 0 {
			out = append(out, min)
		}
		if !math.IsInf(max, 1) {
			out = append(out, max)
		}
	}
	return out
}
