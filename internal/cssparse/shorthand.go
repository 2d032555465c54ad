// Shorthand expansion. Observations count expanded longhand values, so the
// helpers here reduce every shorthand to the values it sets.
package cssparse

import (
	"strings"

	"github.com/tokenlens/tokenlens/internal/tokens"
)

// skipKeyword reports values that carry no measurable token: cascade-wide
// keywords and the property-specific resets.
func skipKeyword(v string) bool {
	switch strings.ToLower(v) {
	case "inherit", "initial", "unset", "revert", "revert-layer",
		"auto", "none", "normal", "0", "currentcolor":
		return true
	}
	return false
}

func fields(value string) []string {
	var out []string
	for _, f := range SplitTopLevel(value, ' ') {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// expandBox maps the 1-4 value box syntax (margin, padding, inset) to the
// distinct values it assigns. Sides do not matter for counting; a selector
// either uses a value or it does not.
func expandBox(value string) []string {
	parts := fields(value)
	if len(parts) == 0 || len(parts) > 4 {
		return nil
	}
	return dedup(parts)
}

// expandRadius handles border-radius including the horizontal/vertical
// slash form.
func expandRadius(value string) []string {
	var all []string
	for _, side := range SplitTopLevel(value, '/') {
		all = append(all, fields(side)...)
	}
	if len(all) == 0 {
		return nil
	}
	return dedup(all)
}

func dedup(parts []string) []string {
	seen := make(map[string]struct{}, len(parts))
	out := parts[:0]
	for _, p := range parts {
		key := strings.ToLower(p)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

// fontShorthand is the decomposition of a `font` declaration.
type fontShorthand struct {
	Size       string
	LineHeight string
	Weight     string
	Family     string
}

// parseFont picks apart `font: [style weight] size[/line-height] family`.
// System font keywords (font: menu) parse to ok=false.
func parseFont(value string) (fontShorthand, bool) {
	var out fontShorthand

	chunks := SplitTopLevel(value, ',')
	head := fields(chunks[0])

	sizeIdx := -1
	for i, tok := range head {
		base := tok
		if j := strings.IndexByte(tok, '/'); j >= 0 {
			base = tok[:j]
		}
		if d, ok := tokens.ParseDimension(base); ok && d.Unit != "" {
			sizeIdx = i
			break
		}
	}
	if sizeIdx < 0 || sizeIdx == len(head)-1 {
		return out, false // no size, or size with no family after it
	}

	sizeTok := head[sizeIdx]
	if j := strings.IndexByte(sizeTok, '/'); j >= 0 {
		out.Size = sizeTok[:j]
		out.LineHeight = sizeTok[j+1:]
	} else {
		out.Size = sizeTok
		// a detached "/ 1.5" pair
		if sizeIdx+2 < len(head) && head[sizeIdx+1] == "/" {
			out.LineHeight = head[sizeIdx+2]
			head = append(head[:sizeIdx+1], head[sizeIdx+3:]...)
		}
	}

	for _, tok := range head[:sizeIdx] {
		if _, ok := parseFontWeight(tok); ok {
			out.Weight = tok
		}
	}

	family := strings.Join(head[sizeIdx+1:], " ")
	if len(chunks) > 1 {
		family += "," + strings.Join(chunks[1:], ",")
	}
	out.Family = strings.TrimSpace(family)
	return out, out.Family != ""
}

// parseFontWeight normalizes weights to the numeric 100-900 scale. Relative
// keywords depend on the parent and are dropped.
func parseFontWeight(tok string) (int, bool) {
	switch strings.ToLower(tok) {
	case "normal":
		return 400, true
	case "bold":
		return 700, true
	case "lighter", "bolder":
		return 0, false
	}
	d, ok := tokens.ParseDimension(tok)
	if !ok || d.Unit != "" {
		return 0, false
	}
	w := int(d.Value)
	if w < 1 || w > 1000 || float64(w) != d.Value {
		return 0, false
	}
	return w, true
}

// parseFamilies splits a font stack, preserving order and stripping quotes.
func parseFamilies(value string) []string {
	var out []string
	for _, f := range SplitTopLevel(value, ',') {
		f = unquote(strings.TrimSpace(f))
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// extractColors finds every color literal in a value, descending into
// gradient stop lists. Used for background, border, and outline shorthands
// where the color sits among other components.
func extractColors(value string) []string {
	var out []string
	for _, layer := range SplitTopLevel(value, ',') {
		for _, tok := range fields(layer) {
			lower := strings.ToLower(tok)
			if strings.Contains(lower, "gradient(") {
				out = append(out, gradientStops(tok)...)
				continue
			}
			if _, ok := tokens.ParseColor(tok); ok {
				out = append(out, tok)
			}
		}
	}
	return out
}

// gradientStops pulls the stop colors out of one *-gradient(...) token.
// Direction and position arguments fail color parsing and fall away.
func gradientStops(tok string) []string {
	open := strings.IndexByte(tok, '(')
	end := strings.LastIndexByte(tok, ')')
	if open < 0 || end <= open {
		return nil
	}
	var out []string
	for _, arg := range SplitTopLevel(tok[open+1:end], ',') {
		parts := fields(arg)
		if len(parts) == 0 {
			continue
		}
		if _, ok := tokens.ParseColor(parts[0]); ok {
			out = append(out, parts[0])
		}
	}
	return out
}

// parseShadowLayers decomposes box-shadow / text-shadow into per-layer
// values. A layer needs at least offset-x and offset-y to be a shadow.
func parseShadowLayers(value string) []tokens.ShadowValue {
	var out []tokens.ShadowValue
	for _, seg := range SplitTopLevel(value, ',') {
		var (
			layer tokens.ShadowLayer
			dims  []tokens.DimensionValue
			valid = true
		)
		for _, tok := range fields(seg) {
			lower := strings.ToLower(tok)
			if lower == "inset" {
				layer.Inset = true
				continue
			}
			if _, ok := tokens.ParseColor(tok); ok {
				layer.Color = lower
				continue
			}
			d, ok := tokens.ParseDimension(tok)
			if !ok || len(dims) == 4 {
				valid = false
				break
			}
			dims = append(dims, d)
		}
		if !valid || len(dims) < 2 {
			continue
		}
		layer.OffsetX, layer.OffsetY = dims[0], dims[1]
		if len(dims) > 2 {
			layer.Blur = dims[2]
		}
		if len(dims) > 3 {
			layer.Spread = dims[3]
		}
		out = append(out, tokens.ShadowValue{Layers: []tokens.ShadowLayer{layer}})
	}
	return out
}

var timingKeywords = map[string]struct{}{
	"ease": {}, "linear": {}, "ease-in": {}, "ease-out": {}, "ease-in-out": {},
	"step-start": {}, "step-end": {},
}

func isTimingFunction(tok string) bool {
	lower := strings.ToLower(tok)
	if _, ok := timingKeywords[lower]; ok {
		return true
	}
	return strings.HasPrefix(lower, "cubic-bezier(") || strings.HasPrefix(lower, "steps(")
}

// parseMotionPairs reads transition/animation shorthands into duration and
// timing-function pairs. The first time value in a segment is the duration;
// the second is a delay and is ignored.
func parseMotionPairs(value string) []tokens.TransitionValue {
	var out []tokens.TransitionValue
	for _, seg := range SplitTopLevel(value, ',') {
		var (
			pair     tokens.TransitionValue
			haveDur  bool
			haveTime bool
		)
		for _, tok := range fields(seg) {
			if isTimingFunction(tok) {
				if !haveTime {
					pair.TimingFunction = strings.ToLower(tok)
					haveTime = true
				}
				continue
			}
			d, ok := tokens.ParseDimension(tok)
			if !ok || (d.Unit != "s" && d.Unit != "ms") {
				continue
			}
			if !haveDur {
				pair.Duration = d
				haveDur = true
			}
		}
		if !haveDur || pair.Duration.Value <= 0 {
			continue
		}
		if !haveTime {
			pair.TimingFunction = "ease"
		}
		out = append(out, pair)
	}
	return out
}
