// Package tokens models design tokens as a tagged union and serializes them
// to and from the W3C Design Tokens Community Group JSON format.
package tokens

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind is the DTCG $type discriminator.
type Kind string

const (
	KindColor      Kind = "color"
	KindDimension  Kind = "dimension"
	KindNumber     Kind = "number"
	KindFontFamily Kind = "fontFamily"
	KindFontWeight Kind = "fontWeight"
	KindShadow     Kind = "shadow"
	KindTransition Kind = "transition"
)

// Top-level document groups.
const (
	CategoryColor      = "color"
	CategoryDimension  = "dimension"
	CategoryTypography = "typography"
	CategoryRadius     = "radius"
	CategoryShadow     = "shadow"
	CategoryMotion     = "motion"
)

// Value is one typed token value. The set of implementations is closed.
type Value interface {
	Kind() Kind
	// CSS returns the value in canonical CSS notation, used for change rows
	// and human-facing output.
	CSS() string
}

// ColorValue keeps the canonical notation chosen by the analyzer, e.g.
// "#635bff" or "rgba(10,37,64,0.6)".
type ColorValue struct {
	Raw string
}

func (v ColorValue) Kind() Kind  { return KindColor }
func (v ColorValue) CSS() string { return v.Raw }

// DimensionValue is a length or duration with its unit.
type DimensionValue struct {
	Value float64
	Unit  string
}

func (v DimensionValue) Kind() Kind { return KindDimension }

func (v DimensionValue) CSS() string {
	return FormatNumber(v.Value) + v.Unit
}

// NumberValue is a unitless quantity (line-height ratios).
type NumberValue struct {
	Value float64
}

func (v NumberValue) Kind() Kind  { return KindNumber }
func (v NumberValue) CSS() string { return FormatNumber(v.Value) }

// FontFamilyValue is the full ordered fallback stack.
type FontFamilyValue struct {
	Families []string
}

func (v FontFamilyValue) Kind() Kind { return KindFontFamily }

func (v FontFamilyValue) CSS() string {
	quoted := make([]string, len(v.Families))
	for i, f := range v.Families {
		if strings.ContainsAny(f, " \t") {
			quoted[i] = `"` + f + `"`
		} else {
			quoted[i] = f
		}
	}
	return strings.Join(quoted, ", ")
}

// FontWeightValue is a numeric weight, 100..900.
type FontWeightValue struct {
	Weight int
}

func (v FontWeightValue) Kind() Kind  { return KindFontWeight }
func (v FontWeightValue) CSS() string { return strconv.Itoa(v.Weight) }

// ShadowLayer is one layer of a box or text shadow.
type ShadowLayer struct {
	OffsetX DimensionValue
	OffsetY DimensionValue
	Blur    DimensionValue
	Spread  DimensionValue
	Color   string
	Inset   bool
}

func (l ShadowLayer) css() string {
	parts := make([]string, 0, 6)
	if l.Inset {
		parts = append(parts, "inset")
	}
	parts = append(parts, l.OffsetX.CSS(), l.OffsetY.CSS(), l.Blur.CSS())
	if l.Spread.Value != 0 {
		parts = append(parts, l.Spread.CSS())
	}
	if l.Color != "" {
		parts = append(parts, l.Color)
	}
	return strings.Join(parts, " ")
}

// ShadowValue holds one or more layers in paint order.
type ShadowValue struct {
	Layers []ShadowLayer
}

func (v ShadowValue) Kind() Kind { return KindShadow }

func (v ShadowValue) CSS() string {
	parts := make([]string, len(v.Layers))
	for i, l := range v.Layers {
		parts[i] = l.css()
	}
	return strings.Join(parts, ", ")
}

// TransitionValue pairs a duration with its timing function.
type TransitionValue struct {
	Duration       DimensionValue
	TimingFunction string
}

func (v TransitionValue) Kind() Kind { return KindTransition }

func (v TransitionValue) CSS() string {
	if v.TimingFunction == "" {
		return v.Duration.CSS()
	}
	return v.Duration.CSS() + " " + v.TimingFunction
}

// Token is one named design decision.
type Token struct {
	// Path is the dotted location inside the DTCG document, e.g.
	// "color.primary" or "typography.family.font-primary".
	Path       string
	Value      Value
	Usage      int64
	Confidence float64
	Semantic   string // optional role label, e.g. "brand"
}

// Name returns the last path segment.
func (t Token) Name() string {
	if i := strings.LastIndexByte(t.Path, '.'); i >= 0 {
		return t.Path[i+1:]
	}
	return t.Path
}

// Category returns the first path segment.
func (t Token) Category() string {
	if i := strings.IndexByte(t.Path, '.'); i >= 0 {
		return t.Path[:i]
	}
	return t.Path
}

// Set is an ordered collection of tokens; order is canonical (by path) so
// serialization is deterministic.
type Set struct {
	Tokens []Token
}

// Sort orders tokens by path.
func (s *Set) Sort() {
	sort.Slice(s.Tokens, func(i, j int) bool { return s.Tokens[i].Path < s.Tokens[j].Path })
}

// ByPath indexes the set for diffing.
func (s *Set) ByPath() map[string]Token {
	m := make(map[string]Token, len(s.Tokens))
	for _, t := range s.Tokens {
		m[t.Path] = t
	}
	return m
}

// Add appends a token.
func (s *Set) Add(t Token) { s.Tokens = append(s.Tokens, t) }

// Len returns the token count.
func (s *Set) Len() int { return len(s.Tokens) }

// ConsensusScore is the usage-weighted mean of per-token confidences.
func (s *Set) ConsensusScore() float64 {
	var weighted, total float64
	for _, t := range s.Tokens {
		w := float64(t.Usage)
		if w <= 0 {
			w = 1
		}
		weighted += w * t.Confidence
		total += w
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// FormatNumber renders a float the way CSS authors write it: no exponent,
// no trailing zeros, no superfluous leading zero lost.
func FormatNumber(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	// Very long fractions come from float noise; cap at 4 decimals.
	if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 > 4 {
		s = strconv.FormatFloat(v, 'f', 4, 64)
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

// ParseDimension splits a CSS dimension literal into number and unit.
// Unitless numbers parse with an empty unit.
func ParseDimension(s string) (DimensionValue, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DimensionValue{}, false
	}
	i := len(s)
	for i > 0 {
		c := s[i-1]
		if (c >= '0' && c <= '9') || c == '.' {
			break
		}
		i--
	}
	numPart, unit := s[:i], strings.ToLower(s[i:])
	v, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return DimensionValue{}, false
	}
	if unit != "" && !validUnit(unit) {
		return DimensionValue{}, false
	}
	return DimensionValue{Value: v, Unit: unit}, true
}

func validUnit(u string) bool {
	switch u {
	case "px", "rem", "em", "pt", "pc", "in", "cm", "mm", "q", "ex", "ch",
		"vw", "vh", "vmin", "vmax", "%", "s", "ms", "fr", "deg", "rad", "turn":
		return true
	}
	return false
}

// ConvertToPx converts comparable length units to pixels for clustering.
// Relative units assume the CSS defaults (1rem = 1em = 16px). Non-length
// units return ok=false.
func ConvertToPx(d DimensionValue) (float64, bool) {
	switch d.Unit {
	case "px", "":
		return d.Value, true
	case "rem", "em":
		return d.Value * 16, true
	case "pt":
		return d.Value * 96 / 72, true
	case "pc":
		return d.Value * 16, true
	case "in":
		return d.Value * 96, true
	case "cm":
		return d.Value * 96 / 2.54, true
	case "mm":
		return d.Value * 96 / 25.4, true
	default:
		return 0, false
	}
}

// ConvertToMs converts durations to milliseconds.
func ConvertToMs(d DimensionValue) (float64, bool) {
	switch d.Unit {
	case "ms":
		return d.Value, true
	case "s":
		return d.Value * 1000, true
	default:
		return 0, false
	}
}

// JoinPath builds a dotted document path.
func JoinPath(parts ...string) string { return strings.Join(parts, ".") }

// ErrBadDocument wraps malformed DTCG input.
func errBadDocument(format string, args ...any) error {
	return fmt.Errorf("malformed token document: "+format, args...)
}
