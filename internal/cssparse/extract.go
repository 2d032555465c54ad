// Observation extraction: the bridge from parsed rules to analyzer input.
package cssparse

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/tokenlens/tokenlens/internal/tokens"
)

// Category identifies one observation bucket.
type Category string

const (
	CatColor         Category = "color"
	CatFontFamily    Category = "typography.family"
	CatFontSize      Category = "typography.size"
	CatFontWeight    Category = "typography.weight"
	CatLineHeight    Category = "typography.lineHeight"
	CatLetterSpacing Category = "typography.letterSpacing"
	CatSpacing       Category = "dimension"
	CatRadius        Category = "radius"
	CatShadow        Category = "shadow"
	CatMotion        Category = "motion"
)

// AllCategories returns the buckets in reporting order.
func AllCategories() []Category {
	return []Category{
		CatColor, CatFontFamily, CatFontSize, CatFontWeight, CatLineHeight,
		CatLetterSpacing, CatSpacing, CatRadius, CatShadow, CatMotion,
	}
}

// DefaultMaxObservations caps distinct raw values per category.
const DefaultMaxObservations = 50000

// Observation is one distinct raw value with its accumulated weight.
type Observation struct {
	Raw       string       // value as authored (first occurrence)
	Value     tokens.Value // parsed shape; nil when Unresolved
	Usage     float64      // media-weighted distinct-selector count
	Selectors int          // distinct selectors, unweighted
	// Unresolved marks values that still contain var() after same-sheet
	// resolution. They are recorded for observability but carry no weight
	// in consensus.
	Unresolved bool
}

// Bucket is one category's multiset.
type Bucket struct {
	Observations  []Observation // sorted by usage descending
	TotalUsage    float64       // resolved usage only
	SamplingRatio float64       // 1.0 when nothing was dropped
}

// Observations is the full extraction result for one scan.
type Observations struct {
	Buckets    map[Category]*Bucket
	Invalid    int64 // declarations skipped as malformed
	Unresolved int64 // var() references that could not be resolved
	Rules      int64
	Warnings   []string
}

// Bucket returns the named bucket, never nil.
func (o *Observations) Bucket(cat Category) *Bucket {
	if b, ok := o.Buckets[cat]; ok {
		return b
	}
	return &Bucket{SamplingRatio: 1}
}

// Source is one stylesheet to extract from, in cascade order.
type Source struct {
	SHA          string
	URL          string
	Origin       string
	CascadeIndex int
	CSS          []byte
}

// Extract runs the full observation pass over a scan's stylesheets. It
// yields between sheets so cancellation and phase deadlines cut in promptly.
func Extract(ctx context.Context, sources []Source, maxPerCategory int) (*Observations, error) {
	if maxPerCategory <= 0 {
		maxPerCategory = DefaultMaxObservations
	}
	b := newBuilder(maxPerCategory)

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("extraction interrupted: %w", err)
		}
		sheet := ParseSheet(string(src.CSS))
		if sheet.Truncated {
			b.warnings = append(b.warnings, fmt.Sprintf("stylesheet %s: tokenizer error, tail discarded", src.URL))
		}
		b.invalid += sheet.Invalid
		b.rules += int64(len(sheet.Rules))
		b.consumeSheet(sheet)
	}
	return b.finalize(), nil
}

// ----- builder -----

type obsAgg struct {
	raw        string
	value      tokens.Value
	usage      float64
	selectors  map[uint64]struct{}
	unresolved bool
}

type builder struct {
	max      int
	hardCap  int
	buckets  map[Category]map[string]*obsAgg
	overflow map[Category]int64 // new keys refused by the hard cap

	invalid    int64
	unresolved int64
	rules      int64
	warnings   []string
}

func newBuilder(max int) *builder {
	return &builder{
		max:      max,
		hardCap:  max * 4,
		buckets:  make(map[Category]map[string]*obsAgg),
		overflow: make(map[Category]int64),
	}
}

// emitter binds one selector occurrence: its identity and media weight.
type emitter struct {
	key    uint64
	weight float64
}

func selectorKey(media []string, selector string) uint64 {
	h := fnv.New64a()
	for _, m := range media {
		io.WriteString(h, m)
		h.Write([]byte{'&'})
	}
	h.Write([]byte{'|'})
	io.WriteString(h, selector)
	return h.Sum64()
}

func (b *builder) add(cat Category, raw string, value tokens.Value, em emitter, unresolved bool) {
	vals := b.buckets[cat]
	if vals == nil {
		vals = make(map[string]*obsAgg)
		b.buckets[cat] = vals
	}
	key := strings.ToLower(raw)
	if unresolved {
		key = "~" + key // keep unresolved entries apart from any resolved twin
	}
	agg := vals[key]
	if agg == nil {
		if len(vals) >= b.hardCap {
			b.overflow[cat]++
			return
		}
		agg = &obsAgg{raw: raw, value: value, unresolved: unresolved, selectors: make(map[uint64]struct{}, 4)}
		vals[key] = agg
	}
	if _, dup := agg.selectors[em.key]; dup {
		return
	}
	agg.selectors[em.key] = struct{}{}
	agg.usage += em.weight
}

// ----- per-sheet pass -----

type varDef struct {
	value string
	sites []emitter
}

type sheetScope struct {
	defs    map[string]*varDef
	useCats map[string]map[Category]float64
}

func (b *builder) consumeSheet(sheet *Sheet) {
	scope := &sheetScope{
		defs:    make(map[string]*varDef),
		useCats: make(map[string]map[Category]float64),
	}

	// Definitions first: resolution scope is the whole stylesheet, so a rule
	// may use a variable defined further down.
	for _, rule := range sheet.Rules {
		w := MediaWeight(rule.Media)
		for _, d := range rule.Declarations {
			if !strings.HasPrefix(d.Property, "--") {
				continue
			}
			def := scope.defs[d.Property]
			if def == nil {
				def = &varDef{}
				scope.defs[d.Property] = def
			}
			def.value = d.Value // last definition wins
			for _, sel := range rule.Selectors {
				def.sites = append(def.sites, emitter{key: selectorKey(rule.Media, sel), weight: w})
			}
		}
	}

	for _, rule := range sheet.Rules {
		w := MediaWeight(rule.Media)
		for _, sel := range rule.Selectors {
			em := emitter{key: selectorKey(rule.Media, sel), weight: w}
			for _, d := range rule.Declarations {
				if strings.HasPrefix(d.Property, "--") {
					continue
				}
				b.declaration(scope, d, em)
			}
		}
	}

	b.emitCustomProps(scope)
}

func (b *builder) declaration(scope *sheetScope, d Declaration, em emitter) {
	value := d.Value
	if strings.Contains(value, "var(") {
		resolved, used, ok := resolveVars(scope.defs, value)
		if cat, hasCat := propCategory(d.Property); hasCat {
			for _, name := range used {
				cats := scope.useCats[name]
				if cats == nil {
					cats = make(map[Category]float64)
					scope.useCats[name] = cats
				}
				cats[cat] += em.weight
			}
			if !ok {
				b.unresolved++
				b.add(cat, value, nil, em, true)
				return
			}
		} else if !ok {
			b.unresolved++
			return
		}
		value = resolved
	}
	b.handle(d.Property, value, em)
}

// emitCustomProps turns each definition into a first-class observation. The
// category comes from how the variable was used; an unused variable falls
// back to the shape of its value.
func (b *builder) emitCustomProps(scope *sheetScope) {
	for name, def := range scope.defs {
		value, _, ok := resolveVars(scope.defs, def.value)
		if !ok {
			b.unresolved++
			continue
		}
		cat, found := dominantCategory(scope.useCats[name])
		if !found {
			cat, found = inferCategory(value)
		}
		if !found {
			continue
		}
		for _, em := range def.sites {
			b.addByCategory(cat, value, em)
		}
	}
}

func dominantCategory(weights map[Category]float64) (Category, bool) {
	var (
		best     Category
		bestSeen float64
	)
	for cat, w := range weights {
		if w > bestSeen || (w == bestSeen && cat < best) {
			best, bestSeen = cat, w
		}
	}
	return best, bestSeen > 0
}

// inferCategory guesses a bucket from a value's shape, for variables that
// are defined but never referenced.
func inferCategory(value string) (Category, bool) {
	if _, ok := tokens.ParseColor(value); ok {
		return CatColor, true
	}
	if len(parseShadowLayers(value)) > 0 {
		return CatShadow, true
	}
	if d, ok := tokens.ParseDimension(value); ok {
		switch {
		case d.Unit == "s" || d.Unit == "ms":
			return CatMotion, true
		case isLengthUnit(d.Unit) && d.Value > 0:
			return CatSpacing, true
		}
	}
	return "", false
}

// ----- property dispatch -----

// propCategory gives the bucket a property primarily feeds, for var() usage
// inference and unresolved attribution.
func propCategory(prop string) (Category, bool) {
	switch prop {
	case "color", "background-color", "outline-color", "fill", "stroke", "caret-color",
		"background", "background-image", "border", "border-top", "border-right",
		"border-bottom", "border-left", "outline":
		return CatColor, true
	case "font-family", "font":
		return CatFontFamily, true
	case "font-size":
		return CatFontSize, true
	case "font-weight":
		return CatFontWeight, true
	case "line-height":
		return CatLineHeight, true
	case "letter-spacing":
		return CatLetterSpacing, true
	case "gap", "row-gap", "column-gap":
		return CatSpacing, true
	case "box-shadow", "text-shadow":
		return CatShadow, true
	case "transition", "animation", "transition-duration", "animation-duration":
		return CatMotion, true
	}
	switch {
	case strings.HasPrefix(prop, "border") && strings.HasSuffix(prop, "-color"):
		return CatColor, true
	case strings.HasSuffix(prop, "-radius"):
		return CatRadius, true
	case strings.HasPrefix(prop, "margin") || strings.HasPrefix(prop, "padding"):
		return CatSpacing, true
	}
	return "", false
}

func (b *builder) handle(prop, value string, em emitter) {
	if value == "" || skipKeyword(value) {
		return
	}
	switch prop {
	case "color", "background-color", "outline-color", "fill", "stroke", "caret-color":
		found := extractColors(value)
		if len(found) == 0 {
			if !strings.Contains(value, "(") { // unknown function syntax is not "invalid"
				b.invalid++
			}
			return
		}
		for _, c := range dedup(found) {
			b.addColor(c, em)
		}
	case "background", "background-image",
		"border", "border-top", "border-right", "border-bottom", "border-left", "outline":
		for _, c := range dedup(extractColors(value)) {
			b.addColor(c, em)
		}
	case "font-family":
		b.addFamily(value, em)
	case "font-size":
		b.addFontSize(value, em)
	case "font-weight":
		b.addWeight(value, em)
	case "line-height":
		b.addLineHeight(value, em)
	case "letter-spacing":
		b.addLetterSpacing(value, em)
	case "font":
		f, ok := parseFont(value)
		if !ok {
			return // system font keywords carry no extractable values
		}
		b.addFamily(f.Family, em)
		b.addFontSize(f.Size, em)
		if f.Weight != "" {
			b.addWeight(f.Weight, em)
		}
		if f.LineHeight != "" {
			b.addLineHeight(f.LineHeight, em)
		}
	case "gap", "row-gap", "column-gap":
		for _, v := range expandBox(value) {
			b.addSpacing(v, em)
		}
	case "box-shadow", "text-shadow":
		layers := parseShadowLayers(value)
		if len(layers) == 0 {
			b.invalid++
			return
		}
		for _, sv := range layers {
			b.add(CatShadow, sv.CSS(), sv, em, false)
		}
	case "transition", "animation", "transition-duration", "animation-duration":
		for _, tv := range parseMotionPairs(value) {
			b.add(CatMotion, tv.CSS(), tv, em, false)
		}
	default:
		switch {
		case strings.HasPrefix(prop, "border") && strings.HasSuffix(prop, "-color"):
			for _, c := range dedup(extractColors(value)) {
				b.addColor(c, em)
			}
		case prop == "border-radius":
			for _, v := range expandRadius(value) {
				b.addRadius(v, em)
			}
		case strings.HasSuffix(prop, "-radius"):
			for _, v := range fields(value) {
				b.addRadius(v, em)
			}
		case strings.HasPrefix(prop, "margin") || strings.HasPrefix(prop, "padding"):
			for _, v := range expandBox(value) {
				b.addSpacing(v, em)
			}
		}
	}
}

// ----- category adders -----

// addByCategory routes a resolved custom-property value through the same
// validation its bucket applies to direct declarations.
func (b *builder) addByCategory(cat Category, value string, em emitter) {
	switch cat {
	case CatColor:
		b.addColor(value, em)
	case CatFontFamily:
		b.addFamily(value, em)
	case CatFontSize:
		b.addFontSize(value, em)
	case CatFontWeight:
		b.addWeight(value, em)
	case CatLineHeight:
		b.addLineHeight(value, em)
	case CatLetterSpacing:
		b.addLetterSpacing(value, em)
	case CatSpacing:
		b.addSpacing(value, em)
	case CatRadius:
		b.addRadius(value, em)
	case CatShadow:
		for _, sv := range parseShadowLayers(value) {
			b.add(CatShadow, sv.CSS(), sv, em, false)
		}
	case CatMotion:
		for _, tv := range parseMotionPairs(value) {
			b.add(CatMotion, tv.CSS(), tv, em, false)
		}
	}
}

func (b *builder) addColor(raw string, em emitter) {
	if _, ok := tokens.ParseColor(raw); !ok {
		b.invalid++
		return
	}
	lower := strings.ToLower(raw)
	b.add(CatColor, lower, tokens.ColorValue{Raw: lower}, em, false)
}

func (b *builder) addFamily(value string, em emitter) {
	families := parseFamilies(value)
	if len(families) == 0 {
		return
	}
	raw := strings.Join(families, ", ")
	b.add(CatFontFamily, raw, tokens.FontFamilyValue{Families: families}, em, false)
}

func (b *builder) addFontSize(value string, em emitter) {
	if skipKeyword(value) || isNamedFontSize(value) {
		return
	}
	d, ok := tokens.ParseDimension(value)
	if !ok || d.Value <= 0 {
		b.invalid++
		return
	}
	b.add(CatFontSize, d.CSS(), d, em, false)
}

func isNamedFontSize(v string) bool {
	switch strings.ToLower(v) {
	case "xx-small", "x-small", "small", "medium", "large", "x-large",
		"xx-large", "xxx-large", "smaller", "larger":
		return true
	}
	return false
}

func (b *builder) addWeight(value string, em emitter) {
	w, ok := parseFontWeight(value)
	if !ok {
		return
	}
	b.add(CatFontWeight, strconv.Itoa(w), tokens.FontWeightValue{Weight: w}, em, false)
}

func (b *builder) addLineHeight(value string, em emitter) {
	d, ok := tokens.ParseDimension(value)
	if !ok || d.Value <= 0 {
		return
	}
	if d.Unit == "" {
		b.add(CatLineHeight, tokens.FormatNumber(d.Value), tokens.NumberValue{Value: d.Value}, em, false)
		return
	}
	b.add(CatLineHeight, d.CSS(), d, em, false)
}

func (b *builder) addLetterSpacing(value string, em emitter) {
	d, ok := tokens.ParseDimension(value)
	if !ok || d.Value == 0 || !isLengthUnit(d.Unit) {
		return
	}
	b.add(CatLetterSpacing, d.CSS(), d, em, false)
}

func isLengthUnit(u string) bool {
	switch u {
	case "px", "rem", "em", "pt", "pc", "in", "cm", "mm", "ch", "ex",
		"vw", "vh", "vmin", "vmax":
		return true
	}
	return false
}

// addSpacing keeps only positive finite lengths, per the observation rules.
func (b *builder) addSpacing(value string, em emitter) {
	if skipKeyword(value) {
		return
	}
	d, ok := tokens.ParseDimension(value)
	if !ok || !isLengthUnit(d.Unit) || d.Value <= 0 {
		return
	}
	b.add(CatSpacing, d.CSS(), d, em, false)
}

func (b *builder) addRadius(value string, em emitter) {
	if skipKeyword(value) {
		return
	}
	d, ok := tokens.ParseDimension(value)
	if !ok || d.Value <= 0 || (!isLengthUnit(d.Unit) && d.Unit != "%") {
		return
	}
	b.add(CatRadius, d.CSS(), d, em, false)
}

// ----- var() resolution -----

// resolveVars substitutes same-sheet var() references, honoring fallbacks.
// The substitution budget bounds cycles; anything still unresolved after it
// reports ok=false.
func resolveVars(defs map[string]*varDef, value string) (string, []string, bool) {
	var used []string
	cur := value
	for i := 0; i < 32; i++ {
		idx := strings.Index(cur, "var(")
		if idx < 0 {
			return cur, used, true
		}
		name, fallback, end, ok := parseVarCall(cur, idx)
		if !ok {
			return cur, used, false
		}
		var repl string
		switch def, defined := defs[name]; {
		case defined:
			repl = def.value
			used = append(used, name)
		case fallback != "":
			repl = fallback
		default:
			return cur, used, false
		}
		cur = cur[:idx] + repl + cur[end:]
		if len(cur) > 1<<16 {
			return cur, used, false // runaway expansion
		}
	}
	return cur, used, !strings.Contains(cur, "var(")
}

// parseVarCall reads one var(--name[, fallback]) call starting at idx.
func parseVarCall(s string, idx int) (name, fallback string, end int, ok bool) {
	depth := 0
	inner := -1
	for i := idx + 3; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
			if depth == 1 {
				inner = i + 1
			}
		case ')':
			depth--
			if depth == 0 {
				body := s[inner:i]
				name, fallback = splitVarBody(body)
				if !strings.HasPrefix(name, "--") {
					return "", "", 0, false
				}
				return name, fallback, i + 1, true
			}
		}
	}
	return "", "", 0, false
}

func splitVarBody(body string) (string, string) {
	parts := SplitTopLevel(body, ',')
	name := strings.TrimSpace(parts[0])
	if len(parts) == 1 {
		return name, ""
	}
	return name, strings.TrimSpace(strings.Join(parts[1:], ","))
}

// ----- finalize -----

func (b *builder) finalize() *Observations {
	out := &Observations{
		Buckets:    make(map[Category]*Bucket, len(b.buckets)),
		Invalid:    b.invalid,
		Unresolved: b.unresolved,
		Rules:      b.rules,
		Warnings:   b.warnings,
	}

	for cat, vals := range b.buckets {
		keys := make([]string, 0, len(vals))
		for k := range vals {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		total := len(keys) + int(b.overflow[cat])
		bucket := &Bucket{SamplingRatio: 1}
		if total > b.max {
			bucket.SamplingRatio = float64(b.max) / float64(total)
			keys = strideSample(keys, b.max)
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("category %s sampled to %d of %d observations", cat, len(keys), total))
		}

		for _, k := range keys {
			agg := vals[k]
			obs := Observation{
				Raw:        agg.raw,
				Value:      agg.value,
				Usage:      agg.usage,
				Selectors:  len(agg.selectors),
				Unresolved: agg.unresolved,
			}
			bucket.Observations = append(bucket.Observations, obs)
			if !agg.unresolved {
				bucket.TotalUsage += agg.usage
			}
		}
		sort.SliceStable(bucket.Observations, func(i, j int) bool {
			if bucket.Observations[i].Usage != bucket.Observations[j].Usage {
				return bucket.Observations[i].Usage > bucket.Observations[j].Usage
			}
			return bucket.Observations[i].Raw < bucket.Observations[j].Raw
		})
		out.Buckets[cat] = bucket
	}
	return out
}

// strideSample keeps max evenly spaced entries of a sorted key list.
func strideSample(keys []string, max int) []string {
	if len(keys) <= max {
		return keys
	}
	out := make([]string, 0, max)
	step := float64(len(keys)) / float64(max)
	for i := 0; i < max; i++ {
		out = append(out, keys[int(float64(i)*step)])
	}
	return out
}
