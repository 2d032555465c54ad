// Font family consensus. Stacks are retained verbatim as ordered fallback
// lists; identity is the lowercase-normalized join of the list.
package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tokenlens/tokenlens/internal/cssparse"
	"github.com/tokenlens/tokenlens/internal/tokens"
)

func familyKey(v tokens.FontFamilyValue) string {
	parts := make([]string, len(v.Families))
	for i, f := range v.Families {
		parts[i] = strings.ToLower(strings.TrimSpace(f))
	}
	return strings.Join(parts, ",")
}

func isMonoStack(v tokens.FontFamilyValue) bool {
	for _, f := range v.Families {
		lower := strings.ToLower(f)
		if lower == "monospace" || strings.Contains(lower, "mono") {
			return true
		}
	}
	return false
}

func (a *Analyzer) analyzeFamilies(obs *cssparse.Observations, res *Result) {
	bucket := obs.Bucket(cssparse.CatFontFamily)

	type stack struct {
		value tokens.FontFamilyValue
		usage float64
	}
	byKey := map[string]*stack{}
	order := []string{}
	for _, o := range bucket.Observations {
		if o.Unresolved {
			continue
		}
		fv, ok := o.Value.(tokens.FontFamilyValue)
		if !ok || len(fv.Families) == 0 {
			continue
		}
		key := familyKey(fv)
		if s, seen := byKey[key]; seen {
			s.usage += o.Usage
			continue
		}
		byKey[key] = &stack{value: fv, usage: o.Usage}
		order = append(order, key)
	}
	if len(order) == 0 {
		return
	}

	sort.SliceStable(order, func(i, j int) bool {
		si, sj := byKey[order[i]], byKey[order[j]]
		if si.usage != sj.usage {
			return si.usage > sj.usage
		}
		return preferCanonical(si.value.CSS(), sj.value.CSS())
	})

	// The first monospace stack is font-mono; the remaining ranks take
	// font-primary, font-secondary, then font-{k}.
	monoTaken := false
	roles := []string{"font-primary", "font-secondary"}
	roleIdx, overflow := 0, 3
	for _, key := range order {
		s := byKey[key]
		var name string
		switch {
		case !monoTaken && isMonoStack(s.value):
			name = "font-mono"
			monoTaken = true
		case roleIdx < len(roles):
			name = roles[roleIdx]
			roleIdx++
		default:
			name = fmt.Sprintf("font-%d", overflow)
			overflow++
		}
		res.Set.Add(tokens.Token{
			Path:       tokens.JoinPath(tokens.CategoryTypography, "family", name),
			Value:      s.value,
			Usage:      roundUsage(s.usage),
			Confidence: confidence(s.usage, 1),
		})
	}
}
