// Archetype detection: fixed vocabulary of page-composition patterns, each
// recognized by a selector signature. An archetype is reported when at
// least 60% of its signature patterns are present somewhere in the bundle.
package layout

import (
	"sort"
	"strings"
)

const archetypeThreshold = 0.6

// archetypeSignatures maps each archetype to the selector substrings that
// identify it. Matching is case-insensitive substring over the selector
// text; each pattern counts at most once per scan.
var archetypeSignatures = map[string][]string{
	"marketing-hero": {".hero", ".banner", ".jumbotron", ".cta"},
	"feature-grid":   {".feature", ".card", ".grid", ".benefits"},
	"pricing-table":  {".pricing", ".plan", ".tier", ".price"},
	"navigation":     {"nav", ".navbar", ".menu", "header"},
	"doc-page":       {".sidebar", ".toc", "article", ".docs", ".prose"},
	"dashboard":      {".dashboard", ".widget", ".panel", ".stat", ".chart"},
	"auth-form":      {".login", ".signup", ".auth", ".password"},
}

func (s *sheetStats) matchArchetypes(selectors []string) {
	text := strings.ToLower(strings.Join(selectors, ","))
	for name, patterns := range archetypeSignatures {
		for _, pat := range patterns {
			if !strings.Contains(text, pat) {
				continue
			}
			if s.selectorHits[name] == nil {
				s.selectorHits[name] = map[string]bool{}
			}
			s.selectorHits[name][pat] = true
		}
	}
}

func (s *sheetStats) archetypes() []string {
	var out []string
	for name, patterns := range archetypeSignatures {
		matched := len(s.selectorHits[name])
		if float64(matched) >= archetypeThreshold*float64(len(patterns)) && matched > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
