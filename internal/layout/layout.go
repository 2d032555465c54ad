// Package layout derives the structural profile of a site: containers,
// grid/flex mix, spacing scale, archetypes, and accessibility notes. The
// profile is computed deterministically from the same stylesheet bundle the
// parser consumes and is a per-scan snapshot, never diffed across versions.
package layout

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tokenlens/tokenlens/internal/cssparse"
	"github.com/tokenlens/tokenlens/internal/monitoring"
	"github.com/tokenlens/tokenlens/internal/tokens"
)

// Containers narrower than half a desktop viewport are component widths,
// not page containers.
const minContainerPx = 640

// Responsive strategy labels.
const (
	StrategyBreakpoint = "breakpoint"
	StrategyFluid      = "fluid"
)

// Profile is the persisted layout snapshot.
type Profile struct {
	Container   ContainerProfile `json:"container"`
	GridPercent int              `json:"grid_percent"`
	FlexPercent int              `json:"flex_percent"`

	// Spacing is attached after consensus (the analyzer owns the base
	// unit); empty when the scan found no spacing observations.
	SpacingBaseUnit int      `json:"spacing_base_unit,omitempty"`
	SpacingScale    []string `json:"spacing_scale,omitempty"`

	Archetypes         []string `json:"archetypes,omitempty"`
	AccessibilityNotes []string `json:"accessibility_notes,omitempty"`
}

// ContainerProfile describes the dominant page container.
type ContainerProfile struct {
	MaxWidth    string  `json:"max_width,omitempty"` // mode of qualifying max-widths
	MaxWidthPx  float64 `json:"max_width_px,omitempty"`
	Strategy    string  `json:"strategy"` // breakpoint | fluid
	Breakpoints []int   `json:"breakpoints,omitempty"`
}

// MarshalJSON-friendly round trip.
func (p *Profile) JSON() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode layout profile: %w", err)
	}
	return string(raw), nil
}

// ParseProfile decodes a stored profile document.
func ParseProfile(doc string) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("malformed layout profile: %w", err)
	}
	return &p, nil
}

// AttachSpacing folds the analyzer's spacing consensus into the profile.
func (p *Profile) AttachSpacing(baseUnit int, spacingPx []float64) {
	p.SpacingBaseUnit = baseUnit
	for _, px := range spacingPx {
		p.SpacingScale = append(p.SpacingScale, tokens.FormatNumber(px)+"px")
	}
}

// Profiler walks stylesheet bundles.
type Profiler struct {
	log zerolog.Logger
}

// New creates a profiler.
func New() *Profiler {
	return &Profiler{log: monitoring.Component("layout")}
}

// Analyze computes the structural profile for one scan's stylesheets. It
// runs concurrently with observation extraction over the same bundle, so it
// parses its own copy of each sheet.
func (p *Profiler) Analyze(ctx context.Context, sources []cssparse.Source) (*Profile, error) {
	stats := newSheetStats()
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("layout profiling interrupted: %w", err)
		}
		stats.consume(cssparse.ParseSheet(string(src.CSS)))
	}

	profile := &Profile{
		Container:          stats.container(),
		Archetypes:         stats.archetypes(),
		AccessibilityNotes: stats.accessibilityNotes(),
	}
	profile.GridPercent, profile.FlexPercent = stats.gridFlexSplit()

	p.log.Debug().
		Str("max_width", profile.Container.MaxWidth).
		Str("strategy", profile.Container.Strategy).
		Int("grid_pct", profile.GridPercent).
		Strs("archetypes", profile.Archetypes).
		Msg("Layout profile computed")
	return profile, nil
}

// sheetStats accumulates raw counts across all sheets of a scan.
type sheetStats struct {
	maxWidths     map[string]int // raw value -> selector count, qualifying only
	gridCount     int
	flexCount     int
	breakpoints   map[int]bool
	selectorHits  map[string]map[string]bool // archetype -> matched patterns
	focusStyles   int
	outlineNone   int
	reducedMotion bool
	remFontSizes  int
	pxFontSizes   int
}

func newSheetStats() *sheetStats {
	return &sheetStats{
		maxWidths:    map[string]int{},
		breakpoints:  map[int]bool{},
		selectorHits: map[string]map[string]bool{},
	}
}

func (s *sheetStats) consume(sheet *cssparse.Sheet) {
	for _, rule := range sheet.Rules {
		for _, bp := range cssparse.MediaBreakpoints(rule.Media) {
			s.breakpoints[int(math.Round(bp))] = true
		}
		s.matchArchetypes(rule.Selectors)
		selectorText := strings.ToLower(strings.Join(rule.Selectors, ","))
		if strings.Contains(selectorText, ":focus") {
			s.focusStyles++
		}
		if reducedMotionMedia(rule.Media) {
			s.reducedMotion = true
		}

		for _, d := range rule.Declarations {
			prop := strings.ToLower(d.Property)
			val := strings.ToLower(strings.TrimSpace(d.Value))
			switch prop {
			case "max-width":
				if px, ok := containerWidthPx(val); ok && px >= minContainerPx {
					s.maxWidths[val]++
				}
			case "display":
				switch val {
				case "grid", "inline-grid":
					s.gridCount++
				case "flex", "inline-flex":
					s.flexCount++
				}
			case "outline":
				if val == "none" || val == "0" {
					s.outlineNone++
				}
			case "font-size":
				if d, ok := tokens.ParseDimension(val); ok {
					switch d.Unit {
					case "rem", "em":
						s.remFontSizes++
					case "px":
						s.pxFontSizes++
					}
				}
			}
		}
	}
}

func reducedMotionMedia(media []string) bool {
	for _, m := range media {
		if strings.Contains(strings.ToLower(m), "prefers-reduced-motion") {
			return true
		}
	}
	return false
}

func containerWidthPx(val string) (float64, bool) {
	d, ok := tokens.ParseDimension(val)
	if !ok {
		return 0, false
	}
	return tokens.ConvertToPx(d)
}

// container picks the mode of qualifying max-widths and classifies the
// responsive strategy: three or more distinct breakpoints is breakpoint
// driven, anything else reads as fluid.
func (s *sheetStats) container() ContainerProfile {
	c := ContainerProfile{Strategy: StrategyFluid}

	for bp := range s.breakpoints {
		c.Breakpoints = append(c.Breakpoints, bp)
	}
	sort.Ints(c.Breakpoints)
	if len(c.Breakpoints) >= 3 {
		c.Strategy = StrategyBreakpoint
	}

	bestCount := 0
	for val, count := range s.maxWidths {
		if count > bestCount || (count == bestCount && (c.MaxWidth == "" || val < c.MaxWidth)) {
			c.MaxWidth, bestCount = val, count
		}
	}
	if c.MaxWidth != "" {
		c.MaxWidthPx, _ = containerWidthPx(c.MaxWidth)
	}
	return c
}

// gridFlexSplit reports integer percentages summing to exactly 100 (both
// zero when neither display mode appears).
func (s *sheetStats) gridFlexSplit() (grid, flex int) {
	total := s.gridCount + s.flexCount
	if total == 0 {
		return 0, 0
	}
	grid = int(math.Round(float64(s.gridCount) / float64(total) * 100))
	return grid, 100 - grid
}

func (s *sheetStats) accessibilityNotes() []string {
	var notes []string
	if s.focusStyles == 0 {
		notes = append(notes, "no :focus styles found")
	}
	if s.outlineNone > 0 && s.focusStyles == 0 {
		notes = append(notes, "outline removed without focus replacement")
	}
	if !s.reducedMotion {
		notes = append(notes, "no prefers-reduced-motion handling")
	}
	if s.pxFontSizes > 0 && s.remFontSizes == 0 {
		notes = append(notes, "font sizes fixed in px only")
	}
	return notes
}
