package layout_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenlens/tokenlens/internal/cssparse"
	"github.com/tokenlens/tokenlens/internal/layout"
)

func profile(t *testing.T, css string) *layout.Profile {
	t.Helper()
	p, err := layout.New().Analyze(context.Background(), []cssparse.Source{
		{SHA: "test", Origin: "inline", CSS: []byte(css)},
	})
	require.NoError(t, err)
	return p
}

func TestContainerModeAndStrategy(t *testing.T) {
	css := `
		.container { max-width: 1200px; }
		.wrapper { max-width: 1200px; }
		.narrow { max-width: 960px; }
		.chip { max-width: 120px; }
		@media (min-width: 640px)  { .a { color: red; } }
		@media (min-width: 768px)  { .b { color: red; } }
		@media (min-width: 1024px) { .c { color: red; } }`
	p := profile(t, css)

	assert.Equal(t, "1200px", p.Container.MaxWidth, "mode of qualifying max-widths wins")
	assert.EqualValues(t, 1200, p.Container.MaxWidthPx)
	assert.Equal(t, layout.StrategyBreakpoint, p.Container.Strategy)
	assert.Equal(t, []int{640, 768, 1024}, p.Container.Breakpoints)
}

func TestNarrowWidthsDoNotQualifyAsContainers(t *testing.T) {
	p := profile(t, `.chip { max-width: 120px; } .avatar { max-width: 48px; }`)
	assert.Empty(t, p.Container.MaxWidth)
	assert.Equal(t, layout.StrategyFluid, p.Container.Strategy)
}

func TestGridFlexSplitSumsToHundred(t *testing.T) {
	css := `
		.g1 { display: grid; } .g2 { display: grid; } .g3 { display: inline-grid; }
		.f1 { display: flex; }`
	p := profile(t, css)

	assert.Equal(t, 75, p.GridPercent)
	assert.Equal(t, 25, p.FlexPercent)
	assert.Equal(t, 100, p.GridPercent+p.FlexPercent)
}

func TestGridFlexSplitWithNoLayoutRules(t *testing.T) {
	p := profile(t, `.a { color: red; }`)
	assert.Zero(t, p.GridPercent)
	assert.Zero(t, p.FlexPercent)
}

func TestArchetypeDetectionNeedsSixtyPercent(t *testing.T) {
	// pricing-table: 3 of 4 patterns present (75%); auth-form: 1 of 4 (25%).
	css := `
		.pricing { display: grid; }
		.plan { border: 1px solid; }
		.tier-badge { color: gold; }
		.login { width: 320px; }`
	p := profile(t, css)

	assert.Contains(t, p.Archetypes, "pricing-table")
	assert.NotContains(t, p.Archetypes, "auth-form")
}

func TestAccessibilityNotes(t *testing.T) {
	p := profile(t, `.a { outline: none; font-size: 14px; }`)
	assert.Contains(t, p.AccessibilityNotes, "no :focus styles found")
	assert.Contains(t, p.AccessibilityNotes, "outline removed without focus replacement")
	assert.Contains(t, p.AccessibilityNotes, "font sizes fixed in px only")

	good := profile(t, `
		.a:focus { outline: 2px solid; }
		html { font-size: 1rem; }
		@media (prefers-reduced-motion: reduce) { .b { transition: none; } }`)
	assert.Empty(t, good.AccessibilityNotes)
}

func TestProfileRoundTripsThroughJSON(t *testing.T) {
	p := profile(t, `.container { max-width: 1200px; } .g { display: grid; }`)
	p.AttachSpacing(8, []float64{8, 16, 24})

	doc, err := p.JSON()
	require.NoError(t, err)

	back, err := layout.ParseProfile(doc)
	require.NoError(t, err)
	assert.Equal(t, p, back)
	assert.Equal(t, []string{"8px", "16px", "24px"}, back.SpacingScale)
}
