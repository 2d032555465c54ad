package cssparse_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenlens/tokenlens/internal/cssparse"
)

// ===== RULE PARSING TESTS =====

func TestParseSheetBasics(t *testing.T) {
	sheet := cssparse.ParseSheet(`
		/* header */
		.btn, .btn-primary {
			color: #635bff;
			margin: 8px 16px !important;
		}
		h1 { font-size: 32px }
	`)

	require.Len(t, sheet.Rules, 2)

	btn := sheet.Rules[0]
	assert.Equal(t, []string{".btn", ".btn-primary"}, btn.Selectors)
	require.Len(t, btn.Declarations, 2)
	assert.Equal(t, "color", btn.Declarations[0].Property)
	assert.Equal(t, "#635bff", btn.Declarations[0].Value)
	assert.False(t, btn.Declarations[0].Important)
	assert.Equal(t, "margin", btn.Declarations[1].Property)
	assert.Equal(t, "8px 16px", btn.Declarations[1].Value)
	assert.True(t, btn.Declarations[1].Important)

	h1 := sheet.Rules[1]
	assert.Equal(t, []string{"h1"}, h1.Selectors)
	assert.Equal(t, "32px", h1.Declarations[0].Value)
}

func TestParseSheetMediaNesting(t *testing.T) {
	sheet := cssparse.ParseSheet(`
		@media (min-width: 768px) {
			.card { padding: 24px; }
			@media (max-width: 1024px) {
				.card { padding: 16px; }
			}
		}
	`)

	require.Len(t, sheet.Rules, 2)
	assert.Equal(t, []string{"(min-width: 768px)"}, sheet.Rules[0].Media)
	assert.Equal(t, []string{"(min-width: 768px)", "(max-width: 1024px)"}, sheet.Rules[1].Media)
}

func TestParseSheetSkipsResourceAtRules(t *testing.T) {
	sheet := cssparse.ParseSheet(`
		@font-face { font-family: "Inter"; src: url(inter.woff2); }
		@keyframes spin { from { transform: rotate(0); } to { transform: rotate(360deg); } }
		@supports (display: grid) {
			.grid { display: grid; }
		}
		.after { color: red; }
	`)

	require.Len(t, sheet.Rules, 2, "font-face and keyframes bodies must not surface rules")
	assert.Equal(t, []string{".grid"}, sheet.Rules[0].Selectors)
	assert.Empty(t, sheet.Rules[0].Media, "supports is transparent, not a media context")
	assert.Equal(t, []string{".after"}, sheet.Rules[1].Selectors)
}

func TestParseSheetImports(t *testing.T) {
	sheet := cssparse.ParseSheet(`
		@charset "utf-8";
		@import url("theme.css");
		@import 'base.css' screen;
		@import url(fonts.css);
		body { margin: 0; }
	`)

	assert.Equal(t, []string{"theme.css", "base.css", "fonts.css"}, sheet.Imports)
	assert.Equal(t, []string{"theme.css", "base.css", "fonts.css"}, cssparse.ExtractImports(`
		@import url("theme.css"); @import 'base.css' screen; @import url(fonts.css);`))
}

func TestParseSheetCountsMalformedDeclarations(t *testing.T) {
	sheet := cssparse.ParseSheet(`.a { color red; margin: 4px; ; }`)

	require.Len(t, sheet.Rules, 1)
	assert.Len(t, sheet.Rules[0].Declarations, 1)
	assert.EqualValues(t, 1, sheet.Invalid, "declaration without a colon is invalid")
}

func TestParseSheetSelectorWithFunctionColon(t *testing.T) {
	sheet := cssparse.ParseSheet(`.a:not(.b, .c):hover { color: blue; }`)

	require.Len(t, sheet.Rules, 1)
	assert.Equal(t, []string{".a:not(.b, .c):hover"}, sheet.Rules[0].Selectors,
		"commas inside :not() must not split the selector group")
}

func TestSplitTopLevel(t *testing.T) {
	assert.Equal(t,
		[]string{"rgba(0,0,0,0.1) 0 1px", " #fff 0 2px"},
		cssparse.SplitTopLevel("rgba(0,0,0,0.1) 0 1px, #fff 0 2px", ','))
	assert.Equal(t,
		[]string{`"Helvetica, Neue"`, ` Arial`},
		cssparse.SplitTopLevel(`"Helvetica, Neue", Arial`, ','))
}

// ===== MEDIA WEIGHT TESTS =====

func TestMediaWeight(t *testing.T) {
	cases := []struct {
		media []string
		want  float64
	}{
		{nil, 1},
		{[]string{"print"}, 1},
		{[]string{"(min-width: 768px)"}, 1.5},                           // 768 and 1280 match
		{[]string{"(min-width: 768px) and (max-width: 1024px)"}, 1.25},  // only 768
		{[]string{"(min-width: 48em)"}, 1.5},                            // 768px equivalent
		{[]string{"(min-width: 200px)"}, 1.75},                          // all three classes
		{[]string{"(min-width: 768px)", "(max-width: 1300px)"}, 1.5},    // nested contexts intersect
		{[]string{"screen and (768px <= width)"}, 1.5},                  // range syntax
	}
	for _, c := range cases {
		assert.InDelta(t, c.want, cssparse.MediaWeight(c.media), 1e-9, "%v", c.media)
	}
}

func TestMediaBreakpoints(t *testing.T) {
	bps := cssparse.MediaBreakpoints([]string{"(min-width: 768px) and (max-width: 1024px)"})
	assert.ElementsMatch(t, []float64{768, 1024}, bps)

	assert.Empty(t, cssparse.MediaBreakpoints([]string{"print"}))
}
