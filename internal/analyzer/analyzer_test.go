package analyzer_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenlens/tokenlens/internal/analyzer"
	"github.com/tokenlens/tokenlens/internal/config"
	"github.com/tokenlens/tokenlens/internal/cssparse"
	"github.com/tokenlens/tokenlens/internal/tokens"
)

func testConfig() config.AnalyzerConfig {
	return config.AnalyzerConfig{
		ColorClusterDeltaE:  3.0,
		ColorCohesionDeltaE: 1.5,
		FrequencyFloor:      0.005,
		MergeRelative:       0.05,
		MaxObservations:     50000,
	}
}

func observe(t *testing.T, css string) *cssparse.Observations {
	t.Helper()
	obs, err := cssparse.Extract(context.Background(), []cssparse.Source{
		{SHA: "test", Origin: "inline", CSS: []byte(css)},
	}, 50000)
	require.NoError(t, err)
	return obs
}

func analyze(t *testing.T, css string) *analyzer.Result {
	t.Helper()
	res, err := analyzer.New(testConfig()).Analyze(context.Background(), observe(t, css))
	require.NoError(t, err)
	return res
}

func findToken(s *tokens.Set, path string) (tokens.Token, bool) {
	for _, tok := range s.Tokens {
		if tok.Path == path {
			return tok, true
		}
	}
	return tokens.Token{}, false
}

// ===== COLOR TESTS =====

func repeatSelectors(color string, n int) string {
	css := ""
	for i := 0; i < n; i++ {
		css += ".sel-" + string(rune('a'+i%26)) + "-" + string(rune('a'+i/26)) + " { color: " + color + "; }\n"
	}
	return css
}

func TestBrandColorsGetSemanticRoles(t *testing.T) {
	css := repeatSelectors("#635bff", 42) + repeatSelectors("#0a2540", 18)
	res := analyze(t, css)

	primary, ok := findToken(res.Set, "color.primary")
	require.True(t, ok, "dominant color becomes color.primary")
	assert.Equal(t, "#635bff", primary.Value.CSS())
	assert.GreaterOrEqual(t, primary.Usage, int64(42))
	assert.InDelta(t, math.Log2(43)/8, primary.Confidence, 0.05,
		"single-notation cluster has cohesion 1")

	secondary, ok := findToken(res.Set, "color.secondary")
	require.True(t, ok)
	assert.Equal(t, "#0a2540", secondary.Value.CSS())
}

func TestNearbyColorsClusterTogether(t *testing.T) {
	// #635bff and #645cff are well inside delta-e 3; the more used
	// notation is the canonical one.
	css := repeatSelectors("#635bff", 10) + repeatSelectors("#645cff", 3)
	res := analyze(t, css)

	primary, ok := findToken(res.Set, "color.primary")
	require.True(t, ok)
	assert.Equal(t, "#635bff", primary.Value.CSS())
	assert.EqualValues(t, 13, primary.Usage, "cluster usage is the member sum")

	_, hasSecondary := findToken(res.Set, "color.secondary")
	assert.False(t, hasSecondary, "the notations must not form two tokens")
}

func TestFullyTransparentColorsAreExcluded(t *testing.T) {
	res := analyze(t, ".a { color: rgba(255, 0, 0, 0); }")
	for _, tok := range res.Set.Tokens {
		assert.NotEqual(t, tokens.CategoryColor, tok.Category(),
			"alpha-0 colors carry no design intent")
	}
}

func TestNeutralsGetLadderNames(t *testing.T) {
	css := repeatSelectors("#ffffff", 20) + repeatSelectors("#111111", 15) + repeatSelectors("#888888", 5)
	res := analyze(t, css)

	names := map[string]bool{}
	for _, tok := range res.Set.Tokens {
		if tok.Category() == tokens.CategoryColor {
			names[tok.Name()] = true
		}
	}
	assert.True(t, names["neutral-50"], "white lands at the light end: %v", names)
	assert.True(t, names["neutral-900"], "near-black lands at the dark end: %v", names)
	assert.Len(t, names, 3)
}

// ===== SPACING TESTS =====

func TestSpacingBaseUnitInference(t *testing.T) {
	css := `
		.a { margin: 8px; } .b { padding: 16px; } .c { gap: 24px; }
		.d { margin-top: 8px; } .e { padding-left: 32px; }`
	res := analyze(t, css)

	assert.Equal(t, 8, res.BaseUnit)
	space1, ok := findToken(res.Set, "dimension.space-1")
	require.True(t, ok)
	assert.Equal(t, "8px", space1.Value.CSS())

	_, ok = findToken(res.Set, "dimension.space-2")
	assert.True(t, ok, "16px is space-2 on a base-8 scale")
	assert.Equal(t, []float64{8, 16, 24, 32}, res.SpacingPx)
}

func TestSpacingSnapsWithinOnePixel(t *testing.T) {
	css := `.a { margin: 8px; } .b { padding: 7px; } .c { gap: 9px; }`
	res := analyze(t, css)

	require.Equal(t, 8, res.BaseUnit)
	space1, ok := findToken(res.Set, "dimension.space-1")
	require.True(t, ok)
	assert.EqualValues(t, 3, space1.Usage, "7px and 9px snap onto 8px")
}

// ===== SCALAR / FAMILY TESTS =====

func TestFontSizesMergeWithinRelativeWindow(t *testing.T) {
	// 16px and 16.5px are ~3% apart and merge; 24px stands alone.
	css := `
		.a { font-size: 16px; } .b { font-size: 16px; }
		.c { font-size: 16.5px; } .d { font-size: 24px; }`
	res := analyze(t, css)

	size1, ok := findToken(res.Set, "typography.size.size-1")
	require.True(t, ok)
	assert.Equal(t, "16px", size1.Value.CSS(), "higher-usage member is canonical")
	assert.EqualValues(t, 3, size1.Usage)

	size2, ok := findToken(res.Set, "typography.size.size-2")
	require.True(t, ok)
	assert.Equal(t, "24px", size2.Value.CSS())
}

func TestFontFamilyRolesAndMonoDetection(t *testing.T) {
	css := `
		body { font-family: Inter, sans-serif; }
		h1 { font-family: Inter, sans-serif; }
		code { font-family: "Fira Code", monospace; }`
	res := analyze(t, css)

	primary, ok := findToken(res.Set, "typography.family.font-primary")
	require.True(t, ok)
	assert.Equal(t, "Inter, sans-serif", primary.Value.CSS())

	mono, ok := findToken(res.Set, "typography.family.font-mono")
	require.True(t, ok)
	assert.Contains(t, mono.Value.CSS(), "Fira Code")
}

func TestShadowAndMotionTokens(t *testing.T) {
	css := `
		.card { box-shadow: 0 1px 3px rgba(0,0,0,0.2); transition: opacity 200ms ease; }
		.modal { box-shadow: 0 1px 3px rgba(0,0,0,0.2); transition: opacity 200ms ease; }
		.slow { transition: transform 600ms linear; }`
	res := analyze(t, css)

	shadow1, ok := findToken(res.Set, "shadow.shadow-1")
	require.True(t, ok)
	assert.EqualValues(t, 2, shadow1.Usage)

	motion1, ok := findToken(res.Set, "motion.motion-1")
	require.True(t, ok)
	assert.Contains(t, motion1.Value.CSS(), "200ms")

	_, ok = findToken(res.Set, "motion.motion-2")
	assert.True(t, ok, "different timing functions never merge")
}

// ===== DETERMINISM =====

func TestAnalyzeIsDeterministic(t *testing.T) {
	css := repeatSelectors("#635bff", 12) + `
		.a { margin: 8px; font-size: 16px; }
		.b { padding: 16px; font-family: Inter, sans-serif; }`

	first := analyze(t, css)
	second := analyze(t, css)

	firstJSON, err := tokens.Marshal(first.Set)
	require.NoError(t, err)
	secondJSON, err := tokens.Marshal(second.Set)
	require.NoError(t, err)
	assert.Equal(t, firstJSON, secondJSON, "identical input yields byte-identical token documents")
}

func TestConsensusScoreIsUsageWeighted(t *testing.T) {
	res := analyze(t, repeatSelectors("#635bff", 40))
	score := res.Set.ConsensusScore()
	assert.Greater(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}
