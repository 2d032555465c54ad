// Per-category equality rules for the differ.
package version

import (
	"math"

	"github.com/tokenlens/tokenlens/internal/tokens"
)

// Colors closer than this ΔE are the same token value.
const colorModifiedDeltaE = 1.0

// Equal applies the category equality rules: colors are modified at
// ΔE >= 1.0, dimensions and durations at any absolute difference, family
// lists at any index-wise inequality. Values of different kinds are never
// equal.
func Equal(a, b tokens.Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}

	switch av := a.(type) {
	case tokens.ColorValue:
		bv := b.(tokens.ColorValue)
		ac, aok := tokens.ParseColor(av.Raw)
		bc, bok := tokens.ParseColor(bv.Raw)
		if !aok || !bok {
			return av.Raw == bv.Raw
		}
		if math.Abs(ac.A-bc.A) > 0 {
			return false
		}
		return tokens.DeltaE(ac, bc) < colorModifiedDeltaE

	case tokens.DimensionValue:
		return dimensionEqual(av, b.(tokens.DimensionValue))

	case tokens.NumberValue:
		return av.Value == b.(tokens.NumberValue).Value

	case tokens.FontWeightValue:
		return av.Weight == b.(tokens.FontWeightValue).Weight

	case tokens.FontFamilyValue:
		bv := b.(tokens.FontFamilyValue)
		if len(av.Families) != len(bv.Families) {
			return false
		}
		for i := range av.Families {
			if av.Families[i] != bv.Families[i] {
				return false
			}
		}
		return true

	case tokens.ShadowValue:
		return shadowEqual(av, b.(tokens.ShadowValue))

	case tokens.TransitionValue:
		bv := b.(tokens.TransitionValue)
		return av.TimingFunction == bv.TimingFunction && dimensionEqual(av.Duration, bv.Duration)

	default:
		return a.CSS() == b.CSS()
	}
}

// dimensionEqual compares in a common unit when one exists, so 16px and
// 1rem are the same length and 0.2s equals 200ms.
func dimensionEqual(a, b tokens.DimensionValue) bool {
	if apx, ok := tokens.ConvertToPx(a); ok {
		if bpx, ok := tokens.ConvertToPx(b); ok {
			return apx == bpx
		}
		return false
	}
	if ams, ok := tokens.ConvertToMs(a); ok {
		if bms, ok := tokens.ConvertToMs(b); ok {
			return ams == bms
		}
		return false
	}
	return a.Unit == b.Unit && a.Value == b.Value
}

func shadowEqual(a, b tokens.ShadowValue) bool {
	if len(a.Layers) != len(b.Layers) {
		return false
	}
	for i := range a.Layers {
		al, bl := a.Layers[i], b.Layers[i]
		if al.Inset != bl.Inset || al.Color != bl.Color {
			return false
		}
		if !dimensionEqual(al.OffsetX, bl.OffsetX) ||
			!dimensionEqual(al.OffsetY, bl.OffsetY) ||
			!dimensionEqual(al.Blur, bl.Blur) ||
			!dimensionEqual(al.Spread, bl.Spread) {
			return false
		}
	}
	return true
}
