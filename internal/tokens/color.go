// CSS color parsing shared by the parser, the analyzer, and the differ.
package tokens

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// RGBA is a parsed color with channels in [0,1].
type RGBA struct {
	R, G, B, A float64
}

// Color converts to a colorful.Color for Lab-space math. Alpha is dropped;
// clustering and ΔE run on the opaque channels.
func (c RGBA) Color() colorful.Color {
	return colorful.Color{R: c.R, G: c.G, B: c.B}.Clamped()
}

// Hex renders #rrggbb, with an alpha byte appended when not fully opaque.
func (c RGBA) Hex() string {
	r := uint8(clamp01(c.R)*255 + 0.5)
	g := uint8(clamp01(c.G)*255 + 0.5)
	b := uint8(clamp01(c.B)*255 + 0.5)
	if c.A >= 1 {
		return fmt.Sprintf("#%02x%02x%02x", r, g, b)
	}
	a := uint8(clamp01(c.A)*255 + 0.5)
	return fmt.Sprintf("#%02x%02x%02x%02x", r, g, b, a)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// DeltaE is the CIEDE2000 distance between two parsed colors on the
// standard 0..100 scale. go-colorful computes the formula over its
// normalized Lab range and divides the result by 100; scale it back so
// thresholds read like every ΔE reference table.
func DeltaE(a, b RGBA) float64 {
	return a.Color().DistanceCIEDE2000(b.Color()) * 100
}

// ParseColor parses any CSS color literal: hex in all four widths, rgb()/
// rgba(), hsl()/hsla() in legacy and slash syntax, named colors, and
// transparent. Keywords that need cascade context (currentcolor, inherit)
// are not colors here.
func ParseColor(raw string) (RGBA, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "":
		return RGBA{}, false
	case s[0] == '#':
		return parseHexColor(s)
	case strings.HasPrefix(s, "rgb(") || strings.HasPrefix(s, "rgba("):
		return parseRGBFunc(s)
	case strings.HasPrefix(s, "hsl(") || strings.HasPrefix(s, "hsla("):
		return parseHSLFunc(s)
	case s == "transparent":
		return RGBA{0, 0, 0, 0}, true
	default:
		if hex, ok := namedColors[s]; ok {
			return parseHexColor(hex)
		}
		return RGBA{}, false
	}
}

func parseHexColor(s string) (RGBA, bool) {
	hex := s[1:]
	var r, g, b, a uint8
	a = 0xff
	switch len(hex) {
	case 3, 4:
		digits := make([]uint8, len(hex))
		for i := 0; i < len(hex); i++ {
			v, ok := hexNibble(hex[i])
			if !ok {
				return RGBA{}, false
			}
			digits[i] = v<<4 | v
		}
		r, g, b = digits[0], digits[1], digits[2]
		if len(hex) == 4 {
			a = digits[3]
		}
	case 6, 8:
		v, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			return RGBA{}, false
		}
		if len(hex) == 8 {
			a = uint8(v)
			v >>= 8
		}
		r, g, b = uint8(v>>16), uint8(v>>8), uint8(v)
	default:
		return RGBA{}, false
	}
	return RGBA{float64(r) / 255, float64(g) / 255, float64(b) / 255, float64(a) / 255}, true
}

func hexNibble(c byte) (uint8, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

// splitColorFunc returns the channel fields and the alpha field of a
// functional color, handling both "r, g, b, a" and "r g b / a" forms.
func splitColorFunc(s string) ([]string, string, bool) {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return nil, "", false
	}
	body := s[open+1 : len(s)-1]

	alpha := ""
	if i := strings.IndexByte(body, '/'); i >= 0 {
		alpha = strings.TrimSpace(body[i+1:])
		body = body[:i]
	}
	fields := strings.FieldsFunc(body, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) == 4 && alpha == "" {
		alpha = fields[3]
		fields = fields[:3]
	}
	if len(fields) != 3 {
		return nil, "", false
	}
	return fields, alpha, true
}

func parseRGBFunc(s string) (RGBA, bool) {
	fields, alphaField, ok := splitColorFunc(s)
	if !ok {
		return RGBA{}, false
	}
	var ch [3]float64
	for i, f := range fields {
		v, ok := parseChannel(f)
		if !ok {
			return RGBA{}, false
		}
		ch[i] = v
	}
	a, ok := parseAlpha(alphaField)
	if !ok {
		return RGBA{}, false
	}
	return RGBA{ch[0], ch[1], ch[2], a}, true
}

func parseHSLFunc(s string) (RGBA, bool) {
	fields, alphaField, ok := splitColorFunc(s)
	if !ok {
		return RGBA{}, false
	}
	h, ok := parseHue(fields[0])
	if !ok {
		return RGBA{}, false
	}
	sat, ok := parsePercent(fields[1])
	if !ok {
		return RGBA{}, false
	}
	light, ok := parsePercent(fields[2])
	if !ok {
		return RGBA{}, false
	}
	a, ok := parseAlpha(alphaField)
	if !ok {
		return RGBA{}, false
	}
	c := colorful.Hsl(h, sat, light)
	return RGBA{c.R, c.G, c.B, a}, true
}

// parseChannel handles one rgb channel: 0-255 or a percentage.
func parseChannel(f string) (float64, bool) {
	if strings.HasSuffix(f, "%") {
		v, err := strconv.ParseFloat(strings.TrimSuffix(f, "%"), 64)
		if err != nil {
			return 0, false
		}
		return clamp01(v / 100), true
	}
	v, err := strconv.ParseFloat(f, 64)
	if err != nil {
		return 0, false
	}
	return clamp01(v / 255), true
}

func parseHue(f string) (float64, bool) {
	f = strings.TrimSuffix(f, "deg")
	v, err := strconv.ParseFloat(f, 64)
	if err != nil {
		return 0, false
	}
	v = float64(int(v)%360) + (v - float64(int(v)))
	if v < 0 {
		v += 360
	}
	return v, true
}

func parsePercent(f string) (float64, bool) {
	if !strings.HasSuffix(f, "%") {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(f, "%"), 64)
	if err != nil {
		return 0, false
	}
	return clamp01(v / 100), true
}

func parseAlpha(f string) (float64, bool) {
	if f == "" {
		return 1, true
	}
	if strings.HasSuffix(f, "%") {
		v, err := strconv.ParseFloat(strings.TrimSuffix(f, "%"), 64)
		if err != nil {
			return 0, false
		}
		return clamp01(v / 100), true
	}
	v, err := strconv.ParseFloat(f, 64)
	if err != nil {
		return 0, false
	}
	return clamp01(v), true
}

// namedColors is the CSS Color Module Level 4 keyword table.
var namedColors = map[string]string{
	"aliceblue":            "#f0f8ff",
	"antiquewhite":         "#faebd7",
	"aqua":                 "#00ffff",
	"aquamarine":           "#7fffd4",
	"azure":                "#f0ffff",
	"beige":                "#f5f5dc",
	"bisque":               "#ffe4c4",
	"black":                "#000000",
	"blanchedalmond":       "#ffebcd",
	"blue":                 "#0000ff",
	"blueviolet":           "#8a2be2",
	"brown":                "#a52a2a",
	"burlywood":            "#deb887",
	"cadetblue":            "#5f9ea0",
	"chartreuse":           "#7fff00",
	"chocolate":            "#d2691e",
	"coral":                "#ff7f50",
	"cornflowerblue":       "#6495ed",
	"cornsilk":             "#fff8dc",
	"crimson":              "#dc143c",
	"cyan":                 "#00ffff",
	"darkblue":             "#00008b",
	"darkcyan":             "#008b8b",
	"darkgoldenrod":        "#b8860b",
	"darkgray":             "#a9a9a9",
	"darkgreen":            "#006400",
	"darkgrey":             "#a9a9a9",
	"darkkhaki":            "#bdb76b",
	"darkmagenta":          "#8b008b",
	"darkolivegreen":       "#556b2f",
	"darkorange":           "#ff8c00",
	"darkorchid":           "#9932cc",
	"darkred":              "#8b0000",
	"darksalmon":           "#e9967a",
	"darkseagreen":         "#8fbc8f",
	"darkslateblue":        "#483d8b",
	"darkslategray":        "#2f4f4f",
	"darkslategrey":        "#2f4f4f",
	"darkturquoise":        "#00ced1",
	"darkviolet":           "#9400d3",
	"deeppink":             "#ff1493",
	"deepskyblue":          "#00bfff",
	"dimgray":              "#696969",
	"dimgrey":              "#696969",
	"dodgerblue":           "#1e90ff",
	"firebrick":            "#b22222",
	"floralwhite":          "#fffaf0",
	"forestgreen":          "#228b22",
	"fuchsia":              "#ff00ff",
	"gainsboro":            "#dcdcdc",
	"ghostwhite":           "#f8f8ff",
	"gold":                 "#ffd700",
	"goldenrod":            "#daa520",
	"gray":                 "#808080",
	"green":                "#008000",
	"greenyellow":          "#adff2f",
	"grey":                 "#808080",
	"honeydew":             "#f0fff0",
	"hotpink":              "#ff69b4",
	"indianred":            "#cd5c5c",
	"indigo":               "#4b0082",
	"ivory":                "#fffff0",
	"khaki":                "#f0e68c",
	"lavender":             "#e6e6fa",
	"lavenderblush":        "#fff0f5",
	"lawngreen":            "#7cfc00",
	"lemonchiffon":         "#fffacd",
	"lightblue":            "#add8e6",
	"lightcoral":           "#f08080",
	"lightcyan":            "#e0ffff",
	"lightgoldenrodyellow": "#fafad2",
	"lightgray":            "#d3d3d3",
	"lightgreen":           "#90ee90",
	"lightgrey":            "#d3d3d3",
	"lightpink":            "#ffb6c1",
	"lightsalmon":          "#ffa07a",
	"lightseagreen":        "#20b2aa",
	"lightskyblue":         "#87cefa",
	"lightslategray":       "#778899",
	"lightslategrey":       "#778899",
	"lightsteelblue":       "#b0c4de",
	"lightyellow":          "#ffffe0",
	"lime":                 "#00ff00",
	"limegreen":            "#32cd32",
	"linen":                "#faf0e6",
	"magenta":              "#ff00ff",
	"maroon":               "#800000",
	"mediumaquamarine":     "#66cdaa",
	"mediumblue":           "#0000cd",
	"mediumorchid":         "#ba55d3",
	"mediumpurple":         "#9370db",
	"mediumseagreen":       "#3cb371",
	"mediumslateblue":      "#7b68ee",
	"mediumspringgreen":    "#00fa9a",
	"mediumturquoise":      "#48d1cc",
	"mediumvioletred":      "#c71585",
	"midnightblue":         "#191970",
	"mintcream":            "#f5fffa",
	"mistyrose":            "#ffe4e1",
	"moccasin":             "#ffe4b5",
	"navajowhite":          "#ffdead",
	"navy":                 "#000080",
	"oldlace":              "#fdf5e6",
	"olive":                "#808000",
	"olivedrab":            "#6b8e23",
	"orange":               "#ffa500",
	"orangered":            "#ff4500",
	"orchid":               "#da70d6",
	"palegoldenrod":        "#eee8aa",
	"palegreen":            "#98fb98",
	"paleturquoise":        "#afeeee",
	"palevioletred":        "#db7093",
	"papayawhip":           "#ffefd5",
	"peachpuff":            "#ffdab9",
	"peru":                 "#cd853f",
	"pink":                 "#ffc0cb",
	"plum":                 "#dda0dd",
	"powderblue":           "#b0e0e6",
	"purple":               "#800080",
	"rebeccapurple":        "#663399",
	"red":                  "#ff0000",
	"rosybrown":            "#bc8f8f",
	"royalblue":            "#4169e1",
	"saddlebrown":          "#8b4513",
	"salmon":               "#fa8072",
	"sandybrown":           "#f4a460",
	"seagreen":             "#2e8b57",
	"seashell":             "#fff5ee",
	"sienna":               "#a0522d",
	"silver":               "#c0c0c0",
	"skyblue":              "#87ceeb",
	"slateblue":            "#6a5acd",
	"slategray":            "#708090",
	"slategrey":            "#708090",
	"snow":                 "#fffafa",
	"springgreen":          "#00ff7f",
	"steelblue":            "#4682b4",
	"tan":                  "#d2b48c",
	"teal":                 "#008080",
	"thistle":              "#d8bfd8",
	"tomato":               "#ff6347",
	"turquoise":            "#40e0d0",
	"violet":               "#ee82ee",
	"wheat":                "#f5deb3",
	"white":                "#ffffff",
	"whitesmoke":           "#f5f5f5",
	"yellow":               "#ffff00",
	"yellowgreen":          "#9acd32",
}
