// DTCG adapter: the typed union goes to and from the nested W3C document.
package tokens

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Marshal renders a set as a DTCG document. Tokens are emitted in path order
// so equal sets serialize identically.
func Marshal(s *Set) (string, error) {
	s.Sort()
	doc := "{}"
	var err error
	for _, t := range s.Tokens {
		if t.Path == "" || t.Value == nil {
			return "", fmt.Errorf("token without path or value")
		}
		raw, rErr := valueJSON(t.Value)
		if rErr != nil {
			return "", fmt.Errorf("token %s: %w", t.Path, rErr)
		}
		if doc, err = sjson.SetRaw(doc, t.Path+".$value", raw); err != nil {
			return "", fmt.Errorf("token %s: %w", t.Path, err)
		}
		if doc, err = sjson.Set(doc, t.Path+".$type", string(t.Value.Kind())); err != nil {
			return "", fmt.Errorf("token %s: %w", t.Path, err)
		}
		if doc, err = sjson.Set(doc, t.Path+".$extensions.usage", t.Usage); err != nil {
			return "", fmt.Errorf("token %s: %w", t.Path, err)
		}
		if doc, err = sjson.Set(doc, t.Path+".$extensions.confidence", roundConfidence(t.Confidence)); err != nil {
			return "", fmt.Errorf("token %s: %w", t.Path, err)
		}
		if t.Semantic != "" {
			if doc, err = sjson.Set(doc, t.Path+".$extensions.semantic", t.Semantic); err != nil {
				return "", fmt.Errorf("token %s: %w", t.Path, err)
			}
		}
	}
	return doc, nil
}

func roundConfidence(c float64) float64 {
	v, _ := strconv.ParseFloat(strconv.FormatFloat(c, 'f', 4, 64), 64)
	return v
}

func valueJSON(v Value) (string, error) {
	switch val := v.(type) {
	case ColorValue:
		return strconv.Quote(val.Raw), nil
	case DimensionValue:
		return strconv.Quote(val.CSS()), nil
	case NumberValue:
		return FormatNumber(val.Value), nil
	case FontFamilyValue:
		out := "[]"
		var err error
		for _, f := range val.Families {
			if out, err = sjson.Set(out, "-1", f); err != nil {
				return "", err
			}
		}
		return out, nil
	case FontWeightValue:
		return strconv.Itoa(val.Weight), nil
	case ShadowValue:
		if len(val.Layers) == 1 {
			return shadowLayerJSON(val.Layers[0])
		}
		out := "[]"
		for i, l := range val.Layers {
			raw, err := shadowLayerJSON(l)
			if err != nil {
				return "", err
			}
			if out, err = sjson.SetRaw(out, strconv.Itoa(i), raw); err != nil {
				return "", err
			}
		}
		return out, nil
	case TransitionValue:
		out := "{}"
		var err error
		if out, err = sjson.Set(out, "duration", val.Duration.CSS()); err != nil {
			return "", err
		}
		if out, err = sjson.Set(out, "timingFunction", val.TimingFunction); err != nil {
			return "", err
		}
		return out, nil
	default:
		return "", fmt.Errorf("unsupported value kind %T", v)
	}
}

func shadowLayerJSON(l ShadowLayer) (string, error) {
	out := "{}"
	var err error
	steps := []struct {
		key string
		val any
	}{
		{"color", l.Color},
		{"offsetX", l.OffsetX.CSS()},
		{"offsetY", l.OffsetY.CSS()},
		{"blur", l.Blur.CSS()},
		{"spread", l.Spread.CSS()},
		{"inset", l.Inset},
	}
	for _, s := range steps {
		if out, err = sjson.Set(out, s.key, s.val); err != nil {
			return "", err
		}
	}
	return out, nil
}

// Parse reads a DTCG document back into the typed model. Group nodes are any
// objects without a $value; everything under a $ key is codec metadata.
func Parse(doc string) (*Set, error) {
	if !gjson.Valid(doc) {
		return nil, errBadDocument("invalid json")
	}
	set := &Set{}
	var walkErr error

	var walk func(prefix string, node gjson.Result)
	walk = func(prefix string, node gjson.Result) {
		if walkErr != nil || !node.IsObject() {
			return
		}
		if node.Get("$value").Exists() {
			tok, err := parseLeaf(prefix, node)
			if err != nil {
				walkErr = err
				return
			}
			set.Add(tok)
			return
		}
		node.ForEach(func(key, child gjson.Result) bool {
			name := key.String()
			if strings.HasPrefix(name, "$") {
				return true
			}
			next := name
			if prefix != "" {
				next = prefix + "." + name
			}
			walk(next, child)
			return walkErr == nil
		})
	}
	walk("", gjson.Parse(doc))

	if walkErr != nil {
		return nil, walkErr
	}
	set.Sort()
	return set, nil
}

func parseLeaf(path string, node gjson.Result) (Token, error) {
	if path == "" {
		return Token{}, errBadDocument("$value at document root")
	}
	kind := Kind(node.Get("$type").String())
	value := node.Get("$value")

	v, err := parseValue(kind, value)
	if err != nil {
		return Token{}, fmt.Errorf("token %s: %w", path, err)
	}

	return Token{
		Path:       path,
		Value:      v,
		Usage:      node.Get("$extensions.usage").Int(),
		Confidence: node.Get("$extensions.confidence").Float(),
		Semantic:   node.Get("$extensions.semantic").String(),
	}, nil
}

func parseValue(kind Kind, value gjson.Result) (Value, error) {
	switch kind {
	case KindColor:
		return ColorValue{Raw: value.String()}, nil
	case KindDimension:
		d, ok := ParseDimension(value.String())
		if !ok {
			return nil, errBadDocument("bad dimension %q", value.String())
		}
		return d, nil
	case KindNumber:
		return NumberValue{Value: value.Float()}, nil
	case KindFontFamily:
		var families []string
		if value.IsArray() {
			for _, f := range value.Array() {
				families = append(families, f.String())
			}
		} else {
			families = []string{value.String()}
		}
		return FontFamilyValue{Families: families}, nil
	case KindFontWeight:
		return FontWeightValue{Weight: int(value.Int())}, nil
	case KindShadow:
		var layers []ShadowLayer
		if value.IsArray() {
			for _, l := range value.Array() {
				layer, err := parseShadowLayer(l)
				if err != nil {
					return nil, err
				}
				layers = append(layers, layer)
			}
		} else {
			layer, err := parseShadowLayer(value)
			if err != nil {
				return nil, err
			}
			layers = append(layers, layer)
		}
		return ShadowValue{Layers: layers}, nil
	case KindTransition:
		d, ok := ParseDimension(value.Get("duration").String())
		if !ok {
			return nil, errBadDocument("bad transition duration %q", value.Get("duration").String())
		}
		return TransitionValue{
			Duration:       d,
			TimingFunction: value.Get("timingFunction").String(),
		}, nil
	default:
		return nil, errBadDocument("unknown $type %q", kind)
	}
}

func parseShadowLayer(node gjson.Result) (ShadowLayer, error) {
	var layer ShadowLayer
	fields := []struct {
		key  string
		dest *DimensionValue
	}{
		{"offsetX", &layer.OffsetX},
		{"offsetY", &layer.OffsetY},
		{"blur", &layer.Blur},
		{"spread", &layer.Spread},
	}
	for _, f := range fields {
		raw := node.Get(f.key).String()
		if raw == "" {
			continue
		}
		d, ok := ParseDimension(raw)
		if !ok {
			return ShadowLayer{}, errBadDocument("bad shadow %s %q", f.key, raw)
		}
		*f.dest = d
	}
	layer.Color = node.Get("color").String()
	layer.Inset = node.Get("inset").Bool()
	return layer, nil
}
