package analysis

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Attribute is one named field of an analysis result, resolved once into a
// concrete shape. Shapes the parser does not recognise become Unknown.
type Attribute interface {
	isAttribute()
}

// ScalarWithConfidence is the {confidence, value} shape.
type ScalarWithConfidence struct {
	Confidence float64
	Value      float64
}

// RectangleList is a detected-region list such as blackheads or moles.
type RectangleList struct {
	Items []Rectangle
}

type Rectangle struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// SkinTypeIndexed is the {skin_type: index, details: [{confidence}, ...]} shape.
type SkinTypeIndexed struct {
	Index   int
	Details []SkinTypeDetail
}

type SkinTypeDetail struct {
	Confidence float64
	Value      float64
}

// Unknown keeps the raw value of an attribute whose shape is not understood.
type Unknown struct {
	Raw any
}

func (ScalarWithConfidence) isAttribute() {}
func (RectangleList) isAttribute()        {}
func (SkinTypeIndexed) isAttribute()      {}
func (Unknown) isAttribute()              {}

// Bag maps attribute codes to their resolved shapes.
type Bag map[string]Attribute

// SkinTypeKey is the attribute carrying the selected skin type index.
const SkinTypeKey = "skin_type"

// resultEnvelope is the key the vendor API nests attributes under.
const resultEnvelope = "result"

// ParseJSON decodes a raw analysis result and resolves its attributes.
func ParseJSON(data []byte) (Bag, map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if raw == nil {
		return nil, nil, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	return ParseRaw(raw), raw, nil
}

// ParseRaw resolves every attribute of a decoded analysis result into its
// variant. It never fails: malformed attributes become Unknown.
func ParseRaw(raw map[string]any) Bag {
	attrs := raw
	if inner, ok := raw[resultEnvelope].(map[string]any); ok {
		attrs = inner
	}
	bag := make(Bag, len(attrs))
	for code, v := range attrs {
		bag[code] = parseAttribute(v)
	}
	return bag
}

func parseAttribute(v any) Attribute {
	obj, ok := v.(map[string]any)
	if !ok {
		return Unknown{Raw: v}
	}

	conf, hasConf := number(obj["confidence"])
	val, hasVal := number(obj["value"])
	if hasConf && hasVal {
		return ScalarWithConfidence{Confidence: conf, Value: val}
	}

	if list, ok := obj["rectangle"].([]any); ok {
		items := make([]Rectangle, 0, len(list))
		for _, it := range list {
			items = append(items, rectangle(it))
		}
		return RectangleList{Items: items}
	}

	if idx, ok := number(obj["skin_type"]); ok {
		if list, ok := obj["details"].([]any); ok {
			details := make([]SkinTypeDetail, 0, len(list))
			for _, it := range list {
				d, _ := it.(map[string]any)
				c, _ := number(d["confidence"])
				dv, _ := number(d["value"])
				details = append(details, SkinTypeDetail{Confidence: c, Value: dv})
			}
			return SkinTypeIndexed{Index: int(idx), Details: details}
		}
	}

	return Unknown{Raw: v}
}

func rectangle(v any) Rectangle {
	m, _ := v.(map[string]any)
	var r Rectangle
	r.Left, _ = number(m["left"])
	r.Top, _ = number(m["top"])
	r.Width, _ = number(m["width"])
	r.Height, _ = number(m["height"])
	return r
}

// number accepts JSON numbers and numeric strings. NaN and infinities are
// treated as absent.
func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, false
		}
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(n), 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
