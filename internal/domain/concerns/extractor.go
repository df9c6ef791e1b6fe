package concerns

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/bryanwahyu/skinroutine/internal/domain/analysis"
	"github.com/bryanwahyu/skinroutine/internal/domain/catalog"
)

// Score is a concern detected in one analysis event. It is never persisted.
type Score struct {
	ConcernName string  `json:"name"`
	Confidence  float64 `json:"confidence"`
}

// skinTypeCodePrefix marks catalog codes reachable only through the skin type attribute.
const skinTypeCodePrefix = "skin_type_"

// SkinTypeCode is the catalog code synthesized for a selected skin type index.
func SkinTypeCode(index int) string {
	return fmt.Sprintf("%s%d", skinTypeCodePrefix, index)
}

// Extract converts an attribute bag into concern scores. Only scores greater
// than zero are returned; order is skin type first, then catalog order.
func Extract(bag analysis.Bag, cat *catalog.Catalog) []Score {
	var out []Score

	if s, ok := extractSkinType(bag, cat); ok {
		out = append(out, s)
	}

	for _, c := range cat.Concerns {
		if strings.HasPrefix(c.Code, skinTypeCodePrefix) {
			continue
		}
		if v := AttributeScore(bag[c.Code]); v > 0 {
			out = append(out, Score{ConcernName: c.Name, Confidence: v})
		}
	}
	return out
}

// ZeroScored lists the attribute codes Extract scored zero: catalog concerns
// whose attribute is missing, malformed or empty, and the skin type key when
// it is present but resolves to nothing.
func ZeroScored(bag analysis.Bag, cat *catalog.Catalog) []string {
	var out []string
	if _, present := bag[analysis.SkinTypeKey]; present {
		if _, ok := extractSkinType(bag, cat); !ok {
			out = append(out, analysis.SkinTypeKey)
		}
	}
	for _, c := range cat.Concerns {
		if strings.HasPrefix(c.Code, skinTypeCodePrefix) {
			continue
		}
		if !(AttributeScore(bag[c.Code]) > 0) {
			out = append(out, c.Code)
		}
	}
	return out
}

// extractSkinType resolves the selected skin type to its catalog concern.
// An index without a catalog entry is dropped.
func extractSkinType(bag analysis.Bag, cat *catalog.Catalog) (Score, bool) {
	st, ok := bag[analysis.SkinTypeKey].(analysis.SkinTypeIndexed)
	if !ok {
		return Score{}, false
	}
	if st.Index < 0 || st.Index >= len(st.Details) {
		return Score{}, false
	}
	conf := st.Details[st.Index].Confidence
	if !(conf > 0) {
		return Score{}, false
	}
	c, ok := cat.ConcernByCode(SkinTypeCode(st.Index))
	if !ok {
		return Score{}, false
	}
	return Score{ConcernName: c.Name, Confidence: conf}, true
}

// AttributeScore is the generic extraction rule for one attribute:
// confidence gates a scalar but its value is the score, a region list scores
// its length, and anything else scores zero.
func AttributeScore(a analysis.Attribute) float64 {
	switch v := a.(type) {
	case analysis.ScalarWithConfidence:
		if v.Confidence == 0 || math.IsNaN(v.Confidence) {
			return 0
		}
		return v.Value
	case analysis.RectangleList:
		return float64(len(v.Items))
	default:
		return 0
	}
}

// SortByConfidence orders scores by descending confidence, keeping input
// order on ties. Scores at or below zero are dropped.
func SortByConfidence(scores []Score) []Score {
	out := make([]Score, 0, len(scores))
	for _, s := range scores {
		if s.Confidence > 0 {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}
