package analysis

// FormSubmission carries the same named fields as the vendor result, already
// structured. It is used when analysis was performed out-of-band.
type FormSubmission struct {
	SkinType        *int                   `json:"skinType,omitempty"`
	SkinTypeDetails []FormSkinTypeDetail   `json:"skinTypeDetails,omitempty"`
	Scores          map[string]FormScore   `json:"scores,omitempty"`
	Regions         map[string][]Rectangle `json:"regions,omitempty"`
}

type FormSkinTypeDetail struct {
	Confidence float64 `json:"confidence"`
	Value      float64 `json:"value"`
}

type FormScore struct {
	Confidence float64 `json:"confidence"`
	Value      float64 `json:"value"`
}

// Attributes converts the form into the bag the extractor consumes.
func (f FormSubmission) Attributes() Bag {
	bag := make(Bag, len(f.Scores)+len(f.Regions)+1)
	for code, s := range f.Scores {
		bag[code] = ScalarWithConfidence{Confidence: s.Confidence, Value: s.Value}
	}
	for code, items := range f.Regions {
		bag[code] = RectangleList{Items: append([]Rectangle(nil), items...)}
	}
	if f.SkinType != nil {
		details := make([]SkinTypeDetail, 0, len(f.SkinTypeDetails))
		for _, d := range f.SkinTypeDetails {
			details = append(details, SkinTypeDetail{Confidence: d.Confidence, Value: d.Value})
		}
		bag[SkinTypeKey] = SkinTypeIndexed{Index: *f.SkinType, Details: details}
	}
	return bag
}

// Raw renders the form back into the vendor result shape so it can be
// archived in a snapshot alongside API-sourced results.
func (f FormSubmission) Raw() map[string]any {
	out := make(map[string]any, len(f.Scores)+len(f.Regions)+1)
	for code, s := range f.Scores {
		out[code] = map[string]any{"confidence": s.Confidence, "value": s.Value}
	}
	for code, items := range f.Regions {
		list := make([]any, 0, len(items))
		for _, r := range items {
			list = append(list, map[string]any{"left": r.Left, "top": r.Top, "width": r.Width, "height": r.Height})
		}
		out[code] = map[string]any{"rectangle": list}
	}
	if f.SkinType != nil {
		details := make([]any, 0, len(f.SkinTypeDetails))
		for _, d := range f.SkinTypeDetails {
			details = append(details, map[string]any{"confidence": d.Confidence, "value": d.Value})
		}
		out[SkinTypeKey] = map[string]any{"skin_type": *f.SkinType, "details": details}
	}
	return out
}
