package pattern

import "pivotwatch/internal/model"

// Detection is one place in history where the label buffer ended with a pattern.
type Detection struct {
	Pivot   model.Pivot   `json:"pivot"` // pivot whose label completed the match
	Pattern model.Pattern `json:"pattern"`
	Labels  []model.Label `json:"labels"` // buffer tail that matched
}

// Scan replays the labels of pivots one at a time through a buffer of the given
// capacity and reports every pivot at which a pattern matched, in pivot order and,
// per pivot, in pattern order. Empty patterns are ignored.
func Scan(pivots []model.Pivot, patterns []model.Pattern, capacity int) []Detection {
	labels := Classify(pivots)
	buf := NewBuffer(capacity)

	var out []Detection
	for i, l := range labels {
		buf.Append(l)
		for _, p := range patterns {
			if len(p) == 0 || !buf.EndsWith(p) {
				continue
			}
			out = append(out, Detection{
				Pivot:   pivots[i],
				Pattern: p,
				Labels:  buf.Tail(len(p)),
			})
		}
	}
	return out
}
