// Package pattern labels zigzag pivots (HH/HL/LH/LL) and matches label
// sequences against a bounded buffer of recent labels.
package pattern

import "pivotwatch/internal/model"

// Classify labels each pivot against the previous pivot of the same kind.
// Highs compare only with highs and lows only with lows; the first high is HH
// and the first low is LL. Equal prices count as LH / HL.
//
// Classify is a pure function: callers that feed labels incrementally must
// remember how many labels they have already consumed.
func Classify(pivots []model.Pivot) []model.Label {
	labels := make([]model.Label, 0, len(pivots))

	var lastHigh, lastLow float64
	haveHigh, haveLow := false, false

	for _, p := range pivots {
		if p.Kind == model.PivotHigh {
			if !haveHigh || p.Price > lastHigh {
				labels = append(labels, model.HH)
			} else {
				labels = append(labels, model.LH)
			}
			lastHigh, haveHigh = p.Price, true
			continue
		}

		if !haveLow || p.Price < lastLow {
			labels = append(labels, model.LL)
		} else {
			labels = append(labels, model.HL)
		}
		lastLow, haveLow = p.Price, true
	}

	return labels
}
