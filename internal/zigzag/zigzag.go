// Package zigzag extracts alternating swing highs and lows from a bar series using
// the classic Depth / Deviation / Backstep rules.
//
// A bar is a candidate when its high (low) is the extremum of the closed window
// [i-Depth, i+Depth]. Same-kind candidates within Backstep bars of the last pivot
// slide that pivot instead of adding a new one, and a reversal is only confirmed
// once price has moved at least Deviation points away from the last pivot.
// Consecutive pivots always alternate between High and Low.
package zigzag

import (
	"errors"
	"fmt"
	"sort"

	"pivotwatch/internal/model"
)

// ErrInvalidParameter is returned for negative depth/backstep/deviation or a
// non-positive point size.
var ErrInvalidParameter = errors.New("invalid zigzag parameter")

// Params are the classic zigzag inputs.
type Params struct {
	Depth           int     `json:"depth" yaml:"depth"`
	DeviationPoints float64 `json:"deviation" yaml:"deviation"` // in instrument points
	Backstep        int     `json:"backstep" yaml:"backstep"`
}

// DefaultParams mirrors the common MetaTrader defaults (12/5/3).
func DefaultParams() Params {
	return Params{Depth: 12, DeviationPoints: 5, Backstep: 3}
}

// Validate checks the parameters together with the instrument point size.
func (p Params) Validate(pointSize float64) error {
	switch {
	case p.Depth < 0:
		return fmt.Errorf("%w: depth=%d must be >= 0", ErrInvalidParameter, p.Depth)
	case p.Backstep < 0:
		return fmt.Errorf("%w: backstep=%d must be >= 0", ErrInvalidParameter, p.Backstep)
	case p.DeviationPoints < 0:
		return fmt.Errorf("%w: deviation=%g must be >= 0", ErrInvalidParameter, p.DeviationPoints)
	case !(pointSize > 0):
		return fmt.Errorf("%w: point size=%g must be > 0", ErrInvalidParameter, pointSize)
	}
	return nil
}

// MinBars is the number of bars needed before any pivot can be found.
func (p Params) MinBars() int {
	return 2*p.Depth + 1
}

// Extract returns the pivots of bars in ascending index order. Too few bars is not
// an error: the result is simply empty until enough history is available.
//
// Pivot.Index is the bar's position in the bars slice.
func Extract(bars []model.Bar, p Params, pointSize float64) ([]model.Pivot, error) {
	if err := p.Validate(pointSize); err != nil {
		return nil, err
	}
	n := len(bars)
	if n < p.MinBars() {
		return []model.Pivot{}, nil
	}

	minMove := p.DeviationPoints * pointSize
	pivots := make([]model.Pivot, 0, 64)

	for i := p.Depth; i < n-p.Depth; i++ {
		kind, price, ok := candidate(bars, i, p.Depth)
		if !ok {
			continue
		}

		if len(pivots) == 0 {
			pivots = append(pivots, pivotAt(bars, i, kind, price))
			continue
		}

		last := &pivots[len(pivots)-1]

		if kind == last.Kind {
			// Pivots always alternate, so a same-kind candidate can only move the
			// last pivot. Within backstep any strictly more extreme price slides it;
			// further away the new extreme must also clear the deviation. A second
			// same-kind pivot is never appended here, even far beyond backstep.
			if moreExtreme(kind, price, last.Price) &&
				(i-last.Index <= p.Backstep || abs(price-last.Price) >= minMove) {
				*last = pivotAt(bars, i, kind, price)
			}
			continue
		}

		if abs(price-last.Price) < minMove {
			continue
		}

		pivots = append(pivots, pivotAt(bars, i, kind, price))
	}

	sort.SliceStable(pivots, func(a, b int) bool { return pivots[a].Index < pivots[b].Index })
	return pivots, nil
}

// candidate reports whether bar i is a window extremum. A bar that is both the
// highest high and the lowest low of its window resolves to High.
func candidate(bars []model.Bar, i, depth int) (model.PivotKind, float64, bool) {
	hi, lo := bars[i].High, bars[i].Low
	peak, valley := true, true
	for j := i - depth; j <= i+depth; j++ {
		if bars[j].High > hi {
			peak = false
		}
		if bars[j].Low < lo {
			valley = false
		}
		if !peak && !valley {
			return 0, 0, false
		}
	}
	if peak {
		return model.PivotHigh, hi, true
	}
	return model.PivotLow, lo, true
}

func moreExtreme(kind model.PivotKind, price, than float64) bool {
	if kind == model.PivotHigh {
		return price > than
	}
	return price < than
}

func pivotAt(bars []model.Bar, i int, kind model.PivotKind, price float64) model.Pivot {
	return model.Pivot{Index: i, Price: price, Kind: kind, Time: bars[i].Time}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
