package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pivotwatch/internal/model"
)

func TestScan_ReportsEveryCompletingPivot(t *testing.T) {
	// Labels: HH LL HH HL HH HL
	pivots := []model.Pivot{
		piv(1, 10, model.PivotHigh),
		piv(2, 5, model.PivotLow),
		piv(3, 11, model.PivotHigh),
		piv(4, 6, model.PivotLow),
		piv(5, 12, model.PivotHigh),
		piv(6, 7, model.PivotLow),
	}
	patterns := []model.Pattern{
		{model.HL, model.HH},
		{model.HH, model.HL},
	}

	got := Scan(pivots, patterns, 10)
	require.Len(t, got, 3)

	assert.Equal(t, 4, got[0].Pivot.Index)
	assert.Equal(t, patterns[1], got[0].Pattern)
	assert.Equal(t, 5, got[1].Pivot.Index)
	assert.Equal(t, patterns[0], got[1].Pattern)
	assert.Equal(t, []model.Label{model.HL, model.HH}, got[1].Labels)
	assert.Equal(t, 6, got[2].Pivot.Index)
}

func TestScan_IgnoresEmptyPatterns(t *testing.T) {
	pivots := []model.Pivot{piv(1, 10, model.PivotHigh)}
	assert.Empty(t, Scan(pivots, []model.Pattern{{}}, 10))
	assert.Empty(t, Scan(nil, []model.Pattern{{model.HH}}, 10))
}
