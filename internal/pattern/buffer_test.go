package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pivotwatch/internal/model"
)

func TestBuffer_EndsWith(t *testing.T) {
	b := NewBuffer(10)
	b.Extend([]model.Label{model.LL, model.HL, model.HH})

	assert.True(t, b.EndsWith(model.Pattern{model.HL, model.HH}))
	assert.True(t, b.EndsWith(model.Pattern{model.LL, model.HL, model.HH}))
	assert.False(t, b.EndsWith(model.Pattern{model.LL, model.HH}))

	other := NewBuffer(10)
	other.Extend([]model.Label{model.LL, model.HH, model.HL})
	assert.False(t, other.EndsWith(model.Pattern{model.HL, model.HH}))
}

func TestBuffer_EmptyAndOversizedPatterns(t *testing.T) {
	b := NewBuffer(3)
	assert.True(t, b.EndsWith(model.Pattern{}), "empty pattern matches an empty buffer")
	assert.False(t, b.EndsWith(model.Pattern{model.HH}))

	b.Extend([]model.Label{model.HH, model.LL})
	assert.True(t, b.EndsWith(nil))
	assert.False(t, b.EndsWith(model.Pattern{model.HH, model.HH, model.LL}))
}

func TestBuffer_Eviction(t *testing.T) {
	b := NewBuffer(3)
	seq := []model.Label{model.HH, model.LL, model.LH, model.HL, model.HH}
	for i, l := range seq {
		b.Append(l)
		want := i + 1
		if want > 3 {
			want = 3
		}
		assert.Equal(t, want, b.Len())
	}

	assert.Equal(t, []model.Label{model.LH, model.HL, model.HH}, b.Snapshot())
	assert.Equal(t, 3, b.Cap())
	assert.True(t, b.EndsWith(model.Pattern{model.LH, model.HL, model.HH}))
}

func TestBuffer_WraparoundManyTimes(t *testing.T) {
	b := NewBuffer(4)
	labels := []model.Label{model.HH, model.HL, model.LH, model.LL}
	var all []model.Label
	for i := 0; i < 23; i++ {
		l := labels[i%len(labels)]
		all = append(all, l)
		b.Append(l)
	}
	assert.Equal(t, all[len(all)-4:], b.Snapshot())
}

func TestBuffer_TailAndSnapshotAreCopies(t *testing.T) {
	b := NewBuffer(5)
	b.Extend([]model.Label{model.HH, model.LL, model.HL})

	tail := b.Tail(2)
	assert.Equal(t, []model.Label{model.LL, model.HL}, tail)
	tail[0] = model.LH
	assert.Equal(t, []model.Label{model.HH, model.LL, model.HL}, b.Snapshot())

	assert.Len(t, b.Tail(10), 3)
	assert.Empty(t, b.Tail(-1))
}

func TestNewBuffer_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, NewBuffer(0).Cap())
	assert.Equal(t, DefaultCapacity, NewBuffer(-5).Cap())
}
