package pattern

import "pivotwatch/internal/model"

// DefaultCapacity is the number of labels kept when no capacity is configured.
const DefaultCapacity = 10

// Buffer is a fixed-size circular FIFO of the most recent labels.
// Appending to a full buffer overwrites the oldest label.
//
// Buffer is not safe for concurrent use; each watch session owns its own.
type Buffer struct {
	buf  []model.Label
	pos  int // next write position
	full bool
}

// NewBuffer creates a buffer holding at most capacity labels
// (DefaultCapacity when capacity <= 0).
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{buf: make([]model.Label, capacity)}
}

// Append adds a label, evicting the oldest one when the buffer is full.
func (b *Buffer) Append(l model.Label) {
	b.buf[b.pos] = l
	b.pos = (b.pos + 1) % len(b.buf)
	if b.pos == 0 && !b.full {
		b.full = true
	}
}

// Extend appends labels in order.
func (b *Buffer) Extend(labels []model.Label) {
	for _, l := range labels {
		b.Append(l)
	}
}

// Len returns the number of labels currently held.
func (b *Buffer) Len() int {
	if b.full {
		return len(b.buf)
	}
	return b.pos
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// EndsWith reports whether the newest len(p) labels equal p, in order.
// An empty pattern always matches; a pattern longer than the buffer never does.
func (b *Buffer) EndsWith(p model.Pattern) bool {
	n := b.Len()
	if len(p) > n {
		return false
	}
	for i := range p {
		if b.at(n-len(p)+i) != p[i] {
			return false
		}
	}
	return true
}

// Snapshot returns a copy of the contents, oldest first.
func (b *Buffer) Snapshot() []model.Label {
	return b.Tail(b.Len())
}

// Tail returns a copy of the newest n labels, oldest first. n is clamped to Len().
func (b *Buffer) Tail(n int) []model.Label {
	size := b.Len()
	if n > size {
		n = size
	}
	if n < 0 {
		n = 0
	}
	out := make([]model.Label, n)
	for i := 0; i < n; i++ {
		out[i] = b.at(size - n + i)
	}
	return out
}

// at returns the i-th label counting from the oldest.
func (b *Buffer) at(i int) model.Label {
	if !b.full {
		return b.buf[i]
	}
	return b.buf[(b.pos+i)%len(b.buf)]
}
