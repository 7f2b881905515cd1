package model

import (
	"fmt"
	"time"
)

// PivotKind tells whether a pivot is a swing high or a swing low.
type PivotKind int

const (
	PivotHigh PivotKind = iota + 1
	PivotLow
)

// String returns "H" or "L".
func (k PivotKind) String() string {
	switch k {
	case PivotHigh:
		return "H"
	case PivotLow:
		return "L"
	default:
		return "?"
	}
}

// Valid reports whether k is one of the two known kinds.
func (k PivotKind) Valid() bool {
	return k == PivotHigh || k == PivotLow
}

// MarshalText encodes the kind as "H"/"L".
func (k PivotKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid pivot kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes "H"/"L".
func (k *PivotKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "H":
		*k = PivotHigh
	case "L":
		*k = PivotLow
	default:
		return fmt.Errorf("invalid pivot kind %q", string(b))
	}
	return nil
}

// Pivot is a confirmed zigzag turning point.
type Pivot struct {
	Index int       `json:"index"` // position in the bar series
	Price float64   `json:"price"`
	Kind  PivotKind `json:"kind"`
	Time  time.Time `json:"time"`
}
