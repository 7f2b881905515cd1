package model

import (
	"fmt"
	"strings"
)

// Label classifies a pivot against the previous pivot of the same kind.
type Label string

const (
	HH Label = "HH" // higher high
	HL Label = "HL" // higher low
	LH Label = "LH" // lower high
	LL Label = "LL" // lower low
)

// ParseLabel parses a label, case-insensitively.
func ParseLabel(s string) (Label, error) {
	switch l := Label(strings.ToUpper(strings.TrimSpace(s))); l {
	case HH, HL, LH, LL:
		return l, nil
	default:
		return "", fmt.Errorf("unknown label %q (want HH, HL, LH or LL)", s)
	}
}

// Pattern is an ordered label sequence to look for at the tail of the buffer.
type Pattern []Label

// ParsePattern parses a configured pattern such as ["HL", "HH", "LL"].
func ParsePattern(parts []string) (Pattern, error) {
	p := make(Pattern, 0, len(parts))
	for i, s := range parts {
		l, err := ParseLabel(s)
		if err != nil {
			return nil, fmt.Errorf("pattern element %d: %w", i, err)
		}
		p = append(p, l)
	}
	return p, nil
}

// Key returns a stable string form, used as part of alert fingerprints.
func (p Pattern) Key() string {
	parts := make([]string, len(p))
	for i, l := range p {
		parts[i] = string(l)
	}
	return strings.Join(parts, ",")
}

func (p Pattern) String() string {
	return "[" + p.Key() + "]"
}

// Strings returns the pattern as plain strings (payload form).
func (p Pattern) Strings() []string {
	out := make([]string, len(p))
	for i, l := range p {
		out[i] = string(l)
	}
	return out
}
