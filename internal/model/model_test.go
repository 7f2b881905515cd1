package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParsePattern(t *testing.T) {
	p, err := ParsePattern([]string{"hl", "HH", " ll "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Key() != "HL,HH,LL" {
		t.Errorf("Key() = %q, want HL,HH,LL", p.Key())
	}
	if p.String() != "[HL,HH,LL]" {
		t.Errorf("String() = %q", p.String())
	}

	if _, err := ParsePattern([]string{"HH", "XX"}); err == nil {
		t.Error("expected error for unknown label")
	}
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("m5")
	if err != nil || tf != M5 {
		t.Fatalf("ParseTimeframe(m5) = %q, %v", tf, err)
	}
	if tf.Duration() != 5*time.Minute {
		t.Errorf("M5 duration = %v", tf.Duration())
	}
	if _, err := ParseTimeframe("M7"); err == nil {
		t.Error("expected error for M7")
	}
}

func TestPivotKind_JSON(t *testing.T) {
	p := Pivot{Index: 3, Price: 1.5, Kind: PivotLow}
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	var back Pivot
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back.Kind != PivotLow {
		t.Errorf("kind round trip: got %v", back.Kind)
	}
	if _, err := PivotKind(0).MarshalText(); err == nil {
		t.Error("expected error for zero kind")
	}
}

func TestNewAlert_PivotsTail(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var pivots []Pivot
	for i := 0; i < 15; i++ {
		kind := PivotHigh
		if i%2 == 1 {
			kind = PivotLow
		}
		pivots = append(pivots, Pivot{Index: i * 4, Price: float64(100 + i), Kind: kind, Time: base.Add(time.Duration(i) * time.Hour)})
	}

	a := NewAlert("XAUUSD", M5, Pattern{HL, HH}, []Label{HL, HH}, 2011.5, pivots, 10, base)

	if a.Event != EventPatternDetected {
		t.Errorf("event = %q", a.Event)
	}
	if a.ID == "" {
		t.Error("expected alert id")
	}
	if len(a.PivotsTail) != 10 {
		t.Fatalf("expected 10 pivots in tail, got %d", len(a.PivotsTail))
	}
	if a.PivotsTail[0].Index != 20 || a.PivotsTail[9].Index != 56 {
		t.Errorf("unexpected tail bounds: first=%d last=%d", a.PivotsTail[0].Index, a.PivotsTail[9].Index)
	}
	if a.PivotsTail[0].TimeUTC != "2026-03-02T14:00:00Z" {
		t.Errorf("time_utc = %s", a.PivotsTail[0].TimeUTC)
	}
	if a.Title() != "XAUUSD M5 pattern [HL,HH]" {
		t.Errorf("Title() = %q", a.Title())
	}
}

func TestNewAlert_FewerPivotsThanTail(t *testing.T) {
	pivots := []Pivot{{Index: 1, Price: 3, Kind: PivotHigh}}
	a := NewAlert("EURUSD", H1, Pattern{HH}, []Label{HH}, 1.1, pivots, 10, time.Now())
	if len(a.PivotsTail) != 1 {
		t.Fatalf("expected 1 pivot, got %d", len(a.PivotsTail))
	}
	if a.PivotsTail[0].Kind != "H" {
		t.Errorf("kind = %q", a.PivotsTail[0].Kind)
	}
}
