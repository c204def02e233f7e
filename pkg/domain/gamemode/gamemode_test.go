package gamemode

import "testing"

func TestParseRoundTrip(t *testing.T) {
	for _, m := range Modes() {
		got, err := Parse(m.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", m.String(), err)
		}
		if got != m {
			t.Errorf("Parse(%q) = %v, want %v", m.String(), got, m)
		}
	}

	if _, err := Parse("iidx:48K"); err == nil {
		t.Error("expected error for unknown mode identifier")
	}
}

func TestEnumIndexOrdering(t *testing.T) {
	sp, ok := SpecFor(ModeIIDXSP)
	if !ok {
		t.Fatal("no spec for iidx:SP")
	}
	lamp, ok := sp.Schema("lamp")
	if !ok {
		t.Fatal("iidx:SP has no lamp schema")
	}

	failed, ok := lamp.EnumIndex("FAILED")
	if !ok {
		t.Fatal("FAILED not a legal lamp")
	}
	hardClear, ok := lamp.EnumIndex("HARD CLEAR")
	if !ok {
		t.Fatal("HARD CLEAR not a legal lamp")
	}
	if failed >= hardClear {
		t.Errorf("lamp ordering broken: FAILED=%d, HARD CLEAR=%d", failed, hardClear)
	}

	if _, ok := lamp.EnumIndex("PERFECT"); ok {
		t.Error("illegal lamp resolved to an index")
	}
}

func TestEverySpecIsInternallyConsistent(t *testing.T) {
	for _, m := range Modes() {
		sp, ok := SpecFor(m)
		if !ok {
			t.Fatalf("mode %s has no spec", m)
		}
		if _, ok := sp.Schema(sp.Primary); !ok {
			t.Errorf("%s: primary metric %q has no schema", m, sp.Primary)
		}
		for _, dim := range sp.Dimensions {
			if _, ok := sp.Schema(dim); !ok {
				t.Errorf("%s: dimension %q has no schema", m, dim)
			}
		}
		for _, set := range [][]MetricSchema{sp.Required, sp.Optional, sp.Derived} {
			for _, s := range set {
				if s.Kind == KindEnum && len(s.Values) == 0 {
					t.Errorf("%s: enum metric %q has no legal values", m, s.Name)
				}
				if s.Kind != KindEnum && len(s.Values) != 0 {
					t.Errorf("%s: numeric metric %q carries enum values", m, s.Name)
				}
			}
		}
	}
}

func TestModesForGame(t *testing.T) {
	iidx := ModesForGame("iidx")
	if len(iidx) != 2 {
		t.Fatalf("iidx modes = %v, want SP and DP", iidx)
	}
	if len(ModesForGame("pump")) != 0 {
		t.Error("unknown game returned modes")
	}
}
