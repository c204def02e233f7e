package identity

import (
	"strings"
	"testing"

	"github.com/kyoku-gg/server/pkg/domain/gamemode"
	"github.com/kyoku-gg/server/pkg/types"
)

func iidxMetrics(score float64, lamp string) types.Metrics {
	return types.Metrics{
		"score": types.Num(score),
		"lamp":  types.Enum(lamp),
	}
}

func TestAssignScoreIDDeterministic(t *testing.T) {
	a, err := AssignScoreID("user-1", "chart-1", gamemode.ModeIIDXSP, iidxMetrics(2400, "CLEAR"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := AssignScoreID("user-1", "chart-1", gamemode.ModeIIDXSP, iidxMetrics(2400, "CLEAR"))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("same play hashed differently: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "S") {
		t.Errorf("score identity %s missing S prefix", a)
	}
}

func TestAssignScoreIDDiscriminates(t *testing.T) {
	base, _ := AssignScoreID("user-1", "chart-1", gamemode.ModeIIDXSP, iidxMetrics(2400, "CLEAR"))

	variants := map[string]func() (string, error){
		"different user": func() (string, error) {
			return AssignScoreID("user-2", "chart-1", gamemode.ModeIIDXSP, iidxMetrics(2400, "CLEAR"))
		},
		"different chart": func() (string, error) {
			return AssignScoreID("user-1", "chart-2", gamemode.ModeIIDXSP, iidxMetrics(2400, "CLEAR"))
		},
		"different mode": func() (string, error) {
			return AssignScoreID("user-1", "chart-1", gamemode.ModeIIDXDP, iidxMetrics(2400, "CLEAR"))
		},
		"different score": func() (string, error) {
			return AssignScoreID("user-1", "chart-1", gamemode.ModeIIDXSP, iidxMetrics(2401, "CLEAR"))
		},
		"different lamp": func() (string, error) {
			return AssignScoreID("user-1", "chart-1", gamemode.ModeIIDXSP, iidxMetrics(2400, "HARD CLEAR"))
		},
	}
	for name, fn := range variants {
		id, err := fn()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if id == base {
			t.Errorf("%s collided with the base identity", name)
		}
	}
}

func TestAssignScoreIDIgnoresNonIdentityMetrics(t *testing.T) {
	base, _ := AssignScoreID("user-1", "chart-1", gamemode.ModeIIDXSP, iidxMetrics(2400, "CLEAR"))

	withTelemetry := iidxMetrics(2400, "CLEAR")
	withTelemetry["bp"] = types.Num(12)
	withTelemetry["gauge"] = types.Num(88.5)
	got, err := AssignScoreID("user-1", "chart-1", gamemode.ModeIIDXSP, withTelemetry)
	if err != nil {
		t.Fatal(err)
	}
	if got != base {
		t.Error("cosmetic telemetry changed the score identity")
	}
}

func TestAssignScoreIDMissingRequiredMetric(t *testing.T) {
	_, err := AssignScoreID("user-1", "chart-1", gamemode.ModeIIDXSP, types.Metrics{
		"score": types.Num(2400),
	})
	if err == nil {
		t.Fatal("expected error for missing required lamp")
	}
}

func TestHashContent(t *testing.T) {
	a := HashContent("O", []byte("user-1"), []byte("payload"))
	b := HashContent("O", []byte("user-1"), []byte("payload"))
	if a != b {
		t.Error("equal content hashed differently")
	}
	if !strings.HasPrefix(a, "O") {
		t.Errorf("hash %s missing prefix", a)
	}
	// Segment boundaries matter: ("ab","c") and ("a","bc") are distinct.
	if HashContent("O", []byte("ab"), []byte("c")) == HashContent("O", []byte("a"), []byte("bc")) {
		t.Error("segment boundary not part of the hash")
	}
}
