package kyokubatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	shared "github.com/kyoku-gg/server/pkg"
	"github.com/kyoku-gg/server/pkg/domain/gamemode"
	"github.com/kyoku-gg/server/pkg/testing/mocks"
	"github.com/kyoku-gg/server/pkg/types"
)

func resolveKnown(chartID string) *mocks.MockChartCatalog {
	return &mocks.MockChartCatalog{
		ResolveFunc: func(_ context.Context, mode gamemode.Mode, ref types.ChartRef) (*types.Chart, *types.Song, error) {
			if ref.ChartID != chartID {
				return nil, nil, nil
			}
			return &types.Chart{ChartID: chartID, SongID: "song-1", Mode: mode},
				&types.Song{SongID: "song-1", Title: "Song"}, nil
		},
	}
}

func TestConvertValid(t *testing.T) {
	c := New(resolveKnown("chart-1"))
	data := json.RawMessage(`{
		"mode": "iidx:SP",
		"chartId": "chart-1",
		"score": 2400,
		"lamp": "HARD CLEAR",
		"optional": {"bp": 12},
		"comment": "finally"
	}`)

	res, failure := c.Convert(context.Background(), slog.New(slog.DiscardHandler), data, nil)
	if failure != nil {
		t.Fatalf("unexpected failure: %v", failure)
	}

	if res.Score.Mode != gamemode.ModeIIDXSP {
		t.Errorf("mode = %v", res.Score.Mode)
	}
	if res.Score.Metrics["score"].Num != 2400 {
		t.Errorf("score = %v", res.Score.Metrics["score"])
	}
	if res.Score.Metrics["lamp"].Enum != "HARD CLEAR" {
		t.Errorf("lamp = %v", res.Score.Metrics["lamp"])
	}
	if res.Score.Metrics["bp"].Num != 12 {
		t.Errorf("bp = %v", res.Score.Metrics["bp"])
	}
	if res.Chart.ChartID != "chart-1" {
		t.Errorf("chart = %v", res.Chart.ChartID)
	}
}

func TestConvertInvalid(t *testing.T) {
	c := New(resolveKnown("chart-1"))
	tests := []struct {
		name string
		data string
	}{
		{"malformed json", `{`},
		{"bad mode", `{"mode":"pump:Single","chartId":"chart-1","score":1,"lamp":"CLEAR"}`},
		{"missing score", `{"mode":"iidx:SP","chartId":"chart-1","lamp":"CLEAR"}`},
		{"illegal lamp", `{"mode":"iidx:SP","chartId":"chart-1","score":1,"lamp":"PERFECT"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, failure := c.Convert(context.Background(), slog.New(slog.DiscardHandler), json.RawMessage(tt.data), nil)
			if failure == nil {
				t.Fatal("expected failure")
			}
			if failure.Kind != shared.FailureInvalid {
				t.Errorf("kind = %v, want Invalid", failure.Kind)
			}
		})
	}
}

func TestConvertUnknownChartOrphans(t *testing.T) {
	c := New(resolveKnown("chart-1"))
	data := json.RawMessage(`{
		"mode": "iidx:SP",
		"chartId": "chart-unknown",
		"score": 2400,
		"lamp": "CLEAR",
		"chartDef": {
			"chartId": "chart-unknown",
			"songId": "song-new",
			"songTitle": "New Song",
			"difficulty": "ANOTHER",
			"level": "12",
			"data": {"notecount": 1500}
		}
	}`)

	_, failure := c.Convert(context.Background(), slog.New(slog.DiscardHandler), data, json.RawMessage(`{"src":"test"}`))
	if failure == nil {
		t.Fatal("expected failure")
	}
	if failure.Kind != shared.FailureDataNotFound {
		t.Fatalf("kind = %v, want DataNotFound", failure.Kind)
	}
	if len(failure.Data) == 0 {
		t.Error("failure does not carry the raw payload for the orphan store")
	}
	if failure.ChartDef == nil || failure.ChartDef.Chart.ChartID != "chart-unknown" {
		t.Errorf("chart definition not carried: %+v", failure.ChartDef)
	}
	if failure.ChartDef.Chart.Mode != gamemode.ModeIIDXSP {
		t.Errorf("chart definition mode = %v", failure.ChartDef.Chart.Mode)
	}
}
