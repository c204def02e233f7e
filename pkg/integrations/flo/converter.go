// Package flo converts score exports from the FLO network API. FLO serves
// IIDX scores keyed by its own chart IDs, which the import context maps onto
// catalog chart IDs.
package flo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	shared "github.com/kyoku-gg/server/pkg"
	"github.com/kyoku-gg/server/pkg/domain/gamemode"
	"github.com/kyoku-gg/server/pkg/types"
)

const ImportTypeName = "api/flo-iidx"

// record is one score row from the FLO export payload.
type record struct {
	FloChartID string `json:"chart_id"`
	Playtype   string `json:"play_style"` // "SP" or "DP"
	ExScore    int    `json:"ex_score"`
	ClearType  int    `json:"clear_type"` // FLO's 0..7 clear scale
	MissCount  *int   `json:"miss_count"`
	Timestamp  int64  `json:"updated_at"` // unix ms
}

// importContext carries the FLO-to-catalog chart ID mapping the sync job
// resolved ahead of the batch.
type importContext struct {
	ChartMap map[string]string `json:"chartMap"`
}

// FLO's clear_type scale happens to index the same worst-to-best order as
// the lamp enum.
var clearTypeLamps = []string{
	"NO PLAY", "FAILED", "ASSIST CLEAR", "EASY CLEAR", "CLEAR",
	"HARD CLEAR", "EX HARD CLEAR", "FULL COMBO",
}

type Converter struct {
	catalog shared.ChartCatalog
}

func New(catalog shared.ChartCatalog) *Converter {
	return &Converter{catalog: catalog}
}

func (c *Converter) ImportType() string { return ImportTypeName }

func (c *Converter) Convert(ctx context.Context, logger *slog.Logger, data json.RawMessage, rawContext json.RawMessage) (*shared.ConverterResult, *shared.ConverterFailure) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &shared.ConverterFailure{
			Kind:    shared.FailureInvalid,
			Message: fmt.Sprintf("malformed FLO record: %v", err),
		}
	}

	var mode gamemode.Mode
	switch rec.Playtype {
	case "SP":
		mode = gamemode.ModeIIDXSP
	case "DP":
		mode = gamemode.ModeIIDXDP
	default:
		// FLO also exports modes this pipeline does not track.
		return nil, &shared.ConverterFailure{
			Kind:    shared.FailureNotSupported,
			Message: fmt.Sprintf("play style %q not tracked", rec.Playtype),
		}
	}

	if rec.ClearType < 0 || rec.ClearType >= len(clearTypeLamps) {
		return nil, &shared.ConverterFailure{
			Kind:    shared.FailureInvalid,
			Message: fmt.Sprintf("clear_type %d out of range", rec.ClearType),
		}
	}
	if rec.ClearType == 0 {
		// NO PLAY rows are chart unlock noise, not scores.
		return nil, &shared.ConverterFailure{
			Kind:    shared.FailureNotSupported,
			Message: "NO PLAY row",
		}
	}

	var ictx importContext
	if len(rawContext) > 0 {
		if err := json.Unmarshal(rawContext, &ictx); err != nil {
			return nil, &shared.ConverterFailure{
				Kind:    shared.FailureInternal,
				Message: fmt.Sprintf("malformed import context: %v", err),
			}
		}
	}

	chartID := ictx.ChartMap[rec.FloChartID]
	if chartID == "" {
		return nil, &shared.ConverterFailure{
			Kind:    shared.FailureDataNotFound,
			Message: fmt.Sprintf("FLO chart %s has no catalog mapping", rec.FloChartID),
			Data:    data,
			Context: rawContext,
		}
	}

	chart, song, err := c.catalog.Resolve(ctx, mode, types.ChartRef{ChartID: chartID})
	if err != nil {
		return nil, &shared.ConverterFailure{
			Kind:    shared.FailureInternal,
			Message: fmt.Sprintf("catalog lookup: %v", err),
		}
	}
	if chart == nil {
		return nil, &shared.ConverterFailure{
			Kind:    shared.FailureDataNotFound,
			Message: fmt.Sprintf("chart %s not in catalog", chartID),
			Data:    data,
			Context: rawContext,
		}
	}

	metrics := types.Metrics{
		"score": types.Num(float64(rec.ExScore)),
		"lamp":  types.Enum(clearTypeLamps[rec.ClearType]),
	}
	if rec.MissCount != nil && *rec.MissCount >= 0 {
		metrics["bp"] = types.Num(float64(*rec.MissCount))
	}

	return &shared.ConverterResult{
		Score: &types.CanonicalScore{
			Mode:         mode,
			Service:      "flo",
			TimeAchieved: rec.Timestamp,
			Metrics:      metrics,
		},
		Chart: chart,
		Song:  song,
	}, nil
}
