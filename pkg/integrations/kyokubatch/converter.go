// Package kyokubatch converts records in the native batch-manual format:
// client-submitted JSON where each record names its mode, chart reference
// and primary metrics directly. Records may attach a chart definition, which
// feeds the unverified chart queue when the reference is unknown.
package kyokubatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	shared "github.com/kyoku-gg/server/pkg"
	"github.com/kyoku-gg/server/pkg/domain/gamemode"
	"github.com/kyoku-gg/server/pkg/types"
)

const ImportTypeName = "file/kyoku-batch"

// record is the wire shape of one batch-manual score.
type record struct {
	Mode         string             `json:"mode"`
	ChartID      string             `json:"chartId,omitempty"`
	SongTitle    string             `json:"songTitle,omitempty"`
	Difficulty   string             `json:"difficulty,omitempty"`
	Comment      string             `json:"comment,omitempty"`
	TimeAchieved int64              `json:"timeAchieved,omitempty"`
	Score        *float64           `json:"score,omitempty"`
	Lamp         string             `json:"lamp,omitempty"`
	Optional     map[string]float64 `json:"optional,omitempty"`

	// ChartDef may describe the chart when the submitter knows the catalog
	// is missing it.
	ChartDef *chartDef `json:"chartDef,omitempty"`
}

type chartDef struct {
	ChartID    string             `json:"chartId"`
	SongID     string             `json:"songId"`
	SongTitle  string             `json:"songTitle"`
	Artist     string             `json:"artist"`
	Difficulty string             `json:"difficulty"`
	Level      string             `json:"level"`
	Data       map[string]float64 `json:"data"`
}

type Converter struct {
	catalog shared.ChartCatalog
}

func New(catalog shared.ChartCatalog) *Converter {
	return &Converter{catalog: catalog}
}

func (c *Converter) ImportType() string { return ImportTypeName }

func (c *Converter) Convert(ctx context.Context, logger *slog.Logger, data json.RawMessage, importContext json.RawMessage) (*shared.ConverterResult, *shared.ConverterFailure) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &shared.ConverterFailure{
			Kind:    shared.FailureInvalid,
			Message: fmt.Sprintf("malformed record: %v", err),
		}
	}

	mode, err := gamemode.Parse(rec.Mode)
	if err != nil {
		return nil, &shared.ConverterFailure{
			Kind:    shared.FailureInvalid,
			Message: fmt.Sprintf("unknown mode %q", rec.Mode),
		}
	}
	if rec.Score == nil || rec.Lamp == "" {
		return nil, &shared.ConverterFailure{
			Kind:    shared.FailureInvalid,
			Message: "record is missing score or lamp",
		}
	}

	sp, _ := gamemode.SpecFor(mode)
	lampSchema, _ := sp.Schema("lamp")
	if _, ok := lampSchema.EnumIndex(rec.Lamp); !ok {
		return nil, &shared.ConverterFailure{
			Kind:    shared.FailureInvalid,
			Message: fmt.Sprintf("illegal lamp %q for %s", rec.Lamp, mode),
		}
	}

	ref := types.ChartRef{ChartID: rec.ChartID, SongTitle: rec.SongTitle, Difficulty: rec.Difficulty}
	chart, song, err := c.catalog.Resolve(ctx, mode, ref)
	if err != nil {
		return nil, &shared.ConverterFailure{
			Kind:    shared.FailureInternal,
			Message: fmt.Sprintf("catalog lookup: %v", err),
		}
	}
	if chart == nil {
		failure := &shared.ConverterFailure{
			Kind:    shared.FailureDataNotFound,
			Message: fmt.Sprintf("chart %s not in catalog", describeRef(ref)),
			Data:    data,
			Context: importContext,
		}
		if rec.ChartDef != nil {
			failure.ChartDef = &shared.UnverifiedChartDef{
				Chart: types.Chart{
					ChartID:    rec.ChartDef.ChartID,
					SongID:     rec.ChartDef.SongID,
					Mode:       mode,
					Difficulty: rec.ChartDef.Difficulty,
					Level:      rec.ChartDef.Level,
					Data:       rec.ChartDef.Data,
				},
				Song: types.Song{
					SongID: rec.ChartDef.SongID,
					Title:  rec.ChartDef.SongTitle,
					Artist: rec.ChartDef.Artist,
				},
			}
		}
		return nil, failure
	}

	metrics := types.Metrics{
		"score": types.Num(*rec.Score),
		"lamp":  types.Enum(rec.Lamp),
	}
	for name, v := range rec.Optional {
		schema, ok := sp.Schema(name)
		if !ok || schema.Kind == gamemode.KindEnum {
			logger.DebugContext(ctx, "unknown optional metric dropped",
				"metric", name, "mode", mode.String())
			continue
		}
		metrics[name] = types.Num(v)
	}

	return &shared.ConverterResult{
		Score: &types.CanonicalScore{
			Mode:         mode,
			Service:      "kyoku-batch",
			Comment:      rec.Comment,
			TimeAchieved: rec.TimeAchieved,
			Metrics:      metrics,
		},
		Chart: chart,
		Song:  song,
	}, nil
}

func describeRef(ref types.ChartRef) string {
	if ref.ChartID != "" {
		return ref.ChartID
	}
	return fmt.Sprintf("%q [%s]", ref.SongTitle, ref.Difficulty)
}
