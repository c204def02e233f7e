// Package personalbest builds the composite best record per (user, chart).
// The base is the best score on the mode's primary metric; every other
// tracked dimension is spliced in from whichever score is strictly better on
// it, with provenance recorded per dimension.
package personalbest

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	shared "github.com/kyoku-gg/server/pkg"
	"github.com/kyoku-gg/server/pkg/domain/gamemode"
	"github.com/kyoku-gg/server/pkg/types"
)

// mergeFunc carries mode-specific extras onto the composite after the
// generic dimension splice. It may read any score in the set.
type mergeFunc func(pb *types.PersonalBestRecord, scores []*types.PersistedScore)

var modeMergers = map[gamemode.Mode]mergeFunc{
	gamemode.ModeIIDXSP: iidxMerge,
	gamemode.ModeIIDXDP: iidxMerge,
	gamemode.ModeSDVX:   sdvxMerge,
}

// metricRank is the comparable magnitude of a metric on a score: the enum
// index for categorical metrics, the numeric value otherwise.
func metricRank(schema gamemode.MetricSchema, metrics types.Metrics, indexes map[string]int, name string) (float64, bool) {
	v, ok := metrics[name]
	if !ok {
		return 0, false
	}
	if schema.Kind == gamemode.KindEnum {
		idx, ok := indexes[name]
		if !ok {
			return 0, false
		}
		return float64(idx), true
	}
	return v.Num, true
}

// bestOn picks the score with the highest rank on a metric. Ties keep the
// earlier score in the slice, which callers sort newest-last, so the
// longest-standing score wins ties.
func bestOn(sp gamemode.Spec, scores []*types.PersistedScore, name string) (*types.PersistedScore, error) {
	schema, ok := sp.Schema(name)
	if !ok {
		return nil, shared.Integrityf("mode %s tracks unknown PB dimension %q", sp.Mode, name)
	}

	var best *types.PersistedScore
	var bestRank float64
	for _, s := range scores {
		rank, ok := metricRank(schema, s.Metrics, s.EnumIndexes, name)
		if !ok {
			continue
		}
		if best == nil || rank > bestRank {
			best = s
			bestRank = rank
		}
	}
	if best == nil {
		return nil, shared.Integrityf("no score carries metric %q on chart %s", name, scores[0].ChartID)
	}
	return best, nil
}

// Build composes the PB record for one chart from all of the user's scores
// on it. The score set must be non-empty and share one (user, chart, mode).
func Build(scores []*types.PersistedScore) (*types.PersonalBestRecord, error) {
	if len(scores) == 0 {
		return nil, fmt.Errorf("cannot build a personal best from zero scores")
	}
	mode := scores[0].Mode
	sp, ok := gamemode.SpecFor(mode)
	if !ok {
		return nil, fmt.Errorf("no metric spec for mode %s", mode)
	}

	base, err := bestOn(sp, scores, sp.Primary)
	if err != nil {
		return nil, err
	}

	pb := &types.PersonalBestRecord{
		UserID:       base.UserID,
		ChartID:      base.ChartID,
		SongID:       base.SongID,
		Mode:         mode,
		ComposedFrom: map[string]string{sp.Primary: base.ScoreID},
		Metrics:      base.Metrics.Clone(),
		EnumIndexes:  make(map[string]int, len(base.EnumIndexes)),
	}
	for k, v := range base.EnumIndexes {
		pb.EnumIndexes[k] = v
	}

	for _, dim := range sp.Dimensions {
		winner, err := bestOn(sp, scores, dim)
		if err != nil {
			return nil, err
		}
		if winner.ScoreID == base.ScoreID {
			continue
		}
		schema, _ := sp.Schema(dim)
		winnerRank, _ := metricRank(schema, winner.Metrics, winner.EnumIndexes, dim)
		baseRank, ok := metricRank(schema, pb.Metrics, pb.EnumIndexes, dim)
		// Splice only a strict improvement over what the base carries.
		if ok && winnerRank <= baseRank {
			continue
		}
		pb.Metrics[dim] = winner.Metrics[dim]
		if schema.Kind == gamemode.KindEnum {
			pb.EnumIndexes[dim] = winner.EnumIndexes[dim]
		}
		pb.ComposedFrom[dim] = winner.ScoreID
	}

	// Aggregates across the whole score set.
	for _, s := range scores {
		if s.Comment != "" {
			pb.Comments = append(pb.Comments, s.Comment)
		}
		pb.Highlight = pb.Highlight || s.Highlight
		if s.TimeAchieved > pb.TimeAchieved {
			pb.TimeAchieved = s.TimeAchieved
		}
	}

	if merge, ok := modeMergers[mode]; ok {
		merge(pb, scores)
	}
	return pb, nil
}

// iidxMerge carries the lowest recorded breakpoint count onto the composite.
func iidxMerge(pb *types.PersonalBestRecord, scores []*types.PersistedScore) {
	var best *float64
	for _, s := range scores {
		v, ok := s.Metrics["bp"]
		if !ok {
			continue
		}
		if best == nil || v.Num < *best {
			n := v.Num
			best = &n
		}
	}
	if best != nil {
		pb.Metrics["bp"] = types.Num(*best)
	}
}

// sdvxMerge carries the highest EX score seen, which need not come from the
// score-PB play.
func sdvxMerge(pb *types.PersonalBestRecord, scores []*types.PersistedScore) {
	var best *float64
	for _, s := range scores {
		v, ok := s.Metrics["exScore"]
		if !ok {
			continue
		}
		if best == nil || v.Num > *best {
			n := v.Num
			best = &n
		}
	}
	if best != nil {
		pb.Metrics["exScore"] = types.Num(*best)
	}
}

// Engine recomputes and persists personal bests for touched charts.
type Engine struct {
	db     shared.Database
	logger *slog.Logger
}

func NewEngine(db shared.Database, logger *slog.Logger) *Engine {
	return &Engine{db: db, logger: logger}
}

// Process rebuilds the PB for every chart in chartIDs and writes only the
// records that actually changed. Rebuilding from an unchanged score set is a
// no-op, so reprocessing is idempotent. Returns the chart IDs whose PB
// changed.
func (e *Engine) Process(ctx context.Context, userID string, chartIDs []string) ([]string, error) {
	var changed []string
	for _, chartID := range chartIDs {
		scores, err := e.db.ScoresOnChart(ctx, userID, chartID)
		if err != nil {
			return changed, fmt.Errorf("loading scores on chart %s: %w", chartID, err)
		}
		if len(scores) == 0 {
			return changed, shared.Integrityf("chart %s marked touched but has no scores for %s", chartID, userID)
		}

		pb, err := Build(scores)
		if err != nil {
			return changed, fmt.Errorf("building PB for chart %s: %w", chartID, err)
		}

		existing, err := e.db.GetPersonalBest(ctx, userID, chartID)
		if err != nil {
			return changed, fmt.Errorf("loading existing PB for chart %s: %w", chartID, err)
		}
		if existing != nil && reflect.DeepEqual(existing, pb) {
			continue
		}

		if err := e.db.SetPersonalBest(ctx, pb); err != nil {
			return changed, fmt.Errorf("writing PB for chart %s: %w", chartID, err)
		}
		changed = append(changed, chartID)
	}

	if len(changed) > 0 {
		e.logger.InfoContext(ctx, "personal bests updated",
			"user_id", userID, "charts", len(changed))
	}
	return changed, nil
}
