// Package goals evaluates declarative per-user targets after an import.
// Only goals whose chart set intersects the batch's touched charts are
// re-evaluated, and a subscription is rewritten only when its progress
// actually moved.
package goals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	shared "github.com/kyoku-gg/server/pkg"
	"github.com/kyoku-gg/server/pkg/domain/gamemode"
	"github.com/kyoku-gg/server/pkg/infrastructure/pubsub"
	"github.com/kyoku-gg/server/pkg/types"
)

// Engine evaluates goal subscriptions against personal bests.
type Engine struct {
	db      shared.Database
	catalog shared.ChartCatalog
	pub     shared.Publisher
	logger  *slog.Logger
	now     func() time.Time
}

func NewEngine(db shared.Database, catalog shared.ChartCatalog, pub shared.Publisher, logger *slog.Logger) *Engine {
	return &Engine{db: db, catalog: catalog, pub: pub, logger: logger, now: time.Now}
}

// AchievedEvent is the payload published when a batch newly achieves goals.
type AchievedEvent struct {
	UserID  string           `json:"userId"`
	Mode    string           `json:"mode"`
	GoalIDs []string         `json:"goalIds"`
	Diffs   []types.GoalDiff `json:"diffs"`
}

// defError marks a goal whose stored definition cannot be evaluated: an
// unknown charts type, an unknown criteria mode, a criterion naming a metric
// the mode does not have. Such goals are skipped individually; one bad goal
// row never aborts the batch.
type defError struct {
	msg string
}

func (e *defError) Error() string { return e.msg }

func defErrorf(format string, args ...interface{}) error {
	return &defError{msg: fmt.Sprintf(format, args...)}
}

func isDefError(err error) bool {
	var de *defError
	return errors.As(err, &de)
}

// GetAndUpdate re-evaluates the user's goal subscriptions touched by this
// batch. It returns the transitions plus a goalID-to-progress map covering
// every evaluated goal, which the milestone engine consumes.
func (e *Engine) GetAndUpdate(ctx context.Context, userID string, mode gamemode.Mode, touchedCharts []string) ([]types.GoalDiff, map[string]types.GoalProgress, error) {
	subs, err := e.db.GetGoalSubscriptions(ctx, userID, mode)
	if err != nil {
		return nil, nil, fmt.Errorf("loading goal subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil, nil, nil
	}

	goalIDs := make([]string, 0, len(subs))
	for _, s := range subs {
		goalIDs = append(goalIDs, s.GoalID)
	}
	goalList, err := e.db.GetGoalsByID(ctx, goalIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("loading goals: %w", err)
	}
	goalsByID := make(map[string]*types.Goal, len(goalList))
	for _, g := range goalList {
		goalsByID[g.GoalID] = g
	}

	touched := make(map[string]bool, len(touchedCharts))
	for _, c := range touchedCharts {
		touched[c] = true
	}

	var (
		diffs     []types.GoalDiff
		progress  = make(map[string]types.GoalProgress)
		updates   []shared.SubUpdate
		achieved  []string
		nowMillis = e.now().UnixMilli()
	)

	for _, sub := range subs {
		goal, ok := goalsByID[sub.GoalID]
		if !ok {
			// A dangling subscription only poisons itself.
			e.logger.ErrorContext(ctx, "skipping subscription to missing goal",
				"user_id", userID, "goal_id", sub.GoalID)
			continue
		}

		relevant, err := e.relevant(ctx, goal, touched)
		if err != nil {
			if isDefError(err) {
				e.logger.ErrorContext(ctx, "skipping malformed goal",
					"user_id", userID, "goal_id", goal.GoalID, "error", err)
				continue
			}
			return nil, nil, err
		}
		if !relevant {
			continue
		}

		newP, err := e.Evaluate(ctx, userID, goal)
		if err != nil {
			if isDefError(err) {
				e.logger.ErrorContext(ctx, "skipping malformed goal",
					"user_id", userID, "goal_id", goal.GoalID, "error", err)
				continue
			}
			return nil, nil, fmt.Errorf("evaluating goal %s: %w", goal.GoalID, err)
		}
		progress[goal.GoalID] = newP

		oldP := types.GoalProgress{
			Progress:      sub.Progress,
			ProgressHuman: sub.ProgressHuman,
			OutOf:         sub.OutOf,
			OutOfHuman:    sub.OutOfHuman,
			Achieved:      sub.Achieved,
		}
		if progressEqual(oldP, newP) {
			continue
		}

		data := map[string]interface{}{
			"progress":         newP.Progress,
			"progress_human":   newP.ProgressHuman,
			"out_of":           newP.OutOf,
			"out_of_human":     newP.OutOfHuman,
			"achieved":         newP.Achieved,
			"last_interaction": nowMillis,
		}
		switch {
		case newP.Achieved && !sub.Achieved:
			data["time_achieved"] = nowMillis
			achieved = append(achieved, goal.GoalID)
		case !newP.Achieved && sub.Achieved:
			// Losing an achievement resets its achievement metadata.
			data["time_achieved"] = nil
			data["was_instantly_achieved"] = false
			e.logger.WarnContext(ctx, "goal achievement lost",
				"user_id", userID, "goal_id", goal.GoalID)
		}
		updates = append(updates, shared.SubUpdate{UserID: userID, ID: goal.GoalID, Data: data})
		diffs = append(diffs, types.GoalDiff{GoalID: goal.GoalID, Old: oldP, New: newP})
	}

	if len(updates) > 0 {
		if err := e.db.BulkUpdateGoalSubs(ctx, updates); err != nil {
			return nil, nil, fmt.Errorf("writing goal subscriptions: %w", err)
		}
	}

	if len(achieved) > 0 {
		event, err := pubsub.NewCloudEvent(pubsub.EventSourceImporter, pubsub.EventTypeGoalsAchieved, AchievedEvent{
			UserID: userID, Mode: mode.String(), GoalIDs: achieved, Diffs: diffs,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("building goals-achieved event: %w", err)
		}
		payload, err := json.Marshal(event)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding goals-achieved event: %w", err)
		}
		if _, err := e.pub.Publish(ctx, shared.TopicGoalsAchieved, payload); err != nil {
			// Notification loss is not worth failing the batch over.
			e.logger.ErrorContext(ctx, "publishing goals-achieved event failed",
				"user_id", userID, "error", err)
		}
	}

	return diffs, progress, nil
}

func progressEqual(a, b types.GoalProgress) bool {
	if (a.Progress == nil) != (b.Progress == nil) {
		return false
	}
	if a.Progress != nil && *a.Progress != *b.Progress {
		return false
	}
	return a.OutOf == b.OutOf && a.Achieved == b.Achieved
}

// relevant reports whether a goal's chart set intersects the touched set.
func (e *Engine) relevant(ctx context.Context, goal *types.Goal, touched map[string]bool) (bool, error) {
	switch goal.Charts.Type {
	case types.GoalChartsAny:
		return true, nil
	case types.GoalChartsSingle, types.GoalChartsMulti:
		for _, c := range goal.Charts.ChartIDs {
			if touched[c] {
				return true, nil
			}
		}
		return false, nil
	case types.GoalChartsFolder:
		members, err := e.catalog.MembersOf(ctx, goal.Charts.FolderID)
		if err != nil {
			return false, fmt.Errorf("resolving folder %s: %w", goal.Charts.FolderID, err)
		}
		for _, c := range members {
			if touched[c] {
				return true, nil
			}
		}
		return false, nil
	}
	return false, defErrorf("goal %s has unknown charts type %q", goal.GoalID, goal.Charts.Type)
}

// chartSet materializes the goal's target chart IDs. Nil means "every chart
// in the mode".
func (e *Engine) chartSet(ctx context.Context, goal *types.Goal) ([]string, error) {
	switch goal.Charts.Type {
	case types.GoalChartsSingle, types.GoalChartsMulti:
		return goal.Charts.ChartIDs, nil
	case types.GoalChartsFolder:
		return e.catalog.MembersOf(ctx, goal.Charts.FolderID)
	case types.GoalChartsAny:
		return nil, nil
	}
	return nil, defErrorf("goal %s has unknown charts type %q", goal.GoalID, goal.Charts.Type)
}

// Evaluate computes a goal's current progress for a user from personal
// bests alone.
func (e *Engine) Evaluate(ctx context.Context, userID string, goal *types.Goal) (types.GoalProgress, error) {
	sp, ok := gamemode.SpecFor(goal.Mode)
	if !ok {
		return types.GoalProgress{}, defErrorf("goal %s targets unknown mode %s", goal.GoalID, goal.Mode)
	}
	schema, ok := sp.Schema(goal.Criteria.Key)
	if !ok {
		return types.GoalProgress{}, defErrorf("goal %s criterion names unknown metric %q", goal.GoalID, goal.Criteria.Key)
	}

	charts, err := e.chartSet(ctx, goal)
	if err != nil {
		return types.GoalProgress{}, err
	}

	q := shared.PBQuery{
		UserID:   userID,
		Mode:     goal.Mode,
		ChartIDs: charts,
		Key:      goal.Criteria.Key,
	}

	switch goal.Criteria.Mode {
	case types.CriteriaSingle:
		return e.evaluateSingle(ctx, q, goal, schema)
	case types.CriteriaAbsolute:
		return e.evaluateCounted(ctx, q, goal, schema, goal.Criteria.CountNum)
	case types.CriteriaProportion:
		outOf, err := e.proportionTarget(ctx, goal, charts)
		if err != nil {
			return types.GoalProgress{}, err
		}
		return e.evaluateCounted(ctx, q, goal, schema, outOf)
	}
	return types.GoalProgress{}, defErrorf("goal %s has unknown criteria mode %q", goal.GoalID, goal.Criteria.Mode)
}

// evaluateSingle: the user's best value on the key across the set, measured
// against the criterion value.
func (e *Engine) evaluateSingle(ctx context.Context, q shared.PBQuery, goal *types.Goal, schema gamemode.MetricSchema) (types.GoalProgress, error) {
	best, err := e.db.BestPersonalBest(ctx, q)
	if err != nil {
		return types.GoalProgress{}, fmt.Errorf("querying best PB: %w", err)
	}

	p := types.GoalProgress{
		OutOf:      goal.Criteria.Value,
		OutOfHuman: HumaniseValue(schema, goal.Criteria.Value),
	}
	if best == nil {
		p.ProgressHuman = "NO DATA"
		return p, nil
	}

	val, ok := rankOf(schema, best, goal.Criteria.Key)
	if !ok {
		return p, fmt.Errorf("personal best on %s lacks metric %q", best.ChartID, goal.Criteria.Key)
	}
	p.Progress = &val
	p.ProgressHuman = HumaniseValue(schema, val)
	p.Achieved = val >= goal.Criteria.Value
	return p, nil
}

// evaluateCounted: how many charts in the set meet the threshold, against a
// required count.
func (e *Engine) evaluateCounted(ctx context.Context, q shared.PBQuery, goal *types.Goal, schema gamemode.MetricSchema, outOf float64) (types.GoalProgress, error) {
	threshold := goal.Criteria.Value
	q.GTE = &threshold

	count, err := e.db.CountPersonalBests(ctx, q)
	if err != nil {
		return types.GoalProgress{}, fmt.Errorf("counting qualifying PBs: %w", err)
	}

	progress := float64(count)
	return types.GoalProgress{
		Progress:      &progress,
		ProgressHuman: fmt.Sprintf("%d", count),
		OutOf:         outOf,
		OutOfHuman:    fmt.Sprintf("%d", int(outOf)),
		Achieved:      progress >= outOf,
	}, nil
}

// proportionTarget resolves a 0..1 multiplier into a concrete chart count.
func (e *Engine) proportionTarget(ctx context.Context, goal *types.Goal, charts []string) (float64, error) {
	size := len(charts)
	if charts == nil {
		n, err := e.catalog.CountCharts(ctx, goal.Mode)
		if err != nil {
			return 0, fmt.Errorf("sizing chart pool for %s: %w", goal.Mode, err)
		}
		size = n
	}
	return math.Floor(goal.Criteria.CountNum * float64(size)), nil
}

func rankOf(schema gamemode.MetricSchema, pb *types.PersonalBestRecord, key string) (float64, bool) {
	if schema.Kind == gamemode.KindEnum {
		idx, ok := pb.EnumIndexes[key]
		return float64(idx), ok
	}
	v, ok := pb.Metrics[key]
	return v.Num, ok
}
