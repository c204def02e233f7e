// Package milestones rolls goal outcomes up into N-of-M targets. Milestone
// progress is counted purely from the goal transitions of the current batch:
// goals the batch did not touch keep whatever they contributed before, which
// is already reflected in the stored subscription.
package milestones

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	shared "github.com/kyoku-gg/server/pkg"
	"github.com/kyoku-gg/server/pkg/domain/gamemode"
	"github.com/kyoku-gg/server/pkg/infrastructure/pubsub"
	"github.com/kyoku-gg/server/pkg/types"
)

// Engine re-evaluates milestone subscriptions from a batch's goal outcomes.
type Engine struct {
	db     shared.Database
	pub    shared.Publisher
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(db shared.Database, pub shared.Publisher, logger *slog.Logger) *Engine {
	return &Engine{db: db, pub: pub, logger: logger, now: time.Now}
}

// AchievedEvent is published when a batch completes milestones.
type AchievedEvent struct {
	UserID       string                `json:"userId"`
	Mode         string                `json:"mode"`
	MilestoneIDs []string              `json:"milestoneIds"`
	Diffs        []types.MilestoneDiff `json:"diffs"`
}

// Update recomputes milestone progress for the user from the batch's
// evaluated goals. goalProgress is the goalID-to-progress map the goal
// engine produced; milestones none of whose goals appear in it are left
// untouched.
func (e *Engine) Update(ctx context.Context, userID string, mode gamemode.Mode, goalProgress map[string]types.GoalProgress) ([]types.MilestoneDiff, error) {
	if len(goalProgress) == 0 {
		return nil, nil
	}

	subs, err := e.db.GetMilestoneSubscriptions(ctx, userID, mode)
	if err != nil {
		return nil, fmt.Errorf("loading milestone subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.MilestoneID)
	}
	list, err := e.db.GetMilestonesByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading milestones: %w", err)
	}
	byID := make(map[string]*types.Milestone, len(list))
	for _, m := range list {
		byID[m.MilestoneID] = m
	}

	var (
		diffs     []types.MilestoneDiff
		updates   []shared.SubUpdate
		achieved  []string
		nowMillis = e.now().UnixMilli()
	)

	for _, sub := range subs {
		ms, ok := byID[sub.MilestoneID]
		if !ok {
			return nil, shared.Integrityf("subscription for %s references missing milestone %s", userID, sub.MilestoneID)
		}

		// Count achieved member goals among those this batch evaluated.
		// Members absent from the batch contribute nothing new; the stored
		// progress already includes their prior state, so only positive
		// movement from this batch is applied.
		var touched, nowAchieved int
		for _, goalID := range ms.GoalIDs {
			p, ok := goalProgress[goalID]
			if !ok {
				continue
			}
			touched++
			if p.Achieved {
				nowAchieved++
			}
		}
		if touched == 0 {
			continue
		}

		progress := sub.Progress
		if nowAchieved > progress {
			progress = nowAchieved
		}
		outOf := ms.OutOf()
		isAchieved := sub.Achieved || progress >= outOf

		if progress == sub.Progress && isAchieved == sub.Achieved {
			continue
		}

		data := map[string]interface{}{
			"progress":         progress,
			"achieved":         isAchieved,
			"last_interaction": nowMillis,
		}
		updates = append(updates, shared.SubUpdate{UserID: userID, ID: ms.MilestoneID, Data: data})
		diffs = append(diffs, types.MilestoneDiff{
			MilestoneID: ms.MilestoneID,
			Old:         types.MilestoneProgress{Progress: sub.Progress, Achieved: sub.Achieved},
			New:         types.MilestoneProgress{Progress: progress, Achieved: isAchieved},
		})
		if isAchieved && !sub.Achieved {
			achieved = append(achieved, ms.MilestoneID)
		}
	}

	if len(updates) > 0 {
		if err := e.db.BulkUpdateMilestoneSubs(ctx, updates); err != nil {
			return nil, fmt.Errorf("writing milestone subscriptions: %w", err)
		}
	}

	if len(achieved) > 0 {
		event, err := pubsub.NewCloudEvent(pubsub.EventSourceImporter, pubsub.EventTypeMilestoneAchieved, AchievedEvent{
			UserID: userID, Mode: mode.String(), MilestoneIDs: achieved, Diffs: diffs,
		})
		if err != nil {
			return nil, fmt.Errorf("building milestone-achieved event: %w", err)
		}
		payload, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("encoding milestone-achieved event: %w", err)
		}
		if _, err := e.pub.Publish(ctx, shared.TopicMilestoneAchieved, payload); err != nil {
			e.logger.ErrorContext(ctx, "publishing milestone-achieved event failed",
				"user_id", userID, "error", err)
		}
	}

	return diffs, nil
}
