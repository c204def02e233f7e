package milestones

import (
	"context"
	"log/slog"
	"testing"
	"time"

	shared "github.com/kyoku-gg/server/pkg"
	"github.com/kyoku-gg/server/pkg/domain/gamemode"
	"github.com/kyoku-gg/server/pkg/testing/mocks"
	"github.com/kyoku-gg/server/pkg/types"
)

func progressMap(entries map[string]bool) map[string]types.GoalProgress {
	out := make(map[string]types.GoalProgress, len(entries))
	for id, achieved := range entries {
		out[id] = types.GoalProgress{Achieved: achieved}
	}
	return out
}

func fixture(sub *types.MilestoneSubscription, ms *types.Milestone) (*Engine, *[]shared.SubUpdate, *[]string) {
	var updates []shared.SubUpdate
	var published []string

	db := &mocks.MockDatabase{
		GetMilestoneSubscriptionsFunc: func(_ context.Context, _ string, _ gamemode.Mode) ([]*types.MilestoneSubscription, error) {
			return []*types.MilestoneSubscription{sub}, nil
		},
		GetMilestonesByIDFunc: func(_ context.Context, _ []string) ([]*types.Milestone, error) {
			if ms == nil {
				return nil, nil
			}
			return []*types.Milestone{ms}, nil
		},
		BulkUpdateMilestoneSubsFunc: func(_ context.Context, u []shared.SubUpdate) error {
			updates = append(updates, u...)
			return nil
		},
	}
	pub := &mocks.MockPublisher{
		PublishFunc: func(_ context.Context, topic string, _ []byte) (string, error) {
			published = append(published, topic)
			return "msg-1", nil
		},
	}

	e := NewEngine(db, pub, slog.New(slog.DiscardHandler))
	e.now = func() time.Time { return time.UnixMilli(7_000_000) }
	return e, &updates, &published
}

func TestUpdateTwoOfThreeAchieves(t *testing.T) {
	ctx := context.Background()
	sub := &types.MilestoneSubscription{
		MilestoneID: "ms-1", UserID: "user-1", Mode: gamemode.ModeIIDXSP,
		Progress: 1,
	}
	ms := &types.Milestone{
		MilestoneID: "ms-1", Mode: gamemode.ModeIIDXSP,
		GoalIDs: []string{"g1", "g2", "g3"}, RequiredCount: 2,
	}
	e, updates, published := fixture(sub, ms)

	diffs, err := e.Update(ctx, "user-1", gamemode.ModeIIDXSP,
		progressMap(map[string]bool{"g1": true, "g2": true, "g3": false}))
	if err != nil {
		t.Fatal(err)
	}

	if len(diffs) != 1 {
		t.Fatalf("diffs = %v, want one", diffs)
	}
	d := diffs[0]
	if !d.New.Achieved || d.New.Progress != 2 {
		t.Errorf("new progress = %+v, want achieved at 2", d.New)
	}
	if d.Old.Achieved || d.Old.Progress != 1 {
		t.Errorf("old progress = %+v", d.Old)
	}

	if len(*updates) != 1 || (*updates)[0].Data["achieved"] != true {
		t.Errorf("updates = %v", *updates)
	}
	if len(*published) != 1 || (*published)[0] != shared.TopicMilestoneAchieved {
		t.Errorf("published = %v", *published)
	}
}

func TestUpdateBelowThresholdNoEvent(t *testing.T) {
	ctx := context.Background()
	sub := &types.MilestoneSubscription{
		MilestoneID: "ms-1", UserID: "user-1", Mode: gamemode.ModeIIDXSP,
	}
	ms := &types.Milestone{
		MilestoneID: "ms-1", Mode: gamemode.ModeIIDXSP,
		GoalIDs: []string{"g1", "g2", "g3"}, // required = all 3
	}
	e, updates, published := fixture(sub, ms)

	diffs, err := e.Update(ctx, "user-1", gamemode.ModeIIDXSP,
		progressMap(map[string]bool{"g1": true, "g2": true}))
	if err != nil {
		t.Fatal(err)
	}

	if len(diffs) != 1 || diffs[0].New.Achieved {
		t.Fatalf("diffs = %v, want unachieved progress movement", diffs)
	}
	if diffs[0].New.Progress != 2 {
		t.Errorf("progress = %d, want 2", diffs[0].New.Progress)
	}
	if len(*updates) != 1 {
		t.Errorf("progress movement not written: %v", *updates)
	}
	if len(*published) != 0 {
		t.Errorf("unachieved milestone published an event: %v", *published)
	}
}

func TestUpdateUntouchedMilestoneSkipped(t *testing.T) {
	ctx := context.Background()
	sub := &types.MilestoneSubscription{
		MilestoneID: "ms-1", UserID: "user-1", Mode: gamemode.ModeIIDXSP, Progress: 1,
	}
	ms := &types.Milestone{
		MilestoneID: "ms-1", Mode: gamemode.ModeIIDXSP,
		GoalIDs: []string{"g1", "g2"},
	}
	e, updates, _ := fixture(sub, ms)

	diffs, err := e.Update(ctx, "user-1", gamemode.ModeIIDXSP,
		progressMap(map[string]bool{"g-unrelated": true}))
	if err != nil {
		t.Fatal(err)
	}
	if len(diffs) != 0 || len(*updates) != 0 {
		t.Errorf("milestone with no touched goals was updated: %v %v", diffs, *updates)
	}
}

func TestUpdateProgressNeverRegresses(t *testing.T) {
	ctx := context.Background()
	sub := &types.MilestoneSubscription{
		MilestoneID: "ms-1", UserID: "user-1", Mode: gamemode.ModeIIDXSP, Progress: 2,
	}
	ms := &types.Milestone{
		MilestoneID: "ms-1", Mode: gamemode.ModeIIDXSP,
		GoalIDs: []string{"g1", "g2", "g3"}, RequiredCount: 3,
	}
	e, updates, _ := fixture(sub, ms)

	// Only one member evaluated this batch, and it is achieved. That is
	// less than the stored count, which already reflects past batches.
	diffs, err := e.Update(ctx, "user-1", gamemode.ModeIIDXSP,
		progressMap(map[string]bool{"g1": true}))
	if err != nil {
		t.Fatal(err)
	}
	if len(diffs) != 0 || len(*updates) != 0 {
		t.Errorf("stored progress regressed: %v", diffs)
	}
}

func TestUpdateMissingMilestoneIsFatal(t *testing.T) {
	ctx := context.Background()
	sub := &types.MilestoneSubscription{
		MilestoneID: "ms-ghost", UserID: "user-1", Mode: gamemode.ModeIIDXSP,
	}
	e, _, _ := fixture(sub, nil)

	_, err := e.Update(ctx, "user-1", gamemode.ModeIIDXSP,
		progressMap(map[string]bool{"g1": true}))
	if err == nil {
		t.Fatal("expected integrity error for missing milestone")
	}
	if _, ok := err.(*shared.IntegrityError); !ok {
		t.Fatalf("expected IntegrityError, got %T: %v", err, err)
	}
}
