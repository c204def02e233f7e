package goals

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	shared "github.com/kyoku-gg/server/pkg"
	"github.com/kyoku-gg/server/pkg/domain/gamemode"
	"github.com/kyoku-gg/server/pkg/infrastructure/pubsub"
	"github.com/kyoku-gg/server/pkg/testing/mocks"
	"github.com/kyoku-gg/server/pkg/types"
)

func testEngine(db *mocks.MockDatabase, catalog *mocks.MockChartCatalog, pub *mocks.MockPublisher) *Engine {
	if catalog == nil {
		catalog = &mocks.MockChartCatalog{}
	}
	if pub == nil {
		pub = &mocks.MockPublisher{}
	}
	e := NewEngine(db, catalog, pub, slog.New(slog.DiscardHandler))
	e.now = func() time.Time { return time.UnixMilli(5_000_000) }
	return e
}

func lampGoal() *types.Goal {
	return &types.Goal{
		GoalID: "goal-1",
		Name:   "HARD CLEAR chart-1",
		Mode:   gamemode.ModeIIDXSP,
		Charts: types.GoalCharts{Type: types.GoalChartsSingle, ChartIDs: []string{"chart-1"}},
		Criteria: types.GoalCriteria{
			Key:   "lamp",
			Value: 5, // HARD CLEAR
			Mode:  types.CriteriaSingle,
		},
	}
}

func lampSub(progress float64, achieved bool) *types.GoalSubscription {
	p := progress
	return &types.GoalSubscription{
		GoalID:   "goal-1",
		UserID:   "user-1",
		Mode:     gamemode.ModeIIDXSP,
		Progress: &p,
		OutOf:    5,
		Achieved: achieved,
	}
}

func pbWithLamp(idx int) *types.PersonalBestRecord {
	return &types.PersonalBestRecord{
		UserID:  "user-1",
		ChartID: "chart-1",
		Mode:    gamemode.ModeIIDXSP,
		Metrics: types.Metrics{
			"lamp":    types.Enum(""),
			"percent": types.Num(80),
		},
		EnumIndexes: map[string]int{"lamp": idx},
	}
}

func TestGetAndUpdateAchievement(t *testing.T) {
	ctx := context.Background()
	var updates []shared.SubUpdate
	var published []string

	db := &mocks.MockDatabase{
		GetGoalSubscriptionsFunc: func(_ context.Context, _ string, _ gamemode.Mode) ([]*types.GoalSubscription, error) {
			return []*types.GoalSubscription{lampSub(4, false)}, nil
		},
		GetGoalsByIDFunc: func(_ context.Context, _ []string) ([]*types.Goal, error) {
			return []*types.Goal{lampGoal()}, nil
		},
		BestPersonalBestFunc: func(_ context.Context, q shared.PBQuery) (*types.PersonalBestRecord, error) {
			return pbWithLamp(6), nil // EX HARD CLEAR
		},
		BulkUpdateGoalSubsFunc: func(_ context.Context, u []shared.SubUpdate) error {
			updates = u
			return nil
		},
	}
	var payload []byte
	pub := &mocks.MockPublisher{
		PublishFunc: func(_ context.Context, topic string, data []byte) (string, error) {
			published = append(published, topic)
			payload = data
			return "msg-1", nil
		},
	}

	e := testEngine(db, nil, pub)
	diffs, progress, err := e.GetAndUpdate(ctx, "user-1", gamemode.ModeIIDXSP, []string{"chart-1"})
	if err != nil {
		t.Fatal(err)
	}

	if len(diffs) != 1 {
		t.Fatalf("diffs = %v, want one transition", diffs)
	}
	if !diffs[0].New.Achieved || diffs[0].Old.Achieved {
		t.Errorf("diff does not show an achievement transition: %+v", diffs[0])
	}
	p, ok := progress["goal-1"]
	if !ok || p.Progress == nil || *p.Progress != 6 {
		t.Errorf("progress map missing evaluated goal: %+v", progress)
	}

	if len(updates) != 1 {
		t.Fatalf("updates = %v, want one", updates)
	}
	data := updates[0].Data
	if data["achieved"] != true {
		t.Errorf("achieved not written: %v", data)
	}
	if data["time_achieved"] != int64(5_000_000) {
		t.Errorf("time_achieved = %v, want batch timestamp", data["time_achieved"])
	}

	if len(published) != 1 || published[0] != shared.TopicGoalsAchieved {
		t.Errorf("published topics = %v", published)
	}

	// The payload is a CloudEvent envelope around the achievement data.
	var envelope struct {
		Type   string `json:"type"`
		Source string `json:"source"`
		Data   struct {
			UserID  string   `json:"userId"`
			GoalIDs []string `json:"goalIds"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		t.Fatalf("payload is not a CloudEvent: %v", err)
	}
	if envelope.Type != pubsub.EventTypeGoalsAchieved || envelope.Source != pubsub.EventSourceImporter {
		t.Errorf("envelope = %s from %s", envelope.Type, envelope.Source)
	}
	if envelope.Data.UserID != "user-1" || len(envelope.Data.GoalIDs) != 1 {
		t.Errorf("envelope data = %+v", envelope.Data)
	}
}

func TestGetAndUpdateNoOpSkip(t *testing.T) {
	ctx := context.Background()
	var wroteSubs, publishedAny bool

	db := &mocks.MockDatabase{
		GetGoalSubscriptionsFunc: func(_ context.Context, _ string, _ gamemode.Mode) ([]*types.GoalSubscription, error) {
			return []*types.GoalSubscription{lampSub(4, false)}, nil
		},
		GetGoalsByIDFunc: func(_ context.Context, _ []string) ([]*types.Goal, error) {
			return []*types.Goal{lampGoal()}, nil
		},
		BestPersonalBestFunc: func(_ context.Context, _ shared.PBQuery) (*types.PersonalBestRecord, error) {
			return pbWithLamp(4), nil // unchanged
		},
		BulkUpdateGoalSubsFunc: func(_ context.Context, _ []shared.SubUpdate) error {
			wroteSubs = true
			return nil
		},
	}
	pub := &mocks.MockPublisher{
		PublishFunc: func(_ context.Context, _ string, _ []byte) (string, error) {
			publishedAny = true
			return "", nil
		},
	}

	e := testEngine(db, nil, pub)
	diffs, progress, err := e.GetAndUpdate(ctx, "user-1", gamemode.ModeIIDXSP, []string{"chart-1"})
	if err != nil {
		t.Fatal(err)
	}

	if len(diffs) != 0 {
		t.Errorf("unchanged goal produced diffs: %v", diffs)
	}
	if wroteSubs {
		t.Error("unchanged goal caused a subscription write")
	}
	if publishedAny {
		t.Error("unchanged goal published an event")
	}
	// Still evaluated, still in the progress map for the milestone engine.
	if _, ok := progress["goal-1"]; !ok {
		t.Error("evaluated goal missing from progress map")
	}
}

func TestGetAndUpdateLostAchievement(t *testing.T) {
	ctx := context.Background()
	var updates []shared.SubUpdate

	db := &mocks.MockDatabase{
		GetGoalSubscriptionsFunc: func(_ context.Context, _ string, _ gamemode.Mode) ([]*types.GoalSubscription, error) {
			return []*types.GoalSubscription{lampSub(6, true)}, nil
		},
		GetGoalsByIDFunc: func(_ context.Context, _ []string) ([]*types.Goal, error) {
			return []*types.Goal{lampGoal()}, nil
		},
		BestPersonalBestFunc: func(_ context.Context, _ shared.PBQuery) (*types.PersonalBestRecord, error) {
			return pbWithLamp(4), nil // regressed below threshold
		},
		BulkUpdateGoalSubsFunc: func(_ context.Context, u []shared.SubUpdate) error {
			updates = u
			return nil
		},
	}

	e := testEngine(db, nil, nil)
	diffs, _, err := e.GetAndUpdate(ctx, "user-1", gamemode.ModeIIDXSP, []string{"chart-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(diffs) != 1 || diffs[0].New.Achieved {
		t.Fatalf("expected a lost-achievement diff: %v", diffs)
	}

	data := updates[0].Data
	if data["achieved"] != false {
		t.Errorf("achieved = %v, want false", data["achieved"])
	}
	if data["time_achieved"] != nil {
		t.Errorf("time_achieved = %v, want cleared", data["time_achieved"])
	}
	if data["was_instantly_achieved"] != false {
		t.Errorf("was_instantly_achieved = %v, want false", data["was_instantly_achieved"])
	}
}

func TestGetAndUpdateIrrelevantChartSkipped(t *testing.T) {
	ctx := context.Background()
	evaluated := false

	db := &mocks.MockDatabase{
		GetGoalSubscriptionsFunc: func(_ context.Context, _ string, _ gamemode.Mode) ([]*types.GoalSubscription, error) {
			return []*types.GoalSubscription{lampSub(4, false)}, nil
		},
		GetGoalsByIDFunc: func(_ context.Context, _ []string) ([]*types.Goal, error) {
			return []*types.Goal{lampGoal()}, nil
		},
		BestPersonalBestFunc: func(_ context.Context, _ shared.PBQuery) (*types.PersonalBestRecord, error) {
			evaluated = true
			return pbWithLamp(7), nil
		},
	}

	e := testEngine(db, nil, nil)
	diffs, progress, err := e.GetAndUpdate(ctx, "user-1", gamemode.ModeIIDXSP, []string{"chart-other"})
	if err != nil {
		t.Fatal(err)
	}
	if evaluated || len(diffs) != 0 || len(progress) != 0 {
		t.Error("goal on an untouched chart was evaluated")
	}
}

func TestGetAndUpdateMissingGoalSkipped(t *testing.T) {
	ctx := context.Background()
	var updates []shared.SubUpdate

	sane := lampGoal()
	sane.GoalID = "goal-sane"
	saneSub := lampSub(4, false)
	saneSub.GoalID = "goal-sane"

	db := &mocks.MockDatabase{
		GetGoalSubscriptionsFunc: func(_ context.Context, _ string, _ gamemode.Mode) ([]*types.GoalSubscription, error) {
			return []*types.GoalSubscription{lampSub(4, false), saneSub}, nil
		},
		GetGoalsByIDFunc: func(_ context.Context, _ []string) ([]*types.Goal, error) {
			// goal-1 is gone; only the second subscription resolves.
			return []*types.Goal{sane}, nil
		},
		BestPersonalBestFunc: func(_ context.Context, _ shared.PBQuery) (*types.PersonalBestRecord, error) {
			return pbWithLamp(6), nil
		},
		BulkUpdateGoalSubsFunc: func(_ context.Context, u []shared.SubUpdate) error {
			updates = u
			return nil
		},
	}

	e := testEngine(db, nil, nil)
	diffs, progress, err := e.GetAndUpdate(ctx, "user-1", gamemode.ModeIIDXSP, []string{"chart-1"})
	if err != nil {
		t.Fatalf("dangling subscription should be skipped, got %v", err)
	}
	if len(diffs) != 1 || diffs[0].GoalID != "goal-sane" {
		t.Fatalf("diffs = %v, want only the resolvable goal", diffs)
	}
	if _, ok := progress["goal-1"]; ok {
		t.Error("dangling subscription was evaluated")
	}
	if len(updates) != 1 || updates[0].ID != "goal-sane" {
		t.Errorf("updates = %v, want only the resolvable goal", updates)
	}
}

func TestGetAndUpdateMalformedGoalSkipped(t *testing.T) {
	ctx := context.Background()
	var updates []shared.SubUpdate

	broken := lampGoal()
	broken.Criteria.Mode = "gibberish"
	sane := lampGoal()
	sane.GoalID = "goal-sane"
	saneSub := lampSub(4, false)
	saneSub.GoalID = "goal-sane"

	db := &mocks.MockDatabase{
		GetGoalSubscriptionsFunc: func(_ context.Context, _ string, _ gamemode.Mode) ([]*types.GoalSubscription, error) {
			return []*types.GoalSubscription{lampSub(4, false), saneSub}, nil
		},
		GetGoalsByIDFunc: func(_ context.Context, _ []string) ([]*types.Goal, error) {
			return []*types.Goal{broken, sane}, nil
		},
		BestPersonalBestFunc: func(_ context.Context, _ shared.PBQuery) (*types.PersonalBestRecord, error) {
			return pbWithLamp(6), nil
		},
		BulkUpdateGoalSubsFunc: func(_ context.Context, u []shared.SubUpdate) error {
			updates = u
			return nil
		},
	}

	e := testEngine(db, nil, nil)
	diffs, _, err := e.GetAndUpdate(ctx, "user-1", gamemode.ModeIIDXSP, []string{"chart-1"})
	if err != nil {
		t.Fatalf("malformed goal should be skipped, got %v", err)
	}
	if len(diffs) != 1 || diffs[0].GoalID != "goal-sane" {
		t.Fatalf("diffs = %v, want only the well-formed goal", diffs)
	}
	if len(updates) != 1 || updates[0].ID != "goal-sane" {
		t.Errorf("updates = %v, want only the well-formed goal", updates)
	}
}

func TestGetAndUpdateUnknownChartsTypeSkipped(t *testing.T) {
	ctx := context.Background()
	broken := lampGoal()
	broken.Charts.Type = "constellation"

	db := &mocks.MockDatabase{
		GetGoalSubscriptionsFunc: func(_ context.Context, _ string, _ gamemode.Mode) ([]*types.GoalSubscription, error) {
			return []*types.GoalSubscription{lampSub(4, false)}, nil
		},
		GetGoalsByIDFunc: func(_ context.Context, _ []string) ([]*types.Goal, error) {
			return []*types.Goal{broken}, nil
		},
	}

	e := testEngine(db, nil, nil)
	diffs, progress, err := e.GetAndUpdate(ctx, "user-1", gamemode.ModeIIDXSP, []string{"chart-1"})
	if err != nil {
		t.Fatalf("unknown charts type should be skipped, got %v", err)
	}
	if len(diffs) != 0 || len(progress) != 0 {
		t.Errorf("broken goal produced output: diffs=%v progress=%v", diffs, progress)
	}
}

func TestEvaluateAbsolute(t *testing.T) {
	ctx := context.Background()
	goal := &types.Goal{
		GoalID: "goal-abs",
		Mode:   gamemode.ModeIIDXSP,
		Charts: types.GoalCharts{Type: types.GoalChartsMulti, ChartIDs: []string{"c1", "c2", "c3"}},
		Criteria: types.GoalCriteria{
			Key:      "lamp",
			Value:    5,
			Mode:     types.CriteriaAbsolute,
			CountNum: 2,
		},
	}

	db := &mocks.MockDatabase{
		CountPersonalBestsFunc: func(_ context.Context, q shared.PBQuery) (int, error) {
			if q.GTE == nil || *q.GTE != 5 {
				t.Errorf("query threshold = %v, want 5", q.GTE)
			}
			return 2, nil
		},
	}

	e := testEngine(db, nil, nil)
	p, err := e.Evaluate(ctx, "user-1", goal)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Achieved || *p.Progress != 2 || p.OutOf != 2 {
		t.Errorf("progress = %+v", p)
	}
}

func TestEvaluateProportionOverFolder(t *testing.T) {
	ctx := context.Background()
	goal := &types.Goal{
		GoalID: "goal-prop",
		Mode:   gamemode.ModeIIDXSP,
		Charts: types.GoalCharts{Type: types.GoalChartsFolder, FolderID: "folder-12"},
		Criteria: types.GoalCriteria{
			Key:      "lamp",
			Value:    4,
			Mode:     types.CriteriaProportion,
			CountNum: 0.5,
		},
	}

	catalog := &mocks.MockChartCatalog{
		MembersOfFunc: func(_ context.Context, folderID string) ([]string, error) {
			return []string{"c1", "c2", "c3", "c4", "c5"}, nil
		},
	}
	db := &mocks.MockDatabase{
		CountPersonalBestsFunc: func(_ context.Context, _ shared.PBQuery) (int, error) {
			return 2, nil
		},
	}

	e := testEngine(db, catalog, nil)
	p, err := e.Evaluate(ctx, "user-1", goal)
	if err != nil {
		t.Fatal(err)
	}
	// floor(0.5 * 5) = 2 required.
	if p.OutOf != 2 || !p.Achieved {
		t.Errorf("progress = %+v, want outOf 2 achieved", p)
	}
}

func TestHumaniseValue(t *testing.T) {
	sp, _ := gamemode.SpecFor(gamemode.ModeIIDXSP)
	lamp, _ := sp.Schema("lamp")
	percent, _ := sp.Schema("percent")

	tests := []struct {
		schema gamemode.MetricSchema
		value  float64
		want   string
	}{
		{lamp, 5, "HARD CLEAR"},
		{lamp, 0, "NO PLAY"},
		{lamp, 99, "99"},
		{percent, 88.882, "88.88"},
		{percent, 100, "100"},
	}
	for _, tt := range tests {
		if got := HumaniseValue(tt.schema, tt.value); got != tt.want {
			t.Errorf("HumaniseValue(%s, %v) = %q, want %q", tt.schema.Name, tt.value, got, tt.want)
		}
	}
}
