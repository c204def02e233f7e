package types

import "github.com/kyoku-gg/server/pkg/domain/gamemode"

// GoalChartsType selects how a goal targets charts.
type GoalChartsType string

const (
	GoalChartsSingle GoalChartsType = "single"
	GoalChartsMulti  GoalChartsType = "multi"
	GoalChartsFolder GoalChartsType = "folder"
	GoalChartsAny    GoalChartsType = "any"
)

// GoalCriteriaMode selects how a goal's criterion is counted.
type GoalCriteriaMode string

const (
	// CriteriaSingle: at least one chart in the target set meets the
	// threshold.
	CriteriaSingle GoalCriteriaMode = "single"

	// CriteriaAbsolute: at least CountNum charts meet the threshold.
	CriteriaAbsolute GoalCriteriaMode = "absolute"

	// CriteriaProportion: at least CountNum (a 0..1 multiplier of the target
	// set size) charts meet the threshold.
	CriteriaProportion GoalCriteriaMode = "proportion"
)

// GoalCharts is a goal's chart selector.
type GoalCharts struct {
	Type     GoalChartsType `firestore:"type" json:"type"`
	ChartIDs []string       `firestore:"chart_ids,omitempty" json:"chartIds,omitempty"`
	FolderID string         `firestore:"folder_id,omitempty" json:"folderId,omitempty"`
}

// GoalCriteria is a goal's metric criterion. Key names a metric of the
// goal's mode; enum metrics compare on their enum index.
type GoalCriteria struct {
	Key      string           `firestore:"key" json:"key"`
	Value    float64          `firestore:"value" json:"value"`
	Mode     GoalCriteriaMode `firestore:"mode" json:"mode"`
	CountNum float64          `firestore:"count_num,omitempty" json:"countNum,omitempty"`
}

// Goal is a declarative, subscribable target.
type Goal struct {
	GoalID   string        `firestore:"goal_id" json:"goalId"`
	Name     string        `firestore:"name" json:"name"`
	Mode     gamemode.Mode `firestore:"mode" json:"mode"`
	Charts   GoalCharts    `firestore:"charts" json:"charts"`
	Criteria GoalCriteria  `firestore:"criteria" json:"criteria"`
}

// GoalProgress is the evaluated state written onto a subscription.
type GoalProgress struct {
	Progress      *float64 `firestore:"progress" json:"progress"`
	ProgressHuman string   `firestore:"progress_human" json:"progressHuman"`
	OutOf         float64  `firestore:"out_of" json:"outOf"`
	OutOfHuman    string   `firestore:"out_of_human" json:"outOfHuman"`
	Achieved      bool     `firestore:"achieved" json:"achieved"`
}

// GoalSubscription is a user's subscription to a goal. Mutated only when
// progress or outOf actually changes.
type GoalSubscription struct {
	GoalID               string        `firestore:"goal_id" json:"goalId"`
	UserID               string        `firestore:"user_id" json:"userId"`
	Mode                 gamemode.Mode `firestore:"mode" json:"mode"`
	Progress             *float64      `firestore:"progress" json:"progress"`
	ProgressHuman        string        `firestore:"progress_human" json:"progressHuman"`
	OutOf                float64       `firestore:"out_of" json:"outOf"`
	OutOfHuman           string        `firestore:"out_of_human" json:"outOfHuman"`
	Achieved             bool          `firestore:"achieved" json:"achieved"`
	TimeAchieved         *int64        `firestore:"time_achieved" json:"timeAchieved"`
	LastInteraction      *int64        `firestore:"last_interaction" json:"lastInteraction"`
	WasInstantlyAchieved bool          `firestore:"was_instantly_achieved" json:"wasInstantlyAchieved"`
}

// GoalDiff reports one goal subscription transition from a batch.
type GoalDiff struct {
	GoalID string       `firestore:"goal_id" json:"goalId"`
	Old    GoalProgress `firestore:"old" json:"old"`
	New    GoalProgress `firestore:"new" json:"new"`
}

// Milestone is an N-of-M rollup over member goals. RequiredCount of 0 means
// every member goal is required.
type Milestone struct {
	MilestoneID   string        `firestore:"milestone_id" json:"milestoneId"`
	Name          string        `firestore:"name" json:"name"`
	Mode          gamemode.Mode `firestore:"mode" json:"mode"`
	GoalIDs       []string      `firestore:"goal_ids" json:"goalIds"`
	RequiredCount int           `firestore:"required_count" json:"requiredCount"`
}

// OutOf resolves the milestone's effective threshold.
func (m *Milestone) OutOf() int {
	if m.RequiredCount > 0 {
		return m.RequiredCount
	}
	return len(m.GoalIDs)
}

// MilestoneProgress is the per-user milestone state.
type MilestoneProgress struct {
	Progress int  `firestore:"progress" json:"progress"`
	Achieved bool `firestore:"achieved" json:"achieved"`
}

// MilestoneSubscription is a user's subscription to a milestone.
type MilestoneSubscription struct {
	MilestoneID     string        `firestore:"milestone_id" json:"milestoneId"`
	UserID          string        `firestore:"user_id" json:"userId"`
	Mode            gamemode.Mode `firestore:"mode" json:"mode"`
	Progress        int           `firestore:"progress" json:"progress"`
	Achieved        bool          `firestore:"achieved" json:"achieved"`
	LastInteraction *int64        `firestore:"last_interaction" json:"lastInteraction"`
}

// MilestoneDiff reports one milestone subscription transition from a batch.
type MilestoneDiff struct {
	MilestoneID string            `firestore:"milestone_id" json:"milestoneId"`
	Old         MilestoneProgress `firestore:"old" json:"old"`
	New         MilestoneProgress `firestore:"new" json:"new"`
}
