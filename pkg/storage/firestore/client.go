package firestore

import (
	"cloud.google.com/go/firestore"

	shared "github.com/kyoku-gg/server/pkg"
	"github.com/kyoku-gg/server/pkg/types"
)

// Client exposes the typed collection layout.
//
// Per-user data (scores, personal bests, orphans, subscriptions) lives in
// sub-collections under users/{uid}; shared definitions (goals, milestones,
// the unverified chart queue) are top-level.
type Client struct {
	fs *firestore.Client
}

func NewClient(client *firestore.Client) *Client {
	return &Client{fs: client}
}

func (c *Client) Close() error {
	return c.fs.Close()
}

// Raw exposes the underlying client for bulk writers.
func (c *Client) Raw() *firestore.Client {
	return c.fs
}

func (c *Client) Users() *Collection[types.UserRecord] {
	return &Collection[types.UserRecord]{Ref: c.fs.Collection(shared.CollectionUsers)}
}

func (c *Client) userSub(userID, name string) *firestore.CollectionRef {
	return c.fs.Collection(shared.CollectionUsers).Doc(userID).Collection(name)
}

// Scores are users/{uid}/scores/{scoreID}. Score IDs embed the user, so the
// same play resubmitted lands on the same document.
func (c *Client) Scores(userID string) *Collection[types.PersistedScore] {
	return &Collection[types.PersistedScore]{Ref: c.userSub(userID, shared.CollectionScores)}
}

// PersonalBests are users/{uid}/personal_bests/{chartID}.
func (c *Client) PersonalBests(userID string) *Collection[types.PersonalBestRecord] {
	return &Collection[types.PersonalBestRecord]{Ref: c.userSub(userID, shared.CollectionPersonalBests)}
}

// OrphanScores are users/{uid}/orphan_scores/{orphanID}.
func (c *Client) OrphanScores(userID string) *Collection[types.OrphanRecord] {
	return &Collection[types.OrphanRecord]{Ref: c.userSub(userID, shared.CollectionOrphanScores)}
}

// GoalSubs are users/{uid}/goal_subs/{goalID}.
func (c *Client) GoalSubs(userID string) *Collection[types.GoalSubscription] {
	return &Collection[types.GoalSubscription]{Ref: c.userSub(userID, shared.CollectionGoalSubs)}
}

// MilestoneSubs are users/{uid}/milestone_subs/{milestoneID}.
func (c *Client) MilestoneSubs(userID string) *Collection[types.MilestoneSubscription] {
	return &Collection[types.MilestoneSubscription]{Ref: c.userSub(userID, shared.CollectionMilestoneSubs)}
}

// ScoreBlacklist is users/{uid}/score_blacklist/{scoreID}; only document
// existence matters.
func (c *Client) ScoreBlacklist(userID string) *firestore.CollectionRef {
	return c.userSub(userID, shared.CollectionScoreBlacklist)
}

func (c *Client) Goals() *Collection[types.Goal] {
	return &Collection[types.Goal]{Ref: c.fs.Collection(shared.CollectionGoals)}
}

func (c *Client) Milestones() *Collection[types.Milestone] {
	return &Collection[types.Milestone]{Ref: c.fs.Collection(shared.CollectionMilestones)}
}

func (c *Client) UnverifiedCharts() *Collection[types.UnverifiedChart] {
	return &Collection[types.UnverifiedChart]{Ref: c.fs.Collection(shared.CollectionUnverifiedCharts)}
}

func (c *Client) Imports() *Collection[types.ImportBatchRecord] {
	return &Collection[types.ImportBatchRecord]{Ref: c.fs.Collection(shared.CollectionImports)}
}
