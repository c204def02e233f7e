package shared

const (
	ProjectID = "kyoku-project" // Can be overridden by env var in main if needed

	TopicScoreImport       = "topic-score-import" // import pipeline entry point
	TopicGoalsAchieved     = "topic-goals-achieved"
	TopicMilestoneAchieved = "topic-milestone-achieved"

	CollectionUsers            = "users"
	CollectionScores           = "scores"
	CollectionPersonalBests    = "personal_bests"
	CollectionOrphanScores     = "orphan_scores"
	CollectionUnverifiedCharts = "unverified_charts"
	CollectionGoals            = "goals"
	CollectionGoalSubs         = "goal_subs"
	CollectionMilestones       = "milestones"
	CollectionMilestoneSubs    = "milestone_subs"
	CollectionImports          = "imports"
	CollectionScoreBlacklist   = "score_blacklist"
	CollectionCharts           = "charts"
	CollectionSongs            = "songs"
	CollectionFolders          = "folders"
)
