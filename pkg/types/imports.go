package types

// ImportError is one reported per-record failure from a batch.
type ImportError struct {
	Type    string `firestore:"type" json:"type"`
	Message string `firestore:"message" json:"message"`
}

// SessionRef points at a session the batch created or extended.
type SessionRef struct {
	SessionID string `firestore:"session_id" json:"sessionId"`
	Type      string `firestore:"type" json:"type"` // "Created" or "Appended"
}

// ClassDelta reports a profile class change computed after a batch.
type ClassDelta struct {
	Mode string `firestore:"mode" json:"mode"`
	Set  string `firestore:"set" json:"set"`
	Old  *int   `firestore:"old" json:"old"`
	New  int    `firestore:"new" json:"new"`
}

// PhaseTiming is one phase's wall time. Abs is the total in milliseconds;
// Rel divides it by the number of documents the phase handled, zero when the
// phase had nothing to do. Rel is what makes a 500-score batch comparable to
// a 5-score one.
type PhaseTiming struct {
	Abs float64 `firestore:"abs" json:"abs"`
	Rel float64 `firestore:"rel" json:"rel"`
}

// PhaseTimings holds per-phase wall times for one batch.
type PhaseTimings struct {
	Import    PhaseTiming `firestore:"import" json:"import"`
	Session   PhaseTiming `firestore:"session" json:"session"`
	PB        PhaseTiming `firestore:"pb" json:"pb"`
	Profile   PhaseTiming `firestore:"profile" json:"profile"`
	Goal      PhaseTiming `firestore:"goal" json:"goal"`
	Milestone PhaseTiming `firestore:"milestone" json:"milestone"`
}

// ImportBatchRecord summarizes one pipeline run. Created once per batch,
// never mutated.
type ImportBatchRecord struct {
	ImportID        string          `firestore:"import_id" json:"importId"`
	UserID          string          `firestore:"user_id" json:"userId"`
	ImportType      string          `firestore:"import_type" json:"importType"`
	Game            string          `firestore:"game" json:"game"`
	Modes           []string        `firestore:"modes" json:"modes"`
	UserIntent      bool            `firestore:"user_intent" json:"userIntent"`
	ScoreIDs        []string        `firestore:"score_ids" json:"scoreIds"`
	Errors          []ImportError   `firestore:"errors" json:"errors"`
	OrphanCount     int             `firestore:"orphan_count" json:"orphanCount"`
	CreatedSessions []SessionRef    `firestore:"created_sessions" json:"createdSessions"`
	ClassDeltas     []ClassDelta    `firestore:"class_deltas" json:"classDeltas"`
	GoalInfo        []GoalDiff      `firestore:"goal_info" json:"goalInfo"`
	MilestoneInfo   []MilestoneDiff `firestore:"milestone_info" json:"milestoneInfo"`
	TimeStarted     int64           `firestore:"time_started" json:"timeStarted"`
	TimeFinished    int64           `firestore:"time_finished" json:"timeFinished"`
	Timings         PhaseTimings    `firestore:"timings" json:"timings"`
	ArchiveURI      string          `firestore:"archive_uri,omitempty" json:"archiveUri,omitempty"`
}
