package shared

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/kyoku-gg/server/pkg/domain/gamemode"
	"github.com/kyoku-gg/server/pkg/types"
)

// --- Persistence Interfaces ---

// PBQuery filters personal bests. ChartIDs of nil means "any chart in the
// mode". Key names a metric of the mode; enum metrics are matched on their
// enum index. GTE, when set, keeps only records at or above the threshold.
type PBQuery struct {
	UserID   string
	Mode     gamemode.Mode
	ChartIDs []string
	Key      string
	GTE      *float64
}

// SubUpdate is a partial update to a subscription document; keys are
// Firestore snake_case field names.
type SubUpdate struct {
	UserID string
	ID     string // goalID or milestoneID
	Data   map[string]interface{}
}

type Database interface {
	GetUser(ctx context.Context, userID string) (*types.UserRecord, error)

	// Scores. BulkCreateScores is create-only: scores whose identity is
	// already durable are skipped, and the count of newly inserted documents
	// is returned.
	ScoreExists(ctx context.Context, scoreID string) (bool, error)
	BulkCreateScores(ctx context.Context, scores []*types.PersistedScore) (int, error)
	ScoresOnChart(ctx context.Context, userID, chartID string) ([]*types.PersistedScore, error)
	GetScoreBlacklist(ctx context.Context, userID string) ([]string, error)

	// Personal bests
	GetPersonalBest(ctx context.Context, userID, chartID string) (*types.PersonalBestRecord, error)
	SetPersonalBest(ctx context.Context, pb *types.PersonalBestRecord) error
	BestPersonalBest(ctx context.Context, q PBQuery) (*types.PersonalBestRecord, error)
	CountPersonalBests(ctx context.Context, q PBQuery) (int, error)

	// Orphans
	GetOrphan(ctx context.Context, orphanID string) (*types.OrphanRecord, error)
	CreateOrphan(ctx context.Context, orphan *types.OrphanRecord) error
	DeleteOrphan(ctx context.Context, orphanID string) error
	ListOrphans(ctx context.Context, userID string) ([]*types.OrphanRecord, error)
	ListOrphanedUsers(ctx context.Context) ([]string, error)

	// Unverified chart queue
	GetUnverifiedChart(ctx context.Context, hashID string) (*types.UnverifiedChart, error)
	SetUnverifiedChart(ctx context.Context, chart *types.UnverifiedChart) error
	DeleteUnverifiedChart(ctx context.Context, hashID string) error
	CountUnverifiedCharts(ctx context.Context) (int, error)

	// Goals
	GetGoalSubscriptions(ctx context.Context, userID string, mode gamemode.Mode) ([]*types.GoalSubscription, error)
	GetGoalsByID(ctx context.Context, goalIDs []string) ([]*types.Goal, error)
	BulkUpdateGoalSubs(ctx context.Context, updates []SubUpdate) error

	// Milestones
	GetMilestoneSubscriptions(ctx context.Context, userID string, mode gamemode.Mode) ([]*types.MilestoneSubscription, error)
	GetMilestonesByID(ctx context.Context, milestoneIDs []string) ([]*types.Milestone, error)
	BulkUpdateMilestoneSubs(ctx context.Context, updates []SubUpdate) error

	// Imports
	CreateImport(ctx context.Context, record *types.ImportBatchRecord) error
}

// --- Catalog Interfaces ---

// ChartCatalog is the external chart/song lookup. Resolve returns
// (nil, nil, nil) when the reference is unknown; the caller decides whether
// that is an orphan condition.
type ChartCatalog interface {
	Resolve(ctx context.Context, mode gamemode.Mode, ref types.ChartRef) (*types.Chart, *types.Song, error)
	MembersOf(ctx context.Context, folderID string) ([]string, error)
	CountCharts(ctx context.Context, mode gamemode.Mode) (int, error)
	CreateChart(ctx context.Context, chart *types.Chart, song *types.Song) error
}

// --- Converter Interfaces ---

// FailureKind classifies a converter outcome that did not produce a score.
type FailureKind int

const (
	// FailureNotSupported: the record is intentionally out of scope; it is
	// silently excluded from results.
	FailureNotSupported FailureKind = iota

	// FailureDataNotFound: the record normalized fine but its chart/song
	// reference is unknown to the catalog. Routed to the orphan store.
	FailureDataNotFound

	// FailureInvalid: the record violates business rules. Reported, never
	// retried automatically.
	FailureInvalid

	// FailureInternal: a bug or infrastructure fault. Reported and logged
	// with full context.
	FailureInternal
)

func (k FailureKind) String() string {
	switch k {
	case FailureNotSupported:
		return "NotSupported"
	case FailureDataNotFound:
		return "DataNotFound"
	case FailureInvalid:
		return "Invalid"
	case FailureInternal:
		return "Internal"
	}
	return "Unknown"
}

// ConverterFailure is the failure half of a conversion result. An ordinary
// value, not a panic: per-record classification is plain branching.
type ConverterFailure struct {
	Kind    FailureKind
	Message string

	// Data and Context carry the raw payload for DataNotFound failures so
	// the orphan store can re-run conversion later.
	Data    json.RawMessage
	Context json.RawMessage

	// ChartDef optionally carries an unverified chart definition submitted
	// alongside an orphaned score.
	ChartDef *UnverifiedChartDef
}

// UnverifiedChartDef pairs a chart with its song for the orphan chart queue.
type UnverifiedChartDef struct {
	Chart types.Chart
	Song  types.Song
}

func (f *ConverterFailure) Error() string {
	return f.Kind.String() + ": " + f.Message
}

// ConverterResult is the success half of a conversion.
type ConverterResult struct {
	Score *types.CanonicalScore
	Chart *types.Chart
	Song  *types.Song
}

// Converter turns one raw service-specific record into a canonical score,
// resolving its chart against the catalog. Exactly one of the returns is
// non-nil.
type Converter interface {
	ImportType() string
	Convert(ctx context.Context, logger *slog.Logger, data json.RawMessage, importContext json.RawMessage) (*ConverterResult, *ConverterFailure)
}

// --- Post-import collaborators ---

// SessionTracker rebuckets a user's sessions after new scores land.
type SessionTracker interface {
	Recompute(ctx context.Context, userID string, mode gamemode.Mode, scores []*types.PersistedScore) ([]types.SessionRef, error)
}

// ClassUpdater recomputes profile aggregates (ratings, classes) and reports
// class deltas.
type ClassUpdater interface {
	Update(ctx context.Context, userID string, modes []gamemode.Mode) ([]types.ClassDelta, error)
}

// --- Messaging Interfaces ---

type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) (string, error)
}

// --- Storage Interfaces ---

type BlobStore interface {
	Write(ctx context.Context, bucket, object string, data []byte) error
}
