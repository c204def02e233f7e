// Package mocks provides hand-rolled mock implementations of the shared
// interfaces for unit tests. Each mock exposes one overridable func field
// per method with a safe default.
package mocks

import (
	"context"
	"encoding/json"
	"log/slog"

	shared "github.com/kyoku-gg/server/pkg"
	"github.com/kyoku-gg/server/pkg/domain/gamemode"
	"github.com/kyoku-gg/server/pkg/types"
)

// --- Mock Database ---

type MockDatabase struct {
	GetUserFunc           func(ctx context.Context, userID string) (*types.UserRecord, error)
	ScoreExistsFunc       func(ctx context.Context, scoreID string) (bool, error)
	BulkCreateScoresFunc  func(ctx context.Context, scores []*types.PersistedScore) (int, error)
	ScoresOnChartFunc     func(ctx context.Context, userID, chartID string) ([]*types.PersistedScore, error)
	GetScoreBlacklistFunc func(ctx context.Context, userID string) ([]string, error)

	GetPersonalBestFunc    func(ctx context.Context, userID, chartID string) (*types.PersonalBestRecord, error)
	SetPersonalBestFunc    func(ctx context.Context, pb *types.PersonalBestRecord) error
	BestPersonalBestFunc   func(ctx context.Context, q shared.PBQuery) (*types.PersonalBestRecord, error)
	CountPersonalBestsFunc func(ctx context.Context, q shared.PBQuery) (int, error)

	GetOrphanFunc         func(ctx context.Context, orphanID string) (*types.OrphanRecord, error)
	CreateOrphanFunc      func(ctx context.Context, orphan *types.OrphanRecord) error
	DeleteOrphanFunc      func(ctx context.Context, orphanID string) error
	ListOrphansFunc       func(ctx context.Context, userID string) ([]*types.OrphanRecord, error)
	ListOrphanedUsersFunc func(ctx context.Context) ([]string, error)

	GetUnverifiedChartFunc    func(ctx context.Context, hashID string) (*types.UnverifiedChart, error)
	SetUnverifiedChartFunc    func(ctx context.Context, chart *types.UnverifiedChart) error
	DeleteUnverifiedChartFunc func(ctx context.Context, hashID string) error
	CountUnverifiedChartsFunc func(ctx context.Context) (int, error)

	GetGoalSubscriptionsFunc func(ctx context.Context, userID string, mode gamemode.Mode) ([]*types.GoalSubscription, error)
	GetGoalsByIDFunc         func(ctx context.Context, goalIDs []string) ([]*types.Goal, error)
	BulkUpdateGoalSubsFunc   func(ctx context.Context, updates []shared.SubUpdate) error

	GetMilestoneSubscriptionsFunc func(ctx context.Context, userID string, mode gamemode.Mode) ([]*types.MilestoneSubscription, error)
	GetMilestonesByIDFunc         func(ctx context.Context, milestoneIDs []string) ([]*types.Milestone, error)
	BulkUpdateMilestoneSubsFunc   func(ctx context.Context, updates []shared.SubUpdate) error

	CreateImportFunc func(ctx context.Context, record *types.ImportBatchRecord) error
}

func (m *MockDatabase) GetUser(ctx context.Context, userID string) (*types.UserRecord, error) {
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, userID)
	}
	return &types.UserRecord{UserID: userID, Username: "mock-user"}, nil
}

func (m *MockDatabase) ScoreExists(ctx context.Context, scoreID string) (bool, error) {
	if m.ScoreExistsFunc != nil {
		return m.ScoreExistsFunc(ctx, scoreID)
	}
	return false, nil
}

func (m *MockDatabase) BulkCreateScores(ctx context.Context, scores []*types.PersistedScore) (int, error) {
	if m.BulkCreateScoresFunc != nil {
		return m.BulkCreateScoresFunc(ctx, scores)
	}
	return len(scores), nil
}

func (m *MockDatabase) ScoresOnChart(ctx context.Context, userID, chartID string) ([]*types.PersistedScore, error) {
	if m.ScoresOnChartFunc != nil {
		return m.ScoresOnChartFunc(ctx, userID, chartID)
	}
	return nil, nil
}

func (m *MockDatabase) GetScoreBlacklist(ctx context.Context, userID string) ([]string, error) {
	if m.GetScoreBlacklistFunc != nil {
		return m.GetScoreBlacklistFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockDatabase) GetPersonalBest(ctx context.Context, userID, chartID string) (*types.PersonalBestRecord, error) {
	if m.GetPersonalBestFunc != nil {
		return m.GetPersonalBestFunc(ctx, userID, chartID)
	}
	return nil, nil
}

func (m *MockDatabase) SetPersonalBest(ctx context.Context, pb *types.PersonalBestRecord) error {
	if m.SetPersonalBestFunc != nil {
		return m.SetPersonalBestFunc(ctx, pb)
	}
	return nil
}

func (m *MockDatabase) BestPersonalBest(ctx context.Context, q shared.PBQuery) (*types.PersonalBestRecord, error) {
	if m.BestPersonalBestFunc != nil {
		return m.BestPersonalBestFunc(ctx, q)
	}
	return nil, nil
}

func (m *MockDatabase) CountPersonalBests(ctx context.Context, q shared.PBQuery) (int, error) {
	if m.CountPersonalBestsFunc != nil {
		return m.CountPersonalBestsFunc(ctx, q)
	}
	return 0, nil
}

func (m *MockDatabase) GetOrphan(ctx context.Context, orphanID string) (*types.OrphanRecord, error) {
	if m.GetOrphanFunc != nil {
		return m.GetOrphanFunc(ctx, orphanID)
	}
	return nil, nil
}

func (m *MockDatabase) CreateOrphan(ctx context.Context, orphan *types.OrphanRecord) error {
	if m.CreateOrphanFunc != nil {
		return m.CreateOrphanFunc(ctx, orphan)
	}
	return nil
}

func (m *MockDatabase) DeleteOrphan(ctx context.Context, orphanID string) error {
	if m.DeleteOrphanFunc != nil {
		return m.DeleteOrphanFunc(ctx, orphanID)
	}
	return nil
}

func (m *MockDatabase) ListOrphans(ctx context.Context, userID string) ([]*types.OrphanRecord, error) {
	if m.ListOrphansFunc != nil {
		return m.ListOrphansFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockDatabase) ListOrphanedUsers(ctx context.Context) ([]string, error) {
	if m.ListOrphanedUsersFunc != nil {
		return m.ListOrphanedUsersFunc(ctx)
	}
	return nil, nil
}

func (m *MockDatabase) GetUnverifiedChart(ctx context.Context, hashID string) (*types.UnverifiedChart, error) {
	if m.GetUnverifiedChartFunc != nil {
		return m.GetUnverifiedChartFunc(ctx, hashID)
	}
	return nil, nil
}

func (m *MockDatabase) SetUnverifiedChart(ctx context.Context, chart *types.UnverifiedChart) error {
	if m.SetUnverifiedChartFunc != nil {
		return m.SetUnverifiedChartFunc(ctx, chart)
	}
	return nil
}

func (m *MockDatabase) DeleteUnverifiedChart(ctx context.Context, hashID string) error {
	if m.DeleteUnverifiedChartFunc != nil {
		return m.DeleteUnverifiedChartFunc(ctx, hashID)
	}
	return nil
}

func (m *MockDatabase) CountUnverifiedCharts(ctx context.Context) (int, error) {
	if m.CountUnverifiedChartsFunc != nil {
		return m.CountUnverifiedChartsFunc(ctx)
	}
	return 0, nil
}

func (m *MockDatabase) GetGoalSubscriptions(ctx context.Context, userID string, mode gamemode.Mode) ([]*types.GoalSubscription, error) {
	if m.GetGoalSubscriptionsFunc != nil {
		return m.GetGoalSubscriptionsFunc(ctx, userID, mode)
	}
	return nil, nil
}

func (m *MockDatabase) GetGoalsByID(ctx context.Context, goalIDs []string) ([]*types.Goal, error) {
	if m.GetGoalsByIDFunc != nil {
		return m.GetGoalsByIDFunc(ctx, goalIDs)
	}
	return nil, nil
}

func (m *MockDatabase) BulkUpdateGoalSubs(ctx context.Context, updates []shared.SubUpdate) error {
	if m.BulkUpdateGoalSubsFunc != nil {
		return m.BulkUpdateGoalSubsFunc(ctx, updates)
	}
	return nil
}

func (m *MockDatabase) GetMilestoneSubscriptions(ctx context.Context, userID string, mode gamemode.Mode) ([]*types.MilestoneSubscription, error) {
	if m.GetMilestoneSubscriptionsFunc != nil {
		return m.GetMilestoneSubscriptionsFunc(ctx, userID, mode)
	}
	return nil, nil
}

func (m *MockDatabase) GetMilestonesByID(ctx context.Context, milestoneIDs []string) ([]*types.Milestone, error) {
	if m.GetMilestonesByIDFunc != nil {
		return m.GetMilestonesByIDFunc(ctx, milestoneIDs)
	}
	return nil, nil
}

func (m *MockDatabase) BulkUpdateMilestoneSubs(ctx context.Context, updates []shared.SubUpdate) error {
	if m.BulkUpdateMilestoneSubsFunc != nil {
		return m.BulkUpdateMilestoneSubsFunc(ctx, updates)
	}
	return nil
}

func (m *MockDatabase) CreateImport(ctx context.Context, record *types.ImportBatchRecord) error {
	if m.CreateImportFunc != nil {
		return m.CreateImportFunc(ctx, record)
	}
	return nil
}

// --- Mock ChartCatalog ---

type MockChartCatalog struct {
	ResolveFunc     func(ctx context.Context, mode gamemode.Mode, ref types.ChartRef) (*types.Chart, *types.Song, error)
	MembersOfFunc   func(ctx context.Context, folderID string) ([]string, error)
	CountChartsFunc func(ctx context.Context, mode gamemode.Mode) (int, error)
	CreateChartFunc func(ctx context.Context, chart *types.Chart, song *types.Song) error
}

func (m *MockChartCatalog) Resolve(ctx context.Context, mode gamemode.Mode, ref types.ChartRef) (*types.Chart, *types.Song, error) {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, mode, ref)
	}
	return nil, nil, nil
}

func (m *MockChartCatalog) MembersOf(ctx context.Context, folderID string) ([]string, error) {
	if m.MembersOfFunc != nil {
		return m.MembersOfFunc(ctx, folderID)
	}
	return nil, nil
}

func (m *MockChartCatalog) CountCharts(ctx context.Context, mode gamemode.Mode) (int, error) {
	if m.CountChartsFunc != nil {
		return m.CountChartsFunc(ctx, mode)
	}
	return 0, nil
}

func (m *MockChartCatalog) CreateChart(ctx context.Context, chart *types.Chart, song *types.Song) error {
	if m.CreateChartFunc != nil {
		return m.CreateChartFunc(ctx, chart, song)
	}
	return nil
}

// --- Mock Converter ---

type MockConverter struct {
	ImportTypeValue string
	ConvertFunc     func(ctx context.Context, logger *slog.Logger, data json.RawMessage, importContext json.RawMessage) (*shared.ConverterResult, *shared.ConverterFailure)
}

func (m *MockConverter) ImportType() string {
	if m.ImportTypeValue != "" {
		return m.ImportTypeValue
	}
	return "mock/import"
}

func (m *MockConverter) Convert(ctx context.Context, logger *slog.Logger, data json.RawMessage, importContext json.RawMessage) (*shared.ConverterResult, *shared.ConverterFailure) {
	if m.ConvertFunc != nil {
		return m.ConvertFunc(ctx, logger, data, importContext)
	}
	return nil, &shared.ConverterFailure{Kind: shared.FailureInternal, Message: "no ConvertFunc configured"}
}

// --- Mock SessionTracker ---

type MockSessionTracker struct {
	RecomputeFunc func(ctx context.Context, userID string, mode gamemode.Mode, scores []*types.PersistedScore) ([]types.SessionRef, error)
}

func (m *MockSessionTracker) Recompute(ctx context.Context, userID string, mode gamemode.Mode, scores []*types.PersistedScore) ([]types.SessionRef, error) {
	if m.RecomputeFunc != nil {
		return m.RecomputeFunc(ctx, userID, mode, scores)
	}
	return nil, nil
}

// --- Mock ClassUpdater ---

type MockClassUpdater struct {
	UpdateFunc func(ctx context.Context, userID string, modes []gamemode.Mode) ([]types.ClassDelta, error)
}

func (m *MockClassUpdater) Update(ctx context.Context, userID string, modes []gamemode.Mode) ([]types.ClassDelta, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, userID, modes)
	}
	return nil, nil
}

// --- Mock Publisher ---

type MockPublisher struct {
	PublishFunc func(ctx context.Context, topic string, data []byte) (string, error)
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, data)
	}
	return "msg-id", nil
}

// --- Mock BlobStore ---

type MockBlobStore struct {
	WriteFunc func(ctx context.Context, bucket, object string, data []byte) error
}

func (m *MockBlobStore) Write(ctx context.Context, bucket, object string, data []byte) error {
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, bucket, object, data)
	}
	return nil
}

// --- Mock Locker ---

type MockLocker struct {
	TryAcquireFunc func(ctx context.Context, userID string) (bool, error)
	ReleaseFunc    func(ctx context.Context, userID string) error
}

func (m *MockLocker) TryAcquire(ctx context.Context, userID string) (bool, error) {
	if m.TryAcquireFunc != nil {
		return m.TryAcquireFunc(ctx, userID)
	}
	return true, nil
}

func (m *MockLocker) Release(ctx context.Context, userID string) error {
	if m.ReleaseFunc != nil {
		return m.ReleaseFunc(ctx, userID)
	}
	return nil
}
