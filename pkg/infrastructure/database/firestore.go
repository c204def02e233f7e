// Package database adapts the typed Firestore storage client to the shared
// Database interface.
package database

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	shared "github.com/kyoku-gg/server/pkg"
	"github.com/kyoku-gg/server/pkg/domain/gamemode"
	storage "github.com/kyoku-gg/server/pkg/storage/firestore"
	"github.com/kyoku-gg/server/pkg/types"
)

// inQueryChunk is Firestore's limit on "in" filter operands.
const inQueryChunk = 30

// FirestoreAdapter implements shared.Database on Firestore.
type FirestoreAdapter struct {
	Client  *firestore.Client
	storage *storage.Client
}

func NewFirestoreAdapter(client *firestore.Client) *FirestoreAdapter {
	return &FirestoreAdapter{
		Client:  client,
		storage: storage.NewClient(client),
	}
}

func (a *FirestoreAdapter) GetUser(ctx context.Context, userID string) (*types.UserRecord, error) {
	return a.storage.Users().Doc(userID).Get(ctx)
}

// --- Scores ---

func (a *FirestoreAdapter) ScoreExists(ctx context.Context, scoreID string) (bool, error) {
	// Score IDs embed the user ID, so a collection-group lookup is not
	// needed: callers always know the owner. This variant scans the group
	// for the rare paths that do not.
	snaps, err := a.Client.CollectionGroup(shared.CollectionScores).
		Where("score_id", "==", scoreID).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return false, err
	}
	return len(snaps) > 0, nil
}

// BulkCreateScores writes a batch create-only. Scores that already exist are
// counted as skipped, not failed: two concurrent imports racing on the same
// play must both succeed, with the store deciding who inserted.
func (a *FirestoreAdapter) BulkCreateScores(ctx context.Context, scores []*types.PersistedScore) (int, error) {
	if len(scores) == 0 {
		return 0, nil
	}

	bw := a.Client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(scores))

	for _, s := range scores {
		ref := a.storage.Scores(s.UserID).Doc(s.ScoreID).Ref
		job, err := bw.Create(ref, s)
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("queueing score %s: %w", s.ScoreID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	var inserted int
	var firstErr error
	for i, job := range jobs {
		_, err := job.Results()
		switch {
		case err == nil:
			inserted++
		case status.Code(err) == codes.AlreadyExists:
			// Benign duplicate race: someone else inserted the same play.
		case firstErr == nil:
			firstErr = fmt.Errorf("writing score %s: %w", scores[i].ScoreID, err)
		}
	}
	return inserted, firstErr
}

func (a *FirestoreAdapter) ScoresOnChart(ctx context.Context, userID, chartID string) ([]*types.PersistedScore, error) {
	q := a.storage.Scores(userID).Query().Where("chart_id", "==", chartID)
	return storage.GetAll[types.PersistedScore](ctx, q)
}

func (a *FirestoreAdapter) GetScoreBlacklist(ctx context.Context, userID string) ([]string, error) {
	snaps, err := a.storage.ScoreBlacklist(userID).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		ids = append(ids, snap.Ref.ID)
	}
	return ids, nil
}

// --- Personal bests ---

func (a *FirestoreAdapter) GetPersonalBest(ctx context.Context, userID, chartID string) (*types.PersonalBestRecord, error) {
	return a.storage.PersonalBests(userID).Doc(chartID).Get(ctx)
}

func (a *FirestoreAdapter) SetPersonalBest(ctx context.Context, pb *types.PersonalBestRecord) error {
	return a.storage.PersonalBests(pb.UserID).Doc(pb.ChartID).Set(ctx, pb)
}

// metricField maps a PB query key to its queryable Firestore path. Enum
// metrics query on their materialized index, numeric metrics on the value.
func metricField(mode gamemode.Mode, key string) (string, error) {
	sp, ok := gamemode.SpecFor(mode)
	if !ok {
		return "", fmt.Errorf("no metric spec for mode %s", mode)
	}
	schema, ok := sp.Schema(key)
	if !ok {
		return "", fmt.Errorf("mode %s has no metric %q", mode, key)
	}
	if schema.Kind == gamemode.KindEnum {
		return "enum_indexes." + key, nil
	}
	return "metrics." + key + ".num", nil
}

func (a *FirestoreAdapter) pbQueries(q shared.PBQuery) ([]firestore.Query, error) {
	base := a.storage.PersonalBests(q.UserID).Query().
		Where("mode", "==", int(q.Mode))

	field, err := metricField(q.Mode, q.Key)
	if err != nil {
		return nil, err
	}
	if q.GTE != nil {
		base = base.Where(field, ">=", *q.GTE)
	}

	if q.ChartIDs == nil {
		return []firestore.Query{base}, nil
	}
	if len(q.ChartIDs) == 0 {
		return nil, nil
	}

	// "in" filters cap out, so long chart lists fan out into chunked
	// queries whose results the caller merges.
	var queries []firestore.Query
	for start := 0; start < len(q.ChartIDs); start += inQueryChunk {
		end := min(start+inQueryChunk, len(q.ChartIDs))
		queries = append(queries, base.Where("chart_id", "in", q.ChartIDs[start:end]))
	}
	return queries, nil
}

func (a *FirestoreAdapter) BestPersonalBest(ctx context.Context, q shared.PBQuery) (*types.PersonalBestRecord, error) {
	queries, err := a.pbQueries(q)
	if err != nil {
		return nil, err
	}
	field, err := metricField(q.Mode, q.Key)
	if err != nil {
		return nil, err
	}

	var best *types.PersonalBestRecord
	var bestVal float64
	for _, fq := range queries {
		records, err := storage.GetAll[types.PersonalBestRecord](ctx,
			fq.OrderBy(field, firestore.Desc).Limit(1))
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			continue
		}
		r := records[0]
		val := pbFieldValue(r, q.Key)
		if best == nil || val > bestVal {
			best = r
			bestVal = val
		}
	}
	return best, nil
}

func pbFieldValue(r *types.PersonalBestRecord, key string) float64 {
	if idx, ok := r.EnumIndexes[key]; ok {
		return float64(idx)
	}
	return r.Metrics[key].Num
}

func (a *FirestoreAdapter) CountPersonalBests(ctx context.Context, q shared.PBQuery) (int, error) {
	queries, err := a.pbQueries(q)
	if err != nil {
		return 0, err
	}
	var total int
	for _, fq := range queries {
		snaps, err := fq.Documents(ctx).GetAll()
		if err != nil {
			return 0, err
		}
		total += len(snaps)
	}
	return total, nil
}

// --- Orphans ---

// orphanGroup finds an orphan by ID across users. Orphan IDs embed the user
// in their content hash, so the group query returns at most one document.
func (a *FirestoreAdapter) GetOrphan(ctx context.Context, orphanID string) (*types.OrphanRecord, error) {
	snaps, err := a.Client.CollectionGroup(shared.CollectionOrphanScores).
		Where("orphan_id", "==", orphanID).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	var rec types.OrphanRecord
	if err := snaps[0].DataTo(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (a *FirestoreAdapter) CreateOrphan(ctx context.Context, orphan *types.OrphanRecord) error {
	err := a.storage.OrphanScores(orphan.UserID).Doc(orphan.OrphanID).Create(ctx, orphan)
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return err
}

func (a *FirestoreAdapter) DeleteOrphan(ctx context.Context, orphanID string) error {
	rec, err := a.GetOrphan(ctx, orphanID)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	return a.storage.OrphanScores(rec.UserID).Doc(orphanID).Delete(ctx)
}

func (a *FirestoreAdapter) ListOrphans(ctx context.Context, userID string) ([]*types.OrphanRecord, error) {
	return storage.GetAll[types.OrphanRecord](ctx, a.storage.OrphanScores(userID).Query())
}

// ListOrphanedUsers returns the distinct owners of parked orphans, for the
// standalone sweep job.
func (a *FirestoreAdapter) ListOrphanedUsers(ctx context.Context) ([]string, error) {
	snaps, err := a.Client.CollectionGroup(shared.CollectionOrphanScores).
		Select("user_id").Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var users []string
	for _, snap := range snaps {
		var rec struct {
			UserID string `firestore:"user_id"`
		}
		if err := snap.DataTo(&rec); err != nil {
			return nil, err
		}
		if rec.UserID == "" || seen[rec.UserID] {
			continue
		}
		seen[rec.UserID] = true
		users = append(users, rec.UserID)
	}
	return users, nil
}

// --- Unverified charts ---

func (a *FirestoreAdapter) GetUnverifiedChart(ctx context.Context, hashID string) (*types.UnverifiedChart, error) {
	return a.storage.UnverifiedCharts().Doc(hashID).Get(ctx)
}

func (a *FirestoreAdapter) SetUnverifiedChart(ctx context.Context, chart *types.UnverifiedChart) error {
	return a.storage.UnverifiedCharts().Doc(chart.HashID).Set(ctx, chart)
}

func (a *FirestoreAdapter) DeleteUnverifiedChart(ctx context.Context, hashID string) error {
	return a.storage.UnverifiedCharts().Doc(hashID).Delete(ctx)
}

func (a *FirestoreAdapter) CountUnverifiedCharts(ctx context.Context) (int, error) {
	snaps, err := a.storage.UnverifiedCharts().Query().Documents(ctx).GetAll()
	if err != nil {
		return 0, err
	}
	return len(snaps), nil
}

// --- Goals ---

func (a *FirestoreAdapter) GetGoalSubscriptions(ctx context.Context, userID string, mode gamemode.Mode) ([]*types.GoalSubscription, error) {
	q := a.storage.GoalSubs(userID).Query().Where("mode", "==", int(mode))
	return storage.GetAll[types.GoalSubscription](ctx, q)
}

func (a *FirestoreAdapter) GetGoalsByID(ctx context.Context, goalIDs []string) ([]*types.Goal, error) {
	var out []*types.Goal
	for start := 0; start < len(goalIDs); start += inQueryChunk {
		end := min(start+inQueryChunk, len(goalIDs))
		q := a.storage.Goals().Query().Where("goal_id", "in", goalIDs[start:end])
		chunk, err := storage.GetAll[types.Goal](ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (a *FirestoreAdapter) BulkUpdateGoalSubs(ctx context.Context, updates []shared.SubUpdate) error {
	for _, u := range updates {
		if err := a.storage.GoalSubs(u.UserID).Doc(u.ID).Update(ctx, u.Data); err != nil {
			return fmt.Errorf("updating goal sub %s for %s: %w", u.ID, u.UserID, err)
		}
	}
	return nil
}

// --- Milestones ---

func (a *FirestoreAdapter) GetMilestoneSubscriptions(ctx context.Context, userID string, mode gamemode.Mode) ([]*types.MilestoneSubscription, error) {
	q := a.storage.MilestoneSubs(userID).Query().Where("mode", "==", int(mode))
	return storage.GetAll[types.MilestoneSubscription](ctx, q)
}

func (a *FirestoreAdapter) GetMilestonesByID(ctx context.Context, milestoneIDs []string) ([]*types.Milestone, error) {
	var out []*types.Milestone
	for start := 0; start < len(milestoneIDs); start += inQueryChunk {
		end := min(start+inQueryChunk, len(milestoneIDs))
		q := a.storage.Milestones().Query().Where("milestone_id", "in", milestoneIDs[start:end])
		chunk, err := storage.GetAll[types.Milestone](ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (a *FirestoreAdapter) BulkUpdateMilestoneSubs(ctx context.Context, updates []shared.SubUpdate) error {
	for _, u := range updates {
		if err := a.storage.MilestoneSubs(u.UserID).Doc(u.ID).Update(ctx, u.Data); err != nil {
			return fmt.Errorf("updating milestone sub %s for %s: %w", u.ID, u.UserID, err)
		}
	}
	return nil
}

// --- Imports ---

func (a *FirestoreAdapter) CreateImport(ctx context.Context, record *types.ImportBatchRecord) error {
	return a.storage.Imports().Doc(record.ImportID).Set(ctx, record)
}
