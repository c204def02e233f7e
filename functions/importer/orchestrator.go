package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	shared "github.com/kyoku-gg/server/pkg"
	"github.com/kyoku-gg/server/pkg/derived"
	"github.com/kyoku-gg/server/pkg/domain/gamemode"
	"github.com/kyoku-gg/server/pkg/domain/identity"
	"github.com/kyoku-gg/server/pkg/goals"
	"github.com/kyoku-gg/server/pkg/importlock"
	"github.com/kyoku-gg/server/pkg/infrastructure/sentry"
	infrastorage "github.com/kyoku-gg/server/pkg/infrastructure/storage"
	"github.com/kyoku-gg/server/pkg/metrics"
	"github.com/kyoku-gg/server/pkg/milestones"
	"github.com/kyoku-gg/server/pkg/orphan"
	"github.com/kyoku-gg/server/pkg/personalbest"
	"github.com/kyoku-gg/server/pkg/scorequeue"
	"github.com/kyoku-gg/server/pkg/types"
)

// reprocessImportType labels batch records produced by orphan replay runs.
const reprocessImportType = "internal/orphan-reprocess"

// ImportRequest is one batch of raw service records for one user.
type ImportRequest struct {
	UserID     string            `json:"userId"`
	ImportType string            `json:"importType"`
	Game       string            `json:"game"`
	UserIntent bool              `json:"userIntent"`
	Records    []json.RawMessage `json:"records"`
	Context    json.RawMessage   `json:"context,omitempty"`
}

// Orchestrator runs the full import pipeline for one batch.
type Orchestrator struct {
	db         shared.Database
	catalog    shared.ChartCatalog
	pub        shared.Publisher
	store      shared.BlobStore
	locker     importlock.Locker
	sessions   shared.SessionTracker
	classes    shared.ClassUpdater
	converters map[string]shared.Converter

	orphans    *orphan.Store
	chartQueue *orphan.ChartQueue
	pbs        *personalbest.Engine
	goals      *goals.Engine
	milestones *milestones.Engine

	archiveBucket string
	metrics       *metrics.Manager
	logger        *slog.Logger
	now           func() time.Time
}

// Options carries the optional collaborators. Nil members disable their
// phase rather than failing it.
type Options struct {
	Sessions      shared.SessionTracker
	Classes       shared.ClassUpdater
	Store         shared.BlobStore
	ArchiveBucket string
	Metrics       *metrics.Manager
}

func NewOrchestrator(db shared.Database, catalog shared.ChartCatalog, pub shared.Publisher, locker importlock.Locker, logger *slog.Logger, opts Options) *Orchestrator {
	var promoted prometheus.Counter
	if opts.Metrics != nil {
		promoted = opts.Metrics.ChartsPromoted
	}
	return &Orchestrator{
		db:            db,
		catalog:       catalog,
		pub:           pub,
		store:         opts.Store,
		locker:        locker,
		sessions:      opts.Sessions,
		classes:       opts.Classes,
		converters:    make(map[string]shared.Converter),
		orphans:       orphan.NewStore(db, logger),
		chartQueue:    orphan.NewChartQueue(db, catalog, logger, promoted),
		pbs:           personalbest.NewEngine(db, logger),
		goals:         goals.NewEngine(db, catalog, pub, logger),
		milestones:    milestones.NewEngine(db, pub, logger),
		archiveBucket: opts.ArchiveBucket,
		metrics:       opts.Metrics,
		logger:        logger,
		now:           time.Now,
	}
}

func (o *Orchestrator) Register(c shared.Converter) {
	o.converters[c.ImportType()] = c
}

// OrphanReprocessor builds the replay engine over this orchestrator's
// converter registry.
func (o *Orchestrator) OrphanReprocessor() *orphan.Reprocessor {
	return orphan.NewReprocessor(o.orphans, o.chartQueue, o.converters, o.logger)
}

// run is the per-batch mutable state. It implements orphan.Ingestor so
// rescued orphans flow through the identical ingestion path as fresh
// records.
type run struct {
	o          *Orchestrator
	importID   string
	userID     string
	importType string

	queues    *scorequeue.Queues
	blacklist map[string]bool

	scoreIDs  []string
	scores    []*types.PersistedScore
	touched   map[string]bool // chartIDs with at least one accepted score
	modes     map[gamemode.Mode]bool
	errs      []types.ImportError
	orphaned  int
	duplicate int
}

func (o *Orchestrator) newRun(ctx context.Context, userID, importType string) (*run, error) {
	blacklisted, err := o.db.GetScoreBlacklist(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading score blacklist: %w", err)
	}
	bl := make(map[string]bool, len(blacklisted))
	for _, id := range blacklisted {
		bl[id] = true
	}

	return &run{
		o:          o,
		importID:   "I" + uuid.NewString(),
		userID:     userID,
		importType: importType,
		queues:     scorequeue.New(o.db),
		blacklist:  bl,
		touched:    make(map[string]bool),
		modes:      make(map[gamemode.Mode]bool),
	}, nil
}

// IngestConverted runs one converted score through identity assignment,
// dedup, derivation and the insert queue.
func (r *run) IngestConverted(ctx context.Context, userID, importType string, res *shared.ConverterResult) error {
	score, chart := res.Score, res.Chart

	scoreID, err := identity.AssignScoreID(userID, chart.ChartID, score.Mode, score.Metrics)
	if err != nil {
		return fmt.Errorf("assigning score identity: %w", err)
	}

	if r.blacklist[scoreID] {
		r.o.logger.InfoContext(ctx, "blacklisted score skipped",
			"score_id", scoreID, "user_id", userID)
		return nil
	}

	// In-flight dedup first, then the durable store.
	if r.queues.Contains(userID, scoreID) {
		r.countDuplicate(score.Mode)
		return nil
	}
	exists, err := r.o.db.ScoreExists(ctx, scoreID)
	if err != nil {
		return fmt.Errorf("checking score %s: %w", scoreID, err)
	}
	if exists {
		r.countDuplicate(score.Mode)
		return nil
	}

	metrics, indexes, err := derived.Derive(score.Mode, score.Metrics, chart)
	if err != nil {
		return fmt.Errorf("deriving metrics: %w", err)
	}

	persisted := &types.PersistedScore{
		ScoreID:      scoreID,
		UserID:       userID,
		ChartID:      chart.ChartID,
		SongID:       chart.SongID,
		Mode:         score.Mode,
		Service:      score.Service,
		ImportType:   importType,
		ImportID:     r.importID,
		Comment:      score.Comment,
		TimeAchieved: score.TimeAchieved,
		TimeAdded:    r.o.now().UnixMilli(),
		Metrics:      metrics,
		EnumIndexes:  indexes,
	}

	result, _, err := r.queues.Enqueue(ctx, userID, persisted)
	if err != nil {
		return err
	}
	if result == scorequeue.Duplicate {
		r.countDuplicate(score.Mode)
		return nil
	}

	r.scoreIDs = append(r.scoreIDs, scoreID)
	r.scores = append(r.scores, persisted)
	r.touched[chart.ChartID] = true
	r.modes[score.Mode] = true
	if r.o.metrics != nil {
		r.o.metrics.ScoresImported.WithLabelValues(score.Mode.String()).Inc()
	}
	return nil
}

func (r *run) countDuplicate(mode gamemode.Mode) {
	r.duplicate++
	if r.o.metrics != nil {
		r.o.metrics.ScoresDuplicate.WithLabelValues(mode.String()).Inc()
	}
}

func (r *run) scoresFor(mode gamemode.Mode) []*types.PersistedScore {
	var out []*types.PersistedScore
	for _, s := range r.scores {
		if s.Mode == mode {
			out = append(out, s)
		}
	}
	return out
}

// Process runs one complete import batch.
func (o *Orchestrator) Process(ctx context.Context, req *ImportRequest) (*types.ImportBatchRecord, error) {
	user, err := o.db.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("looking up user %s: %w", req.UserID, err)
	}
	if user == nil {
		return nil, shared.ErrUnknownUser
	}

	conv, ok := o.converters[req.ImportType]
	if !ok {
		return nil, fmt.Errorf("no converter registered for import type %q", req.ImportType)
	}

	acquired, err := o.locker.TryAcquire(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("acquiring import lock: %w", err)
	}
	if !acquired {
		if o.metrics != nil {
			o.metrics.LockConflicts.Inc()
		}
		return nil, shared.ErrLockConflict
	}
	defer func() {
		if err := o.locker.Release(ctx, req.UserID); err != nil {
			o.logger.ErrorContext(ctx, "releasing import lock failed",
				"user_id", req.UserID, "error", err)
		}
	}()

	started := o.now()
	r, err := o.newRun(ctx, req.UserID, req.ImportType)
	if err != nil {
		return nil, err
	}

	record := &types.ImportBatchRecord{
		ImportID:    r.importID,
		UserID:      req.UserID,
		ImportType:  req.ImportType,
		Game:        req.Game,
		UserIntent:  req.UserIntent,
		TimeStarted: started.UnixMilli(),
	}

	record.ArchiveURI = o.archiveRawPayload(ctx, req, r.importID)

	// Phase 1: convert, classify and queue. Per-record failures never stop
	// the batch.
	importStart := o.now()
	for i, raw := range req.Records {
		res, failure := conv.Convert(ctx, o.logger, raw, req.Context)
		if failure != nil {
			r.classifyFailure(ctx, failure)
			continue
		}
		if err := r.IngestConverted(ctx, req.UserID, req.ImportType, res); err != nil {
			// A failed capacity flush loses every score in that batch, not
			// just this record. The run's accumulated chart bookkeeping no
			// longer matches the store, so abort; create-only inserts make a
			// redelivered batch safe.
			var fe *scorequeue.FlushError
			if errors.As(err, &fe) {
				return nil, fmt.Errorf("import batch %s: %w", r.importID, err)
			}
			o.logger.ErrorContext(ctx, "score ingestion failed",
				"user_id", req.UserID, "record", i, "error", err)
			r.errs = append(r.errs, types.ImportError{
				Type: "Internal", Message: err.Error(),
			})
		}
	}
	if _, err := r.queues.FlushAll(ctx); err != nil {
		return nil, fmt.Errorf("flushing score queue: %w", err)
	}
	record.Timings.Import = phaseTiming(o.now(), importStart, len(req.Records))

	return o.finish(ctx, r, record)
}

// finish runs the post-import phases and persists the batch record. Shared
// with the orphan reprocess path so rescued scores trigger the same
// downstream updates as fresh ones.
func (o *Orchestrator) finish(ctx context.Context, r *run, record *types.ImportBatchRecord) (*types.ImportBatchRecord, error) {
	record.ScoreIDs = r.scoreIDs
	record.OrphanCount = r.orphaned

	touched := make([]string, 0, len(r.touched))
	for chartID := range r.touched {
		touched = append(touched, chartID)
	}
	modes := make([]gamemode.Mode, 0, len(r.modes))
	for m := range r.modes {
		modes = append(modes, m)
		record.Modes = append(record.Modes, m.String())
	}

	// Post-import phases. Each is isolated: a failure is recorded on the
	// batch and later phases still run. Integrity violations are the
	// exception; they mean corrupted state and abort.
	if o.sessions != nil && len(r.scoreIDs) > 0 {
		sessionStart := o.now()
		for _, m := range modes {
			refs, err := o.sessions.Recompute(ctx, r.userID, m, r.scoresFor(m))
			if err != nil {
				r.phaseError(ctx, o, "sessions", err)
				break
			}
			record.CreatedSessions = append(record.CreatedSessions, refs...)
		}
		record.Timings.Session = phaseTiming(o.now(), sessionStart, len(r.scoreIDs))
	}

	pbStart := o.now()
	changedCharts, err := o.pbs.Process(ctx, r.userID, touched)
	if err != nil {
		if isIntegrity(err) {
			return nil, err
		}
		r.phaseError(ctx, o, "personal-bests", err)
	}
	record.Timings.PB = phaseTiming(o.now(), pbStart, len(touched))

	if o.classes != nil && len(modes) > 0 {
		profileStart := o.now()
		deltas, err := o.classes.Update(ctx, r.userID, modes)
		if err != nil {
			r.phaseError(ctx, o, "classes", err)
		} else {
			record.ClassDeltas = deltas
		}
		record.Timings.Profile = phaseTiming(o.now(), profileStart, len(modes))
	}

	goalStart := o.now()
	var goalProgress map[string]types.GoalProgress
	for _, m := range modes {
		diffs, progress, err := o.goals.GetAndUpdate(ctx, r.userID, m, changedCharts)
		if err != nil {
			r.phaseError(ctx, o, "goals", err)
			continue
		}
		record.GoalInfo = append(record.GoalInfo, diffs...)
		if goalProgress == nil {
			goalProgress = make(map[string]types.GoalProgress)
		}
		for id, p := range progress {
			goalProgress[id] = p
		}
	}
	record.Timings.Goal = phaseTiming(o.now(), goalStart, len(goalProgress))

	milestoneStart := o.now()
	for _, m := range modes {
		diffs, err := o.milestones.Update(ctx, r.userID, m, goalProgress)
		if err != nil {
			if isIntegrity(err) {
				return nil, err
			}
			r.phaseError(ctx, o, "milestones", err)
			continue
		}
		record.MilestoneInfo = append(record.MilestoneInfo, diffs...)
	}
	record.Timings.Milestone = phaseTiming(o.now(), milestoneStart, len(record.MilestoneInfo))

	record.Errors = r.errs
	record.TimeFinished = o.now().UnixMilli()

	if err := o.db.CreateImport(ctx, record); err != nil {
		return nil, fmt.Errorf("writing import record: %w", err)
	}
	o.observeBatch(record)

	o.logger.InfoContext(ctx, "import finished",
		"import_id", r.importID,
		"user_id", r.userID,
		"scores", len(r.scoreIDs),
		"duplicates", r.duplicate,
		"orphans", r.orphaned,
		"errors", len(r.errs),
		"duration_ms", record.TimeFinished-record.TimeStarted)

	return record, nil
}

func (o *Orchestrator) observeBatch(record *types.ImportBatchRecord) {
	if o.metrics == nil {
		return
	}
	o.metrics.ImportDuration.WithLabelValues(record.ImportType).
		Observe(float64(record.TimeFinished-record.TimeStarted) / 1000)
	for phase, t := range map[string]types.PhaseTiming{
		"import":         record.Timings.Import,
		"sessions":       record.Timings.Session,
		"personal-bests": record.Timings.PB,
		"profile":        record.Timings.Profile,
		"goals":          record.Timings.Goal,
		"milestones":     record.Timings.Milestone,
	} {
		o.metrics.PhaseDuration.WithLabelValues(phase).Observe(t.Abs / 1000)
	}
	for _, diff := range record.GoalInfo {
		if diff.New.Achieved && !diff.Old.Achieved {
			o.metrics.GoalsAchieved.Inc()
		}
	}
	for _, diff := range record.MilestoneInfo {
		if diff.New.Achieved && !diff.Old.Achieved {
			o.metrics.MilestonesAchieved.Inc()
		}
	}
}

// ReprocessOrphans replays one user's parked orphans through the full
// pipeline under the same single-flight lock as a fresh import. A batch
// record is written only when at least one orphan actually imported.
func (o *Orchestrator) ReprocessOrphans(ctx context.Context, userID string) (map[orphan.Outcome]int, error) {
	acquired, err := o.locker.TryAcquire(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("acquiring import lock: %w", err)
	}
	if !acquired {
		if o.metrics != nil {
			o.metrics.LockConflicts.Inc()
		}
		return nil, shared.ErrLockConflict
	}
	defer func() {
		if err := o.locker.Release(ctx, userID); err != nil {
			o.logger.ErrorContext(ctx, "releasing import lock failed",
				"user_id", userID, "error", err)
		}
	}()

	started := o.now()
	r, err := o.newRun(ctx, userID, reprocessImportType)
	if err != nil {
		return nil, err
	}

	counts, err := o.OrphanReprocessor().ReprocessUser(ctx, userID, r)
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		for outcome, n := range counts {
			o.metrics.OrphansReprocessed.WithLabelValues(outcome.String()).Add(float64(n))
		}
	}
	if _, err := r.queues.FlushAll(ctx); err != nil {
		return counts, fmt.Errorf("flushing score queue: %w", err)
	}
	if len(r.scoreIDs) == 0 {
		return counts, nil
	}

	record := &types.ImportBatchRecord{
		ImportID:    r.importID,
		UserID:      userID,
		ImportType:  reprocessImportType,
		TimeStarted: started.UnixMilli(),
	}
	record.Timings.Import = phaseTiming(o.now(), started, len(r.scoreIDs))
	if _, err := o.finish(ctx, r, record); err != nil {
		return counts, err
	}
	return counts, nil
}

// classifyFailure routes one converter failure per the failure taxonomy.
func (r *run) classifyFailure(ctx context.Context, failure *shared.ConverterFailure) {
	switch failure.Kind {
	case shared.FailureNotSupported:
		// Intentionally out of scope, not reported.
	case shared.FailureDataNotFound:
		if _, _, err := r.o.orphans.Submit(ctx, r.userID, failure, r.importType); err != nil {
			r.errs = append(r.errs, types.ImportError{Type: "Internal", Message: err.Error()})
			return
		}
		if failure.ChartDef != nil {
			if _, err := r.o.chartQueue.Corroborate(ctx, r.userID, failure.ChartDef); err != nil {
				r.o.logger.ErrorContext(ctx, "chart corroboration failed",
					"user_id", r.userID, "error", err)
			}
		}
		r.orphaned++
		if r.o.metrics != nil {
			r.o.metrics.ScoresOrphaned.WithLabelValues(r.importType).Inc()
		}
	case shared.FailureInvalid:
		r.errs = append(r.errs, types.ImportError{Type: "Invalid", Message: failure.Message})
		if r.o.metrics != nil {
			r.o.metrics.ScoresFailed.WithLabelValues(failure.Kind.String()).Inc()
		}
	default:
		r.o.logger.ErrorContext(ctx, "converter internal failure",
			"user_id", r.userID, "import_type", r.importType, "error", failure.Message)
		sentry.CaptureException(failure, map[string]interface{}{
			"user_id":     r.userID,
			"import_id":   r.importID,
			"import_type": r.importType,
		}, r.o.logger)
		r.errs = append(r.errs, types.ImportError{Type: "Internal", Message: failure.Message})
		if r.o.metrics != nil {
			r.o.metrics.ScoresFailed.WithLabelValues(failure.Kind.String()).Inc()
		}
	}
}

func (r *run) phaseError(ctx context.Context, o *Orchestrator, phase string, err error) {
	o.logger.ErrorContext(ctx, "pipeline phase failed",
		"phase", phase, "user_id", r.userID, "import_id", r.importID, "error", err)
	r.errs = append(r.errs, types.ImportError{
		Type:    "Phase:" + phase,
		Message: err.Error(),
	})
}

// archiveRawPayload stores the original submission next to its batch record.
// Archive failures are logged, never fatal.
func (o *Orchestrator) archiveRawPayload(ctx context.Context, req *ImportRequest, importID string) string {
	if o.store == nil || o.archiveBucket == "" {
		return ""
	}
	payload, err := json.Marshal(req)
	if err != nil {
		o.logger.ErrorContext(ctx, "encoding raw payload for archive failed", "error", err)
		return ""
	}
	object := infrastorage.ArchiveObject(req.UserID, importID)
	if err := o.store.Write(ctx, o.archiveBucket, object, payload); err != nil {
		o.logger.ErrorContext(ctx, "archiving raw payload failed",
			"bucket", o.archiveBucket, "object", object, "error", err)
		return ""
	}
	return infrastorage.ArchiveURI(o.archiveBucket, object)
}

func isIntegrity(err error) bool {
	var ie *shared.IntegrityError
	return errors.As(err, &ie)
}

func millisSince(now, start time.Time) float64 {
	return float64(now.Sub(start)) / float64(time.Millisecond)
}

// phaseTiming pairs a phase's absolute wall time with its per-document rate.
func phaseTiming(now time.Time, start time.Time, docs int) types.PhaseTiming {
	t := types.PhaseTiming{Abs: millisSince(now, start)}
	if docs > 0 {
		t.Rel = t.Abs / float64(docs)
	}
	return t
}
