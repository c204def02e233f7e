package orphan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	shared "github.com/kyoku-gg/server/pkg"
	"github.com/kyoku-gg/server/pkg/domain/identity"
	"github.com/kyoku-gg/server/pkg/types"
)

// CorroborationThreshold is how many distinct users must submit the same
// chart definition before it is promoted into the catalog.
const CorroborationThreshold = 3

// DefaultQueueLimit bounds the unverified-chart queue. Beyond this, new
// definitions are dropped rather than stored.
const DefaultQueueLimit = 1000

// ChartQueue accumulates corroborations for chart definitions that arrived
// attached to orphaned scores. A definition seen by enough distinct users is
// promoted into the catalog; the next reprocess sweep then rescues the
// orphans that referenced it.
type ChartQueue struct {
	db       shared.Database
	catalog  shared.ChartCatalog
	logger   *slog.Logger
	limit    int
	promoted prometheus.Counter
}

// NewChartQueue builds a queue over the given store. promoted is incremented
// once per catalog promotion; pass nil to skip counting.
func NewChartQueue(db shared.Database, catalog shared.ChartCatalog, logger *slog.Logger, promoted prometheus.Counter) *ChartQueue {
	return &ChartQueue{db: db, catalog: catalog, logger: logger, limit: DefaultQueueLimit, promoted: promoted}
}

// chartHashID keys a definition by its content, not its submitter, so the
// same chart from different users lands on the same queue entry.
func chartHashID(def *shared.UnverifiedChartDef) string {
	chartJSON, _ := json.Marshal(def.Chart)
	songJSON, _ := json.Marshal(def.Song)
	return identity.HashContent("Q", chartJSON, songJSON)
}

// Corroborate records one user's sighting of a chart definition. Returns
// true when this sighting pushed the definition over the threshold and it
// was promoted into the catalog.
func (q *ChartQueue) Corroborate(ctx context.Context, userID string, def *shared.UnverifiedChartDef) (bool, error) {
	hashID := chartHashID(def)

	entry, err := q.db.GetUnverifiedChart(ctx, hashID)
	if err != nil {
		return false, fmt.Errorf("loading unverified chart %s: %w", hashID, err)
	}

	if entry == nil {
		count, err := q.db.CountUnverifiedCharts(ctx)
		if err != nil {
			return false, fmt.Errorf("sizing unverified chart queue: %w", err)
		}
		if count >= q.limit {
			q.logger.WarnContext(ctx, "unverified chart queue full, dropping definition",
				"hash_id", hashID, "limit", q.limit)
			return false, nil
		}
		entry = &types.UnverifiedChart{
			HashID:       hashID,
			Chart:        def.Chart,
			Song:         def.Song,
			TimeInserted: time.Now().UnixMilli(),
		}
	}

	for _, u := range entry.Corroborations {
		if u == userID {
			// Same user again adds no evidence.
			return false, nil
		}
	}
	entry.Corroborations = append(entry.Corroborations, userID)

	if len(entry.Corroborations) < CorroborationThreshold {
		if err := q.db.SetUnverifiedChart(ctx, entry); err != nil {
			return false, fmt.Errorf("storing unverified chart %s: %w", hashID, err)
		}
		return false, nil
	}

	if err := q.catalog.CreateChart(ctx, &entry.Chart, &entry.Song); err != nil {
		return false, fmt.Errorf("promoting chart %s: %w", entry.Chart.ChartID, err)
	}
	if err := q.db.DeleteUnverifiedChart(ctx, hashID); err != nil {
		return false, fmt.Errorf("removing promoted chart %s: %w", hashID, err)
	}
	if q.promoted != nil {
		q.promoted.Inc()
	}
	q.logger.InfoContext(ctx, "unverified chart promoted",
		"hash_id", hashID, "chart_id", entry.Chart.ChartID,
		"corroborations", len(entry.Corroborations))
	return true, nil
}
