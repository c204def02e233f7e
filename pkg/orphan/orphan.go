// Package orphan parks normalized score records whose chart reference the
// catalog cannot resolve yet, and replays them once the catalog catches up.
// Orphans are keyed by a content hash, so resubmitting the same unresolvable
// play is a no-op rather than a second orphan.
package orphan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	shared "github.com/kyoku-gg/server/pkg"
	"github.com/kyoku-gg/server/pkg/domain/identity"
	"github.com/kyoku-gg/server/pkg/types"
)

// SubmitResult describes what Submit did with an orphan candidate.
type SubmitResult int

const (
	// Created means a new orphan record was stored.
	Created SubmitResult = iota
	// Duplicate means an identical orphan already exists for this user.
	Duplicate
)

// Store writes and replays orphans against the durable orphan collection.
type Store struct {
	db     shared.Database
	logger *slog.Logger
}

func NewStore(db shared.Database, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// ID derives the content-hash identity of an orphan candidate. Same user,
// import type and raw payload always collapse onto the same orphan.
func ID(userID, importType string, data, importContext json.RawMessage) string {
	return identity.HashContent("O",
		[]byte(importType), []byte(userID), data, importContext)
}

// Submit stores an orphan candidate. Idempotent on content.
func (s *Store) Submit(ctx context.Context, userID string, failure *shared.ConverterFailure, importType string) (SubmitResult, *types.OrphanRecord, error) {
	orphanID := ID(userID, importType, failure.Data, failure.Context)

	existing, err := s.db.GetOrphan(ctx, orphanID)
	if err != nil {
		return 0, nil, fmt.Errorf("checking orphan %s: %w", orphanID, err)
	}
	if existing != nil {
		return Duplicate, existing, nil
	}

	record := &types.OrphanRecord{
		OrphanID:     orphanID,
		UserID:       userID,
		ImportType:   importType,
		Data:         failure.Data,
		Context:      failure.Context,
		ErrMsg:       failure.Message,
		TimeInserted: time.Now().UnixMilli(),
	}
	if err := s.db.CreateOrphan(ctx, record); err != nil {
		return 0, nil, fmt.Errorf("storing orphan %s: %w", orphanID, err)
	}

	s.logger.InfoContext(ctx, "orphaned score stored",
		"orphan_id", orphanID, "user_id", userID, "import_type", importType)
	return Created, record, nil
}
