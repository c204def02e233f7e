package orphan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	shared "github.com/kyoku-gg/server/pkg"
	"github.com/kyoku-gg/server/pkg/scorequeue"
	"github.com/kyoku-gg/server/pkg/types"
)

// Outcome classifies one reprocess attempt on a stored orphan.
type Outcome int

const (
	// NotReady: the chart reference still resolves to nothing. The orphan
	// stays parked.
	NotReady Outcome = iota
	// Discarded: the record is now invalid or unsupported and can never
	// import. The orphan is deleted without producing a score.
	Discarded
	// Imported: conversion succeeded and the score was handed to the
	// ingestion core. The orphan is deleted.
	Imported
)

func (o Outcome) String() string {
	switch o {
	case NotReady:
		return "NotReady"
	case Discarded:
		return "Discarded"
	case Imported:
		return "Imported"
	}
	return "Unknown"
}

// Ingestor accepts a successfully re-converted score into the normal
// ingestion path (identity, dedup, derivation, durable write). The import
// pipeline implements this.
type Ingestor interface {
	IngestConverted(ctx context.Context, userID, importType string, res *shared.ConverterResult) error
}

// Reprocessor replays stored orphans through their converters.
type Reprocessor struct {
	store      *Store
	chartQueue *ChartQueue
	converters map[string]shared.Converter
	logger     *slog.Logger
}

func NewReprocessor(store *Store, chartQueue *ChartQueue, converters map[string]shared.Converter, logger *slog.Logger) *Reprocessor {
	return &Reprocessor{
		store:      store,
		chartQueue: chartQueue,
		converters: converters,
		logger:     logger,
	}
}

// ReprocessUser replays every orphan belonging to one user. Per-orphan
// failures are isolated: one bad orphan never blocks the rest of the sweep.
func (r *Reprocessor) ReprocessUser(ctx context.Context, userID string, ingestor Ingestor) (map[Outcome]int, error) {
	orphans, err := r.store.db.ListOrphans(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orphans for %s: %w", userID, err)
	}

	counts := make(map[Outcome]int)
	for _, o := range orphans {
		outcome, err := r.reprocessOne(ctx, o, ingestor)
		if err != nil {
			// A lost durable flush invalidates the ingestor's bookkeeping for
			// everything replayed so far; stop and let the sweep retry.
			var fe *scorequeue.FlushError
			if errors.As(err, &fe) {
				return nil, err
			}
			r.logger.ErrorContext(ctx, "orphan reprocess failed",
				"orphan_id", o.OrphanID, "user_id", userID, "error", err)
			continue
		}
		counts[outcome]++
	}
	return counts, nil
}

func (r *Reprocessor) reprocessOne(ctx context.Context, o *types.OrphanRecord, ingestor Ingestor) (Outcome, error) {
	conv, ok := r.converters[o.ImportType]
	if !ok {
		return 0, fmt.Errorf("no converter registered for import type %q", o.ImportType)
	}

	res, failure := conv.Convert(ctx, r.logger, o.Data, o.Context)
	if failure != nil {
		switch failure.Kind {
		case shared.FailureDataNotFound:
			// Still unresolvable. Corroborate a submitted chart definition so
			// repeated sightings can eventually promote it.
			if failure.ChartDef != nil && r.chartQueue != nil {
				if _, err := r.chartQueue.Corroborate(ctx, o.UserID, failure.ChartDef); err != nil {
					return 0, err
				}
			}
			return NotReady, nil
		case shared.FailureInvalid, shared.FailureNotSupported:
			if err := r.store.db.DeleteOrphan(ctx, o.OrphanID); err != nil {
				return 0, fmt.Errorf("deleting dead orphan %s: %w", o.OrphanID, err)
			}
			r.logger.InfoContext(ctx, "orphan discarded",
				"orphan_id", o.OrphanID, "reason", failure.Message)
			return Discarded, nil
		default:
			return 0, fmt.Errorf("converting orphan %s: %w", o.OrphanID, failure)
		}
	}

	if err := ingestor.IngestConverted(ctx, o.UserID, o.ImportType, res); err != nil {
		return 0, fmt.Errorf("ingesting reprocessed orphan %s: %w", o.OrphanID, err)
	}
	if err := r.store.db.DeleteOrphan(ctx, o.OrphanID); err != nil {
		return 0, fmt.Errorf("deleting imported orphan %s: %w", o.OrphanID, err)
	}
	r.logger.InfoContext(ctx, "orphan imported", "orphan_id", o.OrphanID, "user_id", o.UserID)
	return Imported, nil
}
