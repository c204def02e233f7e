// Command reprocess-orphans periodically replays parked orphan scores
// against the current chart catalog. Orphans whose charts have since been
// verified import through the normal pipeline; orphans that turned invalid
// are discarded.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kyoku-gg/server/functions/importer"
	shared "github.com/kyoku-gg/server/pkg"
	"github.com/kyoku-gg/server/pkg/bootstrap"
	"github.com/kyoku-gg/server/pkg/metrics"
	"github.com/kyoku-gg/server/pkg/orphan"
)

const listUsersMaxElapsed = 30 * time.Second

func newListBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = listUsersMaxElapsed
	return bo
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.NewService(ctx)
	if err != nil {
		slog.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}
	logger := bootstrap.NewLogger("reprocess-orphans", svc.Config.LogLevel)

	mgr := metrics.New(prometheus.DefaultRegisterer)
	if addr := svc.Config.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("metrics endpoint up", "addr", addr)
	}

	o := importer.NewOrchestrator(svc.DB, svc.Catalog, svc.Pub, svc.Locker, logger, importer.Options{
		Metrics: mgr,
	})
	importer.RegisterConverters(o, svc.Catalog)

	interval := svc.Config.OrphanSweepInterval
	logger.Info("orphan sweeper starting", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// One sweep immediately on startup, then on the ticker.
	sweep(ctx, svc, o, logger)
	for {
		select {
		case <-ctx.Done():
			logger.Info("orphan sweeper stopping")
			return
		case <-ticker.C:
			sweep(ctx, svc, o, logger)
		}
	}
}

func sweep(ctx context.Context, svc *bootstrap.Service, o *importer.Orchestrator, logger *slog.Logger) {
	var users []string
	err := backoff.Retry(func() error {
		var err error
		users, err = svc.DB.ListOrphanedUsers(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(newListBackoff(), ctx))
	if err != nil {
		logger.ErrorContext(ctx, "listing orphaned users failed", "error", err)
		return
	}
	if len(users) == 0 {
		logger.DebugContext(ctx, "no orphans to sweep")
		return
	}

	totals := make(map[orphan.Outcome]int)
	for _, userID := range users {
		if ctx.Err() != nil {
			return
		}
		counts, err := o.ReprocessOrphans(ctx, userID)
		if err != nil {
			if errors.Is(err, shared.ErrLockConflict) {
				// An import is running for this user; the next sweep will
				// pick them up.
				logger.InfoContext(ctx, "user busy, skipping", "user_id", userID)
				continue
			}
			logger.ErrorContext(ctx, "reprocessing user failed", "user_id", userID, "error", err)
			continue
		}
		for outcome, n := range counts {
			totals[outcome] += n
		}
	}

	logger.InfoContext(ctx, "sweep finished",
		"users", len(users),
		"imported", totals[orphan.Imported],
		"discarded", totals[orphan.Discarded],
		"not_ready", totals[orphan.NotReady])
}
