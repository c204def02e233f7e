package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/cloudevents/sdk-go/v2/event"

	shared "github.com/kyoku-gg/server/pkg"
	"github.com/kyoku-gg/server/pkg/bootstrap"
	"github.com/kyoku-gg/server/pkg/framework"
	"github.com/kyoku-gg/server/pkg/integrations/flo"
	"github.com/kyoku-gg/server/pkg/integrations/kyokubatch"
	"github.com/kyoku-gg/server/pkg/types"
)

var (
	svc     *bootstrap.Service
	svcOnce sync.Once
	svcErr  error
)

func init() {
	functions.CloudEvent("ImportScores", ImportScores)
}

func initService(ctx context.Context) (*bootstrap.Service, error) {
	svcOnce.Do(func() {
		svc, svcErr = bootstrap.NewService(ctx)
		if svcErr != nil {
			slog.Error("Failed to initialize service", "error", svcErr)
		}
	})
	return svc, svcErr
}

// ImportScores is the entry point
func ImportScores(ctx context.Context, e event.Event) error {
	svc, err := initService(ctx)
	if err != nil {
		return fmt.Errorf("service init failed: %v", err)
	}
	return framework.WrapCloudEvent("importer", svc, importHandler)(ctx, e)
}

// importHandler contains the business logic
func importHandler(ctx context.Context, e event.Event, fwCtx *framework.FrameworkContext) (interface{}, error) {
	var msg types.PubSubMessage
	if err := e.DataAs(&msg); err != nil {
		return nil, fmt.Errorf("event.DataAs: %v", err)
	}

	var req ImportRequest
	if err := json.Unmarshal(msg.Message.Data, &req); err != nil {
		return nil, fmt.Errorf("decoding import request: %v", err)
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("missing userId in payload")
	}

	fwCtx.Logger.Info("Starting import",
		"import_type", req.ImportType, "records", len(req.Records))

	orchestrator := NewOrchestrator(
		fwCtx.Service.DB,
		fwCtx.Service.Catalog,
		fwCtx.Service.Pub,
		fwCtx.Service.Locker,
		fwCtx.Logger,
		Options{
			Store:         fwCtx.Service.Store,
			ArchiveBucket: fwCtx.Service.Config.ArchiveBucket,
		},
	)
	RegisterConverters(orchestrator, fwCtx.Service.Catalog)

	record, err := orchestrator.Process(ctx, &req)
	if err != nil {
		if errors.Is(err, shared.ErrLockConflict) {
			// Not retryable by redelivery: the user simply has an import
			// running. Ack the message and report the conflict.
			fwCtx.Logger.Warn("Import rejected, user already importing")
			return map[string]interface{}{"status": "conflict"}, nil
		}
		return nil, err
	}

	return map[string]interface{}{
		"importId": record.ImportID,
		"scores":   len(record.ScoreIDs),
		"orphans":  record.OrphanCount,
		"errors":   len(record.Errors),
	}, nil
}

// RegisterConverters installs every supported import type.
func RegisterConverters(o *Orchestrator, catalog shared.ChartCatalog) {
	o.Register(kyokubatch.New(catalog))
	o.Register(flo.New(catalog))
}
