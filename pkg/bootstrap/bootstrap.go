// Package bootstrap wires the standard dependency set for every service
// entry point: logging, config, Firestore, Pub/Sub, GCS, Redis and Sentry.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"

	shared "github.com/kyoku-gg/server/pkg"
	"github.com/kyoku-gg/server/pkg/config"
	"github.com/kyoku-gg/server/pkg/importlock"
	"github.com/kyoku-gg/server/pkg/infrastructure/catalog"
	"github.com/kyoku-gg/server/pkg/infrastructure/database"
	infrapubsub "github.com/kyoku-gg/server/pkg/infrastructure/pubsub"
	infrasentry "github.com/kyoku-gg/server/pkg/infrastructure/sentry"
	infrastorage "github.com/kyoku-gg/server/pkg/infrastructure/storage"
)

// Service holds initialized dependencies.
type Service struct {
	DB      shared.Database
	Catalog shared.ChartCatalog
	Pub     shared.Publisher
	Store   shared.BlobStore
	Locker  importlock.Locker
	Config  *config.Config
}

// GetSlogHandlerOptions returns standard handler options for GCP
func GetSlogHandlerOptions(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Map standard keys to Cloud Logging keys
			if a.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: a.Value}
			}
			if a.Key == slog.LevelKey {
				return slog.Attr{Key: "severity", Value: a.Value}
			}
			return a
		},
	}
}

// ComponentHandler wraps a slog.Handler to prepend [component] to the message
type ComponentHandler struct {
	slog.Handler
	component string
}

// WithGroup implements slog.Handler
func (h *ComponentHandler) WithGroup(name string) slog.Handler {
	return &ComponentHandler{
		Handler:   h.Handler.WithGroup(name),
		component: h.component,
	}
}

// WithAttrs implements slog.Handler
func (h *ComponentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newComp := h.component
	for _, a := range attrs {
		if a.Key == "component" {
			newComp = a.Value.String()
		}
	}
	return &ComponentHandler{
		Handler:   h.Handler.WithAttrs(attrs),
		component: newComp,
	}
}

// Handle implements slog.Handler
func (h *ComponentHandler) Handle(ctx context.Context, r slog.Record) error {
	comp := h.component

	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			comp = a.Value.String()
			return false
		}
		return true
	})

	if comp != "" {
		newMsg := fmt.Sprintf("[%s] %s", comp, r.Message)
		newRecord := slog.NewRecord(r.Time, r.Level, newMsg, r.PC)
		// The component attr stays in the structured payload; only the
		// message line gets the prefix.
		r.Attrs(func(a slog.Attr) bool {
			newRecord.AddAttrs(a)
			return true
		})
		r = newRecord
	}

	return h.Handler.Handle(ctx, r)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a configured logger instance.
func NewLogger(serviceName, level string) *slog.Logger {
	opts := GetSlogHandlerOptions(parseLevel(level))
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(&ComponentHandler{Handler: handler}).With("service", serviceName)
}

// InitLogger installs the GCP-mapped JSON logger as the process default.
func InitLogger(level string) {
	opts := GetSlogHandlerOptions(parseLevel(level))
	handler := slog.NewJSONHandler(os.Stdout, opts)
	slog.SetDefault(slog.New(&ComponentHandler{Handler: handler}))
}

// NewService initializes all standard dependencies.
func NewService(ctx context.Context) (*Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	InitLogger(cfg.LogLevel)

	slog.Info("Initializing service", "project_id", cfg.ProjectID)

	if err := infrasentry.Init(infrasentry.Config{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
	}, slog.Default()); err != nil {
		return nil, err
	}

	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("firestore init: %w", err)
	}

	var pub shared.Publisher
	if cfg.EnablePublish {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub init: %w", err)
		}
		pub = &infrapubsub.PubSubAdapter{Client: psClient}
		slog.Info("Pub/Sub: REAL (enable_publish=true)")
	} else {
		pub = &infrapubsub.LogPublisher{}
		slog.Info("Pub/Sub: MOCK (LogPublisher)")
	}

	gcsClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage init: %w", err)
	}

	var locker importlock.Locker
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		locker = importlock.NewRedisLocker(rdb, cfg.ImportLockTTL)
		slog.Info("Import lock: Redis", "addr", cfg.RedisAddr)
	} else {
		locker = importlock.NewMemoryLocker()
		slog.Info("Import lock: in-process (single instance only)")
	}

	return &Service{
		DB:      database.NewFirestoreAdapter(fsClient),
		Catalog: catalog.NewFirestoreCatalog(fsClient),
		Pub:     pub,
		Store:   &infrastorage.StorageAdapter{Client: gcsClient},
		Locker:  locker,
		Config:  cfg,
	}, nil
}
