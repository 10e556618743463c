package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/skillrunner/api/schemas"
	"github.com/xkilldash9x/skillrunner/internal/browser"
	"github.com/xkilldash9x/skillrunner/internal/browser/session"
	"github.com/xkilldash9x/skillrunner/internal/config"
	"github.com/xkilldash9x/skillrunner/internal/observability"
	"github.com/xkilldash9x/skillrunner/internal/store"
)

// errNoDatabase is returned by the store provider when database.url is unset.
var errNoDatabase = errors.New("database URL is not configured (SKILLRUNNER_DATABASE_URL)")

// newLauncher builds the browser launcher. Tests replace it with a fake.
var newLauncher = func(logger *zap.Logger, cfg config.Interface) browser.Launcher {
	return session.NewManager(logger, cfg)
}

// reportStore is the part of the store the commands use.
type reportStore interface {
	SyncReport(ctx context.Context, r *schemas.RunReport) store.SyncResult
	GetReport(ctx context.Context, runID string) (*schemas.RunReport, error)
}

// storeProvider creates the report store, so tests can inject a fake one
// instead of a live database connection.
type storeProvider interface {
	Create(ctx context.Context, cfg config.Interface) (reportStore, func(), error)
}

type defaultStoreProvider struct{}

// NewStoreProvider returns the provider that connects to PostgreSQL.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to the configured database and applies the schema.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (reportStore, func(), error) {
	if cfg.Database().URL == "" {
		return nil, nil, errNoDatabase
	}
	logger := observability.GetLogger()
	s, cleanup, err := store.Connect(ctx, cfg.Database().URL, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}
	return s, cleanup, nil
}

// openSyncStore returns the store reports are mirrored to, or nil when report
// sync is disabled or unavailable. Sync is advisory, so failures only warn.
func openSyncStore(ctx context.Context, provider storeProvider, cfg config.Interface, logger *zap.Logger) (reportStore, func()) {
	if cfg.Database().URL == "" {
		return nil, func() {}
	}
	s, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		logger.Warn("Report sync disabled, database is unavailable.", zap.Error(err))
		return nil, func() {}
	}
	return s, cleanup
}

func syncReport(ctx context.Context, s reportStore, rep *schemas.RunReport, logger *zap.Logger) {
	if s == nil {
		return
	}
	res := s.SyncReport(context.WithoutCancel(ctx), rep)
	if res.Err != nil {
		logger.Warn("Failed to sync run report.", zap.String("run_id", rep.RunID), zap.Error(res.Err))
		return
	}
	logger.Info("Run report synced.", zap.String("run_id", rep.RunID), zap.Int("artifacts", res.Artifacts))
}

func describe(rep *schemas.RunReport) string {
	line := fmt.Sprintf("%s  %s  %s  steps %d/%d", rep.RunID, rep.SkillID, rep.Status, rep.StepsCompleted, rep.StepsTotal)
	if rep.FailureClass != "" {
		line += "  " + string(rep.FailureClass)
	}
	if rep.CreatedInvoiceID != nil {
		line += "  invoice " + *rep.CreatedInvoiceID
	}
	if rep.Error != "" {
		line += "\n  error: " + rep.Error
	}
	return line
}
