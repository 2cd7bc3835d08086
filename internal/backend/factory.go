// Package backend assembles the dashboard publish pipeline from configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"hisob/internal/coalescer"
	"hisob/internal/config"
	"hisob/internal/dashboard"
	"hisob/internal/log"
	"hisob/internal/metrics"
	"hisob/internal/publish"
	"hisob/internal/publish/google"
	"hisob/internal/publish/memory"
	"hisob/internal/storage"
)

// TargetType names where dashboards are published.
type TargetType string

const (
	MemoryTarget TargetType = config.PublishTargetMemory
	SheetsTarget TargetType = config.PublishTargetSheets
)

func (t TargetType) IsValid() bool {
	switch t {
	case MemoryTarget, SheetsTarget:
		return true
	default:
		return false
	}
}

// Pipeline is the coalescer with the publisher it drives.
type Pipeline struct {
	Publisher *dashboard.Publisher
	Coalescer *coalescer.Coalescer
}

type Factory struct {
	logger *slog.Logger
	// newSheets is replaced in tests.
	newSheets func(ctx context.Context) (publish.Target, error)
}

func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		logger: logger,
		newSheets: func(ctx context.Context) (publish.Target, error) {
			return google.NewFromEnv(ctx)
		},
	}
}

// CreateTarget builds the publish target of the given type.
func (f *Factory) CreateTarget(ctx context.Context, t TargetType) (publish.Target, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("invalid publish target: %s", t)
	}

	switch t {
	case SheetsTarget:
		target, err := f.newSheets(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Sheets target: %w", err)
		}
		f.logger.Info("Initialized Google Sheets publish target", log.FieldComponent, log.ComponentPublish)
		return target, nil
	default:
		f.logger.Info("Initialized memory publish target", log.FieldComponent, log.ComponentPublish)
		return memory.New(), nil
	}
}

// CreatePipeline wires target, upserter, publisher and coalescer. Publish
// pointers are stored in repo.
func (f *Factory) CreatePipeline(ctx context.Context, cfg *config.Config, repo *storage.SQLiteRepository, m *metrics.Metrics) (*Pipeline, error) {
	target, err := f.CreateTarget(ctx, TargetType(cfg.PublishTarget))
	if err != nil {
		return nil, err
	}

	pub := dashboard.NewPublisher(repo, nil, publish.NewUpserter(target, repo), cfg.DashboardRecentLimit)
	c := coalescer.New(pub, cfg.DashboardDebounce,
		coalescer.WithLogger(f.logger),
		coalescer.WithMetrics(m))

	f.logger.Info("Dashboard pipeline ready",
		log.FieldComponent, log.ComponentDashboard,
		"target", cfg.PublishTarget,
		"debounce", cfg.DashboardDebounce)

	return &Pipeline{Publisher: pub, Coalescer: c}, nil
}
