// Package dashboard recomputes a group's summary and publishes it. Publisher
// is the publish action driven by the coalescer.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hisob/internal/core"
	"hisob/internal/ledger"
	"hisob/internal/log"
)

// Source reads the state a dashboard is computed from. Satisfied by
// storage.SQLiteRepository.
type Source interface {
	GetGroup(ctx context.Context, id int64) (core.Group, error)
	ListMembers(ctx context.Context, groupID int64) ([]core.Member, error)
	ListTransactions(ctx context.Context, groupID int64) ([]core.Transaction, error)
}

// Upserter is the publish side; see publish.Upserter.
type Upserter interface {
	Upsert(ctx context.Context, key int64, text string) (string, error)
}

type Publisher struct {
	source      Source
	renderer    Renderer
	upserter    Upserter
	recentLimit int
	now         func() time.Time
}

// NewPublisher wires the publish pipeline. recentLimit <= 0 uses the ledger
// default.
func NewPublisher(source Source, renderer Renderer, upserter Upserter, recentLimit int) *Publisher {
	if renderer == nil {
		renderer = TextRenderer{}
	}
	return &Publisher{
		source:      source,
		renderer:    renderer,
		upserter:    upserter,
		recentLimit: recentLimit,
		now:         time.Now,
	}
}

// View loads the group and computes its current summary.
func (p *Publisher) View(ctx context.Context, groupID int64) (core.View, error) {
	group, err := p.source.GetGroup(ctx, groupID)
	if err != nil {
		return core.View{}, fmt.Errorf("load group: %w", err)
	}
	members, err := p.source.ListMembers(ctx, groupID)
	if err != nil {
		return core.View{}, fmt.Errorf("load members: %w", err)
	}
	txs, err := p.source.ListTransactions(ctx, groupID)
	if err != nil {
		return core.View{}, fmt.Errorf("load transactions: %w", err)
	}
	return ledger.BuildView(group, members, txs, p.recentLimit, p.now()), nil
}

// Publish recomputes the group's dashboard from fresh state and upserts it.
// A group that does not exist is skipped.
func (p *Publisher) Publish(ctx context.Context, groupID int64) error {
	view, err := p.View(ctx, groupID)
	if errors.Is(err, core.ErrNotFound) {
		slog.WarnContext(ctx, "Skipping dashboard for unknown group",
			log.FieldComponent, log.ComponentDashboard,
			log.FieldGroupID, groupID)
		return nil
	}
	if err != nil {
		return err
	}

	text := p.renderer.Render(view)
	pointer, err := p.upserter.Upsert(ctx, groupID, text)
	if err != nil {
		return fmt.Errorf("upsert dashboard for group %d: %w", groupID, err)
	}

	slog.InfoContext(ctx, "Dashboard published",
		log.FieldComponent, log.ComponentDashboard,
		log.FieldGroupID, groupID,
		log.FieldPointer, pointer,
		"balances", len(view.Balances),
		"transfers", len(view.Transfers))
	return nil
}
