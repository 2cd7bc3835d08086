package worker

import (
	"context"
	"fmt"
	"log/slog"

	"hisob/internal/amqp"
	"hisob/internal/core"
	"hisob/internal/log"
)

// Scheduler is the coalescer side of the worker.
type Scheduler interface {
	Schedule(key int64)
	UpdateNow(ctx context.Context, key int64) error
}

// GroupLister lists every known group for the startup catch-up.
type GroupLister interface {
	ListGroups(ctx context.Context) ([]core.Group, error)
}

// DashboardWorker turns ledger-changed messages into coalesced dashboard
// publishes.
type DashboardWorker struct {
	scheduler Scheduler
	groups    GroupLister
}

func NewDashboardWorker(scheduler Scheduler, groups GroupLister) *DashboardWorker {
	return &DashboardWorker{scheduler: scheduler, groups: groups}
}

// HandleLedgerChanged processes a single ledger-changed message from AMQP.
// Manual requests publish right away; everything else is coalesced. A failed
// manual publish is logged and not redelivered.
func (w *DashboardWorker) HandleLedgerChanged(ctx context.Context, msg *amqp.LedgerChangedMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	if msg.Reason == amqp.ReasonManual {
		if err := w.scheduler.UpdateNow(ctx, msg.GroupID); err != nil {
			slog.ErrorContext(ctx, "Manual dashboard update failed",
				log.FieldComponent, log.ComponentWorker,
				log.FieldGroupID, msg.GroupID,
				log.FieldMessageID, msg.MessageID,
				log.FieldError, err)
		}
		return nil
	}

	slog.DebugContext(ctx, "Scheduling dashboard update",
		log.FieldComponent, log.ComponentWorker,
		log.FieldGroupID, msg.GroupID,
		log.FieldMessageID, msg.MessageID,
		log.FieldReason, msg.Reason)

	w.scheduler.Schedule(msg.GroupID)
	return nil
}

// StartupCatchUp schedules a dashboard update for every group. It recovers
// from messages lost while the worker was down.
func (w *DashboardWorker) StartupCatchUp(ctx context.Context) error {
	groups, err := w.groups.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("list groups for startup catch-up: %w", err)
	}

	if len(groups) == 0 {
		slog.InfoContext(ctx, "No groups found on startup",
			log.FieldComponent, log.ComponentWorker,
			log.FieldOperation, log.OpCatchUp)
		return nil
	}

	for _, g := range groups {
		w.scheduler.Schedule(g.ID)
	}

	slog.InfoContext(ctx, "Startup catch-up scheduled",
		log.FieldComponent, log.ComponentWorker,
		log.FieldOperation, log.OpCatchUp,
		"groups", len(groups))
	return nil
}
