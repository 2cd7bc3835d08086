package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"hisob/internal/core"
	"hisob/internal/log"
	"hisob/internal/metrics"
)

// Store is the persistence the recorder needs. Satisfied by
// storage.SQLiteRepository.
type Store interface {
	ListMembers(ctx context.Context, groupID int64) ([]core.Member, error)
	AppendTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
	ListRecentTransactions(ctx context.Context, groupID int64, limit int) ([]core.Transaction, error)
}

// Notifier is told after a group's ledger changed. Implementations are the
// AMQP publisher and the in-process coalescer.
type Notifier interface {
	LedgerChanged(ctx context.Context, groupID int64) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, groupID int64) error

func (f NotifierFunc) LedgerChanged(ctx context.Context, groupID int64) error {
	return f(ctx, groupID)
}

// AppendRequest is the input of Recorder.Append. Participants may contain
// duplicates and come in any order.
type AppendRequest struct {
	GroupID      int64
	Kind         core.Kind
	Amount       int64
	PayerID      int64
	Participants []int64
	Note         string
}

// Recorder validates and appends transactions, then notifies the change path.
type Recorder struct {
	store    Store
	notifier Notifier
	metrics  *metrics.Metrics
}

// NewRecorder returns a recorder. notifier and m may be nil.
func NewRecorder(store Store, notifier Notifier, m *metrics.Metrics) *Recorder {
	return &Recorder{
		store:    store,
		notifier: notifier,
		metrics:  m,
	}
}

// Append records one transaction. The transaction is durable once Append
// returns without error; a failed notification is only logged.
func (r *Recorder) Append(ctx context.Context, req AppendRequest) (core.Transaction, error) {
	members, err := r.store.ListMembers(ctx, req.GroupID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("load members: %w", err)
	}

	t, err := normalize(req, members)
	if err != nil {
		r.metrics.TransactionRejected(rejectReason(err))
		return core.Transaction{}, err
	}

	t, err = r.store.AppendTransaction(ctx, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("append transaction: %w", err)
	}
	r.metrics.TransactionRecorded(t.Kind.String())

	slog.InfoContext(ctx, "Transaction recorded",
		log.FieldComponent, log.ComponentRecorder,
		log.FieldTxID, t.ID,
		log.FieldGroupID, t.GroupID,
		log.FieldKind, t.Kind,
		log.FieldAmount, t.Amount)

	r.notify(ctx, t.GroupID)
	return t, nil
}

// FixedShared records a FIXED_SHARED transaction split among the group's
// current residents.
func (r *Recorder) FixedShared(ctx context.Context, groupID, payerID, amount int64, note string) (core.Transaction, error) {
	members, err := r.store.ListMembers(ctx, groupID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("load members: %w", err)
	}
	var residents []int64
	for _, m := range members {
		if m.Resident {
			residents = append(residents, m.ID)
		}
	}
	return r.Append(ctx, AppendRequest{
		GroupID:      groupID,
		Kind:         core.KindFixedShared,
		Amount:       amount,
		PayerID:      payerID,
		Participants: residents,
		Note:         note,
	})
}

// ListRecent returns up to limit transactions of the group, newest first.
func (r *Recorder) ListRecent(ctx context.Context, groupID int64, limit int) ([]core.Transaction, error) {
	txs, err := r.store.ListRecentTransactions(ctx, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent transactions: %w", err)
	}
	return txs, nil
}

func (r *Recorder) notify(ctx context.Context, groupID int64) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.LedgerChanged(ctx, groupID); err != nil {
		slog.ErrorContext(ctx, "Failed to notify ledger change",
			log.FieldComponent, log.ComponentRecorder,
			log.FieldGroupID, groupID,
			log.FieldError, err)
	}
}

// normalize checks membership, dedupes the participants and orders them by
// member identity, then runs the transaction-level checks.
func normalize(req AppendRequest, members []core.Member) (core.Transaction, error) {
	if req.Amount <= 0 {
		return core.Transaction{}, core.ErrNonPositiveAmount
	}

	byID := make(map[int64]core.Member, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}
	if _, ok := byID[req.PayerID]; !ok {
		return core.Transaction{}, fmt.Errorf("payer %d: %w", req.PayerID, core.ErrMemberNotInGroup)
	}

	seen := make(map[int64]struct{}, len(req.Participants))
	parts := make([]core.Member, 0, len(req.Participants))
	for _, id := range req.Participants {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		m, ok := byID[id]
		if !ok {
			return core.Transaction{}, fmt.Errorf("participant %d: %w", id, core.ErrMemberNotInGroup)
		}
		parts = append(parts, m)
	}
	if len(parts) == 0 {
		return core.Transaction{}, core.ErrEmptyParticipantSet
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].IdentityLess(parts[j]) })

	ids := make([]int64, len(parts))
	for i, m := range parts {
		ids[i] = m.ID
	}

	t := core.Transaction{
		GroupID:      req.GroupID,
		Kind:         req.Kind,
		Amount:       req.Amount,
		PayerID:      req.PayerID,
		Participants: ids,
		Note:         strings.TrimSpace(req.Note),
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, core.ErrNonPositiveAmount):
		return "non_positive_amount"
	case errors.Is(err, core.ErrAmountTooLarge):
		return "amount_too_large"
	case errors.Is(err, core.ErrEmptyParticipantSet):
		return "empty_participants"
	case errors.Is(err, core.ErrMemberNotInGroup):
		return "member_not_in_group"
	case errors.Is(err, core.ErrInvalidKind):
		return "invalid_kind"
	case errors.Is(err, core.ErrInvalidTransfer):
		return "invalid_transfer"
	case errors.Is(err, core.ErrNoteTooLong):
		return "note_too_long"
	default:
		return "other"
	}
}
