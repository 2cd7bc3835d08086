// Package publish keeps one published artifact per key up to date: it edits
// the artifact in place when possible and recreates it when it disappeared.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"hisob/internal/log"
)

var (
	// ErrNotModified is returned by Target.Edit when the artifact already
	// holds the given text. Upsert treats it as success.
	ErrNotModified = errors.New("content not modified")

	// ErrTargetGone is returned by Target.Edit when the artifact behind the
	// pointer no longer exists.
	ErrTargetGone = errors.New("published artifact no longer exists")
)

// Ports for outbound adapters.
type (
	// Target is where dashboards are published. Pointers are opaque to callers.
	Target interface {
		Create(ctx context.Context, key int64, text string) (pointer string, err error)
		Edit(ctx context.Context, key int64, pointer, text string) error
		Retire(ctx context.Context, key int64, pointer string) error
	}

	// Pinner is implemented by targets that can make an artifact prominent
	// (pin a message, move a tab first).
	Pinner interface {
		Pin(ctx context.Context, key int64, pointer string) error
	}

	// PointerStore persists the current pointer per key. An empty pointer
	// means nothing has been published yet.
	PointerStore interface {
		GetPublishPointer(ctx context.Context, key int64) (string, error)
		SetPublishPointer(ctx context.Context, key int64, pointer string) error
	}
)

type Upserter struct {
	target   Target
	pointers PointerStore
}

func NewUpserter(target Target, pointers PointerStore) *Upserter {
	return &Upserter{target: target, pointers: pointers}
}

// Upsert makes the artifact for key show text and returns its pointer.
//
//   - no stored pointer: create, store, pin
//   - stored pointer: edit in place; not-modified counts as success
//   - artifact gone: create a replacement, store it, retire the old pointer
func (u *Upserter) Upsert(ctx context.Context, key int64, text string) (string, error) {
	pointer, err := u.pointers.GetPublishPointer(ctx, key)
	if err != nil {
		return "", fmt.Errorf("get publish pointer: %w", err)
	}

	if pointer == "" {
		return u.create(ctx, key, text)
	}

	err = u.target.Edit(ctx, key, pointer, text)
	switch {
	case err == nil:
		return pointer, nil
	case errors.Is(err, ErrNotModified):
		slog.DebugContext(ctx, "Dashboard unchanged",
			log.FieldComponent, log.ComponentPublish,
			log.FieldGroupID, key,
			log.FieldPointer, pointer)
		return pointer, nil
	case errors.Is(err, ErrTargetGone):
		slog.InfoContext(ctx, "Dashboard artifact gone, recreating",
			log.FieldComponent, log.ComponentPublish,
			log.FieldGroupID, key,
			log.FieldPointer, pointer)
		fresh, err := u.create(ctx, key, text)
		if err != nil {
			return "", err
		}
		u.retire(ctx, key, pointer)
		return fresh, nil
	default:
		return "", fmt.Errorf("edit dashboard: %w", err)
	}
}

func (u *Upserter) create(ctx context.Context, key int64, text string) (string, error) {
	pointer, err := u.target.Create(ctx, key, text)
	if err != nil {
		return "", fmt.Errorf("create dashboard: %w", err)
	}
	if err := u.pointers.SetPublishPointer(ctx, key, pointer); err != nil {
		// Without a stored pointer the next upsert would create a duplicate.
		u.retire(ctx, key, pointer)
		return "", fmt.Errorf("store publish pointer: %w", err)
	}

	if p, ok := u.target.(Pinner); ok {
		if err := p.Pin(ctx, key, pointer); err != nil {
			slog.WarnContext(ctx, "Failed to pin dashboard",
				log.FieldComponent, log.ComponentPublish,
				log.FieldGroupID, key,
				log.FieldPointer, pointer,
				log.FieldError, err)
		}
	}
	return pointer, nil
}

func (u *Upserter) retire(ctx context.Context, key int64, pointer string) {
	if err := u.target.Retire(ctx, key, pointer); err != nil {
		slog.WarnContext(ctx, "Failed to retire old dashboard",
			log.FieldComponent, log.ComponentPublish,
			log.FieldGroupID, key,
			log.FieldPointer, pointer,
			log.FieldError, err)
	}
}
