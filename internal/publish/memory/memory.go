// Package memory is an in-process publish target for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"hisob/internal/publish"
)

// Document is one published artifact.
type Document struct {
	Key    int64
	Text   string
	Pinned bool
}

type Target struct {
	mu      sync.Mutex
	next    int
	docs    map[string]*Document
	creates int
	edits   int
	retires int
	failErr error
}

var (
	_ publish.Target = (*Target)(nil)
	_ publish.Pinner = (*Target)(nil)
)

func New() *Target {
	return &Target{docs: make(map[string]*Document)}
}

// Create stores text under a fresh synthetic pointer.
func (t *Target) Create(_ context.Context, key int64, text string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failErr != nil {
		return "", t.failErr
	}
	t.next++
	t.creates++
	pointer := fmt.Sprintf("mem:%d", t.next)
	t.docs[pointer] = &Document{Key: key, Text: text}
	return pointer, nil
}

func (t *Target) Edit(_ context.Context, _ int64, pointer, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failErr != nil {
		return t.failErr
	}
	doc, ok := t.docs[pointer]
	if !ok {
		return publish.ErrTargetGone
	}
	if doc.Text == text {
		return publish.ErrNotModified
	}
	t.edits++
	doc.Text = text
	return nil
}

// Retire deletes the artifact. Unknown pointers are ignored.
func (t *Target) Retire(_ context.Context, _ int64, pointer string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.docs[pointer]; ok {
		t.retires++
		delete(t.docs, pointer)
	}
	return nil
}

func (t *Target) Pin(_ context.Context, _ int64, pointer string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	doc, ok := t.docs[pointer]
	if !ok {
		return publish.ErrTargetGone
	}
	doc.Pinned = true
	return nil
}

// Remove deletes an artifact behind the publisher's back, the way a user
// deleting the dashboard message would.
func (t *Target) Remove(pointer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.docs, pointer)
}

// FailWith makes every Create and Edit return err until called with nil.
func (t *Target) FailWith(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failErr = err
}

func (t *Target) Get(pointer string) (Document, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	doc, ok := t.docs[pointer]
	if !ok {
		return Document{}, false
	}
	return *doc, true
}

// Stats returns how many creates, effective edits and retires happened.
func (t *Target) Stats() (creates, edits, retires int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.creates, t.edits, t.retires
}

// PointerStore is an in-memory publish.PointerStore.
type PointerStore struct {
	mu       sync.Mutex
	pointers map[int64]string
}

var _ publish.PointerStore = (*PointerStore)(nil)

func NewPointerStore() *PointerStore {
	return &PointerStore{pointers: make(map[int64]string)}
}

func (s *PointerStore) GetPublishPointer(_ context.Context, key int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pointers[key], nil
}

func (s *PointerStore) SetPublishPointer(_ context.Context, key int64, pointer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pointer == "" {
		delete(s.pointers, key)
		return nil
	}
	s.pointers[key] = pointer
	return nil
}
