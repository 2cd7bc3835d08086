package publish_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hisob/internal/publish"
	"hisob/internal/publish/memory"
)

func TestUpsert_CreatesWhenNoPointer(t *testing.T) {
	ctx := context.Background()
	target := memory.New()
	pointers := memory.NewPointerStore()
	u := publish.NewUpserter(target, pointers)

	p, err := u.Upsert(ctx, 7, "hello")
	require.NoError(t, err)

	stored, _ := pointers.GetPublishPointer(ctx, 7)
	assert.Equal(t, p, stored)
	doc, ok := target.Get(p)
	require.True(t, ok)
	assert.Equal(t, "hello", doc.Text)
	assert.True(t, doc.Pinned)
}

func TestUpsert_EditsInPlace(t *testing.T) {
	ctx := context.Background()
	target := memory.New()
	u := publish.NewUpserter(target, memory.NewPointerStore())

	p1, err := u.Upsert(ctx, 7, "one")
	require.NoError(t, err)
	p2, err := u.Upsert(ctx, 7, "two")
	require.NoError(t, err)
	p3, err := u.Upsert(ctx, 7, "two")
	require.NoError(t, err, "not-modified must count as success")

	assert.Equal(t, p1, p2)
	assert.Equal(t, p1, p3)
	creates, edits, _ := target.Stats()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, edits)
}

func TestUpsert_RecreatesWhenGone(t *testing.T) {
	ctx := context.Background()
	target := memory.New()
	pointers := memory.NewPointerStore()
	u := publish.NewUpserter(target, pointers)

	old, err := u.Upsert(ctx, 7, "one")
	require.NoError(t, err)
	target.Remove(old)

	fresh, err := u.Upsert(ctx, 7, "two")
	require.NoError(t, err)
	assert.NotEqual(t, old, fresh)

	stored, _ := pointers.GetPublishPointer(ctx, 7)
	assert.Equal(t, fresh, stored)
	doc, ok := target.Get(fresh)
	require.True(t, ok)
	assert.Equal(t, "two", doc.Text)
}

func TestUpsert_PropagatesOtherErrors(t *testing.T) {
	ctx := context.Background()
	target := memory.New()
	pointers := memory.NewPointerStore()
	u := publish.NewUpserter(target, pointers)

	p, err := u.Upsert(ctx, 7, "one")
	require.NoError(t, err)

	boom := errors.New("rate limited")
	target.FailWith(boom)
	_, err = u.Upsert(ctx, 7, "two")
	assert.ErrorIs(t, err, boom)

	stored, _ := pointers.GetPublishPointer(ctx, 7)
	assert.Equal(t, p, stored, "pointer must survive a failed edit")
}

type failingPointers struct {
	*memory.PointerStore
	err error
}

func (f failingPointers) SetPublishPointer(context.Context, int64, string) error { return f.err }

func TestUpsert_RetiresWhenPointerCannotBeStored(t *testing.T) {
	ctx := context.Background()
	target := memory.New()
	boom := errors.New("db locked")
	u := publish.NewUpserter(target, failingPointers{PointerStore: memory.NewPointerStore(), err: boom})

	_, err := u.Upsert(ctx, 7, "one")
	assert.ErrorIs(t, err, boom)

	creates, _, retires := target.Stats()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, retires)
}
