package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hisob/internal/coalescer"
	"hisob/internal/core"
	"hisob/internal/publish"
	"hisob/internal/publish/memory"
)

type fakeSource struct {
	mu      sync.Mutex
	groups  map[int64]core.Group
	members map[int64][]core.Member
	txs     map[int64][]core.Transaction
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		groups: map[int64]core.Group{1: {ID: 1, Title: "Flat"}},
		members: map[int64][]core.Member{1: {
			{ID: 1, GroupID: 1, ExternalID: 10, Username: "ali"},
			{ID: 2, GroupID: 1, ExternalID: 20, Username: "bek"},
		}},
		txs: map[int64][]core.Transaction{},
	}
}

func (s *fakeSource) GetGroup(_ context.Context, id int64) (core.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return core.Group{}, fmt.Errorf("group %d: %w", id, core.ErrNotFound)
	}
	return g, nil
}

func (s *fakeSource) ListMembers(_ context.Context, groupID int64) ([]core.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[groupID], nil
}

func (s *fakeSource) ListTransactions(_ context.Context, groupID int64) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Transaction(nil), s.txs[groupID]...), nil
}

func (s *fakeSource) add(tx core.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx.ID = int64(len(s.txs[tx.GroupID]) + 1)
	s.txs[tx.GroupID] = append(s.txs[tx.GroupID], tx)
}

func newPipeline() (*Publisher, *fakeSource, *memory.Target, *memory.PointerStore) {
	src := newFakeSource()
	target := memory.New()
	pointers := memory.NewPointerStore()
	p := NewPublisher(src, nil, publish.NewUpserter(target, pointers), 3)
	p.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return p, src, target, pointers
}

func published(t *testing.T, target *memory.Target, pointers *memory.PointerStore, key int64) string {
	t.Helper()
	ptr, _ := pointers.GetPublishPointer(context.Background(), key)
	doc, ok := target.Get(ptr)
	require.True(t, ok, "no document for key %d", key)
	return doc.Text
}

func TestPublisher_PublishesFreshState(t *testing.T) {
	ctx := context.Background()
	p, src, target, pointers := newPipeline()

	require.NoError(t, p.Publish(ctx, 1))
	assert.Contains(t, published(t, target, pointers, 1), "Nothing to settle.")

	src.add(core.Transaction{GroupID: 1, Kind: core.KindAdhocShared, Amount: 1000, PayerID: 1, Participants: []int64{2}})
	require.NoError(t, p.Publish(ctx, 1))
	assert.Contains(t, published(t, target, pointers, 1), "@bek → @ali: 10.00")

	// Same state again: not modified, still one artifact.
	require.NoError(t, p.Publish(ctx, 1))
	creates, edits, _ := target.Stats()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, edits)
}

func TestPublisher_UnknownGroupIsSkipped(t *testing.T) {
	p, _, target, _ := newPipeline()
	require.NoError(t, p.Publish(context.Background(), 99))
	creates, _, _ := target.Stats()
	assert.Zero(t, creates)
}

func TestPublisher_UpsertErrorIsReturned(t *testing.T) {
	p, _, target, _ := newPipeline()
	boom := errors.New("flood control")
	target.FailWith(boom)
	assert.ErrorIs(t, p.Publish(context.Background(), 1), boom)
}

func TestPublisher_View(t *testing.T) {
	p, src, _, _ := newPipeline()
	src.add(core.Transaction{GroupID: 1, Kind: core.KindTransfer, Amount: 500, PayerID: 2, Participants: []int64{1}})

	v, err := p.View(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []core.Transfer{{From: 1, To: 2, Amount: 500}}, v.Transfers)

	_, err = p.View(context.Background(), 42)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestPublisher_DrivenByCoalescer(t *testing.T) {
	ctx := context.Background()
	p, src, target, pointers := newPipeline()
	c := coalescer.New(p, 100*time.Millisecond)

	require.NoError(t, c.UpdateNow(ctx, 1))
	for i := range 10 {
		src.add(core.Transaction{GroupID: 1, Kind: core.KindAdhocShared, Amount: int64(100 * (i + 1)), PayerID: 1, Participants: []int64{2}})
		c.Schedule(1)
	}
	require.NoError(t, c.Drain(ctx))

	// Sum of 1..10 times 100 minor units.
	assert.Contains(t, published(t, target, pointers, 1), "@bek → @ali: 55.00")
	creates, edits, _ := target.Stats()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, edits)
}
