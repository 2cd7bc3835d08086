package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hisob/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "hisob.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedGroup(t *testing.T, repo *SQLiteRepository, ext ...int64) (core.Group, []core.Member) {
	t.Helper()
	ctx := context.Background()
	g, err := repo.EnsureGroup(ctx, -100, "Flat")
	require.NoError(t, err)
	var ms []core.Member
	for _, e := range ext {
		m, err := repo.EnsureMember(ctx, core.Member{GroupID: g.ID, ExternalID: e, FirstName: "m"})
		require.NoError(t, err)
		ms = append(ms, m)
	}
	return g, ms
}

func TestMigrationsApplied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hisob.db")
	repo, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	defer repo.Close()

	v, dirty, err := SchemaVersion(DSN(path))
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)

	// Re-running is a no-op.
	require.NoError(t, RunMigrations(DSN(path)))
}

func TestEnsureGroupIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	g1, err := repo.EnsureGroup(ctx, 42, "Flat")
	require.NoError(t, err)
	g2, err := repo.EnsureGroup(ctx, 42, "")
	require.NoError(t, err)
	assert.Equal(t, g1.ID, g2.ID)
	assert.Equal(t, "Flat", g2.Title)

	g3, err := repo.EnsureGroup(ctx, 42, "Flat 2")
	require.NoError(t, err)
	assert.Equal(t, "Flat 2", g3.Title)

	byExt, err := repo.GetGroupByExternalID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, g1.ID, byExt.ID)

	groups, err := repo.ListGroups(ctx)
	require.NoError(t, err)
	assert.Len(t, groups, 1)

	_, err = repo.GetGroup(ctx, 999)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMembers(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	g, _ := seedGroup(t, repo)

	a, err := repo.EnsureMember(ctx, core.Member{GroupID: g.ID, ExternalID: 30, Username: "@zed"})
	require.NoError(t, err)
	assert.Equal(t, "zed", a.Username)
	b, err := repo.EnsureMember(ctx, core.Member{GroupID: g.ID, ExternalID: 10, FirstName: "Bo"})
	require.NoError(t, err)

	again, err := repo.EnsureMember(ctx, core.Member{GroupID: g.ID, ExternalID: 30, FirstName: "Zed"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, again.ID)
	assert.Equal(t, "zed", again.Username)
	assert.Equal(t, "Zed", again.FirstName)

	toggled, err := repo.ToggleResident(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, toggled.Resident)
	toggled, err = repo.ToggleResident(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Resident)

	set, err := repo.SetResident(ctx, a.ID, true)
	require.NoError(t, err)
	assert.True(t, set.Resident)

	ms, err := repo.ListMembers(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, int64(10), ms[0].ExternalID)
	assert.Equal(t, int64(30), ms[1].ExternalID)

	_, err = repo.ToggleResident(ctx, 12345)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAppendAndListTransactions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	g, ms := seedGroup(t, repo, 30, 10, 20)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first, err := repo.AppendTransaction(ctx, core.Transaction{
		GroupID: g.ID, Kind: core.KindAdhocShared, Amount: 403, PayerID: ms[0].ID,
		Participants: []int64{ms[1].ID, ms[2].ID, ms[0].ID}, Note: "dinner", CreatedAt: base,
	})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)
	assert.Equal(t, base, first.CreatedAt)

	_, err = repo.AppendTransaction(ctx, core.Transaction{
		GroupID: g.ID, Kind: core.KindTransfer, Amount: 50, PayerID: ms[1].ID,
		Participants: []int64{ms[0].ID}, CreatedAt: base.Add(time.Minute),
	})
	require.NoError(t, err)

	txs, err := repo.ListTransactions(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "dinner", txs[0].Note)
	// Participants come back ordered by external id: 10, 20, 30.
	assert.Equal(t, []int64{ms[1].ID, ms[2].ID, ms[0].ID}, txs[0].Participants)
	assert.Equal(t, core.KindTransfer, txs[1].Kind)
	assert.Empty(t, txs[1].Note)

	recent, err := repo.ListRecentTransactions(ctx, g.ID, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, txs[1].ID, recent[0].ID)
	assert.Equal(t, []int64{ms[0].ID}, recent[0].Participants)
}

func TestAppendTransactionIsAtomic(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	g, ms := seedGroup(t, repo, 1)

	// Second participant does not exist: the foreign key fails and nothing
	// may be left behind.
	_, err := repo.AppendTransaction(ctx, core.Transaction{
		GroupID: g.ID, Kind: core.KindAdhocShared, Amount: 10, PayerID: ms[0].ID,
		Participants: []int64{ms[0].ID, 9999},
	})
	require.Error(t, err)

	txs, err := repo.ListTransactions(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestPublishPointer(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	g, _ := seedGroup(t, repo)

	p, err := repo.GetPublishPointer(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, p)

	require.NoError(t, repo.SetPublishPointer(ctx, g.ID, "sheet:7"))
	p, err = repo.GetPublishPointer(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "sheet:7", p)

	require.NoError(t, repo.SetPublishPointer(ctx, g.ID, ""))
	p, err = repo.GetPublishPointer(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, p)

	assert.ErrorIs(t, repo.SetPublishPointer(ctx, 555, "x"), core.ErrNotFound)
	_, err = repo.GetPublishPointer(ctx, 555)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
