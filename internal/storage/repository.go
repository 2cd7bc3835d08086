package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hisob/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// DSN builds the modernc sqlite connection string used for both the pool and
// the migrator.
func DSN(dbPath string) string {
	return "file:" + dbPath +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := DSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks the database connection; used by the health endpoint.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func notFound(what string, id int64) error {
	return fmt.Errorf("%s %d: %w", what, id, core.ErrNotFound)
}

type scanner interface {
	Scan(dest ...any) error
}

const groupColumns = `id, external_id, title, created_at`

func scanGroup(s scanner) (core.Group, error) {
	var (
		g       core.Group
		created int64
	)
	if err := s.Scan(&g.ID, &g.ExternalID, &g.Title, &created); err != nil {
		return core.Group{}, err
	}
	g.CreatedAt = fromMillis(created)
	return g, nil
}

// EnsureGroup creates the group on first contact. On later calls a non-empty
// title replaces the stored one.
func (r *SQLiteRepository) EnsureGroup(ctx context.Context, externalID int64, title string) (core.Group, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO groups (external_id, title, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (external_id) DO UPDATE SET
			title = CASE WHEN excluded.title <> '' THEN excluded.title ELSE groups.title END
		RETURNING `+groupColumns,
		externalID, strings.TrimSpace(title), toMillis(r.now()))
	g, err := scanGroup(row)
	if err != nil {
		return core.Group{}, fmt.Errorf("ensure group %d: %w", externalID, err)
	}
	return g, nil
}

func (r *SQLiteRepository) GetGroup(ctx context.Context, id int64) (core.Group, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = ?`, id)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Group{}, notFound("group", id)
	}
	if err != nil {
		return core.Group{}, fmt.Errorf("get group %d: %w", id, err)
	}
	return g, nil
}

func (r *SQLiteRepository) GetGroupByExternalID(ctx context.Context, externalID int64) (core.Group, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE external_id = ?`, externalID)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Group{}, notFound("group with external id", externalID)
	}
	if err != nil {
		return core.Group{}, fmt.Errorf("get group by external id %d: %w", externalID, err)
	}
	return g, nil
}

func (r *SQLiteRepository) ListGroups(ctx context.Context) ([]core.Group, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+groupColumns+` FROM groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []core.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

const memberColumns = `id, group_id, external_id, username, first_name, is_resident, created_at`

func scanMember(s scanner) (core.Member, error) {
	var (
		m       core.Member
		created int64
	)
	if err := s.Scan(&m.ID, &m.GroupID, &m.ExternalID, &m.Username, &m.FirstName, &m.Resident, &created); err != nil {
		return core.Member{}, err
	}
	m.CreatedAt = fromMillis(created)
	return m, nil
}

// EnsureMember creates the member keyed by (GroupID, ExternalID) on first
// contact and refreshes non-empty profile fields afterwards. Resident is only
// changed through SetResident / ToggleResident.
func (r *SQLiteRepository) EnsureMember(ctx context.Context, m core.Member) (core.Member, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO members (group_id, external_id, username, first_name, is_resident, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT (group_id, external_id) DO UPDATE SET
			username   = CASE WHEN excluded.username   <> '' THEN excluded.username   ELSE members.username   END,
			first_name = CASE WHEN excluded.first_name <> '' THEN excluded.first_name ELSE members.first_name END
		RETURNING `+memberColumns,
		m.GroupID, m.ExternalID, strings.TrimPrefix(strings.TrimSpace(m.Username), "@"),
		strings.TrimSpace(m.FirstName), toMillis(r.now()))
	out, err := scanMember(row)
	if err != nil {
		return core.Member{}, fmt.Errorf("ensure member %d in group %d: %w", m.ExternalID, m.GroupID, err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetMember(ctx context.Context, id int64) (core.Member, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id = ?`, id)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Member{}, notFound("member", id)
	}
	if err != nil {
		return core.Member{}, fmt.Errorf("get member %d: %w", id, err)
	}
	return m, nil
}

func (r *SQLiteRepository) SetResident(ctx context.Context, memberID int64, resident bool) (core.Member, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE members SET is_resident = ? WHERE id = ? RETURNING `+memberColumns,
		resident, memberID)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Member{}, notFound("member", memberID)
	}
	if err != nil {
		return core.Member{}, fmt.Errorf("set resident for member %d: %w", memberID, err)
	}
	return m, nil
}

func (r *SQLiteRepository) ToggleResident(ctx context.Context, memberID int64) (core.Member, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE members SET is_resident = 1 - is_resident WHERE id = ? RETURNING `+memberColumns,
		memberID)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Member{}, notFound("member", memberID)
	}
	if err != nil {
		return core.Member{}, fmt.Errorf("toggle resident for member %d: %w", memberID, err)
	}
	return m, nil
}

// ListMembers returns the group's members ordered by identity.
func (r *SQLiteRepository) ListMembers(ctx context.Context, groupID int64) ([]core.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE group_id = ? ORDER BY external_id, id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members of group %d: %w", groupID, err)
	}
	defer rows.Close()

	var members []core.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// AppendTransaction stores the transaction and its participant links in a
// single SQL transaction. The returned copy carries the assigned ID and
// CreatedAt.
func (r *SQLiteRepository) AppendTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.now()
	}
	t.CreatedAt = fromMillis(toMillis(t.CreatedAt))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var note sql.NullString
	if t.Note != "" {
		note = sql.NullString{String: t.Note, Valid: true}
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO transactions (group_id, kind, amount, payer_id, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`,
		t.GroupID, string(t.Kind), t.Amount, t.PayerID, note, toMillis(t.CreatedAt)).Scan(&t.ID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO transaction_participants (transaction_id, member_id) VALUES (?, ?)`)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("prepare participant insert: %w", err)
	}
	defer stmt.Close()
	for _, mid := range t.Participants {
		if _, err := stmt.ExecContext(ctx, t.ID, mid); err != nil {
			return core.Transaction{}, fmt.Errorf("insert participant %d: %w", mid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return core.Transaction{}, fmt.Errorf("commit append: %w", err)
	}

	slog.DebugContext(ctx, "Transaction appended",
		"id", t.ID,
		"group_id", t.GroupID,
		"kind", t.Kind,
		"amount", t.Amount,
		"participants", len(t.Participants))

	return t, nil
}

const transactionColumns = `id, group_id, kind, amount, payer_id, note, created_at`

func scanTransaction(s scanner) (core.Transaction, error) {
	var (
		t       core.Transaction
		kind    string
		note    sql.NullString
		created int64
	)
	if err := s.Scan(&t.ID, &t.GroupID, &kind, &t.Amount, &t.PayerID, &note, &created); err != nil {
		return core.Transaction{}, err
	}
	t.Kind = core.Kind(kind)
	t.Note = note.String
	t.CreatedAt = fromMillis(created)
	return t, nil
}

// ListTransactions returns the group's whole log in insertion order.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, groupID int64) ([]core.Transaction, error) {
	return r.listTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE group_id = ? ORDER BY id`,
		groupID)
}

// ListRecentTransactions returns up to limit transactions, newest first.
func (r *SQLiteRepository) ListRecentTransactions(ctx context.Context, groupID int64, limit int) ([]core.Transaction, error) {
	if limit <= 0 {
		return nil, nil
	}
	return r.listTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE group_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		groupID, limit)
}

func (r *SQLiteRepository) listTransactions(ctx context.Context, query string, args ...any) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	var (
		txs   []core.Transaction
		index = make(map[int64]int)
	)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		index[t.ID] = len(txs)
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	rows.Close()

	if len(txs) == 0 {
		return txs, nil
	}

	if err := r.attachParticipants(ctx, txs, index); err != nil {
		return nil, err
	}
	return txs, nil
}

// attachParticipants fills Participants ordered by member identity.
func (r *SQLiteRepository) attachParticipants(ctx context.Context, txs []core.Transaction, index map[int64]int) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tp.transaction_id, tp.member_id
		FROM transaction_participants tp
		JOIN transactions t ON t.id = tp.transaction_id
		JOIN members m ON m.id = tp.member_id
		WHERE t.group_id = ?
		ORDER BY tp.transaction_id, m.external_id, m.id`,
		txs[0].GroupID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var txID, memberID int64
		if err := rows.Scan(&txID, &memberID); err != nil {
			return fmt.Errorf("scan participant: %w", err)
		}
		if i, ok := index[txID]; ok {
			txs[i].Participants = append(txs[i].Participants, memberID)
		}
	}
	return rows.Err()
}

// GetPublishPointer returns the pointer of the group's current dashboard, or
// "" when none has been published yet.
func (r *SQLiteRepository) GetPublishPointer(ctx context.Context, groupID int64) (string, error) {
	var pointer sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT dashboard_pointer FROM groups WHERE id = ?`, groupID).Scan(&pointer)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound("group", groupID)
	}
	if err != nil {
		return "", fmt.Errorf("get publish pointer for group %d: %w", groupID, err)
	}
	return pointer.String, nil
}

// SetPublishPointer stores pointer for the group. An empty pointer clears it.
func (r *SQLiteRepository) SetPublishPointer(ctx context.Context, groupID int64, pointer string) error {
	var value sql.NullString
	if pointer != "" {
		value = sql.NullString{String: pointer, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `UPDATE groups SET dashboard_pointer = ? WHERE id = ?`, value, groupID)
	if err != nil {
		return fmt.Errorf("set publish pointer for group %d: %w", groupID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound("group", groupID)
	}
	return nil
}
