package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskboard/api/internal/occ"
	"taskboard/api/internal/ordering"
	"taskboard/api/internal/rbac"
)

// SQLStore persists boards through database/sql. The same queries serve
// Postgres and SQLite; placeholders are rebound per dialect.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

func NewSQLStore(db *sql.DB, driver Driver) *SQLStore {
	return &SQLStore{db: db, d: dialectFor(driver)}
}

func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) tx(ctx context.Context, fn func(ctx context.Context, q DBTX) error) error {
	return WithinTx(ctx, s.db, fn)
}

type scanner interface {
	Scan(dest ...any) error
}

func micros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func requireOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, occ.ErrStale)
	}
	return nil
}

// Boards

const boardColumns = `id, name, description, owner_id, version, created_at, updated_at`

func scanBoard(row scanner) (Board, error) {
	var (
		b                Board
		desc             sql.NullString
		created, updated int64
	)
	if err := row.Scan(&b.ID, &b.Name, &desc, &b.OwnerID, &b.Version, &created, &updated); err != nil {
		return Board{}, err
	}
	b.Description = stringPtr(desc)
	b.CreatedAt, b.UpdatedAt = fromMicros(created), fromMicros(updated)
	return b, nil
}

func (s *SQLStore) CreateBoard(ctx context.Context, b Board, owner Membership) error {
	return s.tx(ctx, func(ctx context.Context, q DBTX) error {
		_, err := q.ExecContext(ctx, s.d.rebind(`
			INSERT INTO boards (`+boardColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`), b.ID, b.Name, nullString(b.Description), b.OwnerID, b.Version, micros(b.CreatedAt), micros(b.UpdatedAt))
		if err != nil {
			if s.d.isUniqueViolation(err) {
				return fmt.Errorf("board %s: %w", b.ID, ErrDuplicate)
			}
			return fmt.Errorf("insert board: %w", err)
		}
		return s.insertMembership(ctx, q, owner)
	})
}

func (s *SQLStore) getBoard(ctx context.Context, q DBTX, id string, lock bool) (Board, error) {
	query := `SELECT ` + boardColumns + ` FROM boards WHERE id = ?`
	if lock {
		query += s.d.forUpdate
	}
	b, err := scanBoard(q.QueryRowContext(ctx, s.d.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return Board{}, fmt.Errorf("board %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Board{}, fmt.Errorf("get board: %w", err)
	}
	return b, nil
}

func (s *SQLStore) GetBoard(ctx context.Context, id string) (Board, error) {
	return s.getBoard(ctx, s.db, id, false)
}

func (s *SQLStore) ListBoardsForUser(ctx context.Context, userID string, limit int, after *BoardCursor) ([]Board, error) {
	query := `
		SELECT b.id, b.name, b.description, b.owner_id, b.version, b.created_at, b.updated_at
		FROM boards b
		WHERE (b.owner_id = ? OR EXISTS (
			SELECT 1 FROM memberships m
			WHERE m.board_id = b.id AND m.user_id = ? AND m.status = 'active'
		))`
	args := []any{userID, userID}
	if after != nil {
		query += ` AND (b.created_at < ? OR (b.created_at = ? AND b.id < ?))`
		args = append(args, micros(after.CreatedAt), micros(after.CreatedAt), after.ID)
	}
	query += ` ORDER BY b.created_at DESC, b.id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	var boards []Board
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		boards = append(boards, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return boards, nil
}

func (s *SQLStore) writeBoard(ctx context.Context, q DBTX, next Board, prevVersion int64) error {
	res, err := q.ExecContext(ctx, s.d.rebind(`
		UPDATE boards
		SET name = ?, description = ?, owner_id = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`), next.Name, nullString(next.Description), next.OwnerID, next.Version, micros(next.UpdatedAt), next.ID, prevVersion)
	if err != nil {
		return fmt.Errorf("update board: %w", err)
	}
	return requireOneRow(res, "update board "+next.ID)
}

func (s *SQLStore) UpdateBoard(ctx context.Context, id string, pre occ.Precondition, now time.Time, apply func(*Board) error) (Board, error) {
	var out Board
	err := s.tx(ctx, func(ctx context.Context, q DBTX) error {
		cur, err := s.getBoard(ctx, q, id, true)
		if err != nil {
			return err
		}
		if err := pre.Check(cur.Version); err != nil {
			return err
		}
		next := cur
		if err := apply(&next); err != nil {
			return err
		}
		next.ID, next.CreatedAt = cur.ID, cur.CreatedAt
		next.Version = cur.Version + 1
		next.UpdatedAt = now
		if err := s.writeBoard(ctx, q, next, cur.Version); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

func (s *SQLStore) TransferOwnership(ctx context.Context, id, newOwner string, pre occ.Precondition, now time.Time) (Board, error) {
	var out Board
	err := s.tx(ctx, func(ctx context.Context, q DBTX) error {
		cur, err := s.getBoard(ctx, q, id, true)
		if err != nil {
			return err
		}
		if err := pre.Check(cur.Version); err != nil {
			return err
		}
		m, err := s.getMembership(ctx, q, id, newOwner)
		if errors.Is(err, ErrNotFound) || (err == nil && !m.Active()) {
			return fmt.Errorf("transfer board %s to %s: %w", id, newOwner, ErrNotMember)
		}
		if err != nil {
			return err
		}
		next := cur
		next.OwnerID = newOwner
		next.Version = cur.Version + 1
		next.UpdatedAt = now
		if err := s.writeBoard(ctx, q, next, cur.Version); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

func (s *SQLStore) DeleteBoard(ctx context.Context, id string, pre occ.Precondition) error {
	return s.tx(ctx, func(ctx context.Context, q DBTX) error {
		cur, err := s.getBoard(ctx, q, id, true)
		if err != nil {
			return err
		}
		if err := pre.Check(cur.Version); err != nil {
			return err
		}
		for _, stmt := range []string{
			`DELETE FROM cards WHERE board_id = ?`,
			`DELETE FROM board_columns WHERE board_id = ?`,
			`DELETE FROM memberships WHERE board_id = ?`,
			`DELETE FROM invitations WHERE board_id = ?`,
		} {
			if _, err := q.ExecContext(ctx, s.d.rebind(stmt), id); err != nil {
				return fmt.Errorf("delete board children: %w", err)
			}
		}
		res, err := q.ExecContext(ctx, s.d.rebind(`DELETE FROM boards WHERE id = ? AND version = ?`), id, cur.Version)
		if err != nil {
			return fmt.Errorf("delete board: %w", err)
		}
		return requireOneRow(res, "delete board "+id)
	})
}

// Columns

const columnColumns = `id, board_id, name, sort_key, version, created_at, updated_at`

func scanColumn(row scanner) (Column, error) {
	var (
		c                Column
		created, updated int64
	)
	if err := row.Scan(&c.ID, &c.BoardID, &c.Name, &c.SortKey, &c.Version, &created, &updated); err != nil {
		return Column{}, err
	}
	c.CreatedAt, c.UpdatedAt = fromMicros(created), fromMicros(updated)
	return c, nil
}

func (s *SQLStore) ListColumns(ctx context.Context, boardID string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT `+columnColumns+` FROM board_columns
		WHERE board_id = ?
		ORDER BY sort_key, created_at, id
	`), boardID)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		c, err := scanColumn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

func (s *SQLStore) getColumn(ctx context.Context, q DBTX, id string, lock bool) (Column, error) {
	query := `SELECT ` + columnColumns + ` FROM board_columns WHERE id = ?`
	if lock {
		query += s.d.forUpdate
	}
	c, err := scanColumn(q.QueryRowContext(ctx, s.d.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return Column{}, fmt.Errorf("column %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Column{}, fmt.Errorf("get column: %w", err)
	}
	return c, nil
}

func (s *SQLStore) GetColumn(ctx context.Context, id string) (Column, error) {
	return s.getColumn(ctx, s.db, id, false)
}

func (s *SQLStore) InsertColumn(ctx context.Context, c Column) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(`
		INSERT INTO board_columns (`+columnColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), c.ID, c.BoardID, c.Name, c.SortKey, c.Version, micros(c.CreatedAt), micros(c.UpdatedAt))
	switch {
	case err == nil:
		return nil
	case s.d.isUniqueViolation(err):
		return fmt.Errorf("insert column %s at %q: %w", c.ID, c.SortKey, ordering.ErrKeyTaken)
	case s.d.isForeignKeyViolation(err):
		return fmt.Errorf("board %s: %w", c.BoardID, ErrNotFound)
	default:
		return fmt.Errorf("insert column: %w", err)
	}
}

func (s *SQLStore) UpdateColumn(ctx context.Context, id string, pre occ.Precondition, now time.Time, apply func(*Column) error) (Column, error) {
	var out Column
	err := s.tx(ctx, func(ctx context.Context, q DBTX) error {
		cur, err := s.getColumn(ctx, q, id, true)
		if err != nil {
			return err
		}
		if err := pre.Check(cur.Version); err != nil {
			return err
		}
		next := cur
		if err := apply(&next); err != nil {
			return err
		}
		next.ID, next.BoardID, next.CreatedAt = cur.ID, cur.BoardID, cur.CreatedAt
		next.Version = cur.Version + 1
		next.UpdatedAt = now
		res, err := q.ExecContext(ctx, s.d.rebind(`
			UPDATE board_columns
			SET name = ?, sort_key = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?
		`), next.Name, next.SortKey, next.Version, micros(now), id, cur.Version)
		if err != nil {
			if s.d.isUniqueViolation(err) {
				return fmt.Errorf("move column %s to %q: %w", id, next.SortKey, ordering.ErrKeyTaken)
			}
			return fmt.Errorf("update column: %w", err)
		}
		if err := requireOneRow(res, "update column "+id); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

func (s *SQLStore) DeleteColumn(ctx context.Context, id string, pre occ.Precondition) error {
	return s.tx(ctx, func(ctx context.Context, q DBTX) error {
		cur, err := s.getColumn(ctx, q, id, true)
		if err != nil {
			return err
		}
		if err := pre.Check(cur.Version); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, s.d.rebind(`DELETE FROM cards WHERE column_id = ?`), id); err != nil {
			return fmt.Errorf("delete column cards: %w", err)
		}
		res, err := q.ExecContext(ctx, s.d.rebind(`DELETE FROM board_columns WHERE id = ? AND version = ?`), id, cur.Version)
		if err != nil {
			return fmt.Errorf("delete column: %w", err)
		}
		return requireOneRow(res, "delete column "+id)
	})
}

// Cards

const cardColumns = `id, board_id, column_id, title, description, sort_key, version, created_at, updated_at`

func scanCard(row scanner) (Card, error) {
	var (
		c                Card
		desc             sql.NullString
		created, updated int64
	)
	if err := row.Scan(&c.ID, &c.BoardID, &c.ColumnID, &c.Title, &desc, &c.SortKey, &c.Version, &created, &updated); err != nil {
		return Card{}, err
	}
	c.Description = stringPtr(desc)
	c.CreatedAt, c.UpdatedAt = fromMicros(created), fromMicros(updated)
	return c, nil
}

func (s *SQLStore) queryCards(ctx context.Context, query string, args ...any) ([]Card, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return cards, nil
}

func (s *SQLStore) ListCards(ctx context.Context, columnID string) ([]Card, error) {
	return s.queryCards(ctx, `
		SELECT `+cardColumns+` FROM cards
		WHERE column_id = ?
		ORDER BY sort_key, created_at, id
	`, columnID)
}

func (s *SQLStore) ListBoardCards(ctx context.Context, boardID string) ([]Card, error) {
	return s.queryCards(ctx, `
		SELECT `+cardColumns+` FROM cards
		WHERE board_id = ?
		ORDER BY sort_key, created_at, id
	`, boardID)
}

func (s *SQLStore) getCard(ctx context.Context, q DBTX, id string, lock bool) (Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE id = ?`
	if lock {
		query += s.d.forUpdate
	}
	c, err := scanCard(q.QueryRowContext(ctx, s.d.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return Card{}, fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Card{}, fmt.Errorf("get card: %w", err)
	}
	return c, nil
}

func (s *SQLStore) GetCard(ctx context.Context, id string) (Card, error) {
	return s.getCard(ctx, s.db, id, false)
}

func (s *SQLStore) requireColumnOnBoard(ctx context.Context, q DBTX, columnID, boardID string) error {
	var n int
	err := q.QueryRowContext(ctx, s.d.rebind(`SELECT COUNT(*) FROM board_columns WHERE id = ? AND board_id = ?`), columnID, boardID).Scan(&n)
	if err != nil {
		return fmt.Errorf("check column: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("column %s on board %s: %w", columnID, boardID, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) InsertCard(ctx context.Context, c Card) error {
	return s.tx(ctx, func(ctx context.Context, q DBTX) error {
		if err := s.requireColumnOnBoard(ctx, q, c.ColumnID, c.BoardID); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx, s.d.rebind(`
			INSERT INTO cards (`+cardColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), c.ID, c.BoardID, c.ColumnID, c.Title, nullString(c.Description), c.SortKey, c.Version, micros(c.CreatedAt), micros(c.UpdatedAt))
		switch {
		case err == nil:
			return nil
		case s.d.isUniqueViolation(err):
			return fmt.Errorf("insert card %s at %q: %w", c.ID, c.SortKey, ordering.ErrKeyTaken)
		case s.d.isForeignKeyViolation(err):
			return fmt.Errorf("column %s: %w", c.ColumnID, ErrNotFound)
		default:
			return fmt.Errorf("insert card: %w", err)
		}
	})
}

func (s *SQLStore) UpdateCard(ctx context.Context, id string, pre occ.Precondition, now time.Time, apply func(*Card) error) (Card, error) {
	var out Card
	err := s.tx(ctx, func(ctx context.Context, q DBTX) error {
		cur, err := s.getCard(ctx, q, id, true)
		if err != nil {
			return err
		}
		if err := pre.Check(cur.Version); err != nil {
			return err
		}
		next := cur
		if err := apply(&next); err != nil {
			return err
		}
		next.ID, next.BoardID, next.CreatedAt = cur.ID, cur.BoardID, cur.CreatedAt
		if next.ColumnID != cur.ColumnID {
			if err := s.requireColumnOnBoard(ctx, q, next.ColumnID, next.BoardID); err != nil {
				return err
			}
		}
		next.Version = cur.Version + 1
		next.UpdatedAt = now
		res, err := q.ExecContext(ctx, s.d.rebind(`
			UPDATE cards
			SET column_id = ?, title = ?, description = ?, sort_key = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?
		`), next.ColumnID, next.Title, nullString(next.Description), next.SortKey, next.Version, micros(now), id, cur.Version)
		switch {
		case err == nil:
		case s.d.isUniqueViolation(err):
			return fmt.Errorf("move card %s to %q: %w", id, next.SortKey, ordering.ErrKeyTaken)
		case s.d.isForeignKeyViolation(err):
			return fmt.Errorf("column %s: %w", next.ColumnID, ErrNotFound)
		default:
			return fmt.Errorf("update card: %w", err)
		}
		if err := requireOneRow(res, "update card "+id); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

func (s *SQLStore) DeleteCard(ctx context.Context, id string, pre occ.Precondition) error {
	return s.tx(ctx, func(ctx context.Context, q DBTX) error {
		cur, err := s.getCard(ctx, q, id, true)
		if err != nil {
			return err
		}
		if err := pre.Check(cur.Version); err != nil {
			return err
		}
		res, err := q.ExecContext(ctx, s.d.rebind(`DELETE FROM cards WHERE id = ? AND version = ?`), id, cur.Version)
		if err != nil {
			return fmt.Errorf("delete card: %w", err)
		}
		return requireOneRow(res, "delete card "+id)
	})
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *SQLStore) SearchCards(ctx context.Context, boardID, query string, limit int) ([]Card, error) {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(query))) + "%"
	sqlText := `
		SELECT ` + cardColumns + ` FROM cards
		WHERE board_id = ?
		  AND (LOWER(title) LIKE ? ESCAPE '\' OR LOWER(COALESCE(description, '')) LIKE ? ESCAPE '\')
		ORDER BY updated_at DESC, id`
	args := []any{boardID, pattern, pattern}
	if limit > 0 {
		sqlText += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryCards(ctx, sqlText, args...)
}

// Memberships

const membershipColumns = `board_id, user_id, role, status, invited_by, version, created_at, updated_at`

func scanMembership(row scanner) (Membership, error) {
	var (
		m                Membership
		role, status     string
		invitedBy        sql.NullString
		created, updated int64
	)
	if err := row.Scan(&m.BoardID, &m.UserID, &role, &status, &invitedBy, &m.Version, &created, &updated); err != nil {
		return Membership{}, err
	}
	m.Role = rbac.Role(role)
	m.Status = MembershipStatus(status)
	m.InvitedBy = invitedBy.String
	m.CreatedAt, m.UpdatedAt = fromMicros(created), fromMicros(updated)
	return m, nil
}

func (s *SQLStore) listMemberships(ctx context.Context, q DBTX, boardID string) ([]Membership, error) {
	rows, err := q.QueryContext(ctx, s.d.rebind(`
		SELECT `+membershipColumns+` FROM memberships
		WHERE board_id = ?
		ORDER BY created_at, user_id
	`), boardID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var members []Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return members, nil
}

func (s *SQLStore) ListMemberships(ctx context.Context, boardID string) ([]Membership, error) {
	return s.listMemberships(ctx, s.db, boardID)
}

func (s *SQLStore) getMembership(ctx context.Context, q DBTX, boardID, userID string) (Membership, error) {
	m, err := scanMembership(q.QueryRowContext(ctx, s.d.rebind(`
		SELECT `+membershipColumns+` FROM memberships WHERE board_id = ? AND user_id = ?
	`), boardID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return Membership{}, fmt.Errorf("membership %s/%s: %w", boardID, userID, ErrNotFound)
	}
	if err != nil {
		return Membership{}, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

func (s *SQLStore) GetMembership(ctx context.Context, boardID, userID string) (Membership, error) {
	return s.getMembership(ctx, s.db, boardID, userID)
}

func (s *SQLStore) insertMembership(ctx context.Context, q DBTX, m Membership) error {
	_, err := q.ExecContext(ctx, s.d.rebind(`
		INSERT INTO memberships (`+membershipColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), m.BoardID, m.UserID, string(m.Role), string(m.Status), nullString(optional(m.InvitedBy)), m.Version, micros(m.CreatedAt), micros(m.UpdatedAt))
	switch {
	case err == nil:
		return nil
	case s.d.isUniqueViolation(err):
		return fmt.Errorf("membership %s/%s: %w", m.BoardID, m.UserID, ErrDuplicate)
	case s.d.isForeignKeyViolation(err):
		return fmt.Errorf("board %s: %w", m.BoardID, ErrNotFound)
	default:
		return fmt.Errorf("insert membership: %w", err)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *SQLStore) InsertMembership(ctx context.Context, m Membership) error {
	return s.insertMembership(ctx, s.db, m)
}

func (s *SQLStore) writeMembership(ctx context.Context, q DBTX, next Membership, prevVersion int64) error {
	res, err := q.ExecContext(ctx, s.d.rebind(`
		UPDATE memberships
		SET role = ?, status = ?, version = ?, updated_at = ?
		WHERE board_id = ? AND user_id = ? AND version = ?
	`), string(next.Role), string(next.Status), next.Version, micros(next.UpdatedAt), next.BoardID, next.UserID, prevVersion)
	if err != nil {
		return fmt.Errorf("update membership: %w", err)
	}
	return requireOneRow(res, "update membership "+next.BoardID+"/"+next.UserID)
}

// Membership changes lock the board row first so that concurrent changes on
// the same board see each other's results when counting admins.
func (s *SQLStore) UpdateMembership(ctx context.Context, boardID, userID string, pre occ.Precondition, now time.Time, apply MemberApply) (Membership, error) {
	var out Membership
	err := s.tx(ctx, func(ctx context.Context, q DBTX) error {
		b, err := s.getBoard(ctx, q, boardID, true)
		if err != nil {
			return err
		}
		cur, err := s.getMembership(ctx, q, boardID, userID)
		if err != nil {
			return err
		}
		if err := pre.Check(cur.Version); err != nil {
			return err
		}
		members, err := s.listMemberships(ctx, q, boardID)
		if err != nil {
			return err
		}
		next := cur
		if err := apply(b, members, &next); err != nil {
			return err
		}
		next.BoardID, next.UserID, next.CreatedAt = cur.BoardID, cur.UserID, cur.CreatedAt
		next.Version = cur.Version + 1
		next.UpdatedAt = now
		if err := s.writeMembership(ctx, q, next, cur.Version); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

func (s *SQLStore) DeleteMembership(ctx context.Context, boardID, userID string, pre occ.Precondition, check MemberCheck) error {
	return s.tx(ctx, func(ctx context.Context, q DBTX) error {
		b, err := s.getBoard(ctx, q, boardID, true)
		if err != nil {
			return err
		}
		cur, err := s.getMembership(ctx, q, boardID, userID)
		if err != nil {
			return err
		}
		if err := pre.Check(cur.Version); err != nil {
			return err
		}
		members, err := s.listMemberships(ctx, q, boardID)
		if err != nil {
			return err
		}
		if err := check(b, members, cur); err != nil {
			return err
		}
		res, err := q.ExecContext(ctx, s.d.rebind(`
			DELETE FROM memberships WHERE board_id = ? AND user_id = ? AND version = ?
		`), boardID, userID, cur.Version)
		if err != nil {
			return fmt.Errorf("delete membership: %w", err)
		}
		return requireOneRow(res, "delete membership "+boardID+"/"+userID)
	})
}

// Invitations

const invitationColumns = `id, board_id, email, role, status, token_hash, invited_by, accepted_by, expires_at, created_at, updated_at`

func scanInvitation(row scanner) (Invitation, error) {
	var (
		inv                       Invitation
		role, status              string
		acceptedBy                sql.NullString
		expires, created, updated int64
	)
	if err := row.Scan(&inv.ID, &inv.BoardID, &inv.Email, &role, &status, &inv.TokenHash, &inv.InvitedBy, &acceptedBy, &expires, &created, &updated); err != nil {
		return Invitation{}, err
	}
	inv.Role = rbac.Role(role)
	inv.Status = InvitationStatus(status)
	inv.AcceptedBy = acceptedBy.String
	inv.ExpiresAt, inv.CreatedAt, inv.UpdatedAt = fromMicros(expires), fromMicros(created), fromMicros(updated)
	return inv, nil
}

func (s *SQLStore) CreateInvitation(ctx context.Context, inv Invitation) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(`
		INSERT INTO invitations (`+invitationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), inv.ID, inv.BoardID, inv.Email, string(inv.Role), string(inv.Status), inv.TokenHash, inv.InvitedBy,
		nullString(optional(inv.AcceptedBy)), micros(inv.ExpiresAt), micros(inv.CreatedAt), micros(inv.UpdatedAt))
	switch {
	case err == nil:
		return nil
	case s.d.isUniqueViolation(err):
		return fmt.Errorf("invitation %s: %w", inv.ID, ErrDuplicate)
	case s.d.isForeignKeyViolation(err):
		return fmt.Errorf("board %s: %w", inv.BoardID, ErrNotFound)
	default:
		return fmt.Errorf("insert invitation: %w", err)
	}
}

func (s *SQLStore) ListInvitations(ctx context.Context, boardID string) ([]Invitation, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT `+invitationColumns+` FROM invitations
		WHERE board_id = ?
		ORDER BY created_at DESC, id
	`), boardID)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invitations: %w", err)
	}
	return invitations, nil
}

func (s *SQLStore) setInvitationStatus(ctx context.Context, q DBTX, inv Invitation) error {
	_, err := q.ExecContext(ctx, s.d.rebind(`
		UPDATE invitations SET status = ?, accepted_by = ?, updated_at = ? WHERE id = ?
	`), string(inv.Status), nullString(optional(inv.AcceptedBy)), micros(inv.UpdatedAt), inv.ID)
	if err != nil {
		return fmt.Errorf("update invitation: %w", err)
	}
	return nil
}

func (s *SQLStore) AcceptInvitation(ctx context.Context, tokenHash, userID string, now time.Time) (Invitation, Membership, error) {
	var (
		inv     Invitation
		m       Membership
		expired bool
	)
	err := s.tx(ctx, func(ctx context.Context, q DBTX) error {
		var err error
		inv, err = scanInvitation(q.QueryRowContext(ctx, s.d.rebind(`
			SELECT `+invitationColumns+` FROM invitations WHERE token_hash = ?`+s.d.forUpdate), tokenHash))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("invitation: %w", ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get invitation: %w", err)
		}
		if inv.Status != InvitationPending {
			return fmt.Errorf("invitation %s is %s: %w", inv.ID, inv.Status, ErrInvitationClosed)
		}
		if !now.Before(inv.ExpiresAt) {
			inv.Status = InvitationExpired
			inv.UpdatedAt = now
			expired = true
			return s.setInvitationStatus(ctx, q, inv)
		}

		m, err = s.getMembership(ctx, q, inv.BoardID, userID)
		switch {
		case errors.Is(err, ErrNotFound):
			m = Membership{
				BoardID:   inv.BoardID,
				UserID:    userID,
				Role:      inv.Role,
				Status:    MembershipActive,
				InvitedBy: inv.InvitedBy,
				Version:   1,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := s.insertMembership(ctx, q, m); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			prev := m.Version
			if grant(&m, inv, now) {
				if err := s.writeMembership(ctx, q, m, prev); err != nil {
					return err
				}
			}
		}

		inv.Status = InvitationAccepted
		inv.AcceptedBy = userID
		inv.UpdatedAt = now
		return s.setInvitationStatus(ctx, q, inv)
	})
	if err != nil {
		return inv, Membership{}, err
	}
	if expired {
		return inv, Membership{}, fmt.Errorf("invitation %s: %w", inv.ID, ErrInvitationExpired)
	}
	return inv, m, nil
}

func (s *SQLStore) RevokeInvitation(ctx context.Context, boardID, id string, now time.Time) (Invitation, error) {
	var inv Invitation
	err := s.tx(ctx, func(ctx context.Context, q DBTX) error {
		var err error
		inv, err = scanInvitation(q.QueryRowContext(ctx, s.d.rebind(`
			SELECT `+invitationColumns+` FROM invitations WHERE id = ? AND board_id = ?`+s.d.forUpdate), id, boardID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("invitation %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get invitation: %w", err)
		}
		if inv.Status != InvitationPending {
			return fmt.Errorf("invitation %s is %s: %w", id, inv.Status, ErrInvitationClosed)
		}
		inv.Status = InvitationRevoked
		inv.UpdatedAt = now
		return s.setInvitationStatus(ctx, q, inv)
	})
	return inv, err
}

var _ Store = (*SQLStore)(nil)
