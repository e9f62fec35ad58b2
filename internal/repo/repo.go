package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"lifeline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const recordColumns = `type,id,data_json,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (domain.StoredRecord, error) {
	var rec domain.StoredRecord
	err := row.Scan(&rec.Type, &rec.ID, &rec.DataJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	return rec, err
}

func (r Repo) InsertRecord(ctx context.Context, tx *sql.Tx, rec domain.StoredRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO records(`+recordColumns+`) VALUES (?,?,?,?,?)`,
		rec.Type, rec.ID, rec.DataJSON, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r Repo) UpdateRecord(ctx context.Context, tx *sql.Tx, rec domain.StoredRecord) error {
	res, err := tx.ExecContext(ctx, `UPDATE records SET data_json=?, updated_at=? WHERE type=? AND id=?`,
		rec.DataJSON, rec.UpdatedAt, rec.Type, rec.ID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteRecord(ctx context.Context, tx *sql.Tx, recordType, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE type=? AND id=?`, recordType, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRecord(ctx context.Context, recordType, id string) (domain.StoredRecord, error) {
	return scanRecord(r.DB.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE type=? AND id=?`, recordType, id))
}

func (r Repo) GetRecordTx(ctx context.Context, tx *sql.Tx, recordType, id string) (domain.StoredRecord, error) {
	return scanRecord(tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE type=? AND id=?`, recordType, id))
}

// conds accumulates AND-ed WHERE conditions with their arguments.
type conds struct {
	clauses []string
	args    []any
}

func (c *conds) eq(column string, v string) {
	if v != "" {
		c.clauses = append(c.clauses, column+"=?")
		c.args = append(c.args, v)
	}
}

func (c *conds) in(column string, vs []string) {
	if len(vs) == 0 {
		return
	}
	c.clauses = append(c.clauses, fmt.Sprintf("%s IN (%s)", column, strings.TrimSuffix(strings.Repeat("?,", len(vs)), ",")))
	for _, v := range vs {
		c.args = append(c.args, v)
	}
}

func (c *conds) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

type RecordFilters struct {
	Type  string
	IDs   []string
	Limit int
}

// ListRecords returns records in insertion order.
func (r Repo) ListRecords(ctx context.Context, f RecordFilters) ([]domain.StoredRecord, error) {
	var c conds
	c.eq("type", f.Type)
	c.in("id", f.IDs)
	query := `SELECT ` + recordColumns + ` FROM records` + c.where() + ` ORDER BY rowid ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		c.args = append(c.args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, c.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StoredRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (r Repo) CountRecordsByType(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT type, COUNT(*) FROM records GROUP BY type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var recordType string
		var n int
		if err := rows.Scan(&recordType, &n); err != nil {
			return nil, err
		}
		counts[recordType] = n
	}
	return counts, rows.Err()
}

// EventFilters selects journal rows. Before, when set, only matches ids below it.
type EventFilters struct {
	Type       string
	EntityKind string
	EntityID   string
	Before     int64
	Limit      int
}

const defaultEventLimit = 20

// LatestEvents returns journal rows newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	var c conds
	c.eq("type", f.Type)
	c.eq("entity_kind", f.EntityKind)
	c.eq("entity_id", f.EntityID)
	if f.Before > 0 {
		c.clauses = append(c.clauses, "id<?")
		c.args = append(c.args, f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),payload_json FROM events`+c.where()+` ORDER BY id DESC LIMIT ?`,
		append(c.args, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Event{}
	for rows.Next() {
		var (
			e       domain.Event
			payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &payload); err != nil {
			return nil, err
		}
		e.Payload = payload.String
		out = append(out, e)
	}
	return out, rows.Err()
}
