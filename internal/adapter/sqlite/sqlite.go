// Package sqlite persists records in a workspace SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lifeline/internal/adapter"
	"lifeline/internal/db"
	"lifeline/internal/domain"
	"lifeline/internal/events"
	"lifeline/internal/migrate"
	"lifeline/internal/model"
	"lifeline/internal/repo"
)

// Adapter writes each record change and its journal event in one SQL
// transaction.
type Adapter struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

// Open opens and migrates the database under the workspace data directory.
func Open(ctx context.Context, cfg db.Config) (*Adapter, error) {
	conn, err := db.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return New(conn), nil
}

func New(conn *sql.DB) *Adapter {
	return &Adapter{
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Events: events.Writer{},
		Now:    time.Now,
	}
}

func (a *Adapter) Close() error { return a.DB.Close() }

func (a *Adapter) now() string {
	now := a.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339Nano)
}

func (a *Adapter) Find(ctx context.Context, t *model.Type, id string) (map[string]any, error) {
	rec, err := a.Repo.GetRecord(ctx, t.Name(), id)
	if err != nil {
		return nil, wrapNotFound(t, id, err)
	}
	return adapter.Decode([]byte(rec.DataJSON))
}

func (a *Adapter) FindMany(ctx context.Context, t *model.Type, ids []string) ([]map[string]any, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := a.Repo.ListRecords(ctx, repo.RecordFilters{Type: t.Name(), IDs: ids})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.StoredRecord, len(rows))
	for _, rec := range rows {
		byID[rec.ID] = rec
	}
	out := make([]map[string]any, 0, len(rows))
	for _, id := range ids {
		rec, ok := byID[id]
		if !ok {
			continue
		}
		data, err := adapter.Decode([]byte(rec.DataJSON))
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

func (a *Adapter) FindAll(ctx context.Context, t *model.Type) ([]map[string]any, error) {
	rows, err := a.Repo.ListRecords(ctx, repo.RecordFilters{Type: t.Name()})
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(rows))
	for _, rec := range rows {
		data, err := adapter.Decode([]byte(rec.DataJSON))
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

func (a *Adapter) CreateRecord(ctx context.Context, t *model.Type, data map[string]any) (map[string]any, error) {
	withID, id := adapter.AssignID(t, data)
	payload, err := adapter.Encode(withID)
	if err != nil {
		return nil, err
	}
	now := a.now()
	err = a.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := a.Repo.GetRecordTx(ctx, tx, t.Name(), id); err == nil {
			return fmt.Errorf("%s %s: %w", t.Name(), id, adapter.ErrDuplicate)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		rec := domain.StoredRecord{Type: t.Name(), ID: id, DataJSON: payload, CreatedAt: now, UpdatedAt: now}
		if err := a.Repo.InsertRecord(ctx, tx, rec); err != nil {
			return err
		}
		return a.journal(ctx, tx, domain.EventRecordCreated, t, id, withID)
	})
	if err != nil {
		return nil, err
	}
	return adapter.Decode([]byte(payload))
}

func (a *Adapter) UpdateRecord(ctx context.Context, t *model.Type, id string, data map[string]any) error {
	payload, err := adapter.Encode(data)
	if err != nil {
		return err
	}
	return a.withTx(ctx, func(tx *sql.Tx) error {
		rec := domain.StoredRecord{Type: t.Name(), ID: id, DataJSON: payload, UpdatedAt: a.now()}
		if err := a.Repo.UpdateRecord(ctx, tx, rec); err != nil {
			return wrapNotFound(t, id, err)
		}
		return a.journal(ctx, tx, domain.EventRecordUpdated, t, id, data)
	})
}

func (a *Adapter) DeleteRecord(ctx context.Context, t *model.Type, id string) error {
	return a.withTx(ctx, func(tx *sql.Tx) error {
		if err := a.Repo.DeleteRecord(ctx, tx, t.Name(), id); err != nil {
			return wrapNotFound(t, id, err)
		}
		return a.journal(ctx, tx, domain.EventRecordDeleted, t, id, nil)
	})
}

func (a *Adapter) journal(ctx context.Context, tx *sql.Tx, evtType string, t *model.Type, id string, data map[string]any) error {
	payload, err := adapter.Encode(adapter.EventPayload(t, id, data))
	if err != nil {
		return err
	}
	_, err = a.Events.Append(ctx, tx, domain.Event{Type: evtType, EntityKind: t.Name(), EntityID: id, Payload: payload})
	return err
}

func (a *Adapter) LatestEvents(ctx context.Context, f adapter.EventFilter) ([]domain.Event, error) {
	return a.Repo.LatestEvents(ctx, repo.EventFilters{Type: f.Type, EntityKind: f.EntityKind, EntityID: f.EntityID, Limit: f.Limit})
}

// CountByType reports how many records of each type are stored.
func (a *Adapter) CountByType(ctx context.Context) (map[string]int, error) {
	return a.Repo.CountRecordsByType(ctx)
}

func (a *Adapter) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func wrapNotFound(t *model.Type, id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", t.Name(), id, adapter.ErrNotFound)
	}
	return err
}

var (
	_ adapter.Adapter = (*Adapter)(nil)
	_ adapter.Journal = (*Adapter)(nil)
)
