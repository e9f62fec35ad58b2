// Package events appends journal rows to the workspace database.
package events

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"lifeline/internal/domain"
)

var ErrMissingKind = errors.New("event needs a type and an entity kind")

type Writer struct {
	Now func() time.Time
}

// Append stores evt inside tx and returns it with its assigned id and
// timestamp. A zero TS is filled from Now.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evt domain.Event) (domain.Event, error) {
	if evt.Type == "" || evt.EntityKind == "" {
		return evt, ErrMissingKind
	}
	if evt.TS == "" {
		now := w.Now
		if now == nil {
			now = time.Now
		}
		evt.TS = now().UTC().Format(time.RFC3339)
	}
	if evt.Payload == "" {
		evt.Payload = "{}"
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?)`,
		evt.TS, evt.Type, evt.EntityKind, sql.NullString{String: evt.EntityID, Valid: evt.EntityID != ""}, evt.Payload)
	if err != nil {
		return evt, err
	}
	evt.ID, err = res.LastInsertId()
	return evt, err
}
