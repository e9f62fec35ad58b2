// Package adapter defines the persistence contract a store commits through.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"lifeline/internal/domain"
	"lifeline/internal/model"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// Adapter persists raw record data. Implementations are safe for concurrent use.
type Adapter interface {
	Find(ctx context.Context, t *model.Type, id string) (map[string]any, error)
	// FindMany returns the payloads that exist, in the order of ids.
	FindMany(ctx context.Context, t *model.Type, ids []string) ([]map[string]any, error)
	FindAll(ctx context.Context, t *model.Type) ([]map[string]any, error)
	// CreateRecord saves data and returns the stored payload, primary key included.
	CreateRecord(ctx context.Context, t *model.Type, data map[string]any) (map[string]any, error)
	UpdateRecord(ctx context.Context, t *model.Type, id string, data map[string]any) error
	DeleteRecord(ctx context.Context, t *model.Type, id string) error
	Close() error
}

type EventFilter struct {
	Limit      int
	Type       string
	EntityKind string
	EntityID   string
}

// Journal is implemented by adapters that keep a log of their writes.
type Journal interface {
	LatestEvents(ctx context.Context, f EventFilter) ([]domain.Event, error)
}

// Matches reports whether e passes the filter's equality checks.
func (f EventFilter) Matches(e domain.Event) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.EntityKind != "" && e.EntityKind != f.EntityKind {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	return true
}

// AssignID returns a copy of data carrying a primary key for t, generating a
// UUID when none is set.
func AssignID(t *model.Type, data map[string]any) (map[string]any, string) {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	if id, ok := model.NormalizeID(out[t.PrimaryKey()]); ok {
		return out, id
	}
	id := uuid.NewString()
	out[t.PrimaryKey()] = id
	return out, id
}

// Encode renders a payload as a JSON object.
func Encode(data map[string]any) (string, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	return string(b), nil
}

// Decode parses a JSON object produced by Encode.
func Decode(raw []byte) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// Normalize round-trips data through JSON so every adapter hands back the
// same value shapes: float64 numbers, []any lists and map[string]any objects.
func Normalize(data map[string]any) (map[string]any, error) {
	s, err := Encode(data)
	if err != nil {
		return nil, err
	}
	return Decode([]byte(s))
}

// EventPayload is the journal payload for a record write.
func EventPayload(t *model.Type, id string, data map[string]any) map[string]any {
	p := map[string]any{"type": t.Name(), "id": id}
	if data != nil {
		p["data"] = data
	}
	return p
}
