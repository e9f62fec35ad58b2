// Package memory provides an in-process adapter for tests and ephemeral stores.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"lifeline/internal/adapter"
	"lifeline/internal/domain"
	"lifeline/internal/model"
)

type entry struct {
	seq  uint64
	data map[string]any
}

// Adapter keeps records in maps keyed by type name and id. Values are
// JSON-normalized copies, so callers never share maps with it.
type Adapter struct {
	mu      sync.RWMutex
	records map[string]map[string]entry
	events  []domain.Event
	seq     uint64
	Now     func() time.Time
}

func New() *Adapter {
	return &Adapter{
		records: make(map[string]map[string]entry),
		Now:     time.Now,
	}
}

func (a *Adapter) Close() error { return nil }

func (a *Adapter) Find(ctx context.Context, t *model.Type, id string) (map[string]any, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	e, ok := a.records[t.Name()][id]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", t.Name(), id, adapter.ErrNotFound)
	}
	return adapter.Normalize(e.data)
}

func (a *Adapter) FindMany(ctx context.Context, t *model.Type, ids []string) ([]map[string]any, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		e, ok := a.records[t.Name()][id]
		if !ok {
			continue
		}
		data, err := adapter.Normalize(e.data)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// FindAll returns every record of t in insertion order.
func (a *Adapter) FindAll(ctx context.Context, t *model.Type) ([]map[string]any, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	entries := make([]entry, 0, len(a.records[t.Name()]))
	for _, e := range a.records[t.Name()] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		data, err := adapter.Normalize(e.data)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

func (a *Adapter) CreateRecord(ctx context.Context, t *model.Type, data map[string]any) (map[string]any, error) {
	withID, id := adapter.AssignID(t, data)
	stored, err := adapter.Normalize(withID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.records[t.Name()][id]; exists {
		return nil, fmt.Errorf("%s %s: %w", t.Name(), id, adapter.ErrDuplicate)
	}
	if a.records[t.Name()] == nil {
		a.records[t.Name()] = make(map[string]entry)
	}
	a.seq++
	a.records[t.Name()][id] = entry{seq: a.seq, data: stored}
	a.appendEvent(domain.EventRecordCreated, t, id, stored)
	return adapter.Normalize(stored)
}

func (a *Adapter) UpdateRecord(ctx context.Context, t *model.Type, id string, data map[string]any) error {
	stored, err := adapter.Normalize(data)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.records[t.Name()][id]
	if !ok {
		return fmt.Errorf("%s %s: %w", t.Name(), id, adapter.ErrNotFound)
	}
	e.data = stored
	a.records[t.Name()][id] = e
	a.appendEvent(domain.EventRecordUpdated, t, id, stored)
	return nil
}

func (a *Adapter) DeleteRecord(ctx context.Context, t *model.Type, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.records[t.Name()][id]; !ok {
		return fmt.Errorf("%s %s: %w", t.Name(), id, adapter.ErrNotFound)
	}
	delete(a.records[t.Name()], id)
	a.appendEvent(domain.EventRecordDeleted, t, id, nil)
	return nil
}

// LatestEvents returns journal entries newest first.
func (a *Adapter) LatestEvents(ctx context.Context, f adapter.EventFilter) ([]domain.Event, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	var out []domain.Event
	for i := len(a.events) - 1; i >= 0 && len(out) < limit; i-- {
		if f.Matches(a.events[i]) {
			out = append(out, a.events[i])
		}
	}
	return out, nil
}

// appendEvent must be called with the write lock held.
func (a *Adapter) appendEvent(evtType string, t *model.Type, id string, data map[string]any) {
	payload, err := adapter.Encode(adapter.EventPayload(t, id, data))
	if err != nil {
		payload = "{}"
	}
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	a.events = append(a.events, domain.Event{
		ID:         int64(len(a.events) + 1),
		TS:         now().UTC().Format(time.RFC3339),
		Type:       evtType,
		EntityKind: t.Name(),
		EntityID:   id,
		Payload:    payload,
	})
}

var (
	_ adapter.Adapter = (*Adapter)(nil)
	_ adapter.Journal = (*Adapter)(nil)
)
