// Package badger persists records in an embedded BadgerDB key-value store.
package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"lifeline/internal/adapter"
	"lifeline/internal/domain"
	"lifeline/internal/model"
)

const (
	recordPrefix = "record:"
	eventPrefix  = "event:"
	seqKey       = "seq:event"
)

type Config struct {
	Path string
	// InMemory keeps everything in RAM; Path is ignored.
	InMemory bool
}

// Adapter stores each record as a JSON value under record:<type>:<id> and
// journals writes under event:<seq>.
type Adapter struct {
	db     *badger.DB
	seq    *badger.Sequence
	mu     sync.RWMutex
	closed bool
	Now    func() time.Time
}

func Open(cfg Config) (*Adapter, error) {
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path != "":
		opts = badger.DefaultOptions(cfg.Path)
	default:
		return nil, fmt.Errorf("path is required for badger adapter")
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	seq, err := db.GetSequence([]byte(seqKey), 100)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("event sequence: %w", err)
	}
	return &Adapter{db: db, seq: seq, Now: time.Now}, nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if err := a.seq.Release(); err != nil {
		a.db.Close()
		return err
	}
	return a.db.Close()
}

func recordKey(t *model.Type, id string) []byte {
	return []byte(recordPrefix + t.Name() + ":" + id)
}

func typePrefix(t *model.Type) []byte {
	return []byte(recordPrefix + t.Name() + ":")
}

func eventKey(n uint64) []byte {
	key := make([]byte, len(eventPrefix)+8)
	copy(key, eventPrefix)
	binary.BigEndian.PutUint64(key[len(eventPrefix):], n)
	return key
}

func (a *Adapter) view(fn func(txn *badger.Txn) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return fmt.Errorf("badger adapter is closed")
	}
	return a.db.View(fn)
}

func (a *Adapter) update(fn func(txn *badger.Txn) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return fmt.Errorf("badger adapter is closed")
	}
	return a.db.Update(fn)
}

func readRecord(txn *badger.Txn, key []byte) (map[string]any, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	err = item.Value(func(val []byte) error {
		var derr error
		data, derr = adapter.Decode(val)
		return derr
	})
	return data, err
}

func (a *Adapter) Find(ctx context.Context, t *model.Type, id string) (map[string]any, error) {
	var data map[string]any
	err := a.view(func(txn *badger.Txn) error {
		var err error
		data, err = readRecord(txn, recordKey(t, id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s %s: %w", t.Name(), id, adapter.ErrNotFound)
	}
	return data, err
}

func (a *Adapter) FindMany(ctx context.Context, t *model.Type, ids []string) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(ids))
	err := a.view(func(txn *badger.Txn) error {
		for _, id := range ids {
			data, err := readRecord(txn, recordKey(t, id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, data)
		}
		return nil
	})
	return out, err
}

// FindAll returns every record of t ordered by id.
func (a *Adapter) FindAll(ctx context.Context, t *model.Type) ([]map[string]any, error) {
	var out []map[string]any
	err := a.view(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := typePrefix(t)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				data, err := adapter.Decode(val)
				if err != nil {
					return err
				}
				out = append(out, data)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (a *Adapter) CreateRecord(ctx context.Context, t *model.Type, data map[string]any) (map[string]any, error) {
	withID, id := adapter.AssignID(t, data)
	payload, err := adapter.Encode(withID)
	if err != nil {
		return nil, err
	}
	err = a.update(func(txn *badger.Txn) error {
		key := recordKey(t, id)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("%s %s: %w", t.Name(), id, adapter.ErrDuplicate)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(key, []byte(payload)); err != nil {
			return err
		}
		return a.appendEvent(txn, domain.EventRecordCreated, t, id, withID)
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
	return a.update(func(txn *badger.Txn) error {
		key := recordKey(t, id)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%s %s: %w", t.Name(), id, adapter.ErrNotFound)
		} else if err != nil {
			return err
		}
		if err := txn.Set(key, []byte(payload)); err != nil {
			return err
		}
		return a.appendEvent(txn, domain.EventRecordUpdated, t, id, data)
	})
}

func (a *Adapter) DeleteRecord(ctx context.Context, t *model.Type, id string) error {
	return a.update(func(txn *badger.Txn) error {
		key := recordKey(t, id)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%s %s: %w", t.Name(), id, adapter.ErrNotFound)
		} else if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return a.appendEvent(txn, domain.EventRecordDeleted, t, id, nil)
	})
}

func (a *Adapter) appendEvent(txn *badger.Txn, evtType string, t *model.Type, id string, data map[string]any) error {
	n, err := a.seq.Next()
	if err != nil {
		return fmt.Errorf("next event id: %w", err)
	}
	payload, err := adapter.Encode(adapter.EventPayload(t, id, data))
	if err != nil {
		return err
	}
	now := a.Now
	if now == nil {
		now = time.Now
	}
	evt := domain.Event{
		ID:         int64(n) + 1,
		TS:         now().UTC().Format(time.RFC3339),
		Type:       evtType,
		EntityKind: t.Name(),
		EntityID:   id,
		Payload:    payload,
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return txn.Set(eventKey(n), raw)
}

// LatestEvents walks the journal backwards from the newest entry.
func (a *Adapter) LatestEvents(ctx context.Context, f adapter.EventFilter) ([]domain.Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	var out []domain.Event
	err := a.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(eventPrefix)
		seek := append(bytes.Clone(prefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			var evt domain.Event
			err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &evt) })
			if err != nil {
				return err
			}
			if f.Matches(evt) {
				out = append(out, evt)
			}
		}
		return nil
	})
	return out, err
}

var (
	_ adapter.Adapter = (*Adapter)(nil)
	_ adapter.Journal = (*Adapter)(nil)
)
