package model

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type notification struct {
	Dirty bool
	Kind  DirtyKind
	State string
}

type recordingTx struct {
	calls []notification
}

func (tx *recordingTx) RecordBecameDirty(kind DirtyKind, r *Record) {
	tx.calls = append(tx.calls, notification{Dirty: true, Kind: kind, State: r.StateName()})
}

func (tx *recordingTx) RecordBecameClean(kind DirtyKind, r *Record) {
	tx.calls = append(tx.calls, notification{Dirty: false, Kind: kind, State: r.StateName()})
}

func (tx *recordingTx) reset() { tx.calls = nil }

// fakeStore is a minimal identity map that records what the core asks of it.
type fakeStore struct {
	tx          *recordingTx
	next        ClientID
	records     map[ClientID]*Record
	ids         map[*Type]map[string]ClientID
	hashUpdates []ClientID
	removed     []ClientID
	transitions []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tx:      &recordingTx{},
		records: map[ClientID]*Record{},
		ids:     map[*Type]map[string]ClientID{},
	}
}

func (s *fakeStore) DefaultTransaction() Transaction { return s.tx }

func (s *fakeStore) HashWasUpdated(_ *Type, id ClientID) {
	s.hashUpdates = append(s.hashUpdates, id)
}

func (s *fakeStore) RemoveFromRecordArrays(r *Record) {
	s.removed = append(s.removed, r.ClientID())
}

func (s *fakeStore) RecordDidTransition(r *Record, from, to string) {
	s.transitions = append(s.transitions, fmt.Sprintf("%d:%s->%s", r.ClientID(), from, to))
}

func (s *fakeStore) newRecord(t *Type) *Record {
	s.next++
	r := NewRecord(t, s, s.next, nil)
	s.records[r.ClientID()] = r
	return r
}

func (s *fakeStore) register(t *Type, id string, r *Record) {
	if s.ids[t] == nil {
		s.ids[t] = map[string]ClientID{}
	}
	s.ids[t][id] = r.ClientID()
}

func (s *fakeStore) LoadMany(t *Type, payloads []map[string]any) []string {
	var ids []string
	for _, p := range payloads {
		id, ok := NormalizeID(p[t.PrimaryKey()])
		if !ok {
			continue
		}
		r := s.byID(t, id)
		if r == nil {
			r = s.newRecord(t)
			s.register(t, id, r)
		}
		_ = r.SetData(p)
		ids = append(ids, id)
	}
	return ids
}

func (s *fakeStore) Materialize(t *Type, ids []string) {
	for _, id := range ids {
		if s.byID(t, id) == nil {
			s.register(t, id, s.newRecord(t))
		}
	}
}

func (s *fakeStore) FindMany(t *Type, ids []string) *RecordArray {
	s.Materialize(t, ids)
	content := make([]ClientID, 0, len(ids))
	for _, id := range ids {
		content = append(content, s.ids[t][id])
	}
	return NewRecordArray(t, content, func(id ClientID) *Record { return s.records[id] })
}

func (s *fakeStore) IDToClientIDMap(t *Type) map[string]ClientID {
	out := map[string]ClientID{}
	for id, cid := range s.ids[t] {
		out[id] = cid
	}
	return out
}

func (s *fakeStore) byID(t *Type, id string) *Record {
	cid, ok := s.ids[t][id]
	if !ok {
		return nil
	}
	return s.records[cid]
}

func newPersonType(t *testing.T, reg *Registry, opts ...TypeOption) *Type {
	t.Helper()
	opts = append([]TypeOption{
		Attr("name", "string"),
		Attr("age", "integer"),
		Attr("active", "boolean"),
		Attr("bornAt", "date", Key("born_at")),
	}, opts...)
	typ, err := reg.Define("person", opts...)
	require.NoError(t, err)
	return typ
}

func loadedRecord(t *testing.T, s *fakeStore, typ *Type, data map[string]any) *Record {
	t.Helper()
	r := s.newRecord(typ)
	require.NoError(t, r.SetData(data))
	require.Equal(t, "loaded", r.StateName())
	s.tx.reset()
	return r
}
