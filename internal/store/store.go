// Package store keeps the identity map of records and commits their changes
// through an adapter.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"lifeline/internal/adapter"
	"lifeline/internal/model"
)

var (
	ErrMissingID = errors.New("payload has no primary key")
	ErrNoAdapter = errors.New("store has no adapter")
)

// Observer hears about record activity. The metrics collector implements it.
type Observer interface {
	RecordTransitioned(recordType, from, to string)
	RecordBecameDirty(recordType string, kind model.DirtyKind)
	RecordBecameClean(recordType string, kind model.DirtyKind)
	CommitFinished(recordType string, kind model.DirtyKind, err error)
}

type Option func(*Store)

func WithLogger(l *log.Logger) Option { return func(s *Store) { s.log = l } }

func WithObserver(o Observer) Option { return func(s *Store) { s.observer = o } }

func WithTracer(t trace.Tracer) Option { return func(s *Store) { s.tracer = t } }

type typeMap struct {
	ids       map[string]model.ClientID
	records   map[model.ClientID]*model.Record
	revisions map[model.ClientID]uint64
	order     []model.ClientID
	all       *model.RecordArray
	filters   []*filtered
	arrays    []*model.RecordArray
	pending   []string
}

type filtered struct {
	array *model.RecordArray
	pred  func(*model.Record) bool
}

// Store is the identity map for every record type in a registry. Like the
// records it holds, a Store is meant to be driven from one goroutine.
type Store struct {
	adapter   adapter.Adapter
	registry  *model.Registry
	types     map[*model.Type]*typeMap
	nextID    model.ClientID
	defaultTx *Transaction
	log       *log.Logger
	observer  Observer
	tracer    trace.Tracer
}

func New(a adapter.Adapter, reg *model.Registry, opts ...Option) *Store {
	if reg == nil {
		reg = model.NewRegistry()
	}
	s := &Store{
		adapter:  a,
		registry: reg,
		types:    map[*model.Type]*typeMap{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("lifeline/store")
	}
	s.defaultTx = s.NewTransaction()
	return s
}

func (s *Store) logger() *log.Logger {
	if s.log != nil {
		return s.log
	}
	return log.Default()
}

func (s *Store) Registry() *model.Registry { return s.registry }
func (s *Store) Adapter() adapter.Adapter { return s.adapter }

// DefaultTransaction is the transaction records fall back to.
func (s *Store) DefaultTransaction() model.Transaction { return s.defaultTx }

// Transaction returns the default transaction with its concrete type.
func (s *Store) Transaction() *Transaction { return s.defaultTx }

func (s *Store) NewTransaction() *Transaction {
	return &Transaction{store: s, buckets: map[model.DirtyKind][]*model.Record{}}
}

func (s *Store) typeMap(t *model.Type) *typeMap {
	tm, ok := s.types[t]
	if !ok {
		tm = &typeMap{
			ids:       map[string]model.ClientID{},
			records:   map[model.ClientID]*model.Record{},
			revisions: map[model.ClientID]uint64{},
		}
		s.types[t] = tm
	}
	return tm
}

func (s *Store) resolver(t *model.Type) func(model.ClientID) *model.Record {
	tm := s.typeMap(t)
	return func(id model.ClientID) *model.Record { return tm.records[id] }
}

func (s *Store) newRecord(t *model.Type, tx *Transaction) *model.Record {
	s.nextID++
	var mtx model.Transaction
	if tx != nil && tx != s.defaultTx {
		mtx = tx
	}
	r := model.NewRecord(t, s, s.nextID, mtx)
	tm := s.typeMap(t)
	tm.records[r.ClientID()] = r
	tm.order = append(tm.order, r.ClientID())
	if mtx != nil {
		tx.adopt(r)
	}
	return r
}

func (s *Store) register(t *model.Type, id string, r *model.Record) {
	s.typeMap(t).ids[id] = r.ClientID()
}

// ByID returns the record registered under id, if any.
func (s *Store) ByID(t *model.Type, id string) (*model.Record, bool) {
	tm := s.typeMap(t)
	cid, ok := tm.ids[id]
	if !ok {
		return nil, false
	}
	r, ok := tm.records[cid]
	return r, ok
}

// RecordForClientID returns the record with the given client id.
func (s *Store) RecordForClientID(t *model.Type, id model.ClientID) *model.Record {
	return s.typeMap(t).records[id]
}

// CreateRecord starts a new record in loaded.created. A nil tx uses the
// default transaction.
func (s *Store) CreateRecord(t *model.Type, data map[string]any, tx *Transaction) (*model.Record, error) {
	id, hasID := model.NormalizeID(data[t.PrimaryKey()])
	if hasID {
		if _, exists := s.ByID(t, id); exists {
			return nil, fmt.Errorf("%s %s: %w", t.Name(), id, adapter.ErrDuplicate)
		}
	}
	r := s.newRecord(t, tx)
	if err := r.InitializeNew(data); err != nil {
		return nil, err
	}
	if hasID {
		s.register(t, id, r)
	}
	return r, nil
}

// Load installs a payload into the record with the payload's primary key,
// creating the record when it is not yet known.
func (s *Store) Load(t *model.Type, payload map[string]any) (*model.Record, error) {
	id, ok := model.NormalizeID(payload[t.PrimaryKey()])
	if !ok {
		return nil, fmt.Errorf("load %s: %w", t.Name(), ErrMissingID)
	}
	r, exists := s.ByID(t, id)
	if !exists {
		r = s.newRecord(t, nil)
		s.register(t, id, r)
	}
	if err := r.SetData(payload); err != nil {
		return r, fmt.Errorf("load %s %s: %w", t.Name(), id, err)
	}
	s.dropPending(t, id)
	return r, nil
}

// LoadMany loads every payload and returns their ids in order. Payloads that
// cannot be loaded are logged; their ids are kept when a record exists.
func (s *Store) LoadMany(t *model.Type, payloads []map[string]any) []string {
	ids := make([]string, 0, len(payloads))
	for _, p := range payloads {
		r, err := s.Load(t, p)
		if err != nil {
			s.logger().Printf("store: %v", err)
		}
		if r == nil {
			continue
		}
		if id, ok := r.ID(); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Materialize creates empty placeholders for unknown ids and queues them for
// FetchPending.
func (s *Store) Materialize(t *model.Type, ids []string) {
	tm := s.typeMap(t)
	for _, id := range ids {
		if _, ok := tm.ids[id]; ok {
			continue
		}
		r := s.newRecord(t, nil)
		s.register(t, id, r)
		tm.pending = append(tm.pending, id)
	}
}

// FindMany returns a live array over ids, materializing placeholders for
// records not seen yet.
func (s *Store) FindMany(t *model.Type, ids []string) *model.RecordArray {
	s.Materialize(t, ids)
	tm := s.typeMap(t)
	content := make([]model.ClientID, 0, len(ids))
	for _, id := range ids {
		content = append(content, tm.ids[id])
	}
	arr := model.NewRecordArray(t, content, s.resolver(t))
	tm.arrays = append(tm.arrays, arr)
	return arr
}

// Find returns the loaded record for id, fetching it through the adapter
// when needed.
func (s *Store) Find(ctx context.Context, t *model.Type, id string) (*model.Record, error) {
	if r, ok := s.ByID(t, id); ok && r.IsLoaded() {
		return r, nil
	}
	if s.adapter == nil {
		return nil, ErrNoAdapter
	}
	ctx, span := s.tracer.Start(ctx, "store.find")
	defer span.End()
	payload, err := s.adapter.Find(ctx, t, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return s.Load(t, payload)
}

// FindAll loads every stored record of t and returns the live All array.
func (s *Store) FindAll(ctx context.Context, t *model.Type) (*model.RecordArray, error) {
	if s.adapter == nil {
		return nil, ErrNoAdapter
	}
	payloads, err := s.adapter.FindAll(ctx, t)
	if err != nil {
		return nil, err
	}
	s.LoadMany(t, payloads)
	return s.All(t), nil
}

// Pending lists ids queued by Materialize and not yet loaded.
func (s *Store) Pending(t *model.Type) []string {
	return append([]string(nil), s.typeMap(t).pending...)
}

func (s *Store) dropPending(t *model.Type, id string) {
	tm := s.typeMap(t)
	for i, p := range tm.pending {
		if p == id {
			tm.pending = append(tm.pending[:i], tm.pending[i+1:]...)
			return
		}
	}
}

// FetchPending loads queued placeholders through the adapter. Ids the
// adapter does not know stay empty and leave the queue.
func (s *Store) FetchPending(ctx context.Context) error {
	if s.adapter == nil {
		return ErrNoAdapter
	}
	var errs []error
	for _, t := range s.registry.Types() {
		tm, ok := s.types[t]
		if !ok || len(tm.pending) == 0 {
			continue
		}
		ids := tm.pending
		tm.pending = nil
		payloads, err := s.adapter.FindMany(ctx, t, ids)
		if err != nil {
			tm.pending = ids
			errs = append(errs, fmt.Errorf("fetch %s: %w", t.Name(), err))
			continue
		}
		for _, p := range payloads {
			if _, err := s.Load(t, p); err != nil {
				errs = append(errs, err)
			}
		}
		if len(payloads) < len(ids) {
			s.logger().Printf("store: %d of %d %s records not found", len(ids)-len(payloads), len(ids), t.Name())
		}
	}
	return errors.Join(errs...)
}

// All returns the live array of every loaded, non-deleted record of t.
func (s *Store) All(t *model.Type) *model.RecordArray {
	tm := s.typeMap(t)
	if tm.all == nil {
		var content []model.ClientID
		for _, id := range tm.order {
			if r := tm.records[id]; r.IsLoaded() && !r.IsDeleted() {
				content = append(content, id)
			}
		}
		tm.all = model.NewRecordArray(t, content, s.resolver(t))
		tm.arrays = append(tm.arrays, tm.all)
	}
	return tm.all
}

// Filter returns a live array of loaded records matching pred. Membership is
// re-evaluated whenever a record's data changes.
func (s *Store) Filter(t *model.Type, pred func(*model.Record) bool) *model.RecordArray {
	tm := s.typeMap(t)
	var content []model.ClientID
	for _, id := range tm.order {
		if r := tm.records[id]; r.IsLoaded() && !r.IsDeleted() && pred(r) {
			content = append(content, id)
		}
	}
	arr := model.NewRecordArray(t, content, s.resolver(t))
	tm.filters = append(tm.filters, &filtered{array: arr, pred: pred})
	tm.arrays = append(tm.arrays, arr)
	return arr
}

func (s *Store) refreshFilters(t *model.Type, r *model.Record) {
	tm := s.typeMap(t)
	live := r.IsLoaded() && !r.IsDeleted()
	for _, f := range tm.filters {
		if live && f.pred(r) {
			f.array.Append(r.ClientID())
		} else {
			f.array.Remove(r.ClientID())
		}
	}
}

// IDToClientIDMap returns a snapshot of the id index for t.
func (s *Store) IDToClientIDMap(t *model.Type) map[string]model.ClientID {
	tm := s.typeMap(t)
	out := make(map[string]model.ClientID, len(tm.ids))
	for id, cid := range tm.ids {
		out[id] = cid
	}
	return out
}

// HashWasUpdated bumps the record's revision and refreshes filtered arrays.
func (s *Store) HashWasUpdated(t *model.Type, id model.ClientID) {
	tm := s.typeMap(t)
	tm.revisions[id]++
	if r := tm.records[id]; r != nil {
		s.refreshFilters(t, r)
	}
}

// Revision counts data changes reported for a record.
func (s *Store) Revision(r *model.Record) uint64 {
	return s.typeMap(r.Type()).revisions[r.ClientID()]
}

// RemoveFromRecordArrays drops r from every array the store handed out.
func (s *Store) RemoveFromRecordArrays(r *model.Record) {
	for _, arr := range s.typeMap(r.Type()).arrays {
		arr.Remove(r.ClientID())
	}
}

// RecordDidTransition keeps the All and filtered arrays in step with record
// states and forwards the change to the observer.
func (s *Store) RecordDidTransition(r *model.Record, from, to string) {
	t := r.Type()
	tm := s.typeMap(t)
	if tm.all != nil {
		if r.IsLoaded() && !r.IsDeleted() {
			tm.all.Append(r.ClientID())
		} else {
			tm.all.Remove(r.ClientID())
		}
	}
	s.refreshFilters(t, r)
	if s.observer != nil {
		s.observer.RecordTransitioned(t.Name(), from, to)
	}
}

var (
	_ model.Store              = (*Store)(nil)
	_ model.TransitionObserver = (*Store)(nil)
)
