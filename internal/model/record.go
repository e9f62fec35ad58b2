package model

import (
	"fmt"
	"maps"

	"github.com/spf13/cast"

	"lifeline/internal/statemachine"
	"lifeline/internal/transform"
)

// Record is one data record driven through the lifecycle tree. Records are
// not safe for concurrent use.
type Record struct {
	typ         *Type
	store       Store
	clientID    ClientID
	transaction Transaction
	machine     *machine
	data        map[string]any

	associations map[string]*RecordArray
	subs         []subscription
	nextSub      int
	changed      bool
	sending      bool
}

type subscription struct {
	id int
	fn func(*Record)
}

// NewRecord creates a record of type t in the empty state. store and tx may
// be nil.
func NewRecord(t *Type, store Store, clientID ClientID, tx Transaction) *Record {
	r := &Record{
		typ:          t,
		store:        store,
		clientID:     clientID,
		transaction:  tx,
		associations: map[string]*RecordArray{},
	}
	r.machine = statemachine.NewMachine(t.states, r)
	if obs, ok := store.(TransitionObserver); ok {
		r.machine.SetObserver(func(from, to string) { obs.RecordDidTransition(r, from, to) })
	}
	if err := r.machine.GoTo(stateEmpty); err != nil {
		panic(fmt.Sprintf("model: enter %s: %v", stateEmpty, err))
	}
	return r
}

func (r *Record) Type() *Type { return r.typ }
func (r *Record) Store() Store { return r.store }
func (r *Record) ClientID() ClientID { return r.clientID }
func (r *Record) PrimaryKey() string { return r.typ.primaryKey }
func (r *Record) Transaction() Transaction { return r.transaction }

// SetTransaction moves the record to tx. A nil tx falls back to the store's
// default transaction. Callers are responsible for moving dirty membership.
func (r *Record) SetTransaction(tx Transaction) { r.transaction = tx }

// WithTransaction runs fn with the record's transaction, or the store's
// default one. Without either, fn is not called.
func (r *Record) WithTransaction(fn func(Transaction)) {
	tx := r.transaction
	if tx == nil && r.store != nil {
		tx = r.store.DefaultTransaction()
	}
	if tx != nil {
		fn(tx)
	}
}

// ID returns the primary key value as a string.
func (r *Record) ID() (string, bool) {
	if r.data == nil {
		return "", false
	}
	return NormalizeID(r.data[r.typ.primaryKey])
}

// NormalizeID converts a primary key value to its string form.
func NormalizeID(v any) (string, bool) {
	if v == nil || isUndefined(v) {
		return "", false
	}
	s, err := cast.ToStringE(v)
	if err != nil || s == "" {
		return "", false
	}
	return s, true
}

// Data returns a shallow copy of the raw data, or nil when not loaded.
func (r *Record) Data() map[string]any {
	if r.data == nil {
		return nil
	}
	return maps.Clone(r.data)
}

func (r *Record) StateName() string { return r.machine.StateName() }

// Handles reports whether the current state reacts to event.
func (r *Record) Handles(event string) bool { return r.machine.Handles(event) }

func (r *Record) IsLoaded() bool { return r.machine.Flag(FlagLoaded) }
func (r *Record) IsDirty() bool { return r.machine.Flag(FlagDirty) }
func (r *Record) IsSaving() bool { return r.machine.Flag(FlagSaving) }
func (r *Record) IsDeleted() bool { return r.machine.Flag(FlagDeleted) }
func (r *Record) IsError() bool { return r.machine.Flag(FlagError) }
func (r *Record) IsNew() bool { return r.machine.Flag(FlagNew) }

// Send dispatches a lifecycle event. Subscribers are notified once the
// handler has returned if it changed the raw data.
func (r *Record) Send(event string, arg any) error {
	if r.sending {
		return r.machine.Send(event, arg)
	}
	r.sending = true
	err := r.machine.Send(event, arg)
	r.sending = false
	if r.changed {
		r.changed = false
		r.notify()
	}
	return err
}

// SetData loads a payload: loadingData, willLoadData, then setData.
func (r *Record) SetData(data map[string]any) error {
	if err := r.Send(EventLoadingData, nil); err != nil {
		return err
	}
	if err := r.Send(EventWillLoadData, nil); err != nil {
		return err
	}
	if data != nil {
		data = maps.Clone(data)
	}
	return r.Send(EventSetData, data)
}

// InitializeNew installs data on an empty record and marks it created.
func (r *Record) InitializeNew(data map[string]any) error {
	if r.data != nil || r.machine.Current().Name() != stateEmpty {
		return &LifecycleError{State: r.StateName(), Event: EventDidCreate, Msg: "record is already initialized"}
	}
	if data == nil {
		data = map[string]any{}
	} else {
		data = maps.Clone(data)
	}
	r.data = data
	r.changed = true
	return r.Send(EventDidCreate, nil)
}

// SetField writes one raw data key through the current state.
func (r *Record) SetField(key string, value any) error {
	if r.data == nil {
		return &LifecycleError{State: r.StateName(), Event: EventSetField, Msg: "cannot set a field before data loaded"}
	}
	return r.Send(EventSetField, fieldChange{Key: key, Value: value})
}

func (r *Record) DeleteRecord() error { return r.Send(EventDelete, nil) }
func (r *Record) RequestCommit() error { return r.Send(EventWillCommit, nil) }
func (r *Record) AdapterDidCreate() error { return r.Send(EventDidCreate, nil) }
func (r *Record) AdapterDidUpdate() error { return r.Send(EventDidUpdate, nil) }
func (r *Record) AdapterDidDelete() error { return r.Send(EventDidDelete, nil) }
func (r *Record) LoadingData() error { return r.Send(EventLoadingData, nil) }
func (r *Record) WillLoadData() error { return r.Send(EventWillLoadData, nil) }
func (r *Record) BecameError() error { return r.Send(EventBecameError, nil) }

// Get reads a declared attribute, falling back to the raw value stored
// under name.
func (r *Record) Get(name string) any {
	if a := r.typ.Attribute(name); a != nil {
		return a.Get(r)
	}
	if r.data == nil {
		return transform.Undefined
	}
	v, ok := r.data[name]
	if !ok {
		return transform.Undefined
	}
	return v
}

// Set writes a declared attribute, falling back to a raw field named name.
func (r *Record) Set(name string, value any) error {
	if a := r.typ.Attribute(name); a != nil {
		return a.Set(r, value)
	}
	return r.SetField(name, value)
}

// HasMany returns the live array behind the named association.
func (r *Record) HasMany(name string) (*RecordArray, error) {
	h := r.typ.HasMany(name)
	if h == nil {
		return nil, fmt.Errorf("%s has no association %q", r.typ.name, name)
	}
	return h.Get(r)
}

// Subscribe registers fn to run after the raw data is replaced or a field
// changes. The returned func cancels the subscription.
func (r *Record) Subscribe(fn func(*Record)) (cancel func()) {
	r.nextSub++
	id := r.nextSub
	r.subs = append(r.subs, subscription{id: id, fn: fn})
	return func() {
		for i, s := range r.subs {
			if s.id == id {
				r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
				return
			}
		}
	}
}

func (r *Record) notify() {
	subs := append([]subscription(nil), r.subs...)
	for _, s := range subs {
		s.fn(r)
	}
}

func (r *Record) hashWasUpdated() {
	if r.store != nil {
		r.store.HashWasUpdated(r.typ, r.clientID)
	}
}

func (r *Record) String() string {
	if id, ok := r.ID(); ok {
		return fmt.Sprintf("%s:%s", r.typ.name, id)
	}
	return fmt.Sprintf("%s#%d", r.typ.name, r.clientID)
}

func isUndefined(v any) bool { return transform.IsUndefined(v) }
