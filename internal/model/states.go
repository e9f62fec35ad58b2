package model

import (
	"fmt"

	"lifeline/internal/statemachine"
)

// Flags derived from a record's current state.
const (
	FlagLoaded  = "isLoaded"
	FlagDirty   = "isDirty"
	FlagSaving  = "isSaving"
	FlagDeleted = "isDeleted"
	FlagError   = "isError"
	FlagNew     = "isNew"
)

// Flags lists the six lifecycle flags.
var Flags = []string{FlagLoaded, FlagDirty, FlagSaving, FlagDeleted, FlagError, FlagNew}

// Lifecycle events.
const (
	EventLoadingData  = "loadingData"
	EventWillLoadData = "willLoadData"
	EventSetData      = "setData"
	EventSetField     = "setField"
	EventDelete       = "delete"
	EventWillCommit   = "willCommit"
	EventDidCreate    = "didCreate"
	EventDidUpdate    = "didUpdate"
	EventDidDelete    = "didDelete"
	EventBecameError  = "becameError"
)

const stateEmpty = "empty"

type (
	machine = statemachine.Machine[*Record]
	state   = statemachine.State[*Record]
	option  = statemachine.Option[*Record]
	handler = statemachine.Handler[*Record]
)

// fieldChange is the setField payload.
type fieldChange struct {
	Key   string
	Value any
}

var lifecycle = mustLifecycle()

// Lifecycle returns the state tree shared by every record.
func Lifecycle() *statemachine.Tree[*Record] { return lifecycle }

func mustLifecycle() *statemachine.Tree[*Record] {
	tree, err := statemachine.NewTree(newLifecycleRoot(), Flags...)
	if err != nil {
		panic(fmt.Sprintf("model: lifecycle tree: %v", err))
	}
	return tree
}

func newState(name string, opts ...option) *state { return statemachine.NewState(name, opts...) }
func flag(name string, v bool) option { return statemachine.Flag[*Record](name, v) }
func on(event string, h handler) option { return statemachine.On(event, h) }
func children(c ...*state) option { return statemachine.Children(c...) }

func onEnter(fn func(r *Record) error) option {
	return statemachine.OnEnter(func(m *machine) error { return fn(m.Owner()) })
}

func onExit(fn func(r *Record) error) option {
	return statemachine.OnExit(func(m *machine) error { return fn(m.Owner()) })
}

func goTo(target string) handler {
	return func(m *machine, _ any) error { return m.GoTo(target) }
}

func ignore(*machine, any) error { return nil }

func refuse(event, msg string) handler {
	return func(m *machine, _ any) error {
		return &LifecycleError{State: m.StateName(), Event: event, Msg: msg}
	}
}

var cannotLoadData = refuse(EventWillLoadData, "cannot load data in current state")

func becameDirty(kind DirtyKind) func(*Record) error {
	return func(r *Record) error {
		r.WithTransaction(func(tx Transaction) { tx.RecordBecameDirty(kind, r) })
		return nil
	}
}

func becameClean(kind DirtyKind) func(*Record) error {
	return func(r *Record) error {
		r.WithTransaction(func(tx Transaction) { tx.RecordBecameClean(kind, r) })
		return nil
	}
}

// persisted acknowledges a successful adapter write: it leaves for target and
// then runs the type hook, so failed saves never reach the hook.
func persisted(target string, hook func(Hooks) func(*Record)) handler {
	return func(m *machine, _ any) error {
		if err := m.GoTo(target); err != nil {
			return err
		}
		r := m.Owner()
		if fn := hook(r.typ.hooks); fn != nil {
			fn(r)
		}
		return nil
	}
}

func didCreateHook(h Hooks) func(*Record) { return h.DidCreate }
func didUpdateHook(h Hooks) func(*Record) { return h.DidUpdate }

// deletedBecameError releases a deletion that was still waiting for a commit.
// Once saving, the saving exit sends the clean notification itself.
func deletedBecameError(m *machine, _ any) error {
	r := m.Owner()
	if r.IsDirty() && !r.IsSaving() {
		if err := becameClean(DirtyDeleted)(r); err != nil {
			return err
		}
	}
	return m.GoTo("error")
}

// loadData installs the payload of a record that is still loading.
func loadData(m *machine, arg any) error {
	r := m.Owner()
	data, _ := arg.(map[string]any)
	r.data = data
	r.changed = true
	if data == nil {
		return nil
	}
	return m.GoTo("loaded")
}

// refreshData replaces the payload of a loaded record, e.g. after a save.
func refreshData(m *machine, arg any) error {
	data, _ := arg.(map[string]any)
	if data == nil {
		return &LifecycleError{State: m.StateName(), Event: EventSetData, Msg: "cannot unload data of a loaded record"}
	}
	r := m.Owner()
	r.data = data
	r.changed = true
	r.hashWasUpdated()
	return nil
}

// writeField stores a field change and then moves to target, if any.
func writeField(target string) handler {
	return func(m *machine, arg any) error {
		c, ok := arg.(fieldChange)
		if !ok {
			return fmt.Errorf("setField: unexpected payload %T", arg)
		}
		r := m.Owner()
		if isUndefined(c.Value) {
			delete(r.data, c.Key)
		} else {
			r.data[c.Key] = c.Value
		}
		r.changed = true
		r.hashWasUpdated()
		if target == "" {
			return nil
		}
		return m.GoTo(target)
	}
}

func newLifecycleRoot() *state {
	saving := func(opts ...option) *state {
		return newState("saving", append([]option{flag(FlagSaving, true), on(EventSetField, ignore)}, opts...)...)
	}

	return newState("root",
		flag(FlagLoaded, false),
		flag(FlagDirty, false),
		flag(FlagSaving, false),
		flag(FlagDeleted, false),
		flag(FlagError, false),
		flag(FlagNew, false),
		on(EventWillLoadData, cannotLoadData),
		on(EventDidCreate, goTo("loaded.created")),
		children(
			newState(stateEmpty,
				on(EventLoadingData, goTo("loading")),
			),
			newState("loading",
				on(EventWillLoadData, ignore),
				on(EventSetData, loadData),
				onExit(func(r *Record) error {
					if fn := r.typ.hooks.DidLoad; fn != nil {
						fn(r)
					}
					return nil
				}),
			),
			newState("loaded",
				flag(FlagLoaded, true),
				on(EventWillLoadData, ignore),
				on(EventSetData, refreshData),
				on(EventSetField, writeField("updated")),
				on(EventDelete, goTo("deleted")),
				on(EventBecameError, goTo("error")),
				children(
					newState("created",
						flag(FlagNew, true),
						flag(FlagDirty, true),
						onEnter(becameDirty(DirtyCreated)),
						onExit(becameClean(DirtyCreated)),
						on(EventSetField, writeField("")),
						on(EventWillCommit, goTo("saving")),
						children(
							saving(
								on(EventDidCreate, persisted("loaded", didCreateHook)),
								on(EventDidUpdate, persisted("loaded", didCreateHook)),
							),
						),
					),
					newState("updated",
						flag(FlagDirty, true),
						on(EventWillLoadData, cannotLoadData),
						onEnter(becameDirty(DirtyUpdated)),
						onExit(becameClean(DirtyUpdated)),
						on(EventWillCommit, goTo("saving")),
						children(
							saving(
								on(EventDidUpdate, persisted("loaded", didUpdateHook)),
							),
						),
					),
				),
			),
			newState("deleted",
				flag(FlagDeleted, true),
				flag(FlagLoaded, true),
				flag(FlagDirty, true),
				on(EventWillLoadData, cannotLoadData),
				on(EventBecameError, deletedBecameError),
				onEnter(func(r *Record) error {
					if r.store != nil {
						r.store.RemoveFromRecordArrays(r)
					}
					return becameDirty(DirtyDeleted)(r)
				}),
				on(EventWillCommit, goTo("saving")),
				children(
					newState("saving",
						flag(FlagSaving, true),
						on(EventDidDelete, goTo("saved")),
						onExit(becameClean(DirtyDeleted)),
					),
					newState("saved",
						flag(FlagDirty, false),
					),
				),
			),
			newState("error",
				flag(FlagError, true),
			),
		),
	)
}
