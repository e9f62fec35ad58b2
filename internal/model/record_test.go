package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lifeline/internal/statemachine"
	"lifeline/internal/transform"
)

func flagsOf(r *Record) map[string]bool {
	return map[string]bool{
		FlagLoaded:  r.IsLoaded(),
		FlagDirty:   r.IsDirty(),
		FlagSaving:  r.IsSaving(),
		FlagDeleted: r.IsDeleted(),
		FlagError:   r.IsError(),
		FlagNew:     r.IsNew(),
	}
}

func onlyFlags(set ...string) map[string]bool {
	out := map[string]bool{}
	for _, f := range Flags {
		out[f] = false
	}
	for _, f := range set {
		out[f] = true
	}
	return out
}

func TestNewRecordStartsEmptyWithAllFlagsFalse(t *testing.T) {
	s := newFakeStore()
	typ := newPersonType(t, NewRegistry())
	r := s.newRecord(typ)

	require.Equal(t, "empty", r.StateName())
	require.Equal(t, onlyFlags(), flagsOf(r))
	require.Nil(t, r.Data())
	require.Equal(t, "id", r.PrimaryKey())
	_, ok := r.ID()
	require.False(t, ok)
}

func TestSetDataLoadsEmptyRecord(t *testing.T) {
	s := newFakeStore()
	var loaded []string
	typ := newPersonType(t, NewRegistry(), WithHooks(Hooks{
		DidLoad: func(r *Record) { loaded = append(loaded, r.StateName()) },
	}))
	r := s.newRecord(typ)

	born := time.Date(1990, time.May, 1, 12, 0, 0, 0, time.UTC)
	err := r.SetData(map[string]any{
		"id":      float64(1),
		"name":    "Ada",
		"age":     "36",
		"active":  1,
		"born_at": born.Format(transform.HTTPDate),
	})
	require.NoError(t, err)

	require.Equal(t, "loaded", r.StateName())
	require.Equal(t, onlyFlags(FlagLoaded), flagsOf(r))
	require.Equal(t, []string{"loading"}, loaded)

	id, ok := r.ID()
	require.True(t, ok)
	require.Equal(t, "1", id)
	require.Equal(t, "Ada", r.Get("name"))
	require.Equal(t, float64(36), r.Get("age"))
	require.Equal(t, true, r.Get("active"))
	got, ok := r.Get("bornAt").(time.Time)
	require.True(t, ok)
	require.True(t, born.Equal(got))
	require.Empty(t, s.tx.calls)

	require.Contains(t, s.transitions, "1:empty->loading")
	require.Contains(t, s.transitions, "1:loading->loaded")
}

func TestSetDataWithNilPayloadStaysLoading(t *testing.T) {
	s := newFakeStore()
	r := s.newRecord(newPersonType(t, NewRegistry()))
	require.NoError(t, r.SetData(nil))
	require.Equal(t, "loading", r.StateName())
	require.False(t, r.IsLoaded())
}

func TestSetFieldBeforeDataIsLifecycleError(t *testing.T) {
	s := newFakeStore()
	typ := newPersonType(t, NewRegistry())

	empty := s.newRecord(typ)
	err := empty.SetField("name", "x")
	require.ErrorIs(t, err, ErrLifecycle)
	var lerr *LifecycleError
	require.True(t, errors.As(err, &lerr))
	require.Equal(t, "empty", lerr.State)
	require.Contains(t, lerr.Error(), "cannot set a field before data loaded")

	loading := s.newRecord(typ)
	require.NoError(t, loading.LoadingData())
	require.ErrorIs(t, loading.SetField("name", "x"), ErrLifecycle)
	require.ErrorIs(t, loading.Set("name", "x"), ErrLifecycle)
	require.Empty(t, s.tx.calls)
}

func TestSetFieldFromLoadedBecomesUpdated(t *testing.T) {
	s := newFakeStore()
	var updated int
	typ := newPersonType(t, NewRegistry(), WithHooks(Hooks{DidUpdate: func(*Record) { updated++ }}))
	r := loadedRecord(t, s, typ, map[string]any{"id": "1", "name": "Ada"})

	require.NoError(t, r.Set("name", "Grace"))
	require.Equal(t, "loaded.updated", r.StateName())
	require.Equal(t, onlyFlags(FlagLoaded, FlagDirty), flagsOf(r))
	require.Equal(t, "Grace", r.Get("name"))
	require.Equal(t, []notification{{Dirty: true, Kind: DirtyUpdated, State: "loaded.updated"}}, s.tx.calls)
	require.Contains(t, s.hashUpdates, r.ClientID())

	// further edits stay in updated without notifying again
	require.NoError(t, r.Set("age", 40))
	require.Len(t, s.tx.calls, 1)

	require.NoError(t, r.RequestCommit())
	require.Equal(t, "loaded.updated.saving", r.StateName())
	require.True(t, r.IsSaving())

	require.NoError(t, r.AdapterDidUpdate())
	require.Equal(t, "loaded", r.StateName())
	require.False(t, r.IsDirty())
	require.Equal(t, 1, updated)
	require.Equal(t, []notification{
		{Dirty: true, Kind: DirtyUpdated, State: "loaded.updated"},
		{Dirty: false, Kind: DirtyUpdated, State: "loaded.updated"},
	}, s.tx.calls)
}

func TestNewRecordPath(t *testing.T) {
	s := newFakeStore()
	var created int
	typ := newPersonType(t, NewRegistry(), WithHooks(Hooks{DidCreate: func(*Record) { created++ }}))
	r := s.newRecord(typ)

	require.NoError(t, r.InitializeNew(map[string]any{"name": "Ada"}))
	require.Equal(t, "loaded.created", r.StateName())
	require.Equal(t, onlyFlags(FlagLoaded, FlagNew, FlagDirty), flagsOf(r))
	require.Equal(t, []notification{{Dirty: true, Kind: DirtyCreated, State: "loaded.created"}}, s.tx.calls)

	// edits to an unsaved record keep it created
	require.NoError(t, r.Set("name", "Grace"))
	require.Equal(t, "loaded.created", r.StateName())
	require.Len(t, s.tx.calls, 1)

	require.NoError(t, r.RequestCommit())
	require.Equal(t, "loaded.created.saving", r.StateName())
	require.Equal(t, onlyFlags(FlagLoaded, FlagNew, FlagDirty, FlagSaving), flagsOf(r))

	require.NoError(t, r.AdapterDidCreate())
	require.Equal(t, "loaded", r.StateName())
	require.Equal(t, onlyFlags(FlagLoaded), flagsOf(r))
	require.Equal(t, 1, created)
	require.Equal(t, notification{Dirty: false, Kind: DirtyCreated, State: "loaded.created"}, s.tx.calls[1])

	require.ErrorIs(t, r.InitializeNew(nil), ErrLifecycle)
}

func TestDeletePath(t *testing.T) {
	s := newFakeStore()
	r := loadedRecord(t, s, newPersonType(t, NewRegistry()), map[string]any{"id": "1"})

	require.NoError(t, r.DeleteRecord())
	require.Equal(t, "deleted", r.StateName())
	require.Equal(t, onlyFlags(FlagDeleted, FlagLoaded, FlagDirty), flagsOf(r))
	require.Equal(t, []ClientID{r.ClientID()}, s.removed)
	require.Equal(t, []notification{{Dirty: true, Kind: DirtyDeleted, State: "deleted"}}, s.tx.calls)

	require.NoError(t, r.RequestCommit())
	require.Equal(t, "deleted.saving", r.StateName())
	require.True(t, r.IsSaving())

	require.NoError(t, r.AdapterDidDelete())
	require.Equal(t, "deleted.saved", r.StateName())
	require.Equal(t, onlyFlags(FlagDeleted, FlagLoaded), flagsOf(r))
	require.Len(t, s.tx.calls, 2)
	require.Equal(t, notification{Dirty: false, Kind: DirtyDeleted, State: "deleted.saving"}, s.tx.calls[1])
}

func TestDeleteOutsideLoadedIsIgnored(t *testing.T) {
	s := newFakeStore()
	r := s.newRecord(newPersonType(t, NewRegistry()))
	require.NoError(t, r.DeleteRecord())
	require.Equal(t, "empty", r.StateName())
	require.Empty(t, s.removed)
}

func TestWillLoadData(t *testing.T) {
	s := newFakeStore()
	typ := newPersonType(t, NewRegistry())

	empty := s.newRecord(typ)
	err := empty.WillLoadData()
	require.ErrorIs(t, err, ErrLifecycle)
	require.Equal(t, "empty", empty.StateName())

	r := loadedRecord(t, s, typ, map[string]any{"id": "1"})
	require.NoError(t, r.WillLoadData())
	require.Equal(t, "loaded", r.StateName())

	require.NoError(t, r.SetField("name", "x"))
	require.ErrorIs(t, r.WillLoadData(), ErrLifecycle)
	require.ErrorIs(t, r.SetData(map[string]any{"id": "1"}), ErrLifecycle)
	require.Equal(t, "loaded.updated", r.StateName())
}

func TestSetDataRefreshesLoadedRecord(t *testing.T) {
	s := newFakeStore()
	r := loadedRecord(t, s, newPersonType(t, NewRegistry()), map[string]any{"id": "1", "name": "Ada"})

	require.NoError(t, r.SetData(map[string]any{"id": "1", "name": "Grace"}))
	require.Equal(t, "loaded", r.StateName())
	require.Equal(t, "Grace", r.Get("name"))
	require.Empty(t, s.tx.calls)

	require.ErrorIs(t, r.SetData(nil), ErrLifecycle)
}

func TestEditsWhileSavingAreInert(t *testing.T) {
	s := newFakeStore()
	r := loadedRecord(t, s, newPersonType(t, NewRegistry()), map[string]any{"id": "1", "name": "Ada"})
	require.NoError(t, r.Set("name", "Grace"))
	require.NoError(t, r.RequestCommit())

	require.NoError(t, r.Set("name", "Hopper"))
	require.Equal(t, "loaded.updated.saving", r.StateName())
	require.Equal(t, "Grace", r.Get("name"))
}

func TestBecameErrorFromSaving(t *testing.T) {
	s := newFakeStore()
	r := loadedRecord(t, s, newPersonType(t, NewRegistry()), map[string]any{"id": "1"})
	require.NoError(t, r.SetField("name", "x"))
	require.NoError(t, r.RequestCommit())

	require.NoError(t, r.BecameError())
	require.Equal(t, "error", r.StateName())
	require.Equal(t, onlyFlags(FlagError), flagsOf(r))
	require.Equal(t, notification{Dirty: false, Kind: DirtyUpdated, State: "loaded.updated"}, s.tx.calls[len(s.tx.calls)-1])

	empty := s.newRecord(r.Type())
	require.NoError(t, empty.BecameError())
	require.Equal(t, "empty", empty.StateName())
}

func TestBecameErrorSkipsPersistenceHooks(t *testing.T) {
	s := newFakeStore()
	var created, updated int
	typ := newPersonType(t, NewRegistry(), WithHooks(Hooks{
		DidCreate: func(*Record) { created++ },
		DidUpdate: func(*Record) { updated++ },
	}))

	fresh := s.newRecord(typ)
	require.NoError(t, fresh.InitializeNew(map[string]any{"name": "Ada"}))
	require.NoError(t, fresh.RequestCommit())
	require.NoError(t, fresh.BecameError())
	require.Equal(t, "error", fresh.StateName())

	known := loadedRecord(t, s, typ, map[string]any{"id": "1"})
	require.NoError(t, known.Set("name", "Grace"))
	require.NoError(t, known.RequestCommit())
	require.NoError(t, known.BecameError())
	require.Equal(t, "error", known.StateName())

	require.Zero(t, created)
	require.Zero(t, updated)
	require.Equal(t, notification{Dirty: false, Kind: DirtyCreated, State: "loaded.created"}, s.tx.calls[1])
}

func TestBecameErrorReleasesPendingDelete(t *testing.T) {
	s := newFakeStore()
	r := loadedRecord(t, s, newPersonType(t, NewRegistry()), map[string]any{"id": "1"})
	require.NoError(t, r.DeleteRecord())

	require.NoError(t, r.BecameError())
	require.Equal(t, "error", r.StateName())
	require.Equal(t, []notification{
		{Dirty: true, Kind: DirtyDeleted, State: "deleted"},
		{Dirty: false, Kind: DirtyDeleted, State: "deleted"},
	}, s.tx.calls)

	saved := loadedRecord(t, s, r.Type(), map[string]any{"id": "2"})
	s.tx.reset()
	require.NoError(t, saved.DeleteRecord())
	require.NoError(t, saved.RequestCommit())
	require.NoError(t, saved.AdapterDidDelete())
	require.NoError(t, saved.BecameError())
	require.Equal(t, "error", saved.StateName())
	require.Len(t, s.tx.calls, 2)
}

func TestUnknownPropertyFallsBackToRawData(t *testing.T) {
	s := newFakeStore()
	typ := newPersonType(t, NewRegistry())

	empty := s.newRecord(typ)
	require.True(t, transform.IsUndefined(empty.Get("nickname")))
	require.True(t, transform.IsUndefined(empty.Get("name")))

	r := loadedRecord(t, s, typ, map[string]any{"id": "1", "nickname": "ada"})
	require.Equal(t, "ada", r.Get("nickname"))
	require.True(t, transform.IsUndefined(r.Get("missing")))

	require.NoError(t, r.Set("nickname", "countess"))
	require.Equal(t, "countess", r.Get("nickname"))
	require.True(t, r.IsDirty())
}

func TestDataIsACopy(t *testing.T) {
	s := newFakeStore()
	payload := map[string]any{"id": "1", "name": "Ada"}
	r := loadedRecord(t, s, newPersonType(t, NewRegistry()), payload)

	payload["name"] = "mutated"
	require.Equal(t, "Ada", r.Get("name"))

	d := r.Data()
	d["name"] = "mutated"
	require.Equal(t, "Ada", r.Get("name"))
	require.False(t, r.IsDirty())
}

func TestSubscribersRunAfterChanges(t *testing.T) {
	s := newFakeStore()
	r := loadedRecord(t, s, newPersonType(t, NewRegistry()), map[string]any{"id": "1"})

	var states []string
	cancel := r.Subscribe(func(rec *Record) { states = append(states, rec.StateName()) })
	require.NoError(t, r.Set("name", "x"))
	require.Equal(t, []string{"loaded.updated"}, states)

	cancel()
	require.NoError(t, r.Set("name", "y"))
	require.Len(t, states, 1)
}

func TestSubscriberMaySendEvents(t *testing.T) {
	s := newFakeStore()
	r := loadedRecord(t, s, newPersonType(t, NewRegistry()), map[string]any{"id": "1"})
	var inner error
	r.Subscribe(func(rec *Record) {
		if rec.IsDirty() && !rec.IsSaving() {
			inner = rec.RequestCommit()
		}
	})
	require.NoError(t, r.Set("name", "x"))
	require.NoError(t, inner)
	require.Equal(t, "loaded.updated.saving", r.StateName())
}

func TestHandlersCannotSendNestedEvents(t *testing.T) {
	s := newFakeStore()
	var nested error
	typ := newPersonType(t, NewRegistry(), WithHooks(Hooks{
		DidLoad: func(r *Record) { nested = r.DeleteRecord() },
	}))
	r := s.newRecord(typ)
	require.NoError(t, r.SetData(map[string]any{"id": "1"}))
	require.ErrorIs(t, nested, statemachine.ErrReentrantDispatch)
	require.Equal(t, "loaded", r.StateName())
}

func TestWithTransactionPrefersOwnTransaction(t *testing.T) {
	s := newFakeStore()
	typ := newPersonType(t, NewRegistry())
	own := &recordingTx{}
	r := NewRecord(typ, s, 99, own)
	require.NoError(t, r.InitializeNew(nil))
	require.Len(t, own.calls, 1)
	require.Empty(t, s.tx.calls)

	orphan := NewRecord(typ, nil, 100, nil)
	require.NoError(t, orphan.InitializeNew(nil))
	require.Equal(t, "loaded.created", orphan.StateName())
}

func TestLifecycleTreeIsShared(t *testing.T) {
	reg := NewRegistry()
	a := newPersonType(t, reg)
	b, err := reg.Define("tag", Attr("label", "string"))
	require.NoError(t, err)
	require.Same(t, a.states, b.states)
	require.Same(t, Lifecycle(), a.states)
}
