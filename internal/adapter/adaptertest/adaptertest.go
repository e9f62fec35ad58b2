// Package adaptertest holds the behavioural suite every adapter must pass.
package adaptertest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"lifeline/internal/adapter"
	"lifeline/internal/domain"
	"lifeline/internal/model"
)

// Types returns a registry with a "person" type used by the suite.
func Types(t *testing.T) (*model.Registry, *model.Type) {
	t.Helper()
	reg := model.NewRegistry()
	person, err := reg.Define("person",
		model.Attr("name", "string"),
		model.Attr("age", "integer"),
	)
	require.NoError(t, err)
	return reg, person
}

// Run exercises a fresh adapter from newAdapter against the Adapter contract.
func Run(t *testing.T, newAdapter func(t *testing.T) adapter.Adapter) {
	t.Run("CreateAssignsID", func(t *testing.T) {
		ctx := context.Background()
		a := newAdapter(t)
		_, person := Types(t)

		saved, err := a.CreateRecord(ctx, person, map[string]any{"name": "Ada", "age": 36})
		require.NoError(t, err)
		id, ok := model.NormalizeID(saved["id"])
		require.True(t, ok)
		require.NotEmpty(t, id)
		require.Equal(t, "Ada", saved["name"])
		require.Equal(t, float64(36), saved["age"])

		got, err := a.Find(ctx, person, id)
		require.NoError(t, err)
		require.Equal(t, saved, got)
	})

	t.Run("CreateKeepsExplicitID", func(t *testing.T) {
		ctx := context.Background()
		a := newAdapter(t)
		_, person := Types(t)

		saved, err := a.CreateRecord(ctx, person, map[string]any{"id": "p1", "name": "Ada"})
		require.NoError(t, err)
		require.Equal(t, "p1", saved["id"])

		_, err = a.CreateRecord(ctx, person, map[string]any{"id": "p1"})
		require.ErrorIs(t, err, adapter.ErrDuplicate)
	})

	t.Run("UpdateAndDelete", func(t *testing.T) {
		ctx := context.Background()
		a := newAdapter(t)
		_, person := Types(t)

		_, err := a.CreateRecord(ctx, person, map[string]any{"id": "p1", "name": "Ada"})
		require.NoError(t, err)

		require.NoError(t, a.UpdateRecord(ctx, person, "p1", map[string]any{"id": "p1", "name": "Grace"}))
		got, err := a.Find(ctx, person, "p1")
		require.NoError(t, err)
		require.Equal(t, "Grace", got["name"])

		require.NoError(t, a.DeleteRecord(ctx, person, "p1"))
		_, err = a.Find(ctx, person, "p1")
		require.ErrorIs(t, err, adapter.ErrNotFound)

		require.ErrorIs(t, a.UpdateRecord(ctx, person, "p1", map[string]any{}), adapter.ErrNotFound)
		require.ErrorIs(t, a.DeleteRecord(ctx, person, "p1"), adapter.ErrNotFound)
	})

	t.Run("FindManySkipsMissing", func(t *testing.T) {
		ctx := context.Background()
		a := newAdapter(t)
		_, person := Types(t)

		for _, id := range []string{"a", "b", "c"} {
			_, err := a.CreateRecord(ctx, person, map[string]any{"id": id})
			require.NoError(t, err)
		}
		got, err := a.FindMany(ctx, person, []string{"c", "missing", "a"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Equal(t, "c", got[0]["id"])
		require.Equal(t, "a", got[1]["id"])

		all, err := a.FindAll(ctx, person)
		require.NoError(t, err)
		require.Len(t, all, 3)
	})

	t.Run("TypesAreSeparate", func(t *testing.T) {
		ctx := context.Background()
		a := newAdapter(t)
		reg, person := Types(t)
		tag, err := reg.Define("tag")
		require.NoError(t, err)

		_, err = a.CreateRecord(ctx, person, map[string]any{"id": "x"})
		require.NoError(t, err)
		_, err = a.Find(ctx, tag, "x")
		require.ErrorIs(t, err, adapter.ErrNotFound)
		all, err := a.FindAll(ctx, tag)
		require.NoError(t, err)
		require.Empty(t, all)
	})

	t.Run("Journal", func(t *testing.T) {
		ctx := context.Background()
		a := newAdapter(t)
		j, ok := a.(adapter.Journal)
		if !ok {
			t.Skip("adapter keeps no journal")
		}
		_, person := Types(t)

		_, err := a.CreateRecord(ctx, person, map[string]any{"id": "p1"})
		require.NoError(t, err)
		require.NoError(t, a.UpdateRecord(ctx, person, "p1", map[string]any{"id": "p1", "name": "x"}))
		_, err = a.CreateRecord(ctx, person, map[string]any{"id": "p2"})
		require.NoError(t, err)
		require.NoError(t, a.DeleteRecord(ctx, person, "p1"))

		events, err := j.LatestEvents(ctx, adapter.EventFilter{Limit: 10})
		require.NoError(t, err)
		require.Len(t, events, 4)
		require.Equal(t, domain.EventRecordDeleted, events[0].Type)
		require.Equal(t, domain.EventRecordCreated, events[3].Type)
		require.Greater(t, events[0].ID, events[1].ID)

		forP1, err := j.LatestEvents(ctx, adapter.EventFilter{Limit: 10, EntityKind: "person", EntityID: "p1"})
		require.NoError(t, err)
		require.Len(t, forP1, 3)

		updates, err := j.LatestEvents(ctx, adapter.EventFilter{Type: domain.EventRecordUpdated})
		require.NoError(t, err)
		require.Len(t, updates, 1)
		require.Contains(t, updates[0].Payload, `"name":"x"`)

		limited, err := j.LatestEvents(ctx, adapter.EventFilter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, limited, 1)
	})
}
