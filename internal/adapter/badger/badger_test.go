package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"lifeline/internal/adapter"
	"lifeline/internal/adapter/adaptertest"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := Open(Config{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAdapterContract(t *testing.T) {
	adaptertest.Run(t, func(t *testing.T) adapter.Adapter { return newTestAdapter(t) })
}

func TestInMemory(t *testing.T) {
	a, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	defer a.Close()
	_, person := adaptertest.Types(t)

	_, err = a.CreateRecord(context.Background(), person, map[string]any{"id": "p1"})
	require.NoError(t, err)
	got, err := a.Find(context.Background(), person, "p1")
	require.NoError(t, err)
	require.Equal(t, "p1", got["id"])
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

func TestJournalSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	_, person := adaptertest.Types(t)

	a, err := Open(Config{Path: dir})
	require.NoError(t, err)
	_, err = a.CreateRecord(ctx, person, map[string]any{"id": "p1"})
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	b, err := Open(Config{Path: dir})
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.DeleteRecord(ctx, person, "p1"))

	events, err := b.LatestEvents(ctx, adapter.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Greater(t, events[0].ID, events[1].ID)

	_, err = a.Find(ctx, person, "p1")
	require.Error(t, err)
}
