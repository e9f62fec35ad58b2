package sqlite

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lifeline/internal/adapter"
	"lifeline/internal/adapter/adaptertest"
	"lifeline/internal/db"
	"lifeline/internal/migrate"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := Open(context.Background(), db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAdapterContract(t *testing.T) {
	adaptertest.Run(t, func(t *testing.T) adapter.Adapter { return newTestAdapter(t) })
}

func TestOpenMigratesWorkspace(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	cfg := db.Config{Workspace: ws}
	a, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	_, err = os.Stat(db.Path(cfg))
	require.NoError(t, err)

	v, err := migrate.Version(ctx, a.DB)
	require.NoError(t, err)
	latest, err := migrate.Latest()
	require.NoError(t, err)
	require.Equal(t, latest, v)

	// migrating twice is a no-op
	require.NoError(t, migrate.Migrate(ctx, a.DB))
}

func TestRecordsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	cfg := db.Config{Workspace: t.TempDir()}
	_, person := adaptertest.Types(t)

	a, err := Open(ctx, cfg)
	require.NoError(t, err)
	saved, err := a.CreateRecord(ctx, person, map[string]any{"name": "Ada"})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer b.Close()
	id := saved["id"].(string)
	got, err := b.Find(ctx, person, id)
	require.NoError(t, err)
	require.Equal(t, "Ada", got["name"])

	counts, err := b.CountByType(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"person": 1}, counts)
}

func TestJournalTimestampsUseClock(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	fixed := time.Date(2024, time.February, 3, 4, 5, 6, 0, time.UTC)
	a.Events.Now = func() time.Time { return fixed }
	_, person := adaptertest.Types(t)

	_, err := a.CreateRecord(ctx, person, map[string]any{"id": "p1"})
	require.NoError(t, err)
	events, err := a.LatestEvents(ctx, adapter.EventFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "2024-02-03T04:05:06Z", events[0].TS)
	require.Equal(t, "person", events[0].EntityKind)
	require.Equal(t, "p1", events[0].EntityID)
}
