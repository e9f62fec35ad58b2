package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"lifeline/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	v, err := Version(ctx, conn)
	require.NoError(t, err)
	require.Zero(t, v)

	latest, err := Latest()
	require.NoError(t, err)
	require.Equal(t, 2, latest)

	require.NoError(t, Migrate(ctx, conn))
	require.NoError(t, Migrate(ctx, conn))
	v, err = Version(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, latest, v)

	var n int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version`).Scan(&n))
	require.Equal(t, 1, n)
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE name='idx_events_type'`).Scan(&n))
	require.Equal(t, 1, n)
}
