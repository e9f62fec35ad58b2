package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataDir(t *testing.T) {
	require.Equal(t, DefaultDir, DataDir("", ""))
	require.Equal(t, filepath.Join("ws", "data"), DataDir("ws", "data"))
	abs := filepath.Join(t.TempDir(), "elsewhere")
	require.Equal(t, abs, DataDir("ws", abs))
}

func TestOpenCreatesWorkspace(t *testing.T) {
	ws := t.TempDir()
	conn, err := Open(Config{Workspace: ws})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Ping())

	_, err = os.Stat(Path(Config{Workspace: ws}))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(ws, DefaultDir, "lifeline.db"), Path(Config{Workspace: ws}))
}
