package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	defaultDBName = "lifeline.db"
	// DefaultDir is the data directory created inside a workspace.
	DefaultDir = ".lifeline"
)

type Config struct {
	Workspace string
	// Dir overrides DefaultDir. Relative paths are resolved against Workspace.
	Dir string
}

// DataDir returns the directory holding lifeline's data files.
func DataDir(workspace, dir string) string {
	if workspace == "" {
		workspace = "."
	}
	if dir == "" {
		dir = DefaultDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(workspace, dir)
}

// EnsureWorkspace creates the data directory if missing.
func EnsureWorkspace(workspace, dir string) (string, error) {
	path := DataDir(workspace, dir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the SQLite database with foreign keys on.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace, cfg.Dir); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", Path(cfg))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Path returns the db path for the workspace.
func Path(cfg Config) string {
	return filepath.Join(DataDir(cfg.Workspace, cfg.Dir), defaultDBName)
}
