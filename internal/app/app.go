// Package app wires config, adapter, store and metrics into a session.
package app

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"lifeline/internal/adapter"
	"lifeline/internal/adapter/badger"
	"lifeline/internal/adapter/memory"
	"lifeline/internal/adapter/sqlite"
	"lifeline/internal/config"
	"lifeline/internal/db"
	"lifeline/internal/metrics"
	"lifeline/internal/model"
	"lifeline/internal/store"
)

// Session holds everything a command needs to work on one workspace.
type Session struct {
	Workspace string
	Config    *config.Config
	Registry  *model.Registry
	Adapter   adapter.Adapter
	Store     *store.Store
	Metrics   *metrics.Collector
}

// BuildRegistry declares every configured type. Types, attributes and
// associations are added in name order.
func BuildRegistry(cfg *config.Config) (*model.Registry, error) {
	reg := model.NewRegistry()
	for _, name := range cfg.TypeNames() {
		tc := cfg.Types[name]
		var opts []model.TypeOption
		if tc.PrimaryKey != "" {
			opts = append(opts, model.PrimaryKey(tc.PrimaryKey))
		}
		for _, attr := range tc.AttributeNames() {
			ac := tc.Attributes[attr]
			var fo []model.FieldOption
			if ac.Key != "" {
				fo = append(fo, model.Key(ac.Key))
			}
			opts = append(opts, model.Attr(attr, ac.Type, fo...))
		}
		for _, assoc := range tc.AssociationNames() {
			hc := tc.HasMany[assoc]
			var fo []model.FieldOption
			if hc.Key != "" {
				fo = append(fo, model.Key(hc.Key))
			}
			if hc.Embedded {
				fo = append(fo, model.Embedded())
			}
			opts = append(opts, model.HasManyOf(assoc, hc.Type, fo...))
		}
		if _, err := reg.Define(name, opts...); err != nil {
			return nil, fmt.Errorf("type %s: %w", name, err)
		}
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

// OpenAdapter opens the adapter named by cfg.Store.Adapter inside workspace.
func OpenAdapter(ctx context.Context, workspace string, cfg *config.Config) (adapter.Adapter, error) {
	switch cfg.Store.Adapter {
	case config.AdapterMemory:
		return memory.New(), nil
	case config.AdapterSQLite:
		return sqlite.Open(ctx, db.Config{Workspace: workspace})
	case config.AdapterBadger:
		path := cfg.Store.Path
		if path == "" {
			dir, err := db.EnsureWorkspace(workspace, "")
			if err != nil {
				return nil, err
			}
			path = filepath.Join(dir, "badger")
		} else if !filepath.IsAbs(path) {
			path = filepath.Join(workspace, path)
		}
		return badger.Open(badger.Config{Path: path})
	}
	return nil, fmt.Errorf("unknown adapter %q", cfg.Store.Adapter)
}

// Open loads the workspace config and builds a session on top of it. A nil
// cfg reads lifeline.yml from workspace.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *log.Logger) (*Session, error) {
	if cfg == nil {
		var err error
		cfg, err = config.Load(workspace)
		if err != nil {
			return nil, err
		}
	}
	reg, err := BuildRegistry(cfg)
	if err != nil {
		return nil, err
	}
	a, err := OpenAdapter(ctx, workspace, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s adapter: %w", cfg.Store.Adapter, err)
	}
	collector := metrics.New()
	opts := []store.Option{store.WithObserver(collector)}
	if logger != nil {
		opts = append(opts, store.WithLogger(logger))
	}
	return &Session{
		Workspace: workspace,
		Config:    cfg,
		Registry:  reg,
		Adapter:   a,
		Store:     store.New(a, reg, opts...),
		Metrics:   collector,
	}, nil
}

func (s *Session) Type(name string) (*model.Type, error) {
	return s.Registry.Lookup(name)
}

// Journal returns the adapter's event log, if it keeps one.
func (s *Session) Journal() (adapter.Journal, bool) {
	j, ok := s.Adapter.(adapter.Journal)
	return j, ok
}

func (s *Session) Close() error {
	if s.Adapter == nil {
		return nil
	}
	return s.Adapter.Close()
}
