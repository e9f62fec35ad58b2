package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lifeline/internal/adapter"
	"lifeline/internal/app"
	"lifeline/internal/config"
	"lifeline/internal/db"
)

var rootCmd = &cobra.Command{
	Use:   "lifeline",
	Short: "Lifeline record store CLI",
	Long: `Lifeline keeps typed records in a workspace and moves each one through a lifecycle:
empty -> loading -> loaded, with created/updated/deleted branches that stay dirty until a
commit saves them through the configured adapter (memory, sqlite or badger).
- Types: declared in lifeline.yml with attributes (string, integer, boolean, date) and has_many associations.
- Records: create, set and delete stage changes; every command commits them before it exits.
- Event log: each saved write is journaled, view it with 'lifeline log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("LIFELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/lifeline.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("metrics", false, "dump Prometheus metrics to stderr after the command")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log store activity to stderr")
	for _, name := range []string{"workspace", "config", "json", "metrics", "verbose"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(schemaCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(logCmd())
}

func initCmd() *cobra.Command {
	var adapterName string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create lifeline.yml and the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			raw := config.GenerateDefault(adapterName)
			if _, err := config.FromYAML([]byte(raw)); err != nil {
				return err
			}
			if _, err := db.EnsureWorkspace(workspace, ""); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"config": path, "adapter": adapterName})
			}
			fmt.Printf("wrote %s (%s adapter)\n", path, adapterName)
			return nil
		},
	}
	cmd.Flags().StringVar(&adapterName, "adapter", config.AdapterSQLite, "store adapter: memory, sqlite or badger")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Show declared record types",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg.Types)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Type", "Field", "Kind", "Key", "Details"})
			for _, name := range cfg.TypeNames() {
				tc := cfg.Types[name]
				pk := tc.PrimaryKey
				if pk == "" {
					pk = "id"
				}
				tw.AppendRow(table.Row{name, pk, "primary key", pk, ""})
				for _, attr := range tc.AttributeNames() {
					ac := tc.Attributes[attr]
					tw.AppendRow(table.Row{name, attr, ac.Type, keyOr(ac.Key, attr), ""})
				}
				for _, assoc := range tc.AssociationNames() {
					hc := tc.HasMany[assoc]
					details := "has_many " + hc.Type
					if hc.Embedded {
						details += " (embedded)"
					}
					tw.AppendRow(table.Row{name, assoc, "association", keyOr(hc.Key, assoc), details})
				}
				tw.AppendSeparator()
			}
			tw.Render()
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show record counts per type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				counts := map[string]int{}
				for _, t := range s.Registry.Types() {
					all, err := s.Store.FindAll(ctx, t)
					if err != nil {
						return err
					}
					counts[t.Name()] = all.Len()
				}
				out := map[string]any{
					"workspace": s.Workspace,
					"adapter":   s.Config.Store.Adapter,
					"records":   counts,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Workspace: %s (%s adapter)\n", s.Workspace, s.Config.Store.Adapter)
				fmt.Println("Records:")
				for _, t := range s.Registry.Types() {
					fmt.Printf("  %s: %d\n", t.Name(), counts[t.Name()])
				}
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every saved create, update and delete, newest first.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f adapter.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				j, ok := s.Journal()
				if !ok {
					return fmt.Errorf("%s adapter keeps no event log", s.Config.Store.Adapter)
				}
				events, err := j.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "record type filter")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "record id filter")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.Load(viper.GetString("workspace"))
}

func withSession(ctx context.Context, fn func(context.Context, *app.Session) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := log.New(io.Discard, "", 0)
	if viper.GetBool("verbose") {
		logger = log.New(os.Stderr, "lifeline: ", log.LstdFlags)
	}
	s, err := app.Open(ctx, viper.GetString("workspace"), cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()
	runErr := fn(ctx, s)
	if viper.GetBool("metrics") {
		if err := s.Metrics.WriteText(os.Stderr); err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func keyOr(key, name string) string {
	if key == "" {
		return name
	}
	return key
}
