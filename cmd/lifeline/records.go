package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lifeline/internal/app"
	"lifeline/internal/model"
	"lifeline/internal/transform"
)

func recordCmd() *cobra.Command {
	rec := &cobra.Command{
		Use:   "record",
		Short: "Records",
		Long:  "Create, read, change and delete records. Writes are committed before the command returns.",
	}
	rec.AddCommand(recordCreateCmd())
	rec.AddCommand(recordGetCmd())
	rec.AddCommand(recordListCmd())
	rec.AddCommand(recordSetCmd())
	rec.AddCommand(recordDeleteCmd())
	rec.AddCommand(recordRelatedCmd())
	return rec
}

func recordCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <type> [field=value...]",
		Short: "Create a record",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				t, err := s.Type(args[0])
				if err != nil {
					return err
				}
				values, err := parseAssignments(t, args[1:])
				if err != nil {
					return err
				}
				r, err := s.Store.CreateRecord(t, nil, nil)
				if err != nil {
					return err
				}
				if err := applyValues(r, values); err != nil {
					return err
				}
				if err := s.Store.Transaction().Commit(ctx); err != nil {
					return err
				}
				return printRecord(r)
			})
		},
	}
}

func recordGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <type> <id>",
		Short: "Show a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				r, err := findRecord(ctx, s, args[0], args[1])
				if err != nil {
					return err
				}
				return printRecord(r)
			})
		},
	}
}

func recordListCmd() *cobra.Command {
	var where []string
	cmd := &cobra.Command{
		Use:   "list <type>",
		Short: "List records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				t, err := s.Type(args[0])
				if err != nil {
					return err
				}
				all, err := s.Store.FindAll(ctx, t)
				if err != nil {
					return err
				}
				records := all.Records()
				if len(where) > 0 {
					pred, err := wherePredicate(where)
					if err != nil {
						return err
					}
					records = s.Store.Filter(t, pred).Records()
				}
				return printRecords(t, records)
			})
		},
	}
	cmd.Flags().StringArrayVar(&where, "where", nil, "field=value filter (repeatable)")
	return cmd
}

func recordSetCmd() *cobra.Command {
	var unset []string
	cmd := &cobra.Command{
		Use:   "set <type> <id> [field=value...]",
		Short: "Change fields of a record",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				r, err := findRecord(ctx, s, args[0], args[1])
				if err != nil {
					return err
				}
				values, err := parseAssignments(r.Type(), args[2:])
				if err != nil {
					return err
				}
				for _, name := range unset {
					values = append(values, assignment{Name: name, Value: transform.Undefined})
				}
				if len(values) == 0 {
					return fmt.Errorf("nothing to set")
				}
				if err := applyValues(r, values); err != nil {
					return err
				}
				if err := s.Store.Transaction().Commit(ctx); err != nil {
					return err
				}
				return printRecord(r)
			})
		},
	}
	cmd.Flags().StringArrayVar(&unset, "unset", nil, "field to remove (repeatable)")
	return cmd
}

func recordDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <type> <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				r, err := findRecord(ctx, s, args[0], args[1])
				if err != nil {
					return err
				}
				if err := r.DeleteRecord(); err != nil {
					return err
				}
				if err := s.Store.Transaction().Commit(ctx); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": r.String(), "state": r.StateName()})
				}
				fmt.Printf("deleted %s\n", r)
				return nil
			})
		},
	}
}

func recordRelatedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "related <type> <id> <association>",
		Short: "List the records of a has_many association",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				r, err := findRecord(ctx, s, args[0], args[1])
				if err != nil {
					return err
				}
				h := r.Type().HasMany(args[2])
				if h == nil {
					return fmt.Errorf("%s has no association %q", r.Type().Name(), args[2])
				}
				arr, err := r.HasMany(args[2])
				if err != nil {
					return err
				}
				if err := s.Store.FetchPending(ctx); err != nil {
					return err
				}
				related, err := h.RelatedType()
				if err != nil {
					return err
				}
				return printRecords(related, arr.Records())
			})
		},
	}
}

func findRecord(ctx context.Context, s *app.Session, typeName, id string) (*model.Record, error) {
	t, err := s.Type(typeName)
	if err != nil {
		return nil, err
	}
	return s.Store.Find(ctx, t, id)
}

type assignment struct {
	Name  string
	Value any
}

// parseAssignments turns field=value arguments into values typed by the
// field's declaration. Undeclared fields keep the raw string.
func parseAssignments(t *model.Type, args []string) ([]assignment, error) {
	out := make([]assignment, 0, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected field=value, got %q", arg)
		}
		v, err := parseValue(t, name, raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, assignment{Name: name, Value: v})
	}
	return out, nil
}

func parseValue(t *model.Type, name, raw string) (any, error) {
	if a := t.Attribute(name); a != nil {
		switch a.Transform().Name {
		case "integer":
			f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("not a number: %q", raw)
			}
			return f, nil
		case "boolean":
			return cast.ToBoolE(raw)
		case "date":
			if raw == "now" {
				return time.Now().UTC(), nil
			}
			d, ok := transform.Date.From(raw).(time.Time)
			if !ok {
				return nil, fmt.Errorf("not a date: %q", raw)
			}
			return d, nil
		}
		return raw, nil
	}
	if h := t.HasMany(name); h != nil {
		if h.Embedded() {
			return nil, fmt.Errorf("embedded association cannot be set from the command line")
		}
		ids := []any{}
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		return ids, nil
	}
	return raw, nil
}

// applyValues writes attributes through their transform and everything else
// as raw data under its association key or its own name.
func applyValues(r *model.Record, values []assignment) error {
	for _, v := range values {
		var err error
		switch a, h := r.Type().Attribute(v.Name), r.Type().HasMany(v.Name); {
		case h != nil:
			err = r.SetField(h.Key(), v.Value)
		case a != nil && transform.IsUndefined(v.Value):
			err = r.SetField(a.Key(), v.Value)
		default:
			err = r.Set(v.Name, v.Value)
		}
		if err != nil {
			return fmt.Errorf("set %s: %w", v.Name, err)
		}
	}
	return nil
}

func wherePredicate(where []string) (func(*model.Record) bool, error) {
	want := map[string]string{}
	for _, w := range where {
		name, value, ok := strings.Cut(w, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected field=value, got %q", w)
		}
		want[name] = value
	}
	return func(r *model.Record) bool {
		for name, value := range want {
			if transform.String.From(r.Get(name)) != value {
				return false
			}
		}
		return true
	}, nil
}

type recordView struct {
	Type  string         `json:"type"`
	ID    string         `json:"id,omitempty"`
	State string         `json:"state"`
	Data  map[string]any `json:"data"`
}

func viewOf(r *model.Record) recordView {
	id, _ := r.ID()
	return recordView{Type: r.Type().Name(), ID: id, State: r.StateName(), Data: r.Data()}
}

func printRecord(r *model.Record) error {
	v := viewOf(r)
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle(r.String() + " [" + v.State + "]")
	tw.AppendHeader(table.Row{"Field", "Value"})
	for _, a := range r.Type().Attributes() {
		tw.AppendRow(table.Row{a.Name(), display(a.Get(r))})
	}
	for _, h := range r.Type().Associations() {
		tw.AppendRow(table.Row{h.Name(), display(v.Data[h.Key()])})
	}
	tw.Render()
	return nil
}

func printRecords(t *model.Type, records []*model.Record) error {
	if viper.GetBool("json") {
		views := make([]recordView, 0, len(records))
		for _, r := range records {
			views = append(views, viewOf(r))
		}
		return printJSON(views)
	}
	attrs := t.Attributes()
	header := table.Row{"ID"}
	for _, a := range attrs {
		header = append(header, a.Name())
	}
	header = append(header, "State")
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	for _, r := range records {
		id, _ := r.ID()
		row := table.Row{id}
		for _, a := range attrs {
			row = append(row, display(a.Get(r)))
		}
		row = append(row, r.StateName())
		tw.AppendRow(row)
	}
	tw.Render()
	return nil
}

func display(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case time.Time:
		return x.Format(transform.HTTPDate)
	case []any:
		return strings.Join(cast.ToStringSlice(x), ",")
	}
	if transform.IsUndefined(v) {
		return ""
	}
	return cast.ToString(v)
}
