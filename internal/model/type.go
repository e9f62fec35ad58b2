package model

import (
	"errors"
	"fmt"
	"sort"

	"lifeline/internal/statemachine"
	"lifeline/internal/transform"
)

var ErrUnknownType = errors.New("unknown record type")

// Hooks run on lifecycle milestones. Any of them may be nil.
type Hooks struct {
	DidLoad   func(*Record)
	DidCreate func(*Record)
	DidUpdate func(*Record)
}

// Type describes one kind of record: its primary key, attributes and
// to-many associations. Types are immutable once defined.
type Type struct {
	name       string
	primaryKey string
	attrs      []*Attribute
	hasMany    []*HasMany
	hooks      Hooks
	registry   *Registry
	states     *statemachine.Tree[*Record]
}

// TypeOption configures a Type under definition.
type TypeOption func(*Type) error

// FieldOption configures an attribute or association declaration.
type FieldOption func(*fieldOptions)

type fieldOptions struct {
	key      string
	embedded bool
}

// Key overrides the raw data key a field is stored under.
func Key(key string) FieldOption {
	return func(o *fieldOptions) { o.key = key }
}

// Embedded marks an association whose members are stored inline.
func Embedded() FieldOption {
	return func(o *fieldOptions) { o.embedded = true }
}

func PrimaryKey(name string) TypeOption {
	return func(t *Type) error {
		if name == "" {
			return errors.New("primary key must not be empty")
		}
		t.primaryKey = name
		return nil
	}
}

func WithHooks(h Hooks) TypeOption {
	return func(t *Type) error {
		t.hooks = h
		return nil
	}
}

// Attr declares an attribute converted by the named transform.
func Attr(name, transformName string, opts ...FieldOption) TypeOption {
	return func(t *Type) error {
		tr, ok := transform.Lookup(transformName)
		if !ok {
			return fmt.Errorf("attribute %s: unknown transform %q", name, transformName)
		}
		o := fieldOptions{key: name}
		for _, opt := range opts {
			opt(&o)
		}
		if err := t.claim(name); err != nil {
			return err
		}
		t.attrs = append(t.attrs, &Attribute{name: name, key: o.key, transform: tr})
		return nil
	}
}

// HasManyOf declares a to-many association with records of type related.
func HasManyOf(name, related string, opts ...FieldOption) TypeOption {
	return func(t *Type) error {
		if related == "" {
			return fmt.Errorf("association %s: related type is required", name)
		}
		o := fieldOptions{key: name}
		for _, opt := range opts {
			opt(&o)
		}
		if err := t.claim(name); err != nil {
			return err
		}
		t.hasMany = append(t.hasMany, &HasMany{
			name:     name,
			key:      o.key,
			related:  related,
			embedded: o.embedded,
			owner:    t,
		})
		return nil
	}
}

func (t *Type) claim(name string) error {
	if name == "" {
		return fmt.Errorf("type %s: field name must not be empty", t.name)
	}
	if t.Attribute(name) != nil || t.HasMany(name) != nil {
		return fmt.Errorf("type %s: field %q declared twice", t.name, name)
	}
	return nil
}

// NewType defines a type outside any registry. Associations of such a type
// cannot resolve their related type.
func NewType(name string, opts ...TypeOption) (*Type, error) {
	if name == "" {
		return nil, errors.New("type name must not be empty")
	}
	t := &Type{name: name, primaryKey: "id", states: lifecycle}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, fmt.Errorf("type %s: %w", name, err)
		}
	}
	return t, nil
}

func (t *Type) Name() string { return t.name }
func (t *Type) PrimaryKey() string { return t.primaryKey }

// Attributes returns the declared attributes in declaration order.
func (t *Type) Attributes() []*Attribute { return append([]*Attribute(nil), t.attrs...) }

// Associations returns the declared associations in declaration order.
func (t *Type) Associations() []*HasMany { return append([]*HasMany(nil), t.hasMany...) }

func (t *Type) Attribute(name string) *Attribute {
	for _, a := range t.attrs {
		if a.name == name {
			return a
		}
	}
	return nil
}

func (t *Type) HasMany(name string) *HasMany {
	for _, h := range t.hasMany {
		if h.name == name {
			return h
		}
	}
	return nil
}

// Registry holds the record types known to a store.
type Registry struct {
	types map[string]*Type
}

func NewRegistry() *Registry {
	return &Registry{types: map[string]*Type{}}
}

// Define creates and registers a type.
func (r *Registry) Define(name string, opts ...TypeOption) (*Type, error) {
	if _, exists := r.types[name]; exists {
		return nil, fmt.Errorf("type %s already defined", name)
	}
	t, err := NewType(name, opts...)
	if err != nil {
		return nil, err
	}
	t.registry = r
	r.types[name] = t
	return t, nil
}

func (r *Registry) Lookup(name string) (*Type, error) {
	t, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return t, nil
}

// Types returns every registered type sorted by name.
func (r *Registry) Types() []*Type {
	out := make([]*Type, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Validate checks that every association points at a registered type.
func (r *Registry) Validate() error {
	for _, t := range r.Types() {
		for _, h := range t.hasMany {
			if _, ok := r.types[h.related]; !ok {
				return fmt.Errorf("type %s: association %s: %w: %s", t.name, h.name, ErrUnknownType, h.related)
			}
		}
	}
	return nil
}
