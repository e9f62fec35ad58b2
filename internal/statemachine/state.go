// Package statemachine implements hierarchical state trees with inherited
// flags and a per-owner dispatcher that routes events from the current leaf
// toward the root.
package statemachine

import (
	"errors"
	"fmt"
	"strings"
)

// Reserved handler names. They run during transitions and cannot be sent.
const (
	EnterEvent = "enter"
	ExitEvent  = "exit"
)

var (
	ErrUnknownState      = errors.New("unknown state")
	ErrReentrantDispatch = errors.New("re-entrant dispatch")
	ErrReservedEvent     = errors.New("reserved event")
	ErrInvalidTree       = errors.New("invalid state tree")
)

// Handler reacts to an event on behalf of the machine's owner.
type Handler[O any] func(m *Machine[O], arg any) error

// State is one node of a state tree. States are assembled with NewState and
// never change once sealed into a Tree.
type State[O any] struct {
	name     string
	parent   *State[O]
	children []*State[O]
	flags    map[string]bool
	handlers map[string]Handler[O]
}

// Option configures a State under construction.
type Option[O any] func(*State[O])

func Flag[O any](name string, value bool) Option[O] {
	return func(s *State[O]) { s.flags[name] = value }
}

func On[O any](event string, h Handler[O]) Option[O] {
	return func(s *State[O]) { s.handlers[event] = h }
}

func OnEnter[O any](fn func(m *Machine[O]) error) Option[O] {
	return On(EnterEvent, func(m *Machine[O], _ any) error { return fn(m) })
}

func OnExit[O any](fn func(m *Machine[O]) error) Option[O] {
	return On(ExitEvent, func(m *Machine[O], _ any) error { return fn(m) })
}

func Children[O any](children ...*State[O]) Option[O] {
	return func(s *State[O]) {
		for _, c := range children {
			c.parent = s
			s.children = append(s.children, c)
		}
	}
}

func NewState[O any](name string, opts ...Option[O]) *State[O] {
	s := &State[O]{
		name:     name,
		flags:    map[string]bool{},
		handlers: map[string]Handler[O]{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *State[O]) Name() string { return s.name }
func (s *State[O]) Parent() *State[O] { return s.parent }
func (s *State[O]) IsRoot() bool { return s.parent == nil }
func (s *State[O]) NumChildren() int { return len(s.children) }
func (s *State[O]) Child(i int) *State[O] { return s.children[i] }

// ChildNamed returns the direct child called name, or nil.
func (s *State[O]) ChildNamed(name string) *State[O] {
	for _, c := range s.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// LocalFlag reports a flag declared on this state only.
func (s *State[O]) LocalFlag(name string) (value, declared bool) {
	value, declared = s.flags[name]
	return value, declared
}

// Flag resolves a flag by walking toward the root until a declaration is found.
func (s *State[O]) Flag(name string) bool {
	for st := s; st != nil; st = st.parent {
		if v, ok := st.flags[name]; ok {
			return v
		}
	}
	return false
}

// Path is the dotted name from below the root down to s; the root's path is "".
func (s *State[O]) Path() string {
	var parts []string
	for st := s; st != nil && st.parent != nil; st = st.parent {
		parts = append(parts, st.name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

func (s *State[O]) descendant(segments []string) *State[O] {
	st := s
	for _, seg := range segments {
		st = st.ChildNamed(seg)
		if st == nil {
			return nil
		}
	}
	return st
}

// lineage returns the states from the root down to s.
func (s *State[O]) lineage() []*State[O] {
	var out []*State[O]
	for st := s; st != nil; st = st.parent {
		out = append(out, st)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Tree is a sealed state hierarchy, shared read-only by every machine built on it.
type Tree[O any] struct {
	root *State[O]
}

// NewTree seals root into a Tree. It checks that sibling names are unique and
// well formed and that the root declares every required flag, so flag
// resolution always terminates with a value.
func NewTree[O any](root *State[O], requiredFlags ...string) (*Tree[O], error) {
	if root == nil {
		return nil, fmt.Errorf("%w: nil root", ErrInvalidTree)
	}
	if root.parent != nil {
		return nil, fmt.Errorf("%w: root %q has a parent", ErrInvalidTree, root.name)
	}
	for _, f := range requiredFlags {
		if _, ok := root.flags[f]; !ok {
			return nil, fmt.Errorf("%w: root does not declare flag %q", ErrInvalidTree, f)
		}
	}
	if err := validate(root); err != nil {
		return nil, err
	}
	return &Tree[O]{root: root}, nil
}

func validate[O any](s *State[O]) error {
	seen := map[string]bool{}
	for _, c := range s.children {
		if c.name == "" || strings.Contains(c.name, ".") {
			return fmt.Errorf("%w: bad state name %q under %q", ErrInvalidTree, c.name, s.name)
		}
		if seen[c.name] {
			return fmt.Errorf("%w: duplicate state %q under %q", ErrInvalidTree, c.name, s.name)
		}
		seen[c.name] = true
		if c.parent != s {
			return fmt.Errorf("%w: state %q is attached twice", ErrInvalidTree, c.name)
		}
		if err := validate(c); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree[O]) Root() *State[O] { return t.root }

// Lookup finds a state by its dotted path from the root.
func (t *Tree[O]) Lookup(path string) (*State[O], error) {
	if path == "" {
		return t.root, nil
	}
	s := t.root.descendant(strings.Split(path, "."))
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownState, path)
	}
	return s, nil
}
