package statemachine

import (
	"fmt"
	"strings"
)

// Machine tracks one owner's position in a Tree. It is not safe for
// concurrent use; callers serialize access the same way they serialize
// access to the owner.
type Machine[O any] struct {
	tree          *Tree[O]
	owner         O
	path          []*State[O]
	dispatching   bool
	transitioning bool
	observer      func(from, to string)
}

// NewMachine starts a machine at the root of tree.
func NewMachine[O any](tree *Tree[O], owner O) *Machine[O] {
	return &Machine[O]{
		tree:  tree,
		owner: owner,
		path:  []*State[O]{tree.root},
	}
}

func (m *Machine[O]) Owner() O { return m.owner }
func (m *Machine[O]) Tree() *Tree[O] { return m.tree }
func (m *Machine[O]) Current() *State[O] { return m.path[len(m.path)-1] }

// Path returns a copy of the current root-to-leaf path.
func (m *Machine[O]) Path() []*State[O] {
	out := make([]*State[O], len(m.path))
	copy(out, m.path)
	return out
}

// StateName is the dotted path of the current leaf, without the root.
func (m *Machine[O]) StateName() string { return m.Current().Path() }

// Flag resolves name against the current leaf.
func (m *Machine[O]) Flag(name string) bool { return m.Current().Flag(name) }

// SetObserver registers fn to run after every transition that changes the leaf.
func (m *Machine[O]) SetObserver(fn func(from, to string)) { m.observer = fn }

// Handles reports whether some state on the current path handles event.
func (m *Machine[O]) Handles(event string) bool {
	_, ok := m.lookup(event)
	return ok
}

func (m *Machine[O]) lookup(event string) (Handler[O], bool) {
	for i := len(m.path) - 1; i >= 0; i-- {
		if h, ok := m.path[i].handlers[event]; ok {
			return h, true
		}
	}
	return nil, false
}

// Send dispatches event to the innermost state on the current path that
// handles it. Events nobody handles are ignored.
func (m *Machine[O]) Send(event string, arg any) error {
	if event == EnterEvent || event == ExitEvent {
		return fmt.Errorf("%w: %s", ErrReservedEvent, event)
	}
	if m.dispatching || m.transitioning {
		return fmt.Errorf("%w: %s while in %s", ErrReentrantDispatch, event, m.StateName())
	}
	h, ok := m.lookup(event)
	if !ok {
		return nil
	}
	m.dispatching = true
	defer func() { m.dispatching = false }()
	return h(m, arg)
}

// GoTo transitions to the state named by a dotted path resolved relative to
// the current leaf: the nearest state on the path, from the leaf upward,
// having a matching descendant wins. States below the lowest common ancestor
// are exited innermost first and the target branch is entered outermost
// first. Going to the current leaf does nothing.
func (m *Machine[O]) GoTo(name string) error {
	if m.transitioning {
		return fmt.Errorf("%w: transition to %s from an enter or exit handler", ErrReentrantDispatch, name)
	}
	target, err := m.resolve(name)
	if err != nil {
		return err
	}
	targetPath := target.lineage()

	common := 0
	for common < len(m.path) && common < len(targetPath) && m.path[common] == targetPath[common] {
		common++
	}
	if common == len(m.path) && common == len(targetPath) {
		return nil
	}

	from := m.StateName()
	m.transitioning = true
	defer func() { m.transitioning = false }()

	for len(m.path) > common {
		leaf := m.path[len(m.path)-1]
		if h, ok := leaf.handlers[ExitEvent]; ok {
			if err := h(m, nil); err != nil {
				return fmt.Errorf("exit %s: %w", leaf.Path(), err)
			}
		}
		m.path = m.path[:len(m.path)-1]
	}
	for _, s := range targetPath[common:] {
		m.path = append(m.path, s)
		if h, ok := s.handlers[EnterEvent]; ok {
			if err := h(m, nil); err != nil {
				return fmt.Errorf("enter %s: %w", s.Path(), err)
			}
		}
	}

	if m.observer != nil {
		m.observer(from, m.StateName())
	}
	return nil
}

func (m *Machine[O]) resolve(name string) (*State[O], error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrUnknownState)
	}
	segments := strings.Split(name, ".")
	for i := len(m.path) - 1; i >= 0; i-- {
		if s := m.path[i].descendant(segments); s != nil {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s from %s", ErrUnknownState, name, m.StateName())
}
