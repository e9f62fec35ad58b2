package model

import (
	"errors"
	"fmt"
)

// ErrLifecycle is the sentinel every LifecycleError unwraps to.
var ErrLifecycle = errors.New("lifecycle error")

// LifecycleError is returned when a record cannot perform an operation in
// its current state.
type LifecycleError struct {
	State string
	Event string
	Msg   string
}

func (e *LifecycleError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("%s (state %s)", e.Msg, e.State)
	}
	return fmt.Sprintf("%s: %s (state %s)", e.Event, e.Msg, e.State)
}

func (e *LifecycleError) Unwrap() error { return ErrLifecycle }
