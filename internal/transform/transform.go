// Package transform converts attribute values between their serialized form,
// as held in a record's raw data, and their typed in-memory form.
package transform

import (
	"fmt"
	"sort"
	"sync"
)

type undefined struct{}

func (undefined) String() string { return "undefined" }

// Undefined marks a value that is absent, as opposed to an explicit nil.
var Undefined any = undefined{}

// IsUndefined reports whether v is the Undefined marker.
func IsUndefined(v any) bool {
	_, ok := v.(undefined)
	return ok
}

// Transform is a total, bidirectional conversion for one attribute kind.
// Neither direction fails: unconvertible input degrades to nil, Undefined or
// NaN depending on the kind.
type Transform struct {
	Name string
	From func(serialized any) any
	To   func(deserialized any) any
}

var (
	mu       sync.RWMutex
	registry = map[string]Transform{}
)

func init() {
	for _, t := range []Transform{String, Integer, Boolean, Date} {
		registry[t.Name] = t
	}
}

// Register adds a custom transform. Names are unique; built-ins cannot be replaced.
func Register(t Transform) error {
	if t.Name == "" || t.From == nil || t.To == nil {
		return fmt.Errorf("transform %q: name, from and to are required", t.Name)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[t.Name]; exists {
		return fmt.Errorf("transform %q already registered", t.Name)
	}
	registry[t.Name] = t
	return nil
}

// Lookup returns the transform registered under name.
func Lookup(name string) (Transform, bool) {
	mu.RLock()
	defer mu.RUnlock()
	t, ok := registry[name]
	return t, ok
}

// Names lists registered transform names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
