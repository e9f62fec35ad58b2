package model

import "lifeline/internal/transform"

// Attribute is a typed view over one raw data key.
type Attribute struct {
	name      string
	key       string
	transform transform.Transform
}

func (a *Attribute) Name() string { return a.name }
func (a *Attribute) Key() string { return a.key }
func (a *Attribute) Transform() transform.Transform { return a.transform }

// Get returns the deserialized value, or transform.Undefined when the record
// has no data yet.
func (a *Attribute) Get(r *Record) any {
	if r.data == nil {
		return transform.Undefined
	}
	v, ok := r.data[a.key]
	if !ok {
		v = transform.Undefined
	}
	return a.transform.From(v)
}

// Set serializes v and writes it through the record's setField event, so the
// current state decides whether the write lands and what becomes dirty.
func (a *Attribute) Set(r *Record, v any) error {
	if r.data == nil {
		return &LifecycleError{State: r.StateName(), Event: EventSetField, Msg: "cannot set a field before data loaded"}
	}
	return r.SetField(a.key, a.transform.To(v))
}
