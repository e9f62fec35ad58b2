package model

import (
	"errors"
	"fmt"

	"github.com/spf13/cast"
)

var errNoStore = errors.New("record has no store")

// HasMany is a to-many association. Embedded associations keep full payloads
// under their key; referenced ones keep a list of ids.
type HasMany struct {
	name     string
	key      string
	related  string
	embedded bool
	owner    *Type
}

func (h *HasMany) Name() string { return h.name }
func (h *HasMany) Key() string { return h.key }
func (h *HasMany) Related() string { return h.related }
func (h *HasMany) Embedded() bool { return h.embedded }

// RelatedType resolves the associated type through the owner's registry.
func (h *HasMany) RelatedType() (*Type, error) {
	if h.owner.registry == nil {
		return nil, fmt.Errorf("association %s.%s: %w: %s", h.owner.name, h.name, ErrUnknownType, h.related)
	}
	return h.owner.registry.Lookup(h.related)
}

// Get returns the record's live array for this association. The array is
// built on first access and kept in sync with the raw data afterwards.
func (h *HasMany) Get(r *Record) (*RecordArray, error) {
	if arr, ok := r.associations[h.name]; ok {
		return arr, nil
	}
	if r.store == nil {
		return nil, fmt.Errorf("association %s.%s: %w", r.typ.name, h.name, errNoStore)
	}
	related, err := h.RelatedType()
	if err != nil {
		return nil, err
	}
	arr := r.store.FindMany(related, h.ids(r, related))
	r.associations[h.name] = arr
	r.Subscribe(func(rec *Record) { h.sync(rec, related, arr) })
	return arr, nil
}

func (h *HasMany) sync(r *Record, related *Type, arr *RecordArray) {
	ids := h.ids(r, related)
	r.store.Materialize(related, ids)
	index := r.store.IDToClientIDMap(related)
	content := make([]ClientID, 0, len(ids))
	for _, id := range ids {
		if cid, ok := index[id]; ok {
			content = append(content, cid)
		}
	}
	arr.SetContent(content)
}

func (h *HasMany) ids(r *Record, related *Type) []string {
	if r.data == nil {
		return nil
	}
	raw, ok := r.data[h.key]
	if !ok || raw == nil {
		return nil
	}
	if h.embedded {
		return r.store.LoadMany(related, payloads(raw))
	}
	return idList(raw)
}

func payloads(raw any) []map[string]any {
	switch v := raw.(type) {
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func idList(raw any) []string {
	items, err := cast.ToSliceE(raw)
	if err != nil {
		if ss, err := cast.ToStringSliceE(raw); err == nil {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if id, ok := NormalizeID(item); ok {
			out = append(out, id)
		}
	}
	return out
}
