package model

import "slices"

// RecordArray is a live, ordered collection of records of one type, held by
// client id. Its identity stays stable while its membership changes.
type RecordArray struct {
	typ      *Type
	content  []ClientID
	resolve  func(ClientID) *Record
	revision uint64
}

// NewRecordArray builds an array whose members are looked up through resolve.
func NewRecordArray(t *Type, content []ClientID, resolve func(ClientID) *Record) *RecordArray {
	return &RecordArray{typ: t, content: slices.Clone(content), resolve: resolve}
}

func (a *RecordArray) Type() *Type { return a.typ }
func (a *RecordArray) Len() int { return len(a.content) }

// Revision increases on every membership change.
func (a *RecordArray) Revision() uint64 { return a.revision }

func (a *RecordArray) ClientIDs() []ClientID { return slices.Clone(a.content) }

func (a *RecordArray) Contains(id ClientID) bool { return slices.Contains(a.content, id) }

// At returns the record at index i.
func (a *RecordArray) At(i int) *Record {
	if a.resolve == nil {
		return nil
	}
	return a.resolve(a.content[i])
}

// Records resolves every member, skipping ids the resolver no longer knows.
func (a *RecordArray) Records() []*Record {
	out := make([]*Record, 0, len(a.content))
	if a.resolve == nil {
		return out
	}
	for _, id := range a.content {
		if r := a.resolve(id); r != nil {
			out = append(out, r)
		}
	}
	return out
}

// SetContent replaces the membership in place.
func (a *RecordArray) SetContent(ids []ClientID) {
	if slices.Equal(a.content, ids) {
		return
	}
	a.content = slices.Clone(ids)
	a.revision++
}

func (a *RecordArray) Append(id ClientID) {
	if a.Contains(id) {
		return
	}
	a.content = append(a.content, id)
	a.revision++
}

// Remove drops id and reports whether it was a member.
func (a *RecordArray) Remove(id ClientID) bool {
	i := slices.Index(a.content, id)
	if i < 0 {
		return false
	}
	a.content = slices.Delete(a.content, i, i+1)
	a.revision++
	return true
}
