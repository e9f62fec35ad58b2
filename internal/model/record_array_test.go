package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordArrayMembership(t *testing.T) {
	s := newFakeStore()
	typ := newPersonType(t, NewRegistry())
	a := s.newRecord(typ)
	b := s.newRecord(typ)

	arr := NewRecordArray(typ, []ClientID{a.ClientID()}, func(id ClientID) *Record { return s.records[id] })
	require.Equal(t, 1, arr.Len())
	require.Same(t, a, arr.At(0))

	arr.Append(b.ClientID())
	arr.Append(b.ClientID())
	require.Equal(t, []ClientID{a.ClientID(), b.ClientID()}, arr.ClientIDs())
	rev := arr.Revision()

	arr.SetContent([]ClientID{a.ClientID(), b.ClientID()})
	require.Equal(t, rev, arr.Revision())

	require.True(t, arr.Remove(a.ClientID()))
	require.False(t, arr.Remove(a.ClientID()))
	require.False(t, arr.Contains(a.ClientID()))
	require.Equal(t, []*Record{b}, arr.Records())

	arr.SetContent([]ClientID{999, a.ClientID()})
	require.Equal(t, []*Record{a}, arr.Records())
}
