package model

import (
	"testing"

	"github.com/stretchr/testify/require"

	"lifeline/internal/transform"
)

func TestDefineType(t *testing.T) {
	reg := NewRegistry()
	typ, err := reg.Define("person",
		PrimaryKey("uuid"),
		Attr("name", "string"),
		Attr("bornAt", "date", Key("born_at")),
		HasManyOf("friends", "person"),
	)
	require.NoError(t, err)
	require.Equal(t, "person", typ.Name())
	require.Equal(t, "uuid", typ.PrimaryKey())

	attrs := typ.Attributes()
	require.Len(t, attrs, 2)
	require.Equal(t, "name", attrs[0].Key())
	require.Equal(t, "born_at", attrs[1].Key())
	require.Equal(t, "date", attrs[1].Transform().Name)

	assoc := typ.HasMany("friends")
	require.NotNil(t, assoc)
	require.Equal(t, "friends", assoc.Key())
	require.False(t, assoc.Embedded())
	related, err := assoc.RelatedType()
	require.NoError(t, err)
	require.Same(t, typ, related)

	got, err := reg.Lookup("person")
	require.NoError(t, err)
	require.Same(t, typ, got)
	_, err = reg.Lookup("ghost")
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestDefineTypeRejectsBadDeclarations(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Define("a", Attr("x", "money"))
	require.Error(t, err)

	_, err = reg.Define("b", Attr("x", "string"), HasManyOf("x", "b"))
	require.Error(t, err)

	_, err = reg.Define("c", PrimaryKey(""))
	require.Error(t, err)

	_, err = reg.Define("d")
	require.NoError(t, err)
	_, err = reg.Define("d")
	require.Error(t, err)

	_, err = reg.Define("e", HasManyOf("things", "missing"))
	require.NoError(t, err)
	require.ErrorIs(t, reg.Validate(), ErrUnknownType)
}

func TestRegistryTypesAreSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zebra", "ant", "moose"} {
		_, err := reg.Define(name)
		require.NoError(t, err)
	}
	var names []string
	for _, typ := range reg.Types() {
		names = append(names, typ.Name())
	}
	require.Equal(t, []string{"ant", "moose", "zebra"}, names)
}

func TestAttributeUsesSerializedKey(t *testing.T) {
	s := newFakeStore()
	typ := newPersonType(t, NewRegistry())
	r := loadedRecord(t, s, typ, map[string]any{"id": "1"})

	require.True(t, transform.IsUndefined(r.Get("bornAt")))

	a := typ.Attribute("bornAt")
	require.True(t, transform.IsUndefined(a.Get(s.newRecord(typ))))
	require.NoError(t, r.Set("bornAt", nil))
	require.Nil(t, r.Get("bornAt"))
	require.Contains(t, r.Data(), "born_at")
	require.NotContains(t, r.Data(), "bornAt")
}

func TestAttributeWriteOfUndefinedRemovesKey(t *testing.T) {
	s := newFakeStore()
	typ := newPersonType(t, NewRegistry())
	r := loadedRecord(t, s, typ, map[string]any{"id": "1", "born_at": "Fri, 04 Mar 2011 05:06:07 GMT"})

	require.NoError(t, r.Set("bornAt", transform.Undefined))
	require.NotContains(t, r.Data(), "born_at")
	require.True(t, r.IsDirty())
}
