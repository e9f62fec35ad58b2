package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"lifeline/internal/adapter"
	"lifeline/internal/adapter/adaptertest"
)

func TestAdapterContract(t *testing.T) {
	adaptertest.Run(t, func(t *testing.T) adapter.Adapter { return New() })
}

func TestReturnedDataIsNotShared(t *testing.T) {
	ctx := context.Background()
	a := New()
	_, person := adaptertest.Types(t)

	input := map[string]any{"id": "p1", "tags": []any{"a"}}
	saved, err := a.CreateRecord(ctx, person, input)
	require.NoError(t, err)

	input["tags"].([]any)[0] = "mutated"
	saved["id"] = "changed"

	got, err := a.Find(ctx, person, "p1")
	require.NoError(t, err)
	require.Equal(t, []any{"a"}, got["tags"])
	require.Equal(t, "p1", got["id"])
}

func TestFindAllKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	a := New()
	_, person := adaptertest.Types(t)
	for _, id := range []string{"z", "m", "a"} {
		_, err := a.CreateRecord(ctx, person, map[string]any{"id": id})
		require.NoError(t, err)
	}
	all, err := a.FindAll(ctx, person)
	require.NoError(t, err)
	var ids []any
	for _, rec := range all {
		ids = append(ids, rec["id"])
	}
	require.Equal(t, []any{"z", "m", "a"}, ids)
}
