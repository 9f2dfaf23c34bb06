package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tilerealm/server/internal/storage"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewRegistry(store, nil, nil, "test")
}

func TestRegistryCreateAndGetWorld(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	rec, err := r.CreateWorld(ctx, "Forest", "natural", 42)
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)

	got, found, err := r.GetWorld(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Forest", got.Name)
	require.Equal(t, int64(42), got.Seed)
}

func TestRegistryGetWorldUnknown(t *testing.T) {
	r := newTestRegistry(t)
	_, found, err := r.GetWorld(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRegistryListWorldsOrderedByLastPlayed(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	older, err := r.CreateWorld(ctx, "Older", "natural", 1)
	require.NoError(t, err)
	newer, err := r.CreateWorld(ctx, "Newer", "natural", 2)
	require.NoError(t, err)

	require.NoError(t, r.UpdateLastPlayed(ctx, older.ID, time.Now().Add(-time.Hour)))
	require.NoError(t, r.UpdateLastPlayed(ctx, newer.ID, time.Now()))

	worlds, err := r.ListWorlds()
	require.NoError(t, err)
	require.Len(t, worlds, 2)
	require.Equal(t, newer.ID, worlds[0].ID)
	require.Equal(t, older.ID, worlds[1].ID)
}

func TestRegistryRenameWorld(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	rec, err := r.CreateWorld(ctx, "Original", "flat", 7)
	require.NoError(t, err)

	require.NoError(t, r.RenameWorld(ctx, rec.ID, "Renamed"))

	got, found, err := r.GetWorld(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Renamed", got.Name)
}

func TestRegistryRenameUnknownWorld(t *testing.T) {
	r := newTestRegistry(t)
	err := r.RenameWorld(context.Background(), "missing", "x")
	require.ErrorIs(t, err, ErrUnknownWorld)
}

func TestRegistryDeleteWorld(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	rec, err := r.CreateWorld(ctx, "ToDelete", "flat", 1)
	require.NoError(t, err)

	require.NoError(t, r.DeleteWorld(ctx, rec.ID))

	_, found, err := r.GetWorld(ctx, rec.ID)
	require.NoError(t, err)
	require.False(t, found)
}

func TestRegistryBroadcastPlayerCountNilBus(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.BroadcastPlayerCount(context.Background(), "realm-1", 3))
}
