package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewStore(mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestStore_SetGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	type payload struct {
		Name string `json:"name"`
	}
	require.NoError(t, store.Set(ctx, "k1", payload{Name: "alice"}, 0))

	var out payload
	ok, err := store.Get(ctx, "k1", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alice", out.Name)
}

func TestStore_GetMiss(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var out map[string]string
	ok, err := store.Get(ctx, "missing", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Del(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k1", "v1", 0))
	require.NoError(t, store.Del(ctx, "k1"))

	var out string
	ok, _ := store.Get(ctx, "k1", &out)
	assert.False(t, ok)
}

func TestStore_OnlinePresence(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddOnlineUser(ctx, "ABC-DEF-GHI", "user-1"))
	require.NoError(t, store.AddOnlineUser(ctx, "ABC-DEF-GHI", "user-2"))

	users, err := store.GetOnlineUsers(ctx, "ABC-DEF-GHI")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user-1", "user-2"}, users)

	require.NoError(t, store.RemoveOnlineUser(ctx, "ABC-DEF-GHI", "user-1"))
	users, err = store.GetOnlineUsers(ctx, "ABC-DEF-GHI")
	require.NoError(t, err)
	assert.Equal(t, []string{"user-2"}, users)
}

func TestStore_NilStoreDegradesGracefully(t *testing.T) {
	var store *Store
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", 0))
	var out string
	ok, err := store.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, store.Del(ctx, "k"))
	require.NoError(t, store.Ping(ctx))
	assert.Nil(t, store.Client())
}

func TestStore_Ping(t *testing.T) {
	store, mr := newTestStore(t)
	require.NoError(t, store.Ping(context.Background()))

	mr.Close()
	err := store.Ping(context.Background())
	assert.Error(t, err)
}
