package sessionstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client, ttl), mr
}

func TestCreateAndGet(t *testing.T) {
	st, _ := newTestStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, "s1", "alice", "container-1"))

	sess, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.UserID)
	assert.Equal(t, "container-1", sess.ContainerID)
	assert.Equal(t, int64(0), sess.CommandCount)
	assert.False(t, sess.CreatedAt.IsZero())
}

func TestGetContainerID(t *testing.T) {
	st, _ := newTestStore(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, "s1", "alice", "container-1"))

	id, err := st.GetContainerID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "container-1", id)
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	st, _ := newTestStore(t, time.Minute)
	ctx := context.Background()

	_, err := st.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = st.GetContainerID(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshIncrementsCommandCountAndExtendsTTL(t *testing.T) {
	st, mr := newTestStore(t, 30*time.Second)
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, "s1", "alice", "container-1"))

	mr.FastForward(20 * time.Second)
	require.NoError(t, st.Refresh(ctx, "s1"))

	sess, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sess.CommandCount)

	ttl := mr.TTL(sessionKey("s1"))
	assert.True(t, ttl > 20*time.Second)
}

func TestRefreshMissingSessionReturnsErrNotFound(t *testing.T) {
	st, _ := newTestStore(t, time.Minute)
	ctx := context.Background()

	assert.ErrorIs(t, st.Refresh(ctx, "nope"), ErrNotFound)
}

func TestDeleteRemovesBothKeys(t *testing.T) {
	st, mr := newTestStore(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, "s1", "alice", "container-1"))

	require.NoError(t, st.Delete(ctx, "s1"))

	assert.False(t, mr.Exists(sessionKey("s1")))
	assert.False(t, mr.Exists(containerKey("s1")))
}

func TestDeleteAbsentSessionIsNoop(t *testing.T) {
	st, _ := newTestStore(t, time.Minute)
	ctx := context.Background()

	assert.NoError(t, st.Delete(ctx, "nope"))
}

func TestSetContainerUpdatesBothWhenSessionExists(t *testing.T) {
	st, _ := newTestStore(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, "s1", "alice", "container-1"))

	require.NoError(t, st.SetContainer(ctx, "s1", "container-2"))

	id, err := st.GetContainerID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "container-2", id)

	sess, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "container-2", sess.ContainerID)
}

func TestListContainerPointers(t *testing.T) {
	st, _ := newTestStore(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, "s1", "alice", "container-1"))
	require.NoError(t, st.Create(ctx, "s2", "bob", "container-2"))

	pointers, err := st.ListContainerPointers(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"s1": "container-1", "s2": "container-2"}, pointers)
}

func TestListContainerPointersEmpty(t *testing.T) {
	st, _ := newTestStore(t, time.Minute)

	pointers, err := st.ListContainerPointers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pointers)
}

func TestSetContainerWithoutExistingSessionOnlySetsPointer(t *testing.T) {
	st, _ := newTestStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, st.SetContainer(ctx, "orphan", "container-9"))

	id, err := st.GetContainerID(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, "container-9", id)

	_, err = st.Get(ctx, "orphan")
	assert.ErrorIs(t, err, ErrNotFound)
}
