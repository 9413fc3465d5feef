package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	store, err := NewStore("redis://" + mr.Addr())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
		mr.Close()
	})
	return store, mr
}

func TestStore_PingSucceeds(t *testing.T) {
	store, _ := newTestStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestStore_PingFailsWhenUnreachable(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()
	assert.Error(t, store.Ping(context.Background()))
}

func TestStore_HashRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.HSet(ctx, "rooms:r1:participants", "123", "node-a"))

	v, ok, err := store.HGet(ctx, "rooms:r1:participants", "123")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "node-a", v)

	exists, err := store.HExists(ctx, "rooms:r1:participants", "123")
	require.NoError(t, err)
	assert.True(t, exists)

	all, err := store.HGetAll(ctx, "rooms:r1:participants")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"123": "node-a"}, all)

	require.NoError(t, store.HDel(ctx, "rooms:r1:participants", "123"))
	_, ok, err = store.HGet(ctx, "rooms:r1:participants", "123")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_HGetMissingField(t *testing.T) {
	store, _ := newTestStore(t)
	v, ok, err := store.HGet(context.Background(), "rooms:r1:participants", "999")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "", v)
}

func TestStore_SetWithTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetWithTTL(ctx, "servers:node-1:heartbeat", "1700000000", 30*time.Second))

	ttl := mr.TTL("servers:node-1:heartbeat")
	assert.Greater(t, ttl, time.Duration(0))
}

func TestStore_PublishDeliversToSubscriber(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sub := store.Client().Subscribe(ctx, "cluster:messages")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Publish(ctx, "cluster:messages", `{"type":"UserJoined"}`))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"UserJoined"}`, msg.Payload)
}
