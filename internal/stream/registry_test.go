package stream

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/coparent-ritual/internal/insight"
)

func newTestRegistry(t *testing.T, streamer *fakeStreamer) *Registry {
	t.Helper()
	prompts, err := insight.DefaultPrompts()
	require.NoError(t, err)
	return NewRegistry(streamer, prompts, nil)
}

func TestRegistryOneChannelPerUser(t *testing.T) {
	reg := newTestRegistry(t, newFakeStreamer())

	alex := reg.Acquire("alex")
	assert.Same(t, alex, reg.Acquire("alex"))
	assert.NotSame(t, alex, reg.Acquire("sam"))
	assert.Equal(t, 2, reg.size())
}

func TestRegistryUserStreamsReplaceEachOther(t *testing.T) {
	streamer := newFakeStreamer()
	reg := newTestRegistry(t, streamer)
	ctx := context.Background()

	first, err := reg.Acquire("alex").Start(ctx, KindPrep, nil)
	require.NoError(t, err)
	nextFeed(t, streamer)

	other, err := reg.Acquire("sam").Start(ctx, KindPrep, nil)
	require.NoError(t, err)
	nextFeed(t, streamer)

	_, err = reg.Acquire("alex").Start(ctx, KindDetail, nil)
	require.NoError(t, err)
	nextFeed(t, streamer)

	waitDone(t, first)
	assert.True(t, first.Cancelled())
	assert.False(t, other.Cancelled(), "other users are unaffected")

	reg.CloseAll()
	waitDone(t, other)
	assert.Equal(t, 0, reg.size())
}

func TestRegistryReleaseKeepsChannelWhileHeld(t *testing.T) {
	streamer := newFakeStreamer()
	reg := newTestRegistry(t, streamer)

	httpConn := reg.Acquire("alex")
	wsConn := reg.Acquire("alex")
	h, err := wsConn.Start(context.Background(), KindPrep, nil)
	require.NoError(t, err)
	fd := nextFeed(t, streamer)

	reg.Release("alex")
	assert.Equal(t, 1, reg.size())
	assert.Same(t, httpConn, reg.Acquire("alex"))
	reg.Release("alex")
	assert.False(t, h.Cancelled(), "a held channel keeps streaming")

	close(fd.chunks)
	waitDone(t, h)
	reg.Release("alex")
	assert.Equal(t, 0, reg.size())
}

func TestRegistryLastReleaseCancelsStream(t *testing.T) {
	streamer := newFakeStreamer()
	reg := newTestRegistry(t, streamer)

	h, err := reg.Acquire("alex").Start(context.Background(), KindPrep, nil)
	require.NoError(t, err)
	nextFeed(t, streamer)

	reg.Release("alex")
	waitDone(t, h)
	assert.True(t, h.Cancelled())
	assert.Equal(t, 0, reg.size())
}

func TestRegistryForgetsUsersAfterRelease(t *testing.T) {
	reg := newTestRegistry(t, newFakeStreamer())

	for i := range 1000 {
		user := fmt.Sprintf("anon-%d", i)
		reg.Acquire(user)
		reg.Release(user)
	}
	assert.Equal(t, 0, reg.size())

	reg.Release("never-seen")
	assert.Equal(t, 0, reg.size())
}
