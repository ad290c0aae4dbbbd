package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ShutdownStopsLiveSessions(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.factory.client().sink.OnFinal(fragment("Drink more water", "S1", 0, 1.5))

	sessions := NewRegistry()
	var disconnected atomic.Int32
	var release func()
	release, err := sessions.Track(h.sess, func() {
		disconnected.Add(1)
		release()
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sessions.Len())

	require.NoError(t, sessions.Shutdown(context.Background()))

	assert.Equal(t, int32(1), disconnected.Load())
	assert.Zero(t, sessions.Len())
	assert.False(t, h.sess.State().Recording)
	assert.Equal(t, "Drink more water", h.rec.next(t, MsgFinal).Text)

	id := h.sess.State().ID
	assert.Len(t, h.store.Utterances(id), 1)
	record, ok := h.store.Session(id)
	require.True(t, ok)
	assert.NotNil(t, record.EndedAt)
}

func TestRegistry_RefusesSessionsAfterShutdown(t *testing.T) {
	sessions := NewRegistry()
	require.NoError(t, sessions.Shutdown(context.Background()))

	h := newHarness(t, nil)
	_, err := sessions.Track(h.sess, nil)
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestRegistry_ShutdownGivesUpOnStuckHandlers(t *testing.T) {
	h := newHarness(t, nil)
	sessions := NewRegistry()
	_, err := sessions.Track(h.sess, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sessions.Shutdown(ctx), context.DeadlineExceeded)
}

func TestRegistry_ReleaseIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	sessions := NewRegistry()
	release, err := sessions.Track(h.sess, nil)
	require.NoError(t, err)

	release()
	release()
	assert.Zero(t, sessions.Len())
	require.NoError(t, sessions.Shutdown(context.Background()))
}

func TestRegistry_Nil(t *testing.T) {
	var sessions *Registry
	release, err := sessions.Track(nil, nil)
	require.NoError(t, err)
	release()
	assert.Zero(t, sessions.Len())
	assert.NoError(t, sessions.Shutdown(context.Background()))
}
