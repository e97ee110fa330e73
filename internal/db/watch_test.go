package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdleWatcher_DisconnectFlipsState(t *testing.T) {
	p, mock := newTestPool(t)
	expectProbeOK(mock)
	require.True(t, p.CheckHealth(context.Background()))

	w := &IdleWatcher{pool: p, timeout: time.Second}
	w.handleEvent(pq.ListenerEventDisconnected, errors.New("EOF"))

	assert.Equal(t, StateDisconnected, p.State())
}

func TestIdleWatcher_ReconnectProbesBeforeMarkingConnected(t *testing.T) {
	p, mock := newTestPool(t)
	expectProbeOK(mock)

	w := &IdleWatcher{pool: p, timeout: time.Second}
	w.handleEvent(pq.ListenerEventConnectionAttemptFailed, errors.New("dial tcp: connection refused"))
	assert.False(t, p.IsConnected())

	w.handleEvent(pq.ListenerEventReconnected, nil)

	assert.Eventually(t, p.IsConnected, time.Second, 10*time.Millisecond)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdleWatcher_FirstConnectProbesWhenDisconnected(t *testing.T) {
	p, mock := newTestPool(t)
	expectProbeOK(mock)
	require.Equal(t, StateDisconnected, p.State())

	w := &IdleWatcher{pool: p, timeout: time.Second}
	w.handleEvent(pq.ListenerEventConnected, nil)

	assert.Eventually(t, p.IsConnected, time.Second, 10*time.Millisecond)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdleWatcher_FirstConnectSkipsProbeWhenConnected(t *testing.T) {
	p, mock := newTestPool(t)
	expectProbeOK(mock)
	require.True(t, p.CheckHealth(context.Background()))

	w := &IdleWatcher{pool: p, timeout: time.Second}
	w.handleEvent(pq.ListenerEventConnected, nil)

	// An unexpected SELECT 1 would fail against the mock and flip the state.
	assert.Never(t, func() bool { return !p.IsConnected() }, 100*time.Millisecond, 10*time.Millisecond)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdleWatcher_CloseWithoutListener(t *testing.T) {
	p, _ := newTestPool(t)
	w := &IdleWatcher{pool: p}
	assert.NoError(t, w.Close())
}
