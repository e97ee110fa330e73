package db

import (
	"context"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// IdleWatcher keeps a dedicated lib/pq listener connection open and turns its
// connection events into pool state transitions. Errors it reports are not
// tied to any in-flight request.
type IdleWatcher struct {
	pool     *Pool
	listener *pq.Listener
	timeout  time.Duration
}

func WatchIdleConnections(dsn string, pool *Pool) *IdleWatcher {
	w := &IdleWatcher{pool: pool, timeout: 5 * time.Second}
	w.listener = pq.NewListener(dsn, time.Second, time.Minute, w.handleEvent)
	return w
}

func (w *IdleWatcher) handleEvent(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
		w.pool.HandleIdleError(err)
	case pq.ListenerEventReconnected:
		w.recheck()
	case pq.ListenerEventConnected:
		// First connect of a listener started while the database was down.
		if !w.pool.IsConnected() {
			w.recheck()
			return
		}
		w.pool.logger.Debug("Idle watcher connected")
	}
}

// recheck moves the pool to Connected through a real health check. The
// listener coming back is only a hint.
func (w *IdleWatcher) recheck() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		w.pool.CheckHealth(ctx)
	}()
}

func (w *IdleWatcher) Close() error {
	if w.listener == nil {
		return nil
	}
	if err := w.listener.Close(); err != nil {
		w.pool.logger.Warn("Failed to close idle watcher", zap.Error(err))
		return err
	}
	return nil
}
