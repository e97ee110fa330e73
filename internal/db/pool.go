package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/leozw/tenant-tasks/internal/config"
)

// ErrPoolExhaustedOrTimeout is returned by Acquire when no connection became
// available within the connection-establishment timeout.
var ErrPoolExhaustedOrTimeout = errors.New("connection pool exhausted or acquire timed out")

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	defaultBackoffBase = time.Second
	defaultBackoffMax  = 10 * time.Second
)

// Pool owns the shared database handle and the process-wide belief about
// whether the database is reachable. Only health checks and idle-connection
// errors move the state; request handlers never touch it.
type Pool struct {
	db             *sqlx.DB
	logger         *zap.Logger
	minConns       int
	acquireTimeout time.Duration
	backoffBase    time.Duration
	backoffMax     time.Duration
	sleep          func(ctx context.Context, d time.Duration) error

	mu      sync.RWMutex
	state   State
	retries int
}

type Option func(*Pool)

// WithBackoff overrides the retry delays used by ConnectWithRetry.
func WithBackoff(base, limit time.Duration) Option {
	return func(p *Pool) {
		p.backoffBase = base
		p.backoffMax = limit
	}
}

func WithAcquireTimeout(d time.Duration) Option {
	return func(p *Pool) {
		p.acquireTimeout = d
	}
}

// DSN renders the lib/pq connection URL for cfg. An explicit URL wins.
func DSN(cfg config.DatabaseConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}

	sslMode := "disable"
	if cfg.SSL {
		sslMode = "require"
		if cfg.SSLVerify {
			sslMode = "verify-full"
		}
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	if cfg.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(cfg.ConnectTimeout.Seconds())))
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// NewConnection opens the handle without dialing, so a database that is down
// at startup leaves the process running in a degraded state.
func NewConnection(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.PoolMax)
	db.SetMaxIdleConns(cfg.PoolMax)
	db.SetConnMaxIdleTime(cfg.IdleTimeout)

	return db, nil
}

func NewPool(db *sqlx.DB, cfg config.DatabaseConfig, logger *zap.Logger, opts ...Option) *Pool {
	p := &Pool{
		db:             db,
		logger:         logger.Named("pool"),
		minConns:       cfg.PoolMin,
		acquireTimeout: cfg.ConnectTimeout,
		backoffBase:    defaultBackoffBase,
		backoffMax:     defaultBackoffMax,
		sleep:          sleepContext,
		state:          StateDisconnected,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) DB() *sqlx.DB {
	return p.db
}

// Acquire hands out an exclusively owned connection. Every successful call
// must be paired with exactly one Release.
func (p *Pool) Acquire(ctx context.Context) (*sqlx.Conn, error) {
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	conn, err := p.db.Connx(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrPoolExhaustedOrTimeout, p.acquireTimeout)
		}
		return nil, err
	}
	return conn, nil
}

func (p *Pool) Release(conn *sqlx.Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		p.logger.Warn("Failed to return connection to pool", zap.Error(err))
	}
}

// CheckHealth runs SELECT 1 on a pooled connection and records the outcome.
func (p *Pool) CheckHealth(ctx context.Context) bool {
	p.beginConnecting()

	conn, err := p.Acquire(ctx)
	if err != nil {
		p.markDisconnected()
		p.logger.Warn("Pool health check failed", zap.Error(err))
		return false
	}
	defer p.Release(conn)

	var one int
	if err := conn.QueryRowxContext(ctx, "SELECT 1").Scan(&one); err != nil {
		p.markDisconnected()
		p.logger.Warn("Pool health check failed", zap.Error(err))
		return false
	}

	p.markConnected()
	return true
}

// ConnectWithRetry calls CheckHealth up to maxAttempts times, sleeping with
// exponential backoff between failures. Only the calling goroutine waits.
func (p *Pool) ConnectWithRetry(ctx context.Context, maxAttempts int) bool {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if p.CheckHealth(ctx) {
			return true
		}

		p.mu.Lock()
		p.retries++
		p.mu.Unlock()

		p.logger.Warn("Connection attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
		)

		if attempt < maxAttempts {
			delay := p.backoff(attempt)
			p.logger.Info("Retrying connection", zap.Duration("delay", delay))
			if err := p.sleep(ctx, delay); err != nil {
				return false
			}
		}
	}
	return false
}

// ConnectInBackground runs ConnectWithRetry on its own goroutine and warms
// the pool once it succeeds. The channel receives the outcome and is closed.
func (p *Pool) ConnectInBackground(ctx context.Context, maxAttempts int) <-chan bool {
	done := make(chan bool, 1)
	go func() {
		defer close(done)
		ok := p.ConnectWithRetry(ctx, maxAttempts)
		if ok {
			p.Warm(ctx)
		}
		done <- ok
	}()
	return done
}

func (p *Pool) backoff(attempt int) time.Duration {
	delay := p.backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.backoffMax {
			return p.backoffMax
		}
	}
	return min(delay, p.backoffMax)
}

// HandleIdleError records an error raised outside any in-flight request. It
// only flips the state; the process keeps serving degraded responses.
func (p *Pool) HandleIdleError(err error) {
	p.markDisconnected()
	p.logger.Error("Unexpected error on idle connection", zap.Error(err))
}

// Warm opens up to PoolMin connections so the first requests do not pay the
// dial cost. database/sql may later close them after the idle timeout.
func (p *Pool) Warm(ctx context.Context) {
	conns := make([]*sqlx.Conn, 0, p.minConns)
	for i := 0; i < p.minConns; i++ {
		conn, err := p.Acquire(ctx)
		if err != nil {
			p.logger.Warn("Pool warm-up stopped early", zap.Int("opened", i), zap.Error(err))
			break
		}
		conns = append(conns, conn)
	}
	for _, conn := range conns {
		p.Release(conn)
	}
}

func (p *Pool) IsConnected() bool {
	return p.State() == StateConnected
}

func (p *Pool) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Retries is the number of failed attempts since the last successful check.
func (p *Pool) Retries() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.retries
}

func (p *Pool) Stats() sql.DBStats {
	return p.db.Stats()
}

func (p *Pool) Close() error {
	return p.db.Close()
}

func (p *Pool) beginConnecting() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateDisconnected {
		p.state = StateConnecting
	}
}

func (p *Pool) markConnected() {
	p.mu.Lock()
	prev := p.state
	p.state = StateConnected
	p.retries = 0
	p.mu.Unlock()

	if prev != StateConnected {
		p.logger.Info("Database connection established")
	}
}

func (p *Pool) markDisconnected() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateDisconnected
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
