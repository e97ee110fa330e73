package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/leozw/tenant-tasks/internal/tenant"
)

// Querier is the query surface handed to repositories. A *Scope satisfies it
// for one tenant.
type Querier interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Executor struct {
	pool     *Pool
	registry *tenant.Registry
	observe  func(tenantID string, err error)
}

func NewExecutor(pool *Pool, registry *tenant.Registry) *Executor {
	return &Executor{pool: pool, registry: registry}
}

// OnQuery registers a hook called after every tenant query, used for metrics.
func (e *Executor) OnQuery(fn func(tenantID string, err error)) {
	e.observe = fn
}

// withTenantConn runs fn on a connection whose search_path points at the
// tenant's schema. The connection is released on every exit path.
func (e *Executor) withTenantConn(ctx context.Context, tenantID string, fn func(conn *sqlx.Conn) error) (err error) {
	if !e.registry.IsValid(tenantID) {
		return fmt.Errorf("%w: %s", tenant.ErrInvalidTenant, tenantID)
	}

	if e.observe != nil {
		defer func() { e.observe(tenantID, err) }()
	}

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer e.pool.Release(conn)

	// The schema name is the only value ever interpolated into SQL here. It
	// is derived from a registry-validated id and must stay that way; do not
	// widen this to accept arbitrary identifiers. The directive runs on every
	// call because pooled connections keep whatever path the last user set.
	if _, err := conn.ExecContext(ctx, "SET search_path TO "+tenant.SchemaName(tenantID)); err != nil {
		return fmt.Errorf("set search_path for tenant %s: %w", tenantID, err)
	}

	return fn(conn)
}

func (e *Executor) Select(ctx context.Context, tenantID string, dest any, query string, args ...any) error {
	return e.withTenantConn(ctx, tenantID, func(conn *sqlx.Conn) error {
		return conn.SelectContext(ctx, dest, query, args...)
	})
}

func (e *Executor) Get(ctx context.Context, tenantID string, dest any, query string, args ...any) error {
	return e.withTenantConn(ctx, tenantID, func(conn *sqlx.Conn) error {
		return conn.GetContext(ctx, dest, query, args...)
	})
}

func (e *Executor) Exec(ctx context.Context, tenantID string, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := e.withTenantConn(ctx, tenantID, func(conn *sqlx.Conn) error {
		var err error
		result, err = conn.ExecContext(ctx, query, args...)
		return err
	})
	return result, err
}

// ExecuteInTenant is the entry point for code paths outside an HTTP request,
// such as operator tooling.
func (e *Executor) ExecuteInTenant(ctx context.Context, tenantID string, query string, args ...any) (sql.Result, error) {
	return e.Exec(ctx, tenantID, query, args...)
}

// Bind returns a Querier pinned to tenantID. The id is validated here and
// again on every call.
func (e *Executor) Bind(tenantID string) (*Scope, error) {
	if !e.registry.IsValid(tenantID) {
		return nil, fmt.Errorf("%w: %s", tenant.ErrInvalidTenant, tenantID)
	}
	return &Scope{executor: e, tenantID: tenantID}, nil
}

// Scope is the per-request queryInTenant binding.
type Scope struct {
	executor *Executor
	tenantID string
}

func (s *Scope) TenantID() string {
	return s.tenantID
}

func (s *Scope) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return s.executor.Select(ctx, s.tenantID, dest, query, args...)
}

func (s *Scope) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return s.executor.Get(ctx, s.tenantID, dest, query, args...)
}

func (s *Scope) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.executor.Exec(ctx, s.tenantID, query, args...)
}
