package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Combine-Capital/drugfacts/pkg/config"
	"github.com/Combine-Capital/drugfacts/pkg/errors"
)

// PoolInterface is what Pool needs from *pgxpool.Pool; pgxmock pools implement it.
type PoolInterface interface {
	Database
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
	Stat() *pgxpool.Stat
}

var _ PoolInterface = (*pgxpool.Pool)(nil)

// Pool is the connection pool shared by the document store and its health check.
type Pool struct {
	pool PoolInterface
}

// NewPool opens a pool with the configured limits and pings it once. A failed ping
// closes the pool again and is reported as temporary.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	pc, err := pgxpool.ParseConfig(buildConnString(cfg))
	if err != nil {
		return nil, errors.NewInvalidInputWithCause("database", "invalid connection settings", err)
	}
	applyLimits(pc, cfg)

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, errors.NewTemporary("failed to create connection pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.NewTemporary("failed to ping database", err)
	}
	return &Pool{pool: pool}, nil
}

// NewPoolFromInterface wraps an existing pool, typically a pgxmock one.
func NewPoolFromInterface(p PoolInterface) *Pool {
	return &Pool{pool: p}
}

func applyLimits(pc *pgxpool.Config, cfg config.DatabaseConfig) {
	if cfg.MaxConns > 0 {
		pc.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		pc.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.ConnectTimeout > 0 {
		pc.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
}

// buildConnString renders a libpq keyword/value string. Values containing spaces,
// quotes or backslashes are single-quoted and escaped.
func buildConnString(cfg config.DatabaseConfig) string {
	pairs := [][2]string{
		{"host", cfg.Host},
		{"port", strconv.Itoa(cfg.Port)},
		{"dbname", cfg.Database},
		{"user", cfg.User},
		{"password", cfg.Password},
	}
	if cfg.SSLMode != "" {
		pairs = append(pairs, [2]string{"sslmode", cfg.SSLMode})
	}
	if cfg.ConnectTimeout > 0 {
		pairs = append(pairs, [2]string{"connect_timeout", strconv.Itoa(int(cfg.ConnectTimeout.Seconds()))})
	}

	var b strings.Builder
	for i, kv := range pairs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(kv[0])
		b.WriteByte('=')
		b.WriteString(quoteConnValue(kv[1]))
	}
	return b.String()
}

func quoteConnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

func (p *Pool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.pool.Query(ctx, sql, args...)
}

func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return p.pool.Exec(ctx, sql, args...)
}

// Begin opens a transaction; the caller must Commit or Rollback it.
func (p *Pool) Begin(ctx context.Context) (Transaction, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(Classify(err), "failed to begin transaction")
	}
	return pgxTx{tx}, nil
}

// WithTransaction commits when fn returns nil and rolls back otherwise. fn's own
// error is returned as is; a panic in fn rolls back and keeps unwinding.
func (p *Pool) WithTransaction(ctx context.Context, fn TransactionFunc) (err error) {
	tx, err := p.Begin(ctx)
	if err != nil {
		return err
	}

	committing := false
	defer func() {
		if committing {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && err != nil {
			err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	committing = true
	if err = tx.Commit(ctx); err != nil {
		return errors.Wrap(Classify(err), "failed to commit transaction")
	}
	return nil
}

func (p *Pool) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// Close releases every connection; the pool is unusable afterwards.
func (p *Pool) Close() { p.pool.Close() }

func (p *Pool) Stats() *pgxpool.Stat { return p.pool.Stat() }

// pgxTx adapts pgx.Tx to Transaction.
type pgxTx struct {
	pgx.Tx
}
