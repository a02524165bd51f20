// Package database is the PostgreSQL connection layer of the document store.
//
// Pool wraps pgxpool with the configured limits and adds transactions, health checks
// and classification of transient failures:
//
//	pool, err := database.NewPool(ctx, cfg.Database)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	err = pool.WithTransaction(ctx, func(tx database.Transaction) error {
//		_, err := tx.Exec(ctx, upsertDrug, slug, doc)
//		return err
//	})
package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Database is implemented by both Pool and Transaction.
type Database interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	// QueryRow defers errors to Scan; no rows scans as pgx.ErrNoRows.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Transaction is a Database bound to one transaction.
type Transaction interface {
	Database
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionFunc runs inside WithTransaction. Returning an error rolls back.
type TransactionFunc func(tx Transaction) error
