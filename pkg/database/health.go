package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Combine-Capital/drugfacts/pkg/errors"
	"github.com/Combine-Capital/drugfacts/pkg/health"
)

const healthTimeout = 5 * time.Second

// CheckHealth runs SELECT 1, bounded by a 5s timeout when ctx has no deadline.
func CheckHealth(ctx context.Context, db Database) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, healthTimeout)
		defer cancel()
	}

	var result int
	if err := db.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return errors.NewTemporary("database health check failed", err)
	}
	if result != 1 {
		return fmt.Errorf("health check returned unexpected result: %d", result)
	}
	return nil
}

// Check implements health.Checker. An exhausted pool reports degraded.
func (p *Pool) Check(ctx context.Context) error {
	if err := CheckHealth(ctx, p); err != nil {
		return err
	}

	if stats := p.Stats(); stats != nil && stats.MaxConns() > 0 {
		if stats.IdleConns() == 0 && stats.TotalConns() == stats.MaxConns() {
			return health.Degraded(fmt.Sprintf("connection pool exhausted: %d/%d connections in use",
				stats.TotalConns(), stats.MaxConns()))
		}
	}
	return nil
}
