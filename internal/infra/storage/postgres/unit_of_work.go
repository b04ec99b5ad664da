package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/GPT012/pyoz-orchestrator/internal/infra/storage"
)

// View runs fn inside a read-only REPEATABLE READ transaction so that all
// five configuration tables are read from the same snapshot. The
// transaction is always rolled back: nothing is ever written.
func (r *ConfigRepo) View(ctx context.Context, fn func(storage.ConfigReader) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	return fn(&configReader{q: tx, timeout: r.db.queryTimeout})
}
