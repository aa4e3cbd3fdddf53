package repo

import (
	"context"
	"fmt"

	"figureworks/internal/infra"
	"figureworks/internal/sqlinline"
)

// EnsureSchema creates tables, indexes and the status notification trigger.
func EnsureSchema(ctx context.Context, sql infra.SQLExecutor) error {
	if sql == nil {
		return fmt.Errorf("repo: ensure schema: nil executor")
	}
	if _, err := sql.Exec(ctx, sqlinline.QSchema); err != nil {
		return fmt.Errorf("repo: ensure schema: %w", err)
	}
	return nil
}
