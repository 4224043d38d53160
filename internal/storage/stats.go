package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shohag/hookdispatch/internal/models"
)

// queryStats works for both SQL backends; placeholder renders the n-th bind
// parameter in the backend's syntax.
func queryStats(ctx context.Context, db *sql.DB, creatorID string, placeholder func(n int) string) (*Stats, error) {
	stats := &Stats{}

	err := db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN active THEN 1 ELSE 0 END), 0)
		 FROM webhook_configs WHERE creator_id = %s`, placeholder(1)),
		creatorID,
	).Scan(&stats.TotalWebhooks, &stats.ActiveWebhooks)
	if err != nil {
		return nil, fmt.Errorf("count webhooks: %w", err)
	}

	err = db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN a.success THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN a.status_code = 0 AND a.response_body = %s THEN 1 ELSE 0 END), 0)
		 FROM delivery_attempts a JOIN webhook_configs w ON a.webhook_config_id = w.id
		 WHERE w.creator_id = %s`, placeholder(1), placeholder(2)),
		models.BlockedResponseBody, creatorID,
	).Scan(&stats.TotalAttempts, &stats.SuccessCount, &stats.BlockedCount)
	if err != nil {
		return nil, fmt.Errorf("count attempts: %w", err)
	}

	stats.FailedCount = stats.TotalAttempts - stats.SuccessCount - stats.BlockedCount
	stats.finish()
	return stats, nil
}

func sqlitePlaceholder(int) string { return "?" }

func postgresPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }
