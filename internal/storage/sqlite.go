package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shohag/hookdispatch/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS webhook_configs (
			id TEXT PRIMARY KEY,
			creator_id TEXT NOT NULL,
			url TEXT NOT NULL,
			secret TEXT NOT NULL DEFAULT '',
			events TEXT NOT NULL DEFAULT '[]',
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_attempts (
			id TEXT PRIMARY KEY,
			webhook_config_id TEXT NOT NULL REFERENCES webhook_configs(id) ON DELETE CASCADE,
			delivery_id TEXT NOT NULL DEFAULT '',
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			response_body TEXT NOT NULL DEFAULT '',
			attempt_number INTEGER NOT NULL,
			success INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_configs_creator ON webhook_configs(creator_id, active)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_webhook ON delivery_attempts(webhook_config_id)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_delivery ON delivery_attempts(delivery_id)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Webhook configs ---

func (s *SQLiteStorage) LoadActiveConfigs(ctx context.Context, creatorID string) ([]models.WebhookConfig, error) {
	return s.queryWebhooks(ctx,
		`SELECT `+webhookColumns+` FROM webhook_configs WHERE creator_id = ? AND active = 1 ORDER BY created_at`, creatorID)
}

func (s *SQLiteStorage) CreateWebhook(ctx context.Context, cfg *models.WebhookConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_configs (`+webhookColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ID, cfg.CreatorID, cfg.URL, cfg.Secret, encodeEvents(cfg.Events), cfg.Active, cfg.CreatedAt, cfg.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetWebhook(ctx context.Context, id string) (*models.WebhookConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+webhookColumns+` FROM webhook_configs WHERE id = ?`, id)
	cfg, err := scanWebhook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cfg, err
}

func (s *SQLiteStorage) ListWebhooks(ctx context.Context, creatorID string) ([]models.WebhookConfig, error) {
	return s.queryWebhooks(ctx,
		`SELECT `+webhookColumns+` FROM webhook_configs WHERE creator_id = ? ORDER BY created_at DESC`, creatorID)
}

func (s *SQLiteStorage) queryWebhooks(ctx context.Context, query string, args ...any) ([]models.WebhookConfig, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []models.WebhookConfig
	for rows.Next() {
		cfg, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

func (s *SQLiteStorage) UpdateWebhook(ctx context.Context, cfg *models.WebhookConfig) error {
	cfg.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_configs SET url = ?, secret = ?, events = ?, active = ?, updated_at = ? WHERE id = ?`,
		cfg.URL, cfg.Secret, encodeEvents(cfg.Events), cfg.Active, cfg.UpdatedAt, cfg.ID,
	)
	return affected(res, err)
}

func (s *SQLiteStorage) ToggleWebhook(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_configs SET active = ?, updated_at = ? WHERE id = ?`, active, time.Now().UTC(), id)
	return affected(res, err)
}

func (s *SQLiteStorage) DeleteWebhook(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_configs WHERE id = ?`, id)
	return affected(res, err)
}

// --- Attempts ---

func (s *SQLiteStorage) AppendAttempt(ctx context.Context, a *models.DeliveryAttemptRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_attempts (`+attemptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.WebhookConfigID, a.DeliveryID, a.EventType, a.Payload, a.StatusCode,
		a.ResponseBody, a.AttemptNumber, a.Success, a.LatencyMs, a.Error, a.CreatedAt,
	)
	return err
}

func (s *SQLiteStorage) ListAttempts(ctx context.Context, webhookID string, limit int) ([]models.DeliveryAttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM delivery_attempts WHERE webhook_config_id = ? ORDER BY id DESC LIMIT ?`,
		webhookID, attemptLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []models.DeliveryAttemptRecord
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// --- Stats ---

func (s *SQLiteStorage) GetStats(ctx context.Context, creatorID string) (*Stats, error) {
	return queryStats(ctx, s.db, creatorID, sqlitePlaceholder)
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
