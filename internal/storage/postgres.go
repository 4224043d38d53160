package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shohag/hookdispatch/internal/models"
)

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*PostgresStorage, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(time.Hour)
	return &PostgresStorage{db: db}, nil
}

func (s *PostgresStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS webhook_configs (
			id TEXT PRIMARY KEY,
			creator_id TEXT NOT NULL,
			url TEXT NOT NULL,
			secret TEXT NOT NULL DEFAULT '',
			events TEXT NOT NULL DEFAULT '[]',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
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
			success BOOLEAN NOT NULL DEFAULT FALSE,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
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

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

// --- Webhook configs ---

func (s *PostgresStorage) LoadActiveConfigs(ctx context.Context, creatorID string) ([]models.WebhookConfig, error) {
	return s.queryWebhooks(ctx,
		`SELECT `+webhookColumns+` FROM webhook_configs WHERE creator_id = $1 AND active ORDER BY created_at`, creatorID)
}

func (s *PostgresStorage) CreateWebhook(ctx context.Context, cfg *models.WebhookConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_configs (`+webhookColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		cfg.ID, cfg.CreatorID, cfg.URL, cfg.Secret, encodeEvents(cfg.Events), cfg.Active, cfg.CreatedAt, cfg.UpdatedAt,
	)
	return err
}

func (s *PostgresStorage) GetWebhook(ctx context.Context, id string) (*models.WebhookConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+webhookColumns+` FROM webhook_configs WHERE id = $1`, id)
	cfg, err := scanWebhook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cfg, err
}

func (s *PostgresStorage) ListWebhooks(ctx context.Context, creatorID string) ([]models.WebhookConfig, error) {
	return s.queryWebhooks(ctx,
		`SELECT `+webhookColumns+` FROM webhook_configs WHERE creator_id = $1 ORDER BY created_at DESC`, creatorID)
}

func (s *PostgresStorage) queryWebhooks(ctx context.Context, query string, args ...any) ([]models.WebhookConfig, error) {
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

func (s *PostgresStorage) UpdateWebhook(ctx context.Context, cfg *models.WebhookConfig) error {
	cfg.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_configs SET url = $1, secret = $2, events = $3, active = $4, updated_at = $5 WHERE id = $6`,
		cfg.URL, cfg.Secret, encodeEvents(cfg.Events), cfg.Active, cfg.UpdatedAt, cfg.ID,
	)
	return affected(res, err)
}

func (s *PostgresStorage) ToggleWebhook(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_configs SET active = $1, updated_at = $2 WHERE id = $3`, active, time.Now().UTC(), id)
	return affected(res, err)
}

func (s *PostgresStorage) DeleteWebhook(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_configs WHERE id = $1`, id)
	return affected(res, err)
}

// --- Attempts ---

func (s *PostgresStorage) AppendAttempt(ctx context.Context, a *models.DeliveryAttemptRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_attempts (`+attemptColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.WebhookConfigID, a.DeliveryID, string(a.EventType), a.Payload, a.StatusCode,
		a.ResponseBody, a.AttemptNumber, a.Success, a.LatencyMs, a.Error, a.CreatedAt,
	)
	return err
}

func (s *PostgresStorage) ListAttempts(ctx context.Context, webhookID string, limit int) ([]models.DeliveryAttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM delivery_attempts WHERE webhook_config_id = $1 ORDER BY id DESC LIMIT $2`,
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

func (s *PostgresStorage) GetStats(ctx context.Context, creatorID string) (*Stats, error) {
	return queryStats(ctx, s.db, creatorID, postgresPlaceholder)
}
