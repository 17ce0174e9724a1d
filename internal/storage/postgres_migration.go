package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		max_storage_mb BIGINT NOT NULL DEFAULT 0,
		allowed_types TEXT NOT NULL DEFAULT '',
		max_active_streams INTEGER NOT NULL DEFAULT 1,
		daily_limit_hours INTEGER NOT NULL DEFAULT 24,
		limit_type TEXT NOT NULL DEFAULT 'daily',
		price_text TEXT NOT NULL DEFAULT '',
		features_text TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		plan_id TEXT NOT NULL REFERENCES plans(id),
		storage_used BIGINT NOT NULL DEFAULT 0,
		usage_seconds BIGINT NOT NULL DEFAULT 0,
		last_usage_reset TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS media_files (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		filename TEXT NOT NULL,
		path TEXT NOT NULL,
		size_bytes BIGINT NOT NULL DEFAULT 0,
		type TEXT NOT NULL DEFAULT 'video',
		locked BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS media_files_owner_idx ON media_files (owner_id)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT ''
	)`,
}

func (r *postgresRepository) migrate(ctx context.Context) error {
	for _, stmt := range migrationStatements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}

// seed inserts the default plans, settings, and the bootstrap admin, all
// guarded so repeated boots never clobber operator changes.
func (r *postgresRepository) seed(ctx context.Context) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, plan := range DefaultPlans() {
		_, err := tx.Exec(ctx,
			`INSERT INTO plans (id, name, max_storage_mb, allowed_types, max_active_streams, daily_limit_hours, limit_type, price_text, features_text)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (id) DO NOTHING`,
			plan.ID, plan.Name, plan.MaxStorageMB, strings.Join(plan.AllowedTypes, ","),
			plan.MaxActiveStreams, plan.DailyLimitHours, string(plan.LimitType),
			plan.PriceText, plan.FeaturesText)
		if err != nil {
			return fmt.Errorf("seed plan %s: %w", plan.ID, err)
		}
	}
	for key, value := range defaultSettings() {
		_, err := tx.Exec(ctx,
			`INSERT INTO settings (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
			key, value)
		if err != nil {
			return fmt.Errorf("seed setting %s: %w", key, err)
		}
	}

	if r.cfg.AdminBootstrap.Password != "" {
		var admins int
		if err := tx.QueryRow(ctx,
			"SELECT count(*) FROM users WHERE lower(role) = 'admin'").Scan(&admins); err != nil {
			return fmt.Errorf("count admins: %w", err)
		}
		if admins == 0 {
			username := r.cfg.AdminBootstrap.Username
			if username == "" {
				username = defaultAdminUsername
			}
			hash, err := hashPassword(r.cfg.AdminBootstrap.Password)
			if err != nil {
				return fmt.Errorf("hash bootstrap admin password: %w", err)
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO users (id, username, password_hash, role, plan_id, created_at)
				 VALUES ($1, $2, $3, 'admin', $4, $5)
				 ON CONFLICT (username) DO NOTHING`,
				newID("usr"), username, hash, defaultAdminPlanID, r.now().UTC())
			if err != nil {
				return fmt.Errorf("seed admin account: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit seed transaction: %w", err)
	}
	return nil
}
