package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"loopcast/internal/models"
)

// PostgresConfig carries connection settings for the Postgres backend.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	ApplicationName string
	ConnectTimeout  time.Duration
	AdminBootstrap  AdminBootstrap
	Now             func() time.Time
}

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
	now  func() time.Time
}

var _ Repository = (*postgresRepository)(nil)

// NewPostgresRepository opens a Postgres-backed repository, applies the
// schema migration, and seeds default plans, settings, and the bootstrap
// admin account.
func NewPostgresRepository(ctx context.Context, dsn string, opts ...Option) (Repository, error) {
	cfg := PostgresConfig{DSN: dsn, Now: time.Now}
	for _, opt := range opts {
		opt.applyPostgres(&cfg)
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	repo := &postgresRepository{pool: pool, cfg: cfg, now: cfg.Now}
	if repo.now == nil {
		repo.now = time.Now
	}
	if err := repo.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := repo.seed(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}

const userColumns = "id, username, password_hash, role, plan_id, storage_used, usage_seconds, COALESCE(last_usage_reset, ''), created_at"

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.PlanID,
		&u.StorageUsed, &u.UsageSeconds, &u.LastUsageReset, &u.CreatedAt)
	return u, translateError(err)
}

const planColumns = "id, name, max_storage_mb, allowed_types, max_active_streams, daily_limit_hours, limit_type, price_text, features_text"

func scanPlan(row pgx.Row) (models.Plan, error) {
	var (
		p     models.Plan
		types string
	)
	err := row.Scan(&p.ID, &p.Name, &p.MaxStorageMB, &types, &p.MaxActiveStreams,
		&p.DailyLimitHours, &p.LimitType, &p.PriceText, &p.FeaturesText)
	if err != nil {
		return models.Plan{}, translateError(err)
	}
	p.AllowedTypes = splitTypes(types)
	return p, nil
}

func splitTypes(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

const mediaColumns = "id, owner_id, filename, path, size_bytes, type, locked, created_at"

func scanMedia(row pgx.Row) (models.MediaFile, error) {
	var m models.MediaFile
	err := row.Scan(&m.ID, &m.OwnerID, &m.Filename, &m.Path, &m.SizeBytes, &m.Type, &m.Locked, &m.CreatedAt)
	return m, translateError(err)
}

func (r *postgresRepository) CreateUser(ctx context.Context, params CreateUserParams) (models.User, error) {
	username := strings.TrimSpace(params.Username)
	if username == "" {
		return models.User{}, errors.New("username is required")
	}
	if len(params.Password) < 6 {
		return models.User{}, errors.New("password must be at least 6 characters")
	}
	hash, err := hashPassword(params.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	role := params.Role
	if role == "" {
		role = "user"
	}
	planID := params.PlanID
	if planID == "" {
		planID = "trial"
	}
	user := models.User{
		ID:           newID("usr"),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		PlanID:       planID,
		CreatedAt:    r.now().UTC(),
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO users (id, username, password_hash, role, plan_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Username, user.PasswordHash, user.Role, user.PlanID, user.CreatedAt)
	if err != nil {
		return models.User{}, fmt.Errorf("create user: %w", translateError(err))
	}
	return user, nil
}

func (r *postgresRepository) AuthenticateUser(ctx context.Context, username, password string) (models.User, error) {
	user, err := r.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}
	if !verifyPassword(user.PasswordHash, password) {
		return models.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func (r *postgresRepository) GetUser(ctx context.Context, id string) (models.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

func (r *postgresRepository) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE lower(username) = lower($1)", username))
}

func (r *postgresRepository) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+userColumns+" FROM users ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *postgresRepository) UpdateUser(ctx context.Context, id string, update UserUpdate) (models.User, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.User{}, fmt.Errorf("begin update user: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	user, err := scanUser(tx.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return models.User{}, err
	}
	if update.PlanID != nil {
		user.PlanID = *update.PlanID
	}
	if update.Role != nil {
		user.Role = *update.Role
	}
	if update.Password != nil {
		hash, err := hashPassword(*update.Password)
		if err != nil {
			return models.User{}, fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = hash
	}
	if update.StorageUsed != nil {
		user.StorageUsed = *update.StorageUsed
	}
	_, err = tx.Exec(ctx,
		`UPDATE users SET plan_id = $2, role = $3, password_hash = $4, storage_used = $5 WHERE id = $1`,
		user.ID, user.PlanID, user.Role, user.PasswordHash, user.StorageUsed)
	if err != nil {
		return models.User{}, fmt.Errorf("update user: %w", translateError(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return models.User{}, fmt.Errorf("commit update user: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) DeleteUser(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresRepository) ListPlans(ctx context.Context) ([]models.Plan, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+planColumns+" FROM plans ORDER BY max_storage_mb")
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()
	var plans []models.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (r *postgresRepository) GetPlan(ctx context.Context, id string) (models.Plan, error) {
	return scanPlan(r.pool.QueryRow(ctx, "SELECT "+planColumns+" FROM plans WHERE id = $1", id))
}

func (r *postgresRepository) UpsertPlan(ctx context.Context, plan models.Plan) (models.Plan, error) {
	if strings.TrimSpace(plan.ID) == "" {
		return models.Plan{}, errors.New("plan id is required")
	}
	if strings.TrimSpace(plan.Name) == "" {
		return models.Plan{}, errors.New("plan name is required")
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO plans (id, name, max_storage_mb, allowed_types, max_active_streams, daily_limit_hours, limit_type, price_text, features_text)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   max_storage_mb = EXCLUDED.max_storage_mb,
		   allowed_types = EXCLUDED.allowed_types,
		   max_active_streams = EXCLUDED.max_active_streams,
		   daily_limit_hours = EXCLUDED.daily_limit_hours,
		   limit_type = EXCLUDED.limit_type,
		   price_text = EXCLUDED.price_text,
		   features_text = EXCLUDED.features_text`,
		plan.ID, plan.Name, plan.MaxStorageMB, strings.Join(plan.AllowedTypes, ","),
		plan.MaxActiveStreams, plan.DailyLimitHours, string(plan.LimitType),
		plan.PriceText, plan.FeaturesText)
	if err != nil {
		return models.Plan{}, fmt.Errorf("upsert plan: %w", err)
	}
	return plan, nil
}

func (r *postgresRepository) AddMediaFile(ctx context.Context, params CreateMediaParams) (models.MediaFile, error) {
	if params.OwnerID == "" || params.Filename == "" || params.Path == "" {
		return models.MediaFile{}, errors.New("owner, filename and path are required")
	}
	media := models.MediaFile{
		ID:        newID("med"),
		OwnerID:   params.OwnerID,
		Filename:  params.Filename,
		Path:      params.Path,
		SizeBytes: params.SizeBytes,
		Type:      params.Type,
		CreatedAt: r.now().UTC(),
	}
	if media.Type == "" {
		media.Type = models.ClassifyExtension(filepath.Ext(media.Filename))
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.MediaFile{}, fmt.Errorf("begin add media: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO media_files (id, owner_id, filename, path, size_bytes, type, locked, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)`,
		media.ID, media.OwnerID, media.Filename, media.Path, media.SizeBytes, string(media.Type), media.CreatedAt)
	if err != nil {
		return models.MediaFile{}, fmt.Errorf("add media: %w", translateError(err))
	}
	_, err = tx.Exec(ctx,
		"UPDATE users SET storage_used = storage_used + $2 WHERE id = $1",
		media.OwnerID, media.SizeBytes)
	if err != nil {
		return models.MediaFile{}, fmt.Errorf("account storage: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.MediaFile{}, fmt.Errorf("commit add media: %w", err)
	}
	return media, nil
}

func (r *postgresRepository) ListMediaFiles(ctx context.Context, ownerID string) ([]models.MediaFile, error) {
	query := "SELECT " + mediaColumns + " FROM media_files ORDER BY created_at DESC"
	args := []any{}
	if ownerID != "" {
		query = "SELECT " + mediaColumns + " FROM media_files WHERE owner_id = $1 ORDER BY created_at DESC"
		args = append(args, ownerID)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	defer rows.Close()
	var files []models.MediaFile
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, m)
	}
	return files, rows.Err()
}

func (r *postgresRepository) GetMediaFile(ctx context.Context, id string) (models.MediaFile, error) {
	return scanMedia(r.pool.QueryRow(ctx,
		"SELECT "+mediaColumns+" FROM media_files WHERE id = $1", id))
}

func (r *postgresRepository) SetMediaLocked(ctx context.Context, id string, locked bool) (models.MediaFile, error) {
	return scanMedia(r.pool.QueryRow(ctx,
		"UPDATE media_files SET locked = $2 WHERE id = $1 RETURNING "+mediaColumns, id, locked))
}

func (r *postgresRepository) DeleteMediaFile(ctx context.Context, id string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin delete media: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	media, err := scanMedia(tx.QueryRow(ctx,
		"SELECT "+mediaColumns+" FROM media_files WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return err
	}
	if media.Locked {
		return ErrLocked
	}
	if _, err := tx.Exec(ctx, "DELETE FROM media_files WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	_, err = tx.Exec(ctx,
		"UPDATE users SET storage_used = GREATEST(storage_used - $2, 0) WHERE id = $1",
		media.OwnerID, media.SizeBytes)
	if err != nil {
		return fmt.Errorf("release storage: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete media: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.pool.QueryRow(ctx, "SELECT value FROM settings WHERE key = $1", key).Scan(&value)
	if err != nil {
		return "", translateError(err)
	}
	return value, nil
}

func (r *postgresRepository) SetSetting(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("setting key is required")
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

func (r *postgresRepository) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (r *postgresRepository) SyncUsage(ctx context.Context, userID string) (models.User, models.Plan, error) {
	return r.addUsage(ctx, userID, 0)
}

func (r *postgresRepository) AddUsage(ctx context.Context, userID string, deltaSeconds int64) (models.User, models.Plan, error) {
	if deltaSeconds < 0 {
		deltaSeconds = 0
	}
	return r.addUsage(ctx, userID, deltaSeconds)
}

// addUsage runs the reset-then-charge sequence in one transaction, with the
// user row locked so concurrent sessions cannot lose updates.
func (r *postgresRepository) addUsage(ctx context.Context, userID string, delta int64) (models.User, models.Plan, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.User{}, models.Plan{}, fmt.Errorf("begin usage charge: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	user, err := scanUser(tx.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1 FOR UPDATE", userID))
	if err != nil {
		return models.User{}, models.Plan{}, err
	}
	plan, err := scanPlan(tx.QueryRow(ctx,
		"SELECT "+planColumns+" FROM plans WHERE id = $1", user.PlanID))
	if err != nil {
		return models.User{}, models.Plan{}, err
	}

	user, changed := syncUsage(user, plan, r.now())
	if delta > 0 {
		user.UsageSeconds += delta
		changed = true
	}
	if changed {
		_, err = tx.Exec(ctx,
			"UPDATE users SET usage_seconds = $2, last_usage_reset = $3 WHERE id = $1",
			user.ID, user.UsageSeconds, user.LastUsageReset)
		if err != nil {
			return models.User{}, models.Plan{}, fmt.Errorf("charge usage: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return models.User{}, models.Plan{}, fmt.Errorf("commit usage charge: %w", err)
	}
	return user, plan, nil
}
