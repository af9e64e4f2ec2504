package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scout-progress/internal/config"
)

// Repository owns the PostgreSQL connection pool shared by the stores
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// querier is implemented by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return NewRepositoryFromPool(pool, logger), nil
}

// NewRepositoryFromPool wraps an existing pool
func NewRepositoryFromPool(pool *pgxpool.Pool, logger *slog.Logger) *Repository {
	return &Repository{
		pool:   pool,
		logger: logger,
	}
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks connectivity
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// withTx runs fn in a transaction, committing when it returns nil
func (r *Repository) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			r.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS members (
			member_id VARCHAR(64) PRIMARY KEY,
			points INT NOT NULL DEFAULT 0,
			level INT NOT NULL DEFAULT 1,
			vitality INT NOT NULL DEFAULT 100,
			last_daily_login_date VARCHAR(10),
			last_vitality_update TIMESTAMPTZ,
			streak_count INT NOT NULL DEFAULT 1,
			rank_tier VARCHAR(16) NOT NULL DEFAULT 'ENTRANT',
			religious_affiliation VARCHAR(64) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS activity_log (
			id BIGSERIAL PRIMARY KEY,
			member_id VARCHAR(64) NOT NULL REFERENCES members(member_id) ON DELETE CASCADE,
			logged_at TIMESTAMPTZ NOT NULL,
			activity VARCHAR(255) NOT NULL,
			points_earned INT NOT NULL DEFAULT 0,
			entry_type VARCHAR(20) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS curriculum_items (
			id VARCHAR(64) PRIMARY KEY,
			level VARCHAR(16) NOT NULL,
			category VARCHAR(16) NOT NULL,
			item_number INT NOT NULL,
			religious_subtype VARCHAR(64) NOT NULL DEFAULT '',
			title VARCHAR(255) NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS submissions (
			id VARCHAR(64) PRIMARY KEY,
			member_id VARCHAR(64) NOT NULL REFERENCES members(member_id) ON DELETE CASCADE,
			item_id VARCHAR(64) NOT NULL DEFAULT '',
			level VARCHAR(16) NOT NULL,
			category VARCHAR(16) NOT NULL,
			item_number INT NOT NULL,
			religious_subtype VARCHAR(64) NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
			submitted_at TIMESTAMPTZ NOT NULL,
			verified_at TIMESTAMPTZ,
			verified_by VARCHAR(64) NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_log_member ON activity_log(member_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_member_status ON submissions(member_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_curriculum_items_level ON curriculum_items(level, category, item_number)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}
