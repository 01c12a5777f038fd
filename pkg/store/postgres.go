package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql (migrations)

	"github.com/webpilot-ai/webpilot/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresStore is the pgx-backed Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database, runs pending migrations, and
// returns the store.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if err := runMigrations(dsn); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func runMigrations(dsn string) error {
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (p *PostgresStore) CreateSession(ctx context.Context, s *models.Session) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, task, status, max_steps, started_at, completed_at,
			actions_count, result, title, summary, error_message, agent_config, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		s.ID, s.UserID, s.Task, s.Status, s.MaxSteps, s.StartedAt, s.CompletedAt,
		s.ActionsCount, s.Result, s.Title, s.Summary, s.ErrorMessage, s.AgentConfig, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, user_id, task, status, max_steps, started_at, completed_at,
			actions_count, result, title, summary, error_message, agent_config, created_at
		FROM sessions WHERE id = $1`, id)
	var s models.Session
	err := row.Scan(&s.ID, &s.UserID, &s.Task, &s.Status, &s.MaxSteps, &s.StartedAt, &s.CompletedAt,
		&s.ActionsCount, &s.Result, &s.Title, &s.Summary, &s.ErrorMessage, &s.AgentConfig, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return &s, nil
}

func (p *PostgresStore) UpdateSession(ctx context.Context, s *models.Session) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE sessions SET status=$2, max_steps=$3, started_at=$4, completed_at=$5,
			actions_count=$6, result=$7, title=$8, summary=$9, error_message=$10, agent_config=$11
		WHERE id=$1`,
		s.ID, s.Status, s.MaxSteps, s.StartedAt, s.CompletedAt,
		s.ActionsCount, s.Result, s.Title, s.Summary, s.ErrorMessage, s.AgentConfig)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListSessions(ctx context.Context, userID string, limit, offset int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, task, status, max_steps, started_at, completed_at,
			actions_count, result, title, summary, error_message, agent_config, created_at
		FROM sessions
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.Task, &s.Status, &s.MaxSteps, &s.StartedAt, &s.CompletedAt,
			&s.ActionsCount, &s.Result, &s.Title, &s.Summary, &s.ErrorMessage, &s.AgentConfig, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) AppendAction(ctx context.Context, a *models.ActionRecord) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO actions (id, session_id, step, action_type, target_description, target_selector,
			input_value, output_value, success, duration_ms, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		a.ID, a.SessionID, a.Step, a.ActionType, a.TargetDescription, a.TargetSelector,
		a.InputValue, a.OutputValue, a.Success, a.DurationMs, a.Metadata, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListActions(ctx context.Context, sessionID string) ([]*models.ActionRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, session_id, step, action_type, target_description, target_selector,
			input_value, output_value, success, duration_ms, metadata, created_at
		FROM actions WHERE session_id = $1 ORDER BY step ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []*models.ActionRecord
	for rows.Next() {
		var a models.ActionRecord
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Step, &a.ActionType, &a.TargetDescription, &a.TargetSelector,
			&a.InputValue, &a.OutputValue, &a.Success, &a.DurationMs, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) AppendMessage(ctx context.Context, m *models.ChatMessage) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO chat_messages (id, session_id, role, content, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		m.ID, m.SessionID, m.Role, m.Content, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListMessages(ctx context.Context, sessionID string) ([]*models.ChatMessage, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, session_id, role, content, created_at
		FROM chat_messages WHERE session_id = $1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	var out []*models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetPlan(ctx context.Context, cacheKey string) (*models.CachedPlan, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT cache_key, goal, url, actions, avg_duration_ms, success_count, last_used_at, created_at
		FROM cached_plans WHERE cache_key = $1`, cacheKey)
	var pl models.CachedPlan
	err := row.Scan(&pl.CacheKey, &pl.Goal, &pl.URL, &pl.Actions, &pl.AvgDurationMs,
		&pl.SuccessCount, &pl.LastUsedAt, &pl.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select cached plan: %w", err)
	}
	return &pl, nil
}

func (p *PostgresStore) UpsertPlan(ctx context.Context, pl *models.CachedPlan) error {
	if pl.CreatedAt.IsZero() {
		pl.CreatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO cached_plans (cache_key, goal, url, actions, avg_duration_ms, success_count, last_used_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (cache_key) DO UPDATE SET
			goal = EXCLUDED.goal,
			url = EXCLUDED.url,
			actions = EXCLUDED.actions,
			avg_duration_ms = EXCLUDED.avg_duration_ms,
			last_used_at = EXCLUDED.last_used_at`,
		pl.CacheKey, pl.Goal, pl.URL, pl.Actions, pl.AvgDurationMs, pl.SuccessCount, pl.LastUsedAt, pl.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert cached plan: %w", err)
	}
	return nil
}

func (p *PostgresStore) TouchPlan(ctx context.Context, cacheKey string, usedAt time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE cached_plans SET success_count = success_count + 1, last_used_at = $2
		WHERE cache_key = $1`, cacheKey, usedAt)
	if err != nil {
		return fmt.Errorf("touch cached plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
