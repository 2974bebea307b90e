package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hongminglow/fanzone-auth/internal/models"
	"github.com/hongminglow/fanzone-auth/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ensure Store satisfies the storage.UserStore interface at compile time.
var _ storage.UserStore = (*Store)(nil)

const (
	emailConstraint    = "users_email_key"
	usernameConstraint = "users_username_lower_idx"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store provides Postgres-backed persistence for identities.
type Store struct {
	db DB
}

// NewUserStore creates a new Store and runs migrations.
func NewUserStore(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// New wraps an existing connection pool.
func New(db DB) *Store {
	return &Store{db: db}
}

// Close releases database resources.
func (s *Store) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Migrate applies the schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			username TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'FAN',
			subscription_tier TEXT NOT NULL DEFAULT 'FREE',
			subscription_status TEXT NOT NULL DEFAULT 'ACTIVE',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_active_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			current_refresh_token_hash TEXT
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS users_username_lower_idx ON users (lower(username));`,
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS current_refresh_token_hash TEXT;`,
		`ALTER TABLE users DROP CONSTRAINT IF EXISTS users_role_check;`,
		`ALTER TABLE users ADD CONSTRAINT users_role_check CHECK (role IN ('GUEST','FAN','PREMIUM_FAN','VIP_FAN','MODERATOR','BAND_MEMBER','ADMIN'));`,
		`ALTER TABLE users DROP CONSTRAINT IF EXISTS users_tier_check;`,
		`ALTER TABLE users ADD CONSTRAINT users_tier_check CHECK (subscription_tier IN ('FREE','PREMIUM','VIP'));`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	return nil
}

const selectIdentity = `
	SELECT id, email, username, display_name, password_hash, role, subscription_tier, subscription_status,
		created_at, updated_at, last_active_at, COALESCE(current_refresh_token_hash, '')
	FROM users`

// CreateIdentity inserts a new identity row. Email is stored lower-cased.
func (s *Store) CreateIdentity(ctx context.Context, identity models.Identity) (models.Identity, error) {
	const query = `
		INSERT INTO users (id, email, username, display_name, password_hash, role, subscription_tier,
			subscription_status, created_at, updated_at, last_active_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	identity.Email = strings.ToLower(identity.Email)
	_, err := s.db.Exec(ctx, query,
		identity.ID,
		identity.Email,
		identity.Username,
		identity.DisplayName,
		identity.PasswordHash,
		string(identity.Role),
		string(identity.SubscriptionTier),
		string(identity.SubscriptionStatus),
		identity.CreatedAt,
		identity.UpdatedAt,
		identity.LastActiveAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case emailConstraint:
				return models.Identity{}, storage.ErrEmailTaken
			case usernameConstraint:
				return models.Identity{}, storage.ErrUsernameTaken
			}
			return models.Identity{}, storage.ErrAlreadyExists
		}
		return models.Identity{}, fmt.Errorf("insert identity: %w", err)
	}
	return identity, nil
}

// FindByID fetches an identity by its id.
func (s *Store) FindByID(ctx context.Context, id string) (models.Identity, error) {
	row := s.db.QueryRow(ctx, selectIdentity+` WHERE id = $1`, id)
	return scanIdentity(row)
}

// FindByUsernameOrEmail fetches the identity whose username or email matches identifier.
func (s *Store) FindByUsernameOrEmail(ctx context.Context, identifier string) (models.Identity, error) {
	row := s.db.QueryRow(ctx, selectIdentity+` WHERE lower(username) = lower($1) OR email = lower($1) LIMIT 1`, identifier)
	return scanIdentity(row)
}

// TouchLastActive records activity for the identity.
func (s *Store) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET last_active_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch last active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdatePasswordHash stores a new password hash.
func (s *Store) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateRole changes the identity's role and returns the updated row.
func (s *Store) UpdateRole(ctx context.Context, id string, role models.Role) (models.Identity, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1
		RETURNING id, email, username, display_name, password_hash, role, subscription_tier, subscription_status,
			created_at, updated_at, last_active_at, COALESCE(current_refresh_token_hash, '')`,
		id, string(role))
	return scanIdentity(row)
}

// UpdateSubscription changes the identity's tier and status and returns the updated row.
func (s *Store) UpdateSubscription(ctx context.Context, id string, tier models.SubscriptionTier, status models.SubscriptionStatus) (models.Identity, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE users SET subscription_tier = $2, subscription_status = $3, updated_at = NOW() WHERE id = $1
		RETURNING id, email, username, display_name, password_hash, role, subscription_tier, subscription_status,
			created_at, updated_at, last_active_at, COALESCE(current_refresh_token_hash, '')`,
		id, string(tier), string(status))
	return scanIdentity(row)
}

// SetRefreshTokenHash overwrites the stored refresh-token reference.
func (s *Store) SetRefreshTokenHash(ctx context.Context, id, hash string) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET current_refresh_token_hash = NULLIF($2, '') WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("set refresh token hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SwapRefreshTokenHash replaces old with next in a single conditional update.
func (s *Store) SwapRefreshTokenHash(ctx context.Context, id, old, next string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET current_refresh_token_hash = NULLIF($3, '')
		WHERE id = $1 AND COALESCE(current_refresh_token_hash, '') = $2`,
		id, old, next)
	if err != nil {
		return false, fmt.Errorf("swap refresh token hash: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClearRefreshTokenHash drops the stored reference. Clearing an already empty reference is not an error.
func (s *Store) ClearRefreshTokenHash(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET current_refresh_token_hash = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("clear refresh token hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanIdentity(row pgx.Row) (models.Identity, error) {
	var identity models.Identity
	var role, tier, status string
	if err := row.Scan(
		&identity.ID,
		&identity.Email,
		&identity.Username,
		&identity.DisplayName,
		&identity.PasswordHash,
		&role,
		&tier,
		&status,
		&identity.CreatedAt,
		&identity.UpdatedAt,
		&identity.LastActiveAt,
		&identity.CurrentRefreshTokenHash,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Identity{}, storage.ErrNotFound
		}
		return models.Identity{}, err
	}
	identity.Role = models.Role(role)
	identity.SubscriptionTier = models.SubscriptionTier(tier)
	identity.SubscriptionStatus = models.SubscriptionStatus(status)
	return identity, nil
}
