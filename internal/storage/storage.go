package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hongminglow/fanzone-auth/internal/models"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness conflict.
var ErrAlreadyExists = errors.New("record already exists")

// Specific uniqueness conflicts; both match ErrAlreadyExists.
var (
	ErrEmailTaken    = fmt.Errorf("%w: email", ErrAlreadyExists)
	ErrUsernameTaken = fmt.Errorf("%w: username", ErrAlreadyExists)
)

// IdentityStore captures identity persistence used by the credential verifier.
type IdentityStore interface {
	CreateIdentity(ctx context.Context, identity models.Identity) (models.Identity, error)
	FindByID(ctx context.Context, id string) (models.Identity, error)
	// FindByUsernameOrEmail matches identifier case-insensitively against either column.
	FindByUsernameOrEmail(ctx context.Context, identifier string) (models.Identity, error)
	TouchLastActive(ctx context.Context, id string, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
	UpdateRole(ctx context.Context, id string, role models.Role) (models.Identity, error)
	UpdateSubscription(ctx context.Context, id string, tier models.SubscriptionTier, status models.SubscriptionStatus) (models.Identity, error)
}

// RefreshTokenStore owns the single refresh-token reference held per identity.
type RefreshTokenStore interface {
	// SetRefreshTokenHash overwrites whatever reference was stored.
	SetRefreshTokenHash(ctx context.Context, id, hash string) error
	// SwapRefreshTokenHash replaces old with next only if old is still current.
	// An empty next clears the reference.
	SwapRefreshTokenHash(ctx context.Context, id, old, next string) (bool, error)
	ClearRefreshTokenHash(ctx context.Context, id string) error
}

// UserStore is everything the server needs from its backing database.
type UserStore interface {
	IdentityStore
	RefreshTokenStore
	Ping(ctx context.Context) error
	Close()
}
