package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hongminglow/fanzone-auth/internal/apperrors"
	"github.com/hongminglow/fanzone-auth/internal/logger"
	"github.com/hongminglow/fanzone-auth/internal/metrics"
	"github.com/hongminglow/fanzone-auth/internal/models"
	"github.com/hongminglow/fanzone-auth/internal/storage"
)

const (
	DefaultCost    = 12
	DefaultTimeout = 5 * time.Second
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

var validate = validator.New()

// RegisterInput carries the fields accepted at registration.
type RegisterInput struct {
	Email       string
	Username    string
	Password    string
	DisplayName string
}

// RevokeFunc drops every outstanding session for an identity.
type RevokeFunc func(ctx context.Context, identityID string) error

// Options tunes a Verifier. Zero values fall back to defaults.
type Options struct {
	Cost    int
	Timeout time.Duration
	Logger  *slog.Logger
	Now     func() time.Time
}

// Verifier owns identity uniqueness and password verification.
type Verifier struct {
	store     storage.IdentityStore
	cost      int
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
	dummyHash []byte
	revoke    RevokeFunc
}

// NewVerifier creates a Verifier. It hashes a throwaway password at the
// configured cost so lookups of unknown identities take as long as real ones.
func NewVerifier(store storage.IdentityStore, opts Options) (*Verifier, error) {
	v := &Verifier{
		store:   store,
		cost:    opts.Cost,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if v.cost == 0 {
		v.cost = DefaultCost
	}
	if v.timeout <= 0 {
		v.timeout = DefaultTimeout
	}
	if v.logger == nil {
		v.logger = logger.Discard()
	}
	if v.now == nil {
		v.now = func() time.Time { return time.Now().UTC() }
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), v.cost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	v.dummyHash = dummy
	return v, nil
}

// OnPasswordChange registers the hook that revokes sessions after a password change.
func (v *Verifier) OnPasswordChange(fn RevokeFunc) {
	v.revoke = fn
}

// Register validates input, hashes the password and creates a FAN/FREE identity.
func (v *Verifier) Register(ctx context.Context, in RegisterInput) (models.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if fields := validateRegistration(in); len(fields) > 0 {
		metrics.CredentialAttempts.WithLabelValues("register", metrics.ResultInvalid).Inc()
		return models.Identity{}, apperrors.InvalidInput("registration details are invalid", fields)
	}
	if in.DisplayName == "" {
		in.DisplayName = in.Username
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), v.cost)
	if err != nil {
		return models.Identity{}, fmt.Errorf("hash password: %w", err)
	}

	now := v.now()
	identity := models.Identity{
		ID:                 uuid.NewString(),
		Email:              strings.ToLower(in.Email),
		Username:           in.Username,
		DisplayName:        in.DisplayName,
		PasswordHash:       string(hash),
		Role:               models.RoleFan,
		SubscriptionTier:   models.TierFree,
		SubscriptionStatus: models.SubscriptionActive,
		CreatedAt:          now,
		UpdatedAt:          now,
		LastActiveAt:       now,
	}

	created, err := v.store.CreateIdentity(ctx, identity)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrEmailTaken):
			metrics.CredentialAttempts.WithLabelValues("register", metrics.ResultRejected).Inc()
			return models.Identity{}, apperrors.DuplicateEmail()
		case errors.Is(err, storage.ErrUsernameTaken):
			metrics.CredentialAttempts.WithLabelValues("register", metrics.ResultRejected).Inc()
			return models.Identity{}, apperrors.DuplicateUsername()
		}
		metrics.CredentialAttempts.WithLabelValues("register", metrics.ResultError).Inc()
		return models.Identity{}, apperrors.FromContext("register", fmt.Errorf("create identity: %w", err))
	}

	metrics.CredentialAttempts.WithLabelValues("register", metrics.ResultSuccess).Inc()
	v.logger.InfoContext(ctx, "identity registered", slog.String("identity_id", created.ID))
	return created, nil
}

// Verify checks a password against the identity matching identifier by email
// or username. Every rejection is the same InvalidCredentials error.
func (v *Verifier) Verify(ctx context.Context, identifier, password string) (models.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		_ = bcrypt.CompareHashAndPassword(v.dummyHash, []byte(password))
		metrics.CredentialAttempts.WithLabelValues("login", metrics.ResultRejected).Inc()
		return models.Identity{}, apperrors.InvalidCredentials()
	}

	identity, err := v.store.FindByUsernameOrEmail(ctx, identifier)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(v.dummyHash, []byte(password))
			metrics.CredentialAttempts.WithLabelValues("login", metrics.ResultRejected).Inc()
			return models.Identity{}, apperrors.InvalidCredentials()
		}
		metrics.CredentialAttempts.WithLabelValues("login", metrics.ResultError).Inc()
		return models.Identity{}, apperrors.FromContext("verify credentials", fmt.Errorf("find identity: %w", err))
	}

	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(password)); err != nil {
		metrics.CredentialAttempts.WithLabelValues("login", metrics.ResultRejected).Inc()
		v.logger.DebugContext(ctx, "password mismatch", slog.String("identity_id", identity.ID))
		return models.Identity{}, apperrors.InvalidCredentials()
	}
	if err := ctx.Err(); err != nil {
		metrics.CredentialAttempts.WithLabelValues("login", metrics.ResultTimeout).Inc()
		return models.Identity{}, apperrors.FromContext("verify credentials", err)
	}

	now := v.now()
	if err := v.store.TouchLastActive(ctx, identity.ID, now); err != nil {
		v.logger.WarnContext(ctx, "touch last active failed",
			slog.String("identity_id", identity.ID),
			slog.String("error", err.Error()),
		)
	} else {
		identity.LastActiveAt = now
	}

	metrics.CredentialAttempts.WithLabelValues("login", metrics.ResultSuccess).Inc()
	return identity, nil
}

// Identity loads an identity by id.
func (v *Verifier) Identity(ctx context.Context, id string) (models.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	identity, err := v.store.FindByID(ctx, id)
	if err != nil {
		return models.Identity{}, v.lookupError(id, err)
	}
	return identity, nil
}

// ChangePassword replaces the password after confirming the current one and
// revokes the stored refresh reference.
func (v *Verifier) ChangePassword(ctx context.Context, id, current, next string) error {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	identity, err := v.store.FindByID(ctx, id)
	if err != nil {
		return v.lookupError(id, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(current)); err != nil {
		return apperrors.InvalidCredentials()
	}
	if current == next {
		return apperrors.InvalidInput("new password must differ from the current one",
			map[string]string{"new_password": "must differ from the current password"})
	}
	if msg := passwordProblem(next); msg != "" {
		return apperrors.InvalidInput("new password is too weak", map[string]string{"new_password": msg})
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), v.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := v.store.UpdatePasswordHash(ctx, id, string(hash)); err != nil {
		return v.lookupError(id, err)
	}

	if v.revoke != nil {
		if err := v.revoke(ctx, id); err != nil {
			return fmt.Errorf("revoke sessions: %w", err)
		}
	}
	v.logger.InfoContext(ctx, "password changed", slog.String("identity_id", id))
	return nil
}

// SetRole assigns a new role.
func (v *Verifier) SetRole(ctx context.Context, id string, role models.Role) (models.Identity, error) {
	if !role.Valid() {
		return models.Identity{}, apperrors.InvalidInput("unknown role", map[string]string{"role": "is not a known role"})
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	updated, err := v.store.UpdateRole(ctx, id, role)
	if err != nil {
		return models.Identity{}, v.lookupError(id, err)
	}
	v.logger.InfoContext(ctx, "role changed",
		slog.String("identity_id", id),
		slog.String("role", string(role)),
	)
	return updated, nil
}

// SetSubscription records the tier and billing status reported for an identity.
func (v *Verifier) SetSubscription(ctx context.Context, id string, tier models.SubscriptionTier, status models.SubscriptionStatus) (models.Identity, error) {
	fields := map[string]string{}
	if !tier.Valid() {
		fields["tier"] = "is not a known subscription tier"
	}
	if !status.Valid() {
		fields["status"] = "is not a known subscription status"
	}
	if len(fields) > 0 {
		return models.Identity{}, apperrors.InvalidInput("subscription details are invalid", fields)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	updated, err := v.store.UpdateSubscription(ctx, id, tier, status)
	if err != nil {
		return models.Identity{}, v.lookupError(id, err)
	}
	v.logger.InfoContext(ctx, "subscription changed",
		slog.String("identity_id", id),
		slog.String("tier", string(tier)),
		slog.String("status", string(status)),
	)
	return updated, nil
}

func (v *Verifier) lookupError(id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NotFound("identity", id)
	}
	return apperrors.FromContext("identity lookup", err)
}

func validateRegistration(in RegisterInput) map[string]string {
	fields := map[string]string{}
	if err := validate.Var(in.Email, "required,email"); err != nil {
		fields["email"] = "must be a valid email address"
	}
	if !usernamePattern.MatchString(in.Username) {
		fields["username"] = "must be 3-20 letters, digits or underscores"
	}
	if msg := passwordProblem(in.Password); msg != "" {
		fields["password"] = msg
	}
	if len(in.DisplayName) > 64 {
		fields["display_name"] = "must be at most 64 characters"
	}
	return fields
}

func passwordProblem(password string) string {
	if len(password) > maxPasswordBytes {
		return fmt.Sprintf("must be at most %d bytes", maxPasswordBytes)
	}
	strength := ScorePassword(password)
	if strength.Acceptable() {
		return ""
	}
	return fmt.Sprintf("is %s: needs %s", strength.Label, strings.Join(strength.Missing, ", "))
}
