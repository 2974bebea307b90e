package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hongminglow/fanzone-auth/internal/apperrors"
	"github.com/hongminglow/fanzone-auth/internal/auth"
	"github.com/hongminglow/fanzone-auth/internal/credentials"
	"github.com/hongminglow/fanzone-auth/internal/logger"
	"github.com/hongminglow/fanzone-auth/internal/models"
)

// Defaults applied by NewManager to zero Options fields.
const (
	DefaultRefreshThreshold = 5 * time.Minute
	DefaultCheckInterval    = 30 * time.Second
	DefaultRetryDelay       = time.Second
	DefaultTimeout          = 10 * time.Second
	DefaultTimeoutBudget    = 3
)

// ErrSessionEnded is returned by a refresh whose session was logged out or
// replaced while the call was in flight.
var ErrSessionEnded = errors.New("session ended during refresh")

// Backend is the server side of a session: credential checks plus the token engine.
type Backend interface {
	Login(ctx context.Context, identifier, password string) (models.Session, error)
	Register(ctx context.Context, in credentials.RegisterInput) (models.Session, error)
	Refresh(ctx context.Context, refreshToken string) (auth.RefreshResult, error)
	Logout(ctx context.Context, tokens models.TokenPair) error
}

// Store persists the single session record. Load reports false when nothing is stored.
type Store interface {
	Load(ctx context.Context) (models.Session, bool, error)
	Save(ctx context.Context, s models.Session) error
	Clear(ctx context.Context) error
}

// Options tunes a Manager. Zero values fall back to defaults.
type Options struct {
	// RefreshThreshold is the remaining access lifetime below which Run refreshes.
	RefreshThreshold time.Duration
	// CheckInterval caps how long Run sleeps between expiry checks.
	CheckInterval time.Duration
	// RetryDelay is the shortest wait between proactive attempts. It doubles
	// after each failed attempt, up to CheckInterval.
	RetryDelay time.Duration
	// Timeout bounds each backend call.
	Timeout time.Duration
	// TimeoutBudget is how many consecutive refresh timeouts a session
	// survives while its access token is still valid.
	TimeoutBudget int
	Logger  *slog.Logger
	Now     func() time.Time
}

// Manager holds the client's session. Login, Register, Refresh, Logout and
// ClearError are its only mutators; every replacement swaps the whole session.
type Manager struct {
	backend Backend
	store   Store
	opts    Options
	logger  *slog.Logger

	mu         sync.RWMutex
	current    models.Session
	lastErr    error
	generation uint64
	timeouts   int

	refreshes singleflight.Group
}

// NewManager returns a Manager with no session. Call Restore to pick up a
// persisted one.
func NewManager(backend Backend, store Store, opts Options) *Manager {
	if opts.RefreshThreshold <= 0 {
		opts.RefreshThreshold = DefaultRefreshThreshold
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.TimeoutBudget <= 0 {
		opts.TimeoutBudget = DefaultTimeoutBudget
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := opts.Logger
	if l == nil {
		l = logger.Discard()
	}
	return &Manager{backend: backend, store: store, opts: opts, logger: l}
}

// Restore loads a persisted session, if any.
func (m *Manager) Restore(ctx context.Context) error {
	s, ok, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.timeouts = 0
	if ok && s.IsAuthenticated {
		m.current = s
	} else {
		m.current = models.Session{}
	}
	return nil
}

// Current returns a copy of the session.
func (m *Manager) Current() models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsAuthenticated reports whether a session is held.
func (m *Manager) IsAuthenticated() bool {
	return m.Current().IsAuthenticated
}

// AccessToken returns the current access token.
func (m *Manager) AccessToken() (string, bool) {
	s := m.Current()
	return s.Tokens.AccessToken, s.IsAuthenticated
}

// LastError returns the most recent failure recorded by a mutator.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// ClearError forgets the last recorded failure.
func (m *Manager) ClearError() {
	m.mu.Lock()
	m.lastErr = nil
	m.mu.Unlock()
}

// Login authenticates and replaces the session.
func (m *Manager) Login(ctx context.Context, identifier, password string) (models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	s, err := m.backend.Login(ctx, identifier, password)
	if err != nil {
		m.recordError(err)
		return models.Session{}, err
	}
	return s, m.replace(ctx, s)
}

// Register creates an identity and replaces the session with it.
func (m *Manager) Register(ctx context.Context, in credentials.RegisterInput) (models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	s, err := m.backend.Register(ctx, in)
	if err != nil {
		m.recordError(err)
		return models.Session{}, err
	}
	return s, m.replace(ctx, s)
}

func (m *Manager) replace(ctx context.Context, s models.Session) error {
	s.IsAuthenticated = true
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Save(ctx, s); err != nil {
		m.lastErr = err
		return fmt.Errorf("persist session: %w", err)
	}
	m.generation++
	m.timeouts = 0
	m.current = s
	m.lastErr = nil
	return nil
}

// Logout clears local state first and then revokes server-side. Revoke
// failures are logged and never returned; only a local storage failure is.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	previous := m.current
	m.generation++
	m.timeouts = 0
	m.current = models.Session{}
	m.lastErr = nil
	clearErr := m.store.Clear(ctx)
	m.mu.Unlock()

	if previous.IsAuthenticated {
		m.revoke(ctx, previous.Tokens)
	}
	if clearErr != nil {
		return fmt.Errorf("clear session: %w", clearErr)
	}
	return nil
}

func (m *Manager) revoke(ctx context.Context, tokens models.TokenPair) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.Timeout)
	defer cancel()
	if err := m.backend.Logout(ctx, tokens); err != nil {
		m.logger.WarnContext(ctx, "server-side revoke failed", slog.String("error", err.Error()))
	}
}

// Refresh renews the access token. Concurrent callers on the same session
// share one backend call. A rejected refresh token logs the session out, and
// so does a timeout the session cannot recover from.
func (m *Manager) Refresh(ctx context.Context) (models.Session, error) {
	m.mu.RLock()
	snapshot := m.current
	generation := m.generation
	m.mu.RUnlock()

	key := strconv.FormatUint(generation, 10)
	v, err, _ := m.refreshes.Do(key, func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx), snapshot, generation)
	})
	if err != nil {
		return models.Session{}, err
	}
	return v.(models.Session), nil
}

func (m *Manager) refresh(ctx context.Context, snapshot models.Session, generation uint64) (models.Session, error) {
	if !snapshot.IsAuthenticated {
		return models.Session{}, apperrors.Unauthorized("no active session")
	}

	callCtx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	result, err := m.backend.Refresh(callCtx, snapshot.Tokens.RefreshToken)
	cancel()
	if err != nil {
		err = apperrors.FromContext("refresh", err)
		switch {
		case apperrors.IsTerminal(err):
			m.endSession(ctx, generation, snapshot, err)
		case errors.Is(err, apperrors.ErrTimeout) && m.timeoutIsFinal(generation, snapshot):
			m.endSession(ctx, generation, snapshot, err)
		default:
			m.recordRefreshError(generation, err)
		}
		return models.Session{}, err
	}

	next := models.Session{
		Identity: result.Identity,
		Tokens: models.TokenPair{
			AccessToken:     result.AccessToken,
			RefreshToken:    result.RefreshToken,
			AccessExpiresAt: result.AccessExpiresAt,
		},
		IsAuthenticated: true,
	}
	if next.Identity.ID == "" {
		next.Identity = snapshot.Identity
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != generation {
		return models.Session{}, ErrSessionEnded
	}
	if err := m.store.Save(ctx, next); err != nil {
		m.lastErr = err
		return models.Session{}, fmt.Errorf("persist session: %w", err)
	}
	m.current = next
	m.lastErr = nil
	m.timeouts = 0
	return next, nil
}

// timeoutIsFinal counts a refresh timeout against the session. The session
// is lost once its access token has expired or the budget is spent.
func (m *Manager) timeoutIsFinal(generation uint64, snapshot models.Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != generation {
		return false
	}
	m.timeouts++
	return m.timeouts >= m.opts.TimeoutBudget || snapshot.AccessExpiresIn(m.opts.Now()) <= 0
}

// endSession logs out after a terminal refresh failure, unless the session
// already changed underneath the refresh.
func (m *Manager) endSession(ctx context.Context, generation uint64, snapshot models.Session, cause error) {
	m.mu.Lock()
	if m.generation != generation {
		m.mu.Unlock()
		return
	}
	m.generation++
	m.timeouts = 0
	m.current = models.Session{}
	m.lastErr = cause
	if err := m.store.Clear(ctx); err != nil {
		m.logger.ErrorContext(ctx, "clear session failed", slog.String("error", err.Error()))
	}
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "session ended by refresh failure",
		slog.String("identity_id", snapshot.Identity.ID),
		slog.String("error_code", apperrors.Code(cause)),
	)
	m.revoke(ctx, snapshot.Tokens)
}

func (m *Manager) recordError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// recordRefreshError keeps err unless the session it belongs to was already replaced.
func (m *Manager) recordRefreshError(generation uint64, err error) {
	m.mu.Lock()
	if m.generation == generation {
		m.lastErr = err
	}
	m.mu.Unlock()
}

// NeedsRefresh reports whether the access token is inside the refresh threshold.
func (m *Manager) NeedsRefresh() bool {
	s := m.Current()
	return s.IsAuthenticated && s.AccessExpiresIn(m.opts.Now()) < m.opts.RefreshThreshold
}

// Do runs a protected call with the current access token. If the call
// reports the token unusable it refreshes once and retries.
func (m *Manager) Do(ctx context.Context, call func(ctx context.Context, accessToken string) error) error {
	token, ok := m.AccessToken()
	if !ok {
		return apperrors.Unauthorized("no active session")
	}
	err := call(ctx, token)
	if !tokenRejected(err) {
		return err
	}

	s, err := m.Refresh(ctx)
	if err != nil {
		return err
	}
	return call(ctx, s.Tokens.AccessToken)
}

func tokenRejected(err error) bool {
	return errors.Is(err, apperrors.ErrUnauthorized) ||
		errors.Is(err, apperrors.ErrExpired) ||
		errors.Is(err, apperrors.ErrInvalidToken)
}

// Run refreshes proactively until ctx is done. Failed attempts back off.
func (m *Manager) Run(ctx context.Context) error {
	failures := 0
	for {
		timer := time.NewTimer(m.nextCheck(failures))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if !m.NeedsRefresh() {
			failures = 0
			continue
		}
		if _, err := m.Refresh(ctx); err != nil {
			failures++
			if !errors.Is(err, ErrSessionEnded) {
				m.logger.WarnContext(ctx, "proactive refresh failed",
					slog.String("error", err.Error()),
					slog.Int("attempt", failures),
				)
			}
			continue
		}
		failures = 0
	}
}

func (m *Manager) nextCheck(failures int) time.Duration {
	s := m.Current()
	if !s.IsAuthenticated {
		return m.opts.CheckInterval
	}
	retry := m.opts.RetryDelay
	for i := 0; i < failures && retry < m.opts.CheckInterval; i++ {
		retry *= 2
	}
	retry = min(retry, m.opts.CheckInterval)

	wait := s.AccessExpiresIn(m.opts.Now()) - m.opts.RefreshThreshold
	switch {
	case wait < retry:
		return retry
	case wait > m.opts.CheckInterval:
		return m.opts.CheckInterval
	default:
		return wait
	}
}
