package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/fanzone-auth/internal/apperrors"
	"github.com/hongminglow/fanzone-auth/internal/auth"
	"github.com/hongminglow/fanzone-auth/internal/credentials"
	"github.com/hongminglow/fanzone-auth/internal/models"
)

type fakeBackend struct {
	login     func(ctx context.Context, identifier, password string) (models.Session, error)
	refresh   func(ctx context.Context, refreshToken string) (auth.RefreshResult, error)
	logoutErr error

	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
}

func (f *fakeBackend) Login(ctx context.Context, identifier, password string) (models.Session, error) {
	if f.login != nil {
		return f.login(ctx, identifier, password)
	}
	return loggedIn("access-1", "refresh-1", time.Now().Add(15*time.Minute)), nil
}

func (f *fakeBackend) Register(ctx context.Context, in credentials.RegisterInput) (models.Session, error) {
	return f.Login(ctx, in.Username, in.Password)
}

func (f *fakeBackend) Refresh(ctx context.Context, refreshToken string) (auth.RefreshResult, error) {
	f.refreshCalls.Add(1)
	if f.refresh != nil {
		return f.refresh(ctx, refreshToken)
	}
	return auth.RefreshResult{
		AccessToken:     "access-2",
		AccessExpiresAt: time.Now().Add(15 * time.Minute),
		RefreshToken:    refreshToken,
		Identity:        models.Identity{ID: "id-1", Role: models.RoleFan},
	}, nil
}

func (f *fakeBackend) Logout(context.Context, models.TokenPair) error {
	f.logoutCalls.Add(1)
	return f.logoutErr
}

func loggedIn(access, refresh string, exp time.Time) models.Session {
	return models.Session{
		IsAuthenticated: true,
		Identity:        models.Identity{ID: "id-1", Username: "ax", Role: models.RoleFan},
		Tokens:          models.TokenPair{AccessToken: access, RefreshToken: refresh, AccessExpiresAt: exp},
	}
}

func newManager(t *testing.T, backend Backend) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewManager(backend, store, Options{Timeout: time.Second}), store
}

func TestManager_LoginReplacesAndPersists(t *testing.T) {
	m, store := newManager(t, &fakeBackend{})

	s, err := m.Login(context.Background(), "ax", "Str0ng!Pass")
	require.NoError(t, err)
	assert.True(t, s.IsAuthenticated)
	assert.Equal(t, s, m.Current())

	persisted, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "refresh-1", persisted.Tokens.RefreshToken)

	token, ok := m.AccessToken()
	assert.True(t, ok)
	assert.Equal(t, "access-1", token)
}

func TestManager_FailedLoginRecordsError(t *testing.T) {
	backend := &fakeBackend{login: func(context.Context, string, string) (models.Session, error) {
		return models.Session{}, apperrors.InvalidCredentials()
	}}
	m, _ := newManager(t, backend)

	_, err := m.Login(context.Background(), "ax", "nope")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidCredentials))
	assert.False(t, m.IsAuthenticated())
	assert.True(t, errors.Is(m.LastError(), apperrors.ErrInvalidCredentials))

	m.ClearError()
	assert.NoError(t, m.LastError())
}

func TestManager_Restore(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), loggedIn("a", "r", time.Now().Add(time.Hour))))

	m := NewManager(&fakeBackend{}, store, Options{})
	require.NoError(t, m.Restore(context.Background()))
	assert.True(t, m.IsAuthenticated())
	assert.Equal(t, "r", m.Current().Tokens.RefreshToken)
}

func TestManager_RefreshReplacesWholeSession(t *testing.T) {
	backend := &fakeBackend{refresh: func(_ context.Context, token string) (auth.RefreshResult, error) {
		return auth.RefreshResult{
			AccessToken:     "access-2",
			AccessExpiresAt: time.Now().Add(15 * time.Minute),
			RefreshToken:    token,
			Identity:        models.Identity{ID: "id-1", Username: "ax", Role: models.RoleModerator},
		}, nil
	}}
	m, store := newManager(t, backend)
	_, err := m.Login(context.Background(), "ax", "pw")
	require.NoError(t, err)

	s, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", s.Tokens.AccessToken)
	assert.Equal(t, "refresh-1", s.Tokens.RefreshToken)
	assert.Equal(t, models.RoleModerator, s.Identity.Role)

	persisted, _, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", persisted.Tokens.AccessToken)
}

func TestManager_ConcurrentRefreshesCoalesce(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	backend := &fakeBackend{}
	backend.refresh = func(_ context.Context, token string) (auth.RefreshResult, error) {
		once.Do(func() { close(entered) })
		<-release
		return auth.RefreshResult{AccessToken: "access-2", AccessExpiresAt: time.Now().Add(time.Hour), RefreshToken: token}, nil
	}
	m, _ := newManager(t, backend)
	_, err := m.Login(context.Background(), "ax", "pw")
	require.NoError(t, err)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]models.Session, callers)
	errs := make([]error, callers)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = m.Refresh(context.Background())
	}()
	<-entered
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Refresh(context.Background())
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), backend.refreshCalls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-2", results[i].Tokens.AccessToken)
	}
	assert.Equal(t, "id-1", m.Current().Identity.ID, "identity kept when the backend omits it")
}

func TestManager_TerminalRefreshFailureLogsOut(t *testing.T) {
	for name, cause := range map[string]error{
		"revoked": apperrors.Revoked("gone"),
		"expired": apperrors.Expired("old"),
		"invalid": apperrors.InvalidToken("bad"),
	} {
		t.Run(name, func(t *testing.T) {
			backend := &fakeBackend{refresh: func(context.Context, string) (auth.RefreshResult, error) {
				return auth.RefreshResult{}, cause
			}}
			m, store := newManager(t, backend)
			_, err := m.Login(context.Background(), "ax", "pw")
			require.NoError(t, err)

			_, err = m.Refresh(context.Background())
			assert.True(t, errors.Is(err, cause))
			assert.False(t, m.IsAuthenticated())
			assert.True(t, errors.Is(m.LastError(), cause))
			assert.Equal(t, int32(1), backend.logoutCalls.Load())

			_, ok, err := store.Load(context.Background())
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestManager_NonTerminalRefreshFailureKeepsSession(t *testing.T) {
	backend := &fakeBackend{refresh: func(context.Context, string) (auth.RefreshResult, error) {
		return auth.RefreshResult{}, apperrors.RateLimited()
	}}
	m, _ := newManager(t, backend)
	_, err := m.Login(context.Background(), "ax", "pw")
	require.NoError(t, err)

	_, err = m.Refresh(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrRateLimited))
	assert.True(t, m.IsAuthenticated())
	assert.True(t, errors.Is(m.LastError(), apperrors.ErrRateLimited))
	assert.Zero(t, backend.logoutCalls.Load())
}

func TestManager_RefreshTimeoutKeepsValidSession(t *testing.T) {
	backend := &fakeBackend{}
	backend.refresh = func(_ context.Context, token string) (auth.RefreshResult, error) {
		if backend.refreshCalls.Load() == 1 {
			return auth.RefreshResult{}, apperrors.Timeout("POST /auth/refresh", context.DeadlineExceeded)
		}
		return auth.RefreshResult{AccessToken: "access-2", AccessExpiresAt: time.Now().Add(15 * time.Minute), RefreshToken: token}, nil
	}
	m, store := newManager(t, backend)
	_, err := m.Login(context.Background(), "ax", "pw")
	require.NoError(t, err)

	_, err = m.Refresh(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrTimeout))
	assert.True(t, m.IsAuthenticated(), "an unreachable server does not end a valid session")
	assert.True(t, errors.Is(m.LastError(), apperrors.ErrTimeout))
	_, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	s, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", s.Tokens.AccessToken)
	assert.NoError(t, m.LastError())
	assert.Equal(t, int32(2), backend.refreshCalls.Load())
	assert.Zero(t, backend.logoutCalls.Load())
}

func TestManager_UnrecoverableTimeoutLogsOut(t *testing.T) {
	timeout := func(context.Context, string) (auth.RefreshResult, error) {
		return auth.RefreshResult{}, apperrors.Timeout("POST /auth/refresh", context.DeadlineExceeded)
	}

	t.Run("access token already expired", func(t *testing.T) {
		backend := &fakeBackend{refresh: timeout, login: func(context.Context, string, string) (models.Session, error) {
			return loggedIn("a", "r", time.Now().Add(-time.Second)), nil
		}}
		m, store := newManager(t, backend)
		_, err := m.Login(context.Background(), "ax", "pw")
		require.NoError(t, err)

		_, err = m.Refresh(context.Background())
		assert.True(t, errors.Is(err, apperrors.ErrTimeout))
		assert.False(t, m.IsAuthenticated())
		assert.Equal(t, int32(1), backend.logoutCalls.Load())
		_, ok, err := store.Load(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("budget spent", func(t *testing.T) {
		backend := &fakeBackend{refresh: timeout}
		m := NewManager(backend, NewMemoryStore(), Options{Timeout: time.Second, TimeoutBudget: 2})
		_, err := m.Login(context.Background(), "ax", "pw")
		require.NoError(t, err)

		_, err = m.Refresh(context.Background())
		assert.True(t, errors.Is(err, apperrors.ErrTimeout))
		assert.True(t, m.IsAuthenticated())

		_, err = m.Refresh(context.Background())
		assert.True(t, errors.Is(err, apperrors.ErrTimeout))
		assert.False(t, m.IsAuthenticated())
		assert.True(t, errors.Is(m.LastError(), apperrors.ErrTimeout))
		assert.Equal(t, int32(1), backend.logoutCalls.Load())
	})

	t.Run("a new login resets the budget", func(t *testing.T) {
		backend := &fakeBackend{refresh: timeout}
		m := NewManager(backend, NewMemoryStore(), Options{Timeout: time.Second, TimeoutBudget: 2})
		_, err := m.Login(context.Background(), "ax", "pw")
		require.NoError(t, err)
		_, err = m.Refresh(context.Background())
		require.Error(t, err)

		_, err = m.Login(context.Background(), "ax", "pw")
		require.NoError(t, err)
		_, err = m.Refresh(context.Background())
		require.Error(t, err)
		assert.True(t, m.IsAuthenticated())
	})
}

func TestManager_RefreshAfterReloginStartsNewFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	backend := &fakeBackend{}
	backend.refresh = func(_ context.Context, token string) (auth.RefreshResult, error) {
		if token == "refresh-1" {
			close(entered)
			<-release
		}
		return auth.RefreshResult{AccessToken: "for-" + token, AccessExpiresAt: time.Now().Add(time.Hour), RefreshToken: token}, nil
	}
	m, _ := newManager(t, backend)
	_, err := m.Login(context.Background(), "ax", "pw")
	require.NoError(t, err)

	stale := make(chan error, 1)
	go func() {
		_, err := m.Refresh(context.Background())
		stale <- err
	}()
	<-entered

	require.NoError(t, m.Logout(context.Background()))
	backend.login = func(context.Context, string, string) (models.Session, error) {
		return loggedIn("access-new", "refresh-new", time.Now().Add(time.Hour)), nil
	}
	_, err = m.Login(context.Background(), "ax", "pw")
	require.NoError(t, err)

	s, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "for-refresh-new", s.Tokens.AccessToken)

	close(release)
	assert.True(t, errors.Is(<-stale, ErrSessionEnded))
	assert.Equal(t, "for-refresh-new", m.Current().Tokens.AccessToken)
	assert.Equal(t, int32(2), backend.refreshCalls.Load())
}

func TestManager_LogoutWinsOverInFlightRefresh(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	backend := &fakeBackend{}
	backend.refresh = func(_ context.Context, token string) (auth.RefreshResult, error) {
		close(entered)
		<-release
		return auth.RefreshResult{AccessToken: "late", AccessExpiresAt: time.Now().Add(time.Hour), RefreshToken: token}, nil
	}
	m, store := newManager(t, backend)
	_, err := m.Login(context.Background(), "ax", "pw")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := m.Refresh(context.Background())
		done <- err
	}()
	<-entered
	require.NoError(t, m.Logout(context.Background()))
	close(release)

	assert.True(t, errors.Is(<-done, ErrSessionEnded))
	assert.False(t, m.IsAuthenticated())
	_, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "a late refresh must not resurrect the session")
}

func TestManager_TerminalFailureDoesNotEndNewerSession(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	backend := &fakeBackend{}
	backend.refresh = func(context.Context, string) (auth.RefreshResult, error) {
		close(entered)
		<-release
		return auth.RefreshResult{}, apperrors.Revoked("rotated")
	}
	m, _ := newManager(t, backend)
	_, err := m.Login(context.Background(), "ax", "pw")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := m.Refresh(context.Background())
		done <- err
	}()
	<-entered
	backend.login = func(context.Context, string, string) (models.Session, error) {
		return loggedIn("access-new", "refresh-new", time.Now().Add(time.Hour)), nil
	}
	_, err = m.Login(context.Background(), "ax", "pw")
	require.NoError(t, err)
	close(release)

	assert.True(t, errors.Is(<-done, apperrors.ErrRevoked))
	assert.True(t, m.IsAuthenticated())
	assert.Equal(t, "refresh-new", m.Current().Tokens.RefreshToken)
}

func TestManager_LogoutSucceedsWhenRevokeFails(t *testing.T) {
	backend := &fakeBackend{logoutErr: apperrors.Timeout("logout", errors.New("connection refused"))}
	m, store := newManager(t, backend)
	_, err := m.Login(context.Background(), "ax", "pw")
	require.NoError(t, err)

	assert.NoError(t, m.Logout(context.Background()))
	assert.False(t, m.IsAuthenticated())
	assert.Equal(t, int32(1), backend.logoutCalls.Load())
	_, ok, _ := store.Load(context.Background())
	assert.False(t, ok)

	assert.NoError(t, m.Logout(context.Background()), "logging out twice is fine")
	assert.Equal(t, int32(1), backend.logoutCalls.Load())
}

func TestManager_RefreshWithoutSession(t *testing.T) {
	backend := &fakeBackend{}
	m, _ := newManager(t, backend)

	_, err := m.Refresh(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
	assert.Zero(t, backend.refreshCalls.Load())
}

func TestManager_DoRetriesOnceAfterRejection(t *testing.T) {
	backend := &fakeBackend{}
	m, _ := newManager(t, backend)
	_, err := m.Login(context.Background(), "ax", "pw")
	require.NoError(t, err)

	var seen []string
	err = m.Do(context.Background(), func(_ context.Context, token string) error {
		seen = append(seen, token)
		if token == "access-1" {
			return apperrors.Expired("access token has expired")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"access-1", "access-2"}, seen)
	assert.Equal(t, int32(1), backend.refreshCalls.Load())

	calls := 0
	err = m.Do(context.Background(), func(context.Context, string) error {
		calls++
		return apperrors.Forbidden("no")
	})
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
	assert.Equal(t, 1, calls, "non-token failures are not retried")
}

func TestManager_DoWithoutSession(t *testing.T) {
	m, _ := newManager(t, &fakeBackend{})
	err := m.Do(context.Background(), func(context.Context, string) error { return nil })
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
}

func TestManager_NeedsRefresh(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	backend := &fakeBackend{login: func(context.Context, string, string) (models.Session, error) {
		return loggedIn("a", "r", now.Add(6*time.Minute)), nil
	}}
	m := NewManager(backend, NewMemoryStore(), Options{Now: func() time.Time { return now }})
	assert.False(t, m.NeedsRefresh())

	_, err := m.Login(context.Background(), "ax", "pw")
	require.NoError(t, err)
	assert.False(t, m.NeedsRefresh())

	m.opts.Now = func() time.Time { return now.Add(90 * time.Second) }
	assert.True(t, m.NeedsRefresh())
}

func TestManager_RunRefreshesProactively(t *testing.T) {
	refreshed := make(chan struct{}, 1)
	backend := &fakeBackend{
		login: func(context.Context, string, string) (models.Session, error) {
			return loggedIn("a", "r", time.Now().Add(time.Minute)), nil
		},
	}
	backend.refresh = func(_ context.Context, token string) (auth.RefreshResult, error) {
		select {
		case refreshed <- struct{}{}:
		default:
		}
		return auth.RefreshResult{AccessToken: "fresh", AccessExpiresAt: time.Now().Add(time.Hour), RefreshToken: token}, nil
	}
	m := NewManager(backend, NewMemoryStore(), Options{RetryDelay: 5 * time.Millisecond, CheckInterval: 20 * time.Millisecond})
	_, err := m.Login(context.Background(), "ax", "pw")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("proactive refresh did not run")
	}
	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))
	assert.Equal(t, int32(1), backend.refreshCalls.Load())
	assert.False(t, m.NeedsRefresh())
}

func TestManager_RunRetriesAfterTimeout(t *testing.T) {
	backend := &fakeBackend{
		login: func(context.Context, string, string) (models.Session, error) {
			return loggedIn("a", "r", time.Now().Add(time.Minute)), nil
		},
	}
	backend.refresh = func(_ context.Context, token string) (auth.RefreshResult, error) {
		if backend.refreshCalls.Load() == 1 {
			return auth.RefreshResult{}, apperrors.Timeout("POST /auth/refresh", errors.New("connection refused"))
		}
		return auth.RefreshResult{AccessToken: "fresh", AccessExpiresAt: time.Now().Add(time.Hour), RefreshToken: token}, nil
	}
	m := NewManager(backend, NewMemoryStore(), Options{RetryDelay: 5 * time.Millisecond, CheckInterval: 50 * time.Millisecond})
	_, err := m.Login(context.Background(), "ax", "pw")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	assert.Eventually(t, func() bool {
		token, _ := m.AccessToken()
		return token == "fresh"
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))
	assert.True(t, m.IsAuthenticated())
	assert.Equal(t, int32(2), backend.refreshCalls.Load())
	assert.Zero(t, backend.logoutCalls.Load())
}

func TestManager_NextCheckBacksOff(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	backend := &fakeBackend{login: func(context.Context, string, string) (models.Session, error) {
		return loggedIn("a", "r", now.Add(time.Minute)), nil
	}}
	m := NewManager(backend, NewMemoryStore(), Options{
		RetryDelay:    time.Second,
		CheckInterval: 10 * time.Second,
		Now:           func() time.Time { return now },
	})
	assert.Equal(t, 10*time.Second, m.nextCheck(0), "no session waits a full interval")

	_, err := m.Login(context.Background(), "ax", "pw")
	require.NoError(t, err)
	assert.Equal(t, time.Second, m.nextCheck(0))
	assert.Equal(t, 2*time.Second, m.nextCheck(1))
	assert.Equal(t, 8*time.Second, m.nextCheck(3))
	assert.Equal(t, 10*time.Second, m.nextCheck(6))
}
