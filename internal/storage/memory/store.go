package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hongminglow/fanzone-auth/internal/models"
	"github.com/hongminglow/fanzone-auth/internal/storage"
)

var _ storage.UserStore = (*Store)(nil)

// Store keeps identities in process memory. It mirrors the Postgres store's
// uniqueness and compare-and-swap semantics.
type Store struct {
	mu         sync.RWMutex
	byID       map[string]models.Identity
	byEmail    map[string]string
	byUsername map[string]string
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		byID:       make(map[string]models.Identity),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

func (s *Store) CreateIdentity(_ context.Context, identity models.Identity) (models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity.Email = strings.ToLower(identity.Email)
	username := strings.ToLower(identity.Username)
	if _, ok := s.byID[identity.ID]; ok {
		return models.Identity{}, storage.ErrAlreadyExists
	}
	if _, ok := s.byEmail[identity.Email]; ok {
		return models.Identity{}, storage.ErrEmailTaken
	}
	if _, ok := s.byUsername[username]; ok {
		return models.Identity{}, storage.ErrUsernameTaken
	}
	s.byID[identity.ID] = identity
	s.byEmail[identity.Email] = identity.ID
	s.byUsername[username] = identity.ID
	return identity, nil
}

func (s *Store) FindByID(_ context.Context, id string) (models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.byID[id]
	if !ok {
		return models.Identity{}, storage.ErrNotFound
	}
	return identity, nil
}

func (s *Store) FindByUsernameOrEmail(_ context.Context, identifier string) (models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := strings.ToLower(identifier)
	if id, ok := s.byUsername[key]; ok {
		return s.byID[id], nil
	}
	if id, ok := s.byEmail[key]; ok {
		return s.byID[id], nil
	}
	return models.Identity{}, storage.ErrNotFound
}

func (s *Store) TouchLastActive(_ context.Context, id string, at time.Time) error {
	return s.mutate(id, func(i *models.Identity) { i.LastActiveAt = at })
}

func (s *Store) UpdatePasswordHash(_ context.Context, id, passwordHash string) error {
	return s.mutate(id, func(i *models.Identity) {
		i.PasswordHash = passwordHash
		i.UpdatedAt = time.Now().UTC()
	})
}

func (s *Store) UpdateRole(_ context.Context, id string, role models.Role) (models.Identity, error) {
	if err := s.mutate(id, func(i *models.Identity) {
		i.Role = role
		i.UpdatedAt = time.Now().UTC()
	}); err != nil {
		return models.Identity{}, err
	}
	return s.FindByID(context.Background(), id)
}

func (s *Store) UpdateSubscription(_ context.Context, id string, tier models.SubscriptionTier, status models.SubscriptionStatus) (models.Identity, error) {
	if err := s.mutate(id, func(i *models.Identity) {
		i.SubscriptionTier = tier
		i.SubscriptionStatus = status
		i.UpdatedAt = time.Now().UTC()
	}); err != nil {
		return models.Identity{}, err
	}
	return s.FindByID(context.Background(), id)
}

func (s *Store) SetRefreshTokenHash(_ context.Context, id, hash string) error {
	return s.mutate(id, func(i *models.Identity) { i.CurrentRefreshTokenHash = hash })
}

func (s *Store) SwapRefreshTokenHash(_ context.Context, id, old, next string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[id]
	if !ok || identity.CurrentRefreshTokenHash != old {
		return false, nil
	}
	identity.CurrentRefreshTokenHash = next
	s.byID[id] = identity
	return true, nil
}

func (s *Store) ClearRefreshTokenHash(_ context.Context, id string) error {
	return s.mutate(id, func(i *models.Identity) { i.CurrentRefreshTokenHash = "" })
}

func (s *Store) mutate(id string, fn func(*models.Identity)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	fn(&identity)
	s.byID[id] = identity
	return nil
}
