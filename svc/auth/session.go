package auth

import (
	"context"
	"time"

	"penne/metrics"
	"penne/pkg/domain"
	"penne/svc/util"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// Identity is the slice of the provider client the manager needs.
// Client implements it; tests substitute a fake.
type Identity interface {
	SignUp(ctx context.Context, email, password string) (*Account, error)
	SignIn(ctx context.Context, email, password string) (*Account, error)
	Refresh(ctx context.Context, refreshToken string) (*Account, error)
}

// SessionStore persists sessions with a TTL. db.Redis implements it.
type SessionStore interface {
	SaveSession(ctx context.Context, s *domain.Session, ttl time.Duration) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// Manager owns the session lifecycle: an opaque uuid cookie id maps to
// a persisted session, mirrored in a small expirable LRU so the hot
// path rarely touches the session store. Stale id tokens are refreshed
// against the provider, deduped with singleflight so a burst of
// requests for one session triggers a single refresh.
type Manager struct {
	client        Identity
	store         SessionStore
	cache         *expirable.LRU[string, *domain.Session]
	refreshGroup  singleflight.Group
	tokenLifetime time.Duration
	sessionTTL    time.Duration
}

func NewManager(client Identity, store SessionStore, cacheSize int, tokenLifetime, sessionTTL time.Duration) *Manager {
	return &Manager{
		client:        client,
		store:         store,
		cache:         expirable.NewLRU[string, *domain.Session](cacheSize, nil, tokenLifetime),
		tokenLifetime: tokenLifetime,
		sessionTTL:    sessionTTL,
	}
}

// Login signs the user in with the provider and opens a session.
func (m *Manager) Login(ctx context.Context, email, password string) (*domain.Session, error) {
	acct, err := m.client.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	s := &domain.Session{
		ID:           uuid.New().String(),
		UserID:       acct.LocalID,
		Email:        acct.Email,
		IDToken:      acct.IDToken,
		RefreshToken: acct.RefreshToken,
		SignedInAt:   time.Now().UTC(),
	}
	if err := m.store.SaveSession(ctx, s, m.sessionTTL); err != nil {
		return nil, errors.Wrap(err, "save session")
	}
	m.cache.Add(s.ID, s)
	return s, nil
}

// SignUp creates the account; the caller logs in separately.
func (m *Manager) SignUp(ctx context.Context, email, password string) error {
	_, err := m.client.SignUp(ctx, email, password)
	return err
}

func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	m.cache.Remove(sessionID)
	return m.store.DeleteSession(ctx, sessionID)
}

// Current resolves a session cookie to the signed-in user. A missing
// or dead session yields nil, nil: the caller is anonymous, which is
// not an error.
func (m *Manager) Current(ctx context.Context, sessionID string) (*domain.User, error) {
	if sessionID == "" {
		return nil, nil
	}
	s, ok := m.cache.Get(sessionID)
	if !ok {
		var err error
		s, err = m.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, errors.Wrap(err, "load session")
		}
		if s == nil {
			return nil, nil
		}
		m.cache.Add(sessionID, s)
	}
	if time.Since(s.SignedInAt) >= m.tokenLifetime {
		refreshed, err := m.refresh(ctx, s)
		if err != nil {
			// Refresh rejected: the provider revoked the account or
			// the refresh token. Drop the session.
			util.Warn().Err(err).Str("session_id", sessionID).Msg("session refresh failed, logging out")
			_ = m.Logout(ctx, sessionID)
			return nil, nil
		}
		s = refreshed
	}
	return &domain.User{ID: s.UserID, Email: s.Email}, nil
}

func (m *Manager) refresh(ctx context.Context, s *domain.Session) (*domain.Session, error) {
	v, err, _ := m.refreshGroup.Do(s.ID, func() (interface{}, error) {
		acct, err := m.client.Refresh(ctx, s.RefreshToken)
		if err != nil {
			return nil, err
		}
		fresh := *s
		fresh.IDToken = acct.IDToken
		if acct.RefreshToken != "" {
			fresh.RefreshToken = acct.RefreshToken
		}
		fresh.SignedInAt = time.Now().UTC()
		if err := m.store.SaveSession(ctx, &fresh, m.sessionTTL); err != nil {
			return nil, errors.Wrap(err, "save refreshed session")
		}
		m.cache.Add(fresh.ID, &fresh)
		metrics.SessionRefreshes.Inc()
		return &fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Session), nil
}
