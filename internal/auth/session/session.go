// Package session owns server-side login sessions: the live token set for
// each browser session and the single-shot timer that rotates it before
// the id token expires.
package session

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/stylingadventures/closetd/internal/auth/claims"
)

const (
	// rotationSkew is how long before the id token's exp the refresh fires.
	rotationSkew = 60 * time.Second
	// rotationFloor is the minimum delay before a scheduled refresh.
	rotationFloor = 10 * time.Second
)

// TokenSet is one provider-issued token bundle.
type TokenSet struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// ExpiresIn is the provider-reported access token lifetime in seconds.
	ExpiresIn int `json:"expires_in"`
}

// Merge overlays a freshly issued set onto the current one. The refresh
// grant may omit refresh_token; the previous one stays valid and is kept.
func (t TokenSet) Merge(fresh TokenSet) TokenSet {
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = t.RefreshToken
	}
	return fresh
}

// Refresher redeems a refresh token for a fresh token set.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (TokenSet, error)
}

// Session is one signed-in browser session.
type Session struct {
	ID     string
	Sub    string
	Email  string
	Tokens TokenSet

	timer     *time.Timer
	signedOut bool
}

// Manager owns sessions keyed by opaque session id and drives rotation.
type Manager struct {
	refresher Refresher

	mu       sync.Mutex
	sessions map[string]*Session

	// now is swappable for tests.
	now func() time.Time
}

// NewManager creates a session manager that rotates tokens through the
// given refresher.
func NewManager(refresher Refresher) *Manager {
	return &Manager{
		refresher: refresher,
		sessions:  make(map[string]*Session),
		now:       time.Now,
	}
}

// Create registers a new session for the given token set, replacing any
// prior session under the same id.
func (m *Manager) Create(id string, tokens TokenSet) (*Session, error) {
	c, err := claims.ParseIDToken(tokens.IDToken)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.sessions[id]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	s := &Session{
		ID:     id,
		Sub:    c.Sub,
		Email:  c.Email,
		Tokens: tokens,
	}
	m.sessions[id] = s
	return s, nil
}

// Get returns a snapshot of the session for id, or false when signed
// out or unknown. A copy is handed out because the rotation timer
// mutates the live session's tokens under the manager's lock; callers
// hold the snapshot outside it.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.signedOut {
		return nil, false
	}
	snapshot := Session{
		ID:     s.ID,
		Sub:    s.Sub,
		Email:  s.Email,
		Tokens: s.Tokens,
	}
	return &snapshot, true
}

// RotationDelay computes how long to wait before refreshing a token that
// expires at exp: skew seconds early, never sooner than the floor.
func RotationDelay(exp, now time.Time) time.Duration {
	delay := exp.Sub(now) - rotationSkew
	if delay < rotationFloor {
		delay = rotationFloor
	}
	return delay
}

// ScheduleRotation arms the session's refresh timer from its id token's
// exp claim. Calling it again reschedules; a session never holds more
// than one pending timer.
func (m *Manager) ScheduleRotation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.signedOut {
		return nil
	}
	c, err := claims.ParseIDToken(s.Tokens.IDToken)
	if err != nil {
		return err
	}

	delay := RotationDelay(c.ExpiresAt(), m.now())
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, func() { m.rotate(id) })
	log.WithField("sub", s.Sub).Debugf("token rotation scheduled in %s", delay)
	return nil
}

// rotate runs on timer fire: refresh, persist the merged set, reschedule.
// A failed refresh ends the session; the user signs in again.
func (m *Manager) rotate(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || s.signedOut {
		m.mu.Unlock()
		return
	}
	refreshToken := s.Tokens.RefreshToken
	current := s.Tokens
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fresh, err := m.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		log.WithField("sub", s.Sub).Warnf("token rotation failed, signing session out: %v", err)
		m.SignOut(id)
		return
	}

	m.mu.Lock()
	s, ok = m.sessions[id]
	if !ok || s.signedOut {
		m.mu.Unlock()
		return
	}
	s.Tokens = current.Merge(fresh)
	m.mu.Unlock()

	if err = m.ScheduleRotation(id); err != nil {
		log.WithField("sub", s.Sub).Warnf("reschedule after rotation failed: %v", err)
	}
}

// UpdateTokens replaces the session's token set (manual refresh path) and
// returns the merged result.
func (m *Manager) UpdateTokens(id string, fresh TokenSet) (TokenSet, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.signedOut {
		return TokenSet{}, false
	}
	s.Tokens = s.Tokens.Merge(fresh)
	return s.Tokens, true
}

// SignOut cancels any pending rotation and destroys the session. It is
// terminal until the next login creates a new session.
func (m *Manager) SignOut(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.signedOut = true
	s.Tokens = TokenSet{}
	delete(m.sessions, id)
}

// pendingTimer reports whether the session currently holds an armed timer.
// Test hook.
func (m *Manager) pendingTimer(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return ok && s.timer != nil
}
