package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"erca.gov.et/portal/internal/ids"
	"erca.gov.et/portal/internal/obs"
)

const (
	// DefaultSessionTTL is the session horizon when none is configured.
	DefaultSessionTTL = 24 * time.Hour

	tokenBytes = 32
)

// SessionManager issues, validates and revokes opaque bearer sessions.
type SessionManager struct {
	sessions  SessionStore
	officials OfficialStore
	ttl       time.Duration
	now       func() time.Time
}

// SessionOption configures SessionManager.
type SessionOption func(*SessionManager)

// WithSessionTTL overrides the session lifetime.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(m *SessionManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithSessionClock overrides the time source.
func WithSessionClock(fn func() time.Time) SessionOption {
	return func(m *SessionManager) {
		if fn != nil {
			m.now = fn
		}
	}
}

func NewSessionManager(sessions SessionStore, officials OfficialStore, opts ...SessionOption) (*SessionManager, error) {
	if sessions == nil || officials == nil {
		return nil, errors.New("session and official stores are required")
	}
	m := &SessionManager{
		sessions:  sessions,
		officials: officials,
		ttl:       DefaultSessionTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL reports the configured session lifetime.
func (m *SessionManager) TTL() time.Duration { return m.ttl }

// IssuedSession is returned once at login; Token is never stored.
type IssuedSession struct {
	Token     string
	ExpiresAt time.Time
	Session   Session
}

// Issue creates a new session for official.
func (m *SessionManager) Issue(ctx context.Context, official Official, client ClientInfo) (IssuedSession, error) {
	token, err := newToken()
	if err != nil {
		return IssuedSession{}, err
	}
	now := m.now().UTC()
	sess := Session{
		ID:             ids.New(),
		OfficialID:     official.ID,
		TokenHash:      HashToken(token),
		IssuedAt:       now,
		ExpiresAt:      now.Add(m.ttl),
		LastActivityAt: now,
		IPAddress:      client.IPAddress,
		UserAgent:      client.UserAgent,
	}
	if err := m.sessions.CreateSession(ctx, sess); err != nil {
		return IssuedSession{}, fmt.Errorf("store session: %w", err)
	}
	obs.SessionsIssued.Inc()
	return IssuedSession{Token: token, ExpiresAt: sess.ExpiresAt, Session: sess}, nil
}

// Validate resolves the official owning token. Expired rows are deleted on sight.
func (m *SessionManager) Validate(ctx context.Context, token string) (Official, Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Official{}, Session{}, ErrInvalidSession
	}
	sess, err := m.sessions.FindSessionByTokenHash(ctx, HashToken(token))
	if errors.Is(err, ErrNotFound) {
		return Official{}, Session{}, ErrInvalidSession
	}
	if err != nil {
		return Official{}, Session{}, fmt.Errorf("lookup session: %w", err)
	}
	now := m.now().UTC()
	if sess.Expired(now) {
		if err := m.sessions.DeleteSession(ctx, sess.ID); err != nil && !errors.Is(err, ErrNotFound) {
			obs.Logger().Warn().Err(err).Str("session_id", sess.ID).Msg("expired session cleanup failed")
		} else {
			obs.SessionsRevoked.WithLabelValues("expired").Inc()
		}
		return Official{}, Session{}, ErrInvalidSession
	}
	official, err := m.officials.GetOfficial(ctx, sess.OfficialID)
	if errors.Is(err, ErrNotFound) {
		return Official{}, Session{}, ErrInvalidSession
	}
	if err != nil {
		return Official{}, Session{}, fmt.Errorf("lookup official: %w", err)
	}
	if !official.IsActive || official.AccountLocked {
		return Official{}, Session{}, ErrInvalidSession
	}
	if err := m.sessions.TouchSession(ctx, sess.ID, now); err != nil && !errors.Is(err, ErrNotFound) {
		return Official{}, Session{}, fmt.Errorf("touch session: %w", err)
	}
	sess.LastActivityAt = now
	return official, sess, nil
}

// Revoke deletes the session for token. Revoking an unknown token is not an
// error; removed reports whether a row was actually deleted.
func (m *SessionManager) Revoke(ctx context.Context, token string) (sess Session, removed bool, err error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, false, nil
	}
	sess, removed, err = m.sessions.DeleteSessionByTokenHash(ctx, HashToken(token))
	if err != nil {
		return Session{}, false, fmt.Errorf("revoke session: %w", err)
	}
	if removed {
		obs.SessionsRevoked.WithLabelValues("logout").Inc()
	}
	return sess, removed, nil
}

// RevokeAll deletes every session of an official.
func (m *SessionManager) RevokeAll(ctx context.Context, officialID string) (int64, error) {
	n, err := m.sessions.DeleteSessionsForOfficial(ctx, officialID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	obs.SessionsRevoked.WithLabelValues("revoke_all").Add(float64(n))
	return n, nil
}

// SweepExpired removes expired rows. Validate never depends on it.
func (m *SessionManager) SweepExpired(ctx context.Context) (int64, error) {
	n, err := m.sessions.DeleteExpiredSessions(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	obs.SessionsRevoked.WithLabelValues("expired").Add(float64(n))
	return n, nil
}

// HashToken returns the hex SHA-256 digest stored in place of a bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newToken() (string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
