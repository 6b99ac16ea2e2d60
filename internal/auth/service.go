package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"erca.gov.et/portal/internal/audit"
	"erca.gov.et/portal/internal/obs"
)

// Auditor receives audit entries. Record must not fail the caller.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry)
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, audit.Entry) {}

// Service composes credential checks and session handling into the login
// and logout flows.
type Service struct {
	officials   OfficialStore
	credentials *CredentialStore
	sessions    *SessionManager
	auditor     Auditor
	now         func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithAuditor records login and logout events through a.
func WithAuditor(a Auditor) ServiceOption {
	return func(s *Service) error {
		if a == nil {
			return errors.New("auditor is nil")
		}
		s.auditor = a
		return nil
	}
}

// WithClock overrides the time source used for last-login stamps.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn == nil {
			return errors.New("clock is nil")
		}
		s.now = fn
		return nil
	}
}

// NewService wires the login flow around an existing SessionManager.
func NewService(officials OfficialStore, sessions *SessionManager, opts ...ServiceOption) (*Service, error) {
	if officials == nil {
		return nil, errors.New("official store is required")
	}
	if sessions == nil {
		return nil, errors.New("session manager is required")
	}
	creds, err := NewCredentialStore(officials)
	if err != nil {
		return nil, err
	}
	s := &Service{
		officials:   officials,
		credentials: creds,
		sessions:    sessions,
		auditor:     nopAuditor{},
		now:         time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Credentials exposes the credential verifier for password changes.
func (s *Service) Credentials() *CredentialStore { return s.credentials }

// Sessions exposes the session manager.
func (s *Service) Sessions() *SessionManager { return s.sessions }

// LoginResult is returned to a caller that authenticated successfully.
type LoginResult struct {
	Token              string        `json:"token"`
	ExpiresAt          time.Time     `json:"expiresAt"`
	Official           Official      `json:"official"`
	Capabilities       CapabilitySet `json:"capabilities"`
	MustChangePassword bool          `json:"must_change_password"`
}

// Login verifies identifier and secret and issues a session.
func (s *Service) Login(ctx context.Context, identifier, secret string, client ClientInfo) (LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || secret == "" {
		return LoginResult{}, fmt.Errorf("%w: identifier and secret are required", ErrValidation)
	}

	v, err := s.credentials.Verify(ctx, identifier, secret)
	if err != nil {
		outcome := loginOutcome(err)
		obs.LoginAttempts.WithLabelValues(outcome).Inc()
		if outcome == "error" {
			return LoginResult{}, err
		}
		if errors.Is(err, ErrInvalidCredentials) {
			if ferr := s.officials.RecordLoginFailure(ctx, identifier); ferr != nil {
				obs.Logger().Warn().Err(ferr).Msg("record login failure")
			}
		}
		s.auditor.Record(ctx, audit.Entry{
			Action:     audit.ActionLoginFailed,
			EntityType: audit.EntityOfficial,
			Detail:     map[string]any{"identifier": identifier, "reason": outcome},
			IPAddress:  client.IPAddress,
			UserAgent:  client.UserAgent,
		})
		return LoginResult{}, err
	}

	official := v.Official
	if v.NeedsRehash {
		s.upgradeHash(ctx, official, secret)
	}

	issued, err := s.sessions.Issue(ctx, official, client)
	if err != nil {
		obs.LoginAttempts.WithLabelValues("error").Inc()
		return LoginResult{}, err
	}
	obs.LoginAttempts.WithLabelValues("success").Inc()

	// The session exists; finish bookkeeping even if the client went away.
	ctx = context.WithoutCancel(ctx)
	now := s.now().UTC()
	if err := s.officials.RecordLoginSuccess(ctx, official.ID, now); err != nil {
		obs.Logger().Warn().Err(err).Str("official_id", official.ID).Msg("record login success")
	}
	official.FailedLoginCount = 0
	official.LastLoginAt = &now

	s.auditor.Record(ctx, audit.Entry{
		OfficialID: audit.Actor(official.ID),
		Action:     audit.ActionLogin,
		EntityType: audit.EntityOfficial,
		EntityID:   official.ID,
		Detail:     map[string]any{"session_id": issued.Session.ID},
		IPAddress:  client.IPAddress,
		UserAgent:  client.UserAgent,
	})

	return LoginResult{
		Token:              issued.Token,
		ExpiresAt:          issued.ExpiresAt,
		Official:           official,
		Capabilities:       Resolve(official),
		MustChangePassword: official.MustChangePassword,
	}, nil
}

// upgradeHash replaces a legacy or outdated hash. Failures leave the old hash
// in place and do not affect the login.
func (s *Service) upgradeHash(ctx context.Context, official Official, secret string) {
	hash, err := HashSecret(secret)
	if err == nil {
		err = s.officials.UpdateOfficialPassword(ctx, official.ID, hash, official.MustChangePassword)
	}
	if err != nil {
		obs.Logger().Warn().Err(err).Str("official_id", official.ID).Msg("password rehash failed")
		return
	}
	obs.Logger().Info().Str("official_id", official.ID).Msg("password hash upgraded")
}

// Authenticate resolves a bearer token to its official.
func (s *Service) Authenticate(ctx context.Context, token string) (Official, Session, error) {
	return s.sessions.Validate(ctx, token)
}

// Logout revokes the session for token. It is idempotent; only an actual
// removal is audited.
func (s *Service) Logout(ctx context.Context, token string, client ClientInfo) error {
	sess, removed, err := s.sessions.Revoke(ctx, token)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	s.auditor.Record(ctx, audit.Entry{
		OfficialID: audit.Actor(sess.OfficialID),
		Action:     audit.ActionLogout,
		EntityType: audit.EntityOfficial,
		EntityID:   sess.OfficialID,
		Detail:     map[string]any{"session_id": sess.ID},
		IPAddress:  client.IPAddress,
		UserAgent:  client.UserAgent,
	})
	return nil
}

func loginOutcome(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountInactive):
		return "inactive"
	case errors.Is(err, ErrAccountLocked):
		return "locked"
	default:
		return "error"
	}
}
