// Package memory is a process-local implementation of the portal stores.
// It enforces the same uniqueness and reference rules as the PostgreSQL
// schema and is used for tests and single-process development runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"erca.gov.et/portal/internal/audit"
	"erca.gov.et/portal/internal/auth"
)

// Store holds officials, sessions, ranks and audit entries in maps.
type Store struct {
	mu        sync.RWMutex
	officials map[string]auth.Official
	sessions  map[string]auth.Session
	ranks     map[string]auth.Rank
	entries   []audit.Entry
	now       func() time.Time
}

// New returns an empty store preloaded with the built-in rank catalog.
func New() *Store {
	s := &Store{
		officials: make(map[string]auth.Official),
		sessions:  make(map[string]auth.Session),
		ranks:     make(map[string]auth.Rank),
		now:       time.Now,
	}
	if ranks, err := auth.DefaultRanks(); err == nil {
		for _, r := range ranks {
			s.ranks[r.Code] = r
		}
	}
	return s
}

// SetClock overrides the time source used for updated_at stamps.
func (s *Store) SetClock(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.now = fn
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// --- officials ---

func (s *Store) CreateOfficial(_ context.Context, o auth.Official) (auth.Official, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.officials[o.ID]; exists {
		return auth.Official{}, fmt.Errorf("%w: id %s", auth.ErrDuplicateIdentifier, o.ID)
	}
	if err := s.checkUniqueLocked(o.ID, o.EmployeeCode, o.Email); err != nil {
		return auth.Official{}, err
	}
	if err := s.checkRefsLocked(o.Rank, o.SupervisorID, o.CreatedBy); err != nil {
		return auth.Official{}, err
	}
	now := s.now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = o.CreatedAt
	s.officials[o.ID] = o
	return s.decorateLocked(o), nil
}

func (s *Store) GetOfficial(_ context.Context, id string) (auth.Official, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.officials[id]
	if !ok {
		return auth.Official{}, auth.ErrNotFound
	}
	return s.decorateLocked(o), nil
}

func (s *Store) FindOfficialByIdentifier(_ context.Context, identifier string) (auth.Official, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.lookupLocked(identifier)
	if !ok {
		return auth.Official{}, auth.ErrNotFound
	}
	return s.decorateLocked(o), nil
}

func (s *Store) ListOfficials(context.Context) ([]auth.Official, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Official, 0, len(s.officials))
	for _, o := range s.officials {
		out = append(out, s.decorateLocked(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FullName != out[j].FullName {
			return out[i].FullName < out[j].FullName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CountOfficials(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.officials), nil
}

func (s *Store) UpdateOfficial(_ context.Context, id string, upd auth.OfficialUpdate) (auth.Official, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.officials[id]
	if !ok {
		return auth.Official{}, auth.ErrNotFound
	}
	if upd.Email != nil {
		if err := s.checkUniqueLocked(id, "", *upd.Email); err != nil {
			return auth.Official{}, err
		}
		o.Email = *upd.Email
	}
	if upd.Rank != nil {
		if err := s.checkRefsLocked(*upd.Rank, nil, nil); err != nil {
			return auth.Official{}, err
		}
		o.Rank = *upd.Rank
	}
	if upd.SupervisorID != nil {
		if *upd.SupervisorID == "" {
			o.SupervisorID = nil
		} else {
			if err := s.checkRefsLocked("", upd.SupervisorID, nil); err != nil {
				return auth.Official{}, err
			}
			sup := *upd.SupervisorID
			o.SupervisorID = &sup
		}
	}
	if upd.FullName != nil {
		o.FullName = *upd.FullName
	}
	if upd.Phone != nil {
		o.Phone = *upd.Phone
	}
	if upd.Department != nil {
		o.Department = *upd.Department
	}
	if upd.OfficeLocation != nil {
		o.OfficeLocation = *upd.OfficeLocation
	}
	if upd.IsActive != nil {
		o.IsActive = *upd.IsActive
	}
	if upd.AccountLocked != nil {
		o.AccountLocked = *upd.AccountLocked
	}
	if upd.IsSuperAdmin != nil {
		o.IsSuperAdmin = *upd.IsSuperAdmin
	}
	o.Grants = o.Grants.Apply(upd.Grants)
	o.UpdatedAt = s.now().UTC()
	s.officials[id] = o
	return s.decorateLocked(o), nil
}

func (s *Store) UpdateOfficialPassword(_ context.Context, id, passwordHash string, mustChange bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.officials[id]
	if !ok {
		return auth.ErrNotFound
	}
	o.PasswordHash = passwordHash
	o.MustChangePassword = mustChange
	o.UpdatedAt = s.now().UTC()
	s.officials[id] = o
	return nil
}

func (s *Store) RecordLoginFailure(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.lookupLocked(identifier)
	if !ok {
		return nil
	}
	o.FailedLoginCount++
	s.officials[o.ID] = o
	return nil
}

func (s *Store) RecordLoginSuccess(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.officials[id]
	if !ok {
		return auth.ErrNotFound
	}
	at = at.UTC()
	o.FailedLoginCount = 0
	o.LastLoginAt = &at
	s.officials[id] = o
	return nil
}

// lookupLocked matches the employee code exactly or the email
// case-insensitively; an employee code match wins.
func (s *Store) lookupLocked(identifier string) (auth.Official, bool) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return auth.Official{}, false
	}
	var byEmail *auth.Official
	for _, o := range s.officials {
		if o.EmployeeCode == identifier {
			return o, true
		}
		if byEmail == nil && strings.EqualFold(o.Email, identifier) {
			byEmail = &o
		}
	}
	if byEmail != nil {
		return *byEmail, true
	}
	return auth.Official{}, false
}

func (s *Store) checkUniqueLocked(selfID, employeeCode, email string) error {
	for id, o := range s.officials {
		if id == selfID {
			continue
		}
		if employeeCode != "" && o.EmployeeCode == employeeCode {
			return fmt.Errorf("%w: employee code %s", auth.ErrDuplicateIdentifier, employeeCode)
		}
		if email != "" && strings.EqualFold(o.Email, email) {
			return fmt.Errorf("%w: email %s", auth.ErrDuplicateIdentifier, email)
		}
	}
	return nil
}

func (s *Store) checkRefsLocked(rank string, supervisorID, createdBy *string) error {
	if rank != "" {
		if _, ok := s.ranks[rank]; !ok {
			return fmt.Errorf("%w: unknown rank %q", auth.ErrValidation, rank)
		}
	}
	if supervisorID != nil && *supervisorID != "" {
		if _, ok := s.officials[*supervisorID]; !ok {
			return fmt.Errorf("%w: unknown supervisor %q", auth.ErrValidation, *supervisorID)
		}
	}
	if createdBy != nil && *createdBy != "" {
		if _, ok := s.officials[*createdBy]; !ok {
			return fmt.Errorf("%w: unknown creator %q", auth.ErrValidation, *createdBy)
		}
	}
	return nil
}

func (s *Store) decorateLocked(o auth.Official) auth.Official {
	if r, ok := s.ranks[o.Rank]; ok {
		o.RankTitle = r.Title
		o.RankLevel = r.Level
	}
	return o
}

// --- sessions ---

func (s *Store) CreateSession(_ context.Context, sess auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.officials[sess.OfficialID]; !ok {
		return fmt.Errorf("%w: unknown official %q", auth.ErrValidation, sess.OfficialID)
	}
	for _, existing := range s.sessions {
		if existing.TokenHash == sess.TokenHash {
			return fmt.Errorf("%w: session token", auth.ErrDuplicateIdentifier)
		}
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *Store) FindSessionByTokenHash(_ context.Context, tokenHash string) (auth.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.TokenHash == tokenHash {
			return sess, nil
		}
	}
	return auth.Session{}, auth.ErrNotFound
}

func (s *Store) TouchSession(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	sess.LastActivityAt = at.UTC()
	s.sessions[id] = sess
	return nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *Store) DeleteSessionByTokenHash(_ context.Context, tokenHash string) (auth.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.TokenHash == tokenHash {
			delete(s.sessions, id)
			return sess, true, nil
		}
	}
	return auth.Session{}, false, nil
}

func (s *Store) DeleteSessionsForOfficial(_ context.Context, officialID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.OfficialID == officialID {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// SessionCount reports how many session rows exist for officialID.
func (s *Store) SessionCount(officialID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.OfficialID == officialID {
			n++
		}
	}
	return n
}

// --- ranks ---

func (s *Store) UpsertRanks(_ context.Context, ranks []auth.Rank) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range ranks {
		s.ranks[r.Code] = r
	}
	return nil
}

func (s *Store) ListRanks(context.Context) ([]auth.Rank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Rank, 0, len(s.ranks))
	for _, r := range s.ranks {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

// --- audit ---

func (s *Store) AppendAuditEntry(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	detail := make(map[string]any, len(e.Detail))
	for k, v := range e.Detail {
		detail[k] = v
	}
	e.Detail = detail
	s.entries = append(s.entries, e)
	return nil
}

func (s *Store) QueryAuditEntries(_ context.Context, f audit.Filter, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Entry, 0)
	for _, e := range s.entries {
		if !matches(e, f) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.After(out[j].OccurredAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matches(e audit.Entry, f audit.Filter) bool {
	if f.OfficialID != "" && (e.OfficialID == nil || *e.OfficialID != f.OfficialID) {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if !f.Since.IsZero() && e.OccurredAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.OccurredAt.After(f.Until) {
		return false
	}
	return true
}

var (
	_ auth.OfficialStore = (*Store)(nil)
	_ auth.SessionStore  = (*Store)(nil)
	_ auth.RankStore     = (*Store)(nil)
	_ audit.Store        = (*Store)(nil)
)
