package auth

import (
	"context"
	"time"
)

// OfficialStore persists official records. Implementations map uniqueness
// violations to ErrDuplicateIdentifier and missing rows to ErrNotFound.
type OfficialStore interface {
	CreateOfficial(ctx context.Context, o Official) (Official, error)
	GetOfficial(ctx context.Context, id string) (Official, error)
	FindOfficialByIdentifier(ctx context.Context, identifier string) (Official, error)
	ListOfficials(ctx context.Context) ([]Official, error)
	CountOfficials(ctx context.Context) (int, error)
	UpdateOfficial(ctx context.Context, id string, upd OfficialUpdate) (Official, error)
	UpdateOfficialPassword(ctx context.Context, id, passwordHash string, mustChange bool) error
	RecordLoginFailure(ctx context.Context, identifier string) error
	RecordLoginSuccess(ctx context.Context, id string, at time.Time) error
}

// SessionStore persists sessions keyed by token hash.
type SessionStore interface {
	CreateSession(ctx context.Context, s Session) error
	FindSessionByTokenHash(ctx context.Context, tokenHash string) (Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	DeleteSession(ctx context.Context, id string) error
	DeleteSessionByTokenHash(ctx context.Context, tokenHash string) (Session, bool, error)
	DeleteSessionsForOfficial(ctx context.Context, officialID string) (int64, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// RankStore persists the descriptive rank catalog.
type RankStore interface {
	UpsertRanks(ctx context.Context, ranks []Rank) error
	ListRanks(ctx context.Context) ([]Rank, error)
}
