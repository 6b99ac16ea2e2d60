package pg

import (
	"context"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"

	"erca.gov.et/portal/internal/auth"
)

const sessionColumns = `id, official_id, token_hash, issued_at, expires_at, last_activity_at, ip_address, user_agent`

type sessionRow struct {
	ID             string    `db:"id"`
	OfficialID     string    `db:"official_id"`
	TokenHash      string    `db:"token_hash"`
	IssuedAt       time.Time `db:"issued_at"`
	ExpiresAt      time.Time `db:"expires_at"`
	LastActivityAt time.Time `db:"last_activity_at"`
	IPAddress      string    `db:"ip_address"`
	UserAgent      string    `db:"user_agent"`
}

func (r sessionRow) session() auth.Session {
	return auth.Session(r)
}

func (s *Store) CreateSession(ctx context.Context, sess auth.Session) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into official_sessions (`+sessionColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sess.ID, sess.OfficialID, sess.TokenHash, sess.IssuedAt, sess.ExpiresAt,
		sess.LastActivityAt, sess.IPAddress, sess.UserAgent)
	return mapWriteError(err)
}

func (s *Store) FindSessionByTokenHash(ctx context.Context, tokenHash string) (auth.Session, error) {
	if s.db == nil {
		return auth.Session{}, errNoDB
	}
	var row sessionRow
	err := sqlscan.Get(ctx, s.db, &row, `select `+sessionColumns+` from official_sessions where token_hash = $1`, tokenHash)
	if sqlscan.NotFound(err) {
		return auth.Session{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Session{}, err
	}
	return row.session(), nil
}

func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `update official_sessions set last_activity_at = $2 where id = $1`, id, at)
	if err != nil {
		return err
	}
	return affected(res)
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from official_sessions where id = $1`, id)
	if err != nil {
		return err
	}
	return affected(res)
}

func (s *Store) DeleteSessionByTokenHash(ctx context.Context, tokenHash string) (auth.Session, bool, error) {
	if s.db == nil {
		return auth.Session{}, false, errNoDB
	}
	var row sessionRow
	err := sqlscan.Get(ctx, s.db, &row, `delete from official_sessions where token_hash = $1 returning `+sessionColumns, tokenHash)
	if sqlscan.NotFound(err) {
		return auth.Session{}, false, nil
	}
	if err != nil {
		return auth.Session{}, false, err
	}
	return row.session(), true, nil
}

func (s *Store) DeleteSessionsForOfficial(ctx context.Context, officialID string) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from official_sessions where official_id = $1`, officialID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from official_sessions where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
