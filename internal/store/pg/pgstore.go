// Package pg implements the portal stores on PostgreSQL through the pgx
// database/sql driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"erca.gov.et/portal/internal/audit"
	"erca.gov.et/portal/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrCheckViolation      = "23514"
)

var errNoDB = errors.New("database connection unavailable")

type Store struct {
	db *sql.DB
}

var (
	_ auth.OfficialStore = (*Store)(nil)
	_ auth.SessionStore  = (*Store)(nil)
	_ auth.RankStore     = (*Store)(nil)
	_ audit.Store        = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Officials number in the low thousands; a small pool suffices.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errNoDB
	}
	return s.db.PingContext(ctx)
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapWriteError translates constraint violations into domain errors.
func mapWriteError(err error) error {
	pgErr, ok := maybePgError(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case pgErrUniqueViolation:
		return fmt.Errorf("%w: %s", auth.ErrDuplicateIdentifier, constraintSubject(pgErr.ConstraintName))
	case pgErrForeignKeyViolation:
		return fmt.Errorf("%w: %s references a missing record", auth.ErrValidation, constraintSubject(pgErr.ConstraintName))
	case pgErrCheckViolation:
		return fmt.Errorf("%w: %s", auth.ErrValidation, constraintSubject(pgErr.ConstraintName))
	}
	return err
}

func constraintSubject(name string) string {
	switch name {
	case "officials_employee_code_key":
		return "employee code already registered"
	case "officials_email_lower_idx":
		return "email already registered"
	case "officials_rank_fkey":
		return "rank"
	case "officials_supervisor_id_fkey":
		return "supervisor"
	case "officials_created_by_fkey":
		return "creator"
	case "":
		return "constraint violated"
	}
	return strings.ReplaceAll(name, "_", " ")
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullIfNil(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullIfEmpty(*s)
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
