package pg

import (
	"context"

	"github.com/georgysavva/scany/v2/sqlscan"

	"erca.gov.et/portal/internal/auth"
)

func (s *Store) UpsertRanks(ctx context.Context, ranks []auth.Rank) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range ranks {
		if _, err := tx.ExecContext(ctx, `
			insert into ranks (code, title, level)
			values ($1, $2, $3)
			on conflict (code) do update
			set title = excluded.title, level = excluded.level
		`, r.Code, r.Title, r.Level); err != nil {
			return mapWriteError(err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListRanks(ctx context.Context) ([]auth.Rank, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var ranks []auth.Rank
	if err := sqlscan.Select(ctx, s.db, &ranks, `select code, title, level from ranks order by level, code`); err != nil {
		return nil, err
	}
	return ranks, nil
}
