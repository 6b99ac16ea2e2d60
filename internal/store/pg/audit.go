package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"

	"erca.gov.et/portal/internal/audit"
)

type auditRow struct {
	ID         string    `db:"id"`
	OfficialID *string   `db:"official_id"`
	Action     string    `db:"action"`
	EntityType string    `db:"entity_type"`
	EntityID   string    `db:"entity_id"`
	Detail     []byte    `db:"detail"`
	IPAddress  string    `db:"ip_address"`
	UserAgent  string    `db:"user_agent"`
	RequestID  string    `db:"request_id"`
	OccurredAt time.Time `db:"occurred_at"`
}

func (s *Store) AppendAuditEntry(ctx context.Context, e audit.Entry) error {
	if s.db == nil {
		return errNoDB
	}
	detail := []byte("{}")
	if len(e.Detail) > 0 {
		raw, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshal detail: %w", err)
		}
		detail = raw
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_logs (
			id, official_id, action, entity_type, entity_id, detail,
			ip_address, user_agent, request_id, occurred_at
		) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, nullIfNil(e.OfficialID), e.Action, e.EntityType, e.EntityID, detail,
		e.IPAddress, e.UserAgent, e.RequestID, e.OccurredAt)
	return err
}

func (s *Store) QueryAuditEntries(ctx context.Context, f audit.Filter, limit int) ([]audit.Entry, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.OfficialID != "" {
		add("official_id = $%d", f.OfficialID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.EntityType != "" {
		add("entity_type = $%d", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if !f.Since.IsZero() {
		add("occurred_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("occurred_at <= $%d", f.Until)
	}

	query := `select id, official_id, action, entity_type, entity_id, detail,
		ip_address, user_agent, request_id, occurred_at
		from audit_logs`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	args = append(args, audit.NormalizeLimit(limit))
	query += fmt.Sprintf(" order by occurred_at desc, id desc limit $%d", len(args))

	var rows []auditRow
	if err := sqlscan.Select(ctx, s.db, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]audit.Entry, 0, len(rows))
	for _, r := range rows {
		e := audit.Entry{
			ID:         r.ID,
			OfficialID: r.OfficialID,
			Action:     r.Action,
			EntityType: r.EntityType,
			EntityID:   r.EntityID,
			IPAddress:  r.IPAddress,
			UserAgent:  r.UserAgent,
			RequestID:  r.RequestID,
			OccurredAt: r.OccurredAt,
			Detail:     map[string]any{},
		}
		if len(r.Detail) > 0 {
			if err := json.Unmarshal(r.Detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("decode detail of %s: %w", r.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}
