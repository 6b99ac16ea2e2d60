package pg

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"

	"erca.gov.et/portal/internal/auth"
)

const officialSelect = `
	select o.id, o.employee_code, o.full_name, o.email, o.phone, o.password_hash,
	       o.department, coalesce(o.rank, '') as rank, coalesce(r.title, '') as rank_title,
	       coalesce(r.level, 0) as rank_level, o.office_location, o.is_super_admin,
	       o.is_active, o.account_locked, o.must_change_password, o.failed_login_count,
	       o.last_login_at, o.manage_officials, o.audit_businesses, o.verify_invoices,
	       o.generate_reports, o.configure_system, o.view_businesses, o.view_transactions,
	       o.view_reports, o.issue_penalties, o.supervisor_id, o.created_by,
	       o.created_at, o.updated_at
	from officials o
	left join ranks r on r.code = o.rank`

type officialRow struct {
	ID                 string     `db:"id"`
	EmployeeCode       string     `db:"employee_code"`
	FullName           string     `db:"full_name"`
	Email              string     `db:"email"`
	Phone              string     `db:"phone"`
	PasswordHash       string     `db:"password_hash"`
	Department         string     `db:"department"`
	Rank               string     `db:"rank"`
	RankTitle          string     `db:"rank_title"`
	RankLevel          int        `db:"rank_level"`
	OfficeLocation     string     `db:"office_location"`
	IsSuperAdmin       bool       `db:"is_super_admin"`
	IsActive           bool       `db:"is_active"`
	AccountLocked      bool       `db:"account_locked"`
	MustChangePassword bool       `db:"must_change_password"`
	FailedLoginCount   int        `db:"failed_login_count"`
	LastLoginAt        *time.Time `db:"last_login_at"`
	ManageOfficials    bool       `db:"manage_officials"`
	AuditBusinesses    bool       `db:"audit_businesses"`
	VerifyInvoices     bool       `db:"verify_invoices"`
	GenerateReports    bool       `db:"generate_reports"`
	ConfigureSystem    bool       `db:"configure_system"`
	ViewBusinesses     bool       `db:"view_businesses"`
	ViewTransactions   bool       `db:"view_transactions"`
	ViewReports        bool       `db:"view_reports"`
	IssuePenalties     bool       `db:"issue_penalties"`
	SupervisorID       *string    `db:"supervisor_id"`
	CreatedBy          *string    `db:"created_by"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

func (r officialRow) official() auth.Official {
	return auth.Official{
		ID:                 r.ID,
		EmployeeCode:       r.EmployeeCode,
		FullName:           r.FullName,
		Email:              r.Email,
		Phone:              r.Phone,
		PasswordHash:       r.PasswordHash,
		Department:         r.Department,
		Rank:               r.Rank,
		RankTitle:          r.RankTitle,
		RankLevel:          r.RankLevel,
		OfficeLocation:     r.OfficeLocation,
		IsSuperAdmin:       r.IsSuperAdmin,
		IsActive:           r.IsActive,
		AccountLocked:      r.AccountLocked,
		MustChangePassword: r.MustChangePassword,
		FailedLoginCount:   r.FailedLoginCount,
		LastLoginAt:        r.LastLoginAt,
		Grants: auth.Grants{
			ManageOfficials:  r.ManageOfficials,
			AuditBusinesses:  r.AuditBusinesses,
			VerifyInvoices:   r.VerifyInvoices,
			GenerateReports:  r.GenerateReports,
			ConfigureSystem:  r.ConfigureSystem,
			ViewBusinesses:   r.ViewBusinesses,
			ViewTransactions: r.ViewTransactions,
			ViewReports:      r.ViewReports,
			IssuePenalties:   r.IssuePenalties,
		},
		SupervisorID: r.SupervisorID,
		CreatedBy:    r.CreatedBy,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (s *Store) CreateOfficial(ctx context.Context, o auth.Official) (auth.Official, error) {
	if s.db == nil {
		return auth.Official{}, errNoDB
	}
	g := o.Grants
	_, err := s.db.ExecContext(ctx, `
		insert into officials (
			id, employee_code, full_name, email, phone, password_hash, department, rank,
			office_location, is_super_admin, is_active, account_locked, must_change_password,
			manage_officials, audit_businesses, verify_invoices, generate_reports,
			configure_system, view_businesses, view_transactions, view_reports,
			issue_penalties, supervisor_id, created_by
		) values (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24
		)
	`, o.ID, o.EmployeeCode, o.FullName, o.Email, o.Phone, o.PasswordHash, o.Department,
		nullIfEmpty(o.Rank), o.OfficeLocation, o.IsSuperAdmin, o.IsActive, o.AccountLocked,
		o.MustChangePassword, g.ManageOfficials, g.AuditBusinesses, g.VerifyInvoices,
		g.GenerateReports, g.ConfigureSystem, g.ViewBusinesses, g.ViewTransactions,
		g.ViewReports, g.IssuePenalties, nullIfNil(o.SupervisorID), nullIfNil(o.CreatedBy))
	if err != nil {
		return auth.Official{}, mapWriteError(err)
	}
	return s.GetOfficial(ctx, o.ID)
}

func (s *Store) GetOfficial(ctx context.Context, id string) (auth.Official, error) {
	return s.getOfficial(ctx, officialSelect+` where o.id = $1`, id)
}

// FindOfficialByIdentifier matches the employee code exactly or the email
// case-insensitively; an employee code match wins.
func (s *Store) FindOfficialByIdentifier(ctx context.Context, identifier string) (auth.Official, error) {
	return s.getOfficial(ctx, officialSelect+`
		where o.employee_code = $1 or lower(o.email) = lower($1)
		order by (o.employee_code = $1) desc
		limit 1`, strings.TrimSpace(identifier))
}

func (s *Store) getOfficial(ctx context.Context, query string, args ...any) (auth.Official, error) {
	if s.db == nil {
		return auth.Official{}, errNoDB
	}
	var row officialRow
	if err := sqlscan.Get(ctx, s.db, &row, query, args...); err != nil {
		if sqlscan.NotFound(err) {
			return auth.Official{}, auth.ErrNotFound
		}
		return auth.Official{}, err
	}
	return row.official(), nil
}

func (s *Store) ListOfficials(ctx context.Context) ([]auth.Official, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var rows []officialRow
	if err := sqlscan.Select(ctx, s.db, &rows, officialSelect+` order by o.full_name, o.id`); err != nil {
		return nil, err
	}
	out := make([]auth.Official, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.official())
	}
	return out, nil
}

func (s *Store) CountOfficials(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `select count(*) from officials`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) UpdateOfficial(ctx context.Context, id string, upd auth.OfficialUpdate) (auth.Official, error) {
	if s.db == nil {
		return auth.Official{}, errNoDB
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	set := func(column string, v any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, v)
		idx++
	}
	if upd.FullName != nil {
		set("full_name", *upd.FullName)
	}
	if upd.Email != nil {
		set("email", *upd.Email)
	}
	if upd.Phone != nil {
		set("phone", *upd.Phone)
	}
	if upd.Department != nil {
		set("department", *upd.Department)
	}
	if upd.Rank != nil {
		set("rank", nullIfEmpty(*upd.Rank))
	}
	if upd.OfficeLocation != nil {
		set("office_location", *upd.OfficeLocation)
	}
	if upd.SupervisorID != nil {
		set("supervisor_id", nullIfEmpty(*upd.SupervisorID))
	}
	if upd.IsActive != nil {
		set("is_active", *upd.IsActive)
	}
	if upd.AccountLocked != nil {
		set("account_locked", *upd.AccountLocked)
	}
	if upd.IsSuperAdmin != nil {
		set("is_super_admin", *upd.IsSuperAdmin)
	}
	// Capability names double as column names.
	for _, c := range auth.AllCapabilities {
		if on, ok := upd.Grants[c]; ok {
			set(string(c), on)
		}
	}
	sets = append(sets, "updated_at = now()")
	query := fmt.Sprintf(`update officials set %s where id = $%d`, strings.Join(sets, ", "), idx)
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return auth.Official{}, mapWriteError(err)
	}
	if err := affected(res); err != nil {
		return auth.Official{}, err
	}
	return s.GetOfficial(ctx, id)
}

func (s *Store) UpdateOfficialPassword(ctx context.Context, id, passwordHash string, mustChange bool) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update officials
		set password_hash = $2, must_change_password = $3, updated_at = now()
		where id = $1
	`, id, passwordHash, mustChange)
	if err != nil {
		return err
	}
	return affected(res)
}

// RecordLoginFailure bumps the counter of the single official
// FindOfficialByIdentifier would return.
func (s *Store) RecordLoginFailure(ctx context.Context, identifier string) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		update officials
		set failed_login_count = failed_login_count + 1
		where id = (
			select id from officials
			where employee_code = $1 or lower(email) = lower($1)
			order by (employee_code = $1) desc
			limit 1
		)
	`, strings.TrimSpace(identifier))
	return err
}

func (s *Store) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update officials
		set failed_login_count = 0, last_login_at = $2
		where id = $1
	`, id, at.UTC())
	if err != nil {
		return err
	}
	return affected(res)
}
