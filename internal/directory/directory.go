// Package directory manages official accounts: creation, updates, listing
// and password rotation. Every mutation is authorized and audited.
package directory

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"

	"erca.gov.et/portal/internal/audit"
	"erca.gov.et/portal/internal/auth"
	"erca.gov.et/portal/internal/ids"
)

// ErrAlreadyBootstrapped is returned by Bootstrap once any official exists.
var ErrAlreadyBootstrapped = errors.New("directory: already bootstrapped")

// NewOfficial is the input for Create and Bootstrap. An empty Secret asks
// the directory to generate a one-time secret.
type NewOfficial struct {
	EmployeeCode   string          `json:"employee_code"`
	FullName       string          `json:"full_name"`
	Email          string          `json:"email"`
	Phone          string          `json:"phone,omitempty"`
	Department     string          `json:"department,omitempty"`
	Rank           string          `json:"rank,omitempty"`
	OfficeLocation string          `json:"office_location,omitempty"`
	SupervisorID   string          `json:"supervisor_id,omitempty"`
	Secret         string          `json:"secret,omitempty"`
	IsSuperAdmin   bool            `json:"is_super_admin"`
	IsActive       *bool           `json:"is_active,omitempty"`
	Grants         map[string]bool `json:"grants,omitempty"`
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	FullName       *string         `json:"full_name,omitempty"`
	Email          *string         `json:"email,omitempty"`
	Phone          *string         `json:"phone,omitempty"`
	Department     *string         `json:"department,omitempty"`
	Rank           *string         `json:"rank,omitempty"`
	OfficeLocation *string         `json:"office_location,omitempty"`
	SupervisorID   *string         `json:"supervisor_id,omitempty"`
	IsActive       *bool           `json:"is_active,omitempty"`
	AccountLocked  *bool           `json:"account_locked,omitempty"`
	IsSuperAdmin   *bool           `json:"is_super_admin,omitempty"`
	Grants         map[string]bool `json:"grants,omitempty"`
}

// Created carries a new official and, when one was generated, the
// one-time secret. The secret is never stored or returned again.
type Created struct {
	Official        auth.Official `json:"official"`
	GeneratedSecret string        `json:"generated_secret,omitempty"`
}

// Directory is the OfficialDirectory.
type Directory struct {
	officials   auth.OfficialStore
	credentials *auth.CredentialStore
	sessions    *auth.SessionManager
	auditor     auth.Auditor
}

func New(officials auth.OfficialStore, credentials *auth.CredentialStore, sessions *auth.SessionManager, auditor auth.Auditor) (*Directory, error) {
	switch {
	case officials == nil:
		return nil, errors.New("official store is required")
	case credentials == nil:
		return nil, errors.New("credential store is required")
	case sessions == nil:
		return nil, errors.New("session manager is required")
	case auditor == nil:
		return nil, errors.New("auditor is required")
	}
	return &Directory{officials: officials, credentials: credentials, sessions: sessions, auditor: auditor}, nil
}

// Create registers a new official on behalf of requester.
func (d *Directory) Create(ctx context.Context, requester auth.Official, in NewOfficial) (Created, error) {
	if err := auth.RequireCapability(requester, auth.CapManageOfficials); err != nil {
		return Created{}, err
	}
	if in.IsSuperAdmin && !requester.IsSuperAdmin {
		return Created{}, fmt.Errorf("%w: only a super-admin may grant super-admin", auth.ErrUnauthorized)
	}
	return d.create(ctx, requester.ID, in)
}

// Bootstrap creates the first super-admin. It refuses once any official exists.
func (d *Directory) Bootstrap(ctx context.Context, in NewOfficial) (Created, error) {
	n, err := d.officials.CountOfficials(ctx)
	if err != nil {
		return Created{}, err
	}
	if n > 0 {
		return Created{}, ErrAlreadyBootstrapped
	}
	in.IsSuperAdmin = true
	active := true
	in.IsActive = &active
	return d.create(ctx, "", in)
}

func (d *Directory) create(ctx context.Context, creatorID string, in NewOfficial) (Created, error) {
	o, err := in.normalize()
	if err != nil {
		return Created{}, err
	}

	secret := in.Secret
	generated := ""
	if secret == "" {
		if secret, err = auth.GenerateSecret(); err != nil {
			return Created{}, err
		}
		generated = secret
		o.MustChangePassword = true
	} else if err := auth.ValidateNewSecret(secret); err != nil {
		return Created{}, err
	}
	if o.PasswordHash, err = auth.HashSecret(secret); err != nil {
		return Created{}, err
	}

	o.ID = ids.New()
	o.CreatedBy = audit.Actor(creatorID)
	created, err := d.officials.CreateOfficial(ctx, o)
	if err != nil {
		return Created{}, err
	}

	detail := map[string]any{
		"employee_code":        created.EmployeeCode,
		"email":                created.Email,
		"is_super_admin":       created.IsSuperAdmin,
		"capabilities":         auth.Resolve(created).List(),
		"must_change_password": created.MustChangePassword,
	}
	if creatorID == "" {
		detail["bootstrap"] = true
	}
	d.auditor.Record(ctx, audit.Entry{
		OfficialID: audit.Actor(creatorID),
		Action:     audit.ActionCreateUser,
		EntityType: audit.EntityOfficial,
		EntityID:   created.ID,
		Detail:     detail,
	})
	return Created{Official: created, GeneratedSecret: generated}, nil
}

// Update applies patch to the official with the given id. updated_at is
// refreshed even when the patch is empty. Super-admin records can only be
// changed by another super-admin.
func (d *Directory) Update(ctx context.Context, requester auth.Official, id string, patch Patch) (auth.Official, error) {
	if err := auth.RequireCapability(requester, auth.CapManageOfficials); err != nil {
		return auth.Official{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return auth.Official{}, fmt.Errorf("%w: official id is required", auth.ErrValidation)
	}
	if !ids.Valid(id) {
		return auth.Official{}, fmt.Errorf("%w: official %s", auth.ErrNotFound, id)
	}
	if patch.IsSuperAdmin != nil && !requester.IsSuperAdmin {
		return auth.Official{}, fmt.Errorf("%w: only a super-admin may change super-admin", auth.ErrUnauthorized)
	}
	upd, detail, err := patch.normalize()
	if err != nil {
		return auth.Official{}, err
	}
	if !requester.IsSuperAdmin {
		target, err := d.officials.GetOfficial(ctx, id)
		if err != nil {
			return auth.Official{}, err
		}
		if target.IsSuperAdmin {
			return auth.Official{}, fmt.Errorf("%w: only a super-admin may modify a super-admin", auth.ErrUnauthorized)
		}
	}
	updated, err := d.officials.UpdateOfficial(ctx, id, upd)
	if err != nil {
		return auth.Official{}, err
	}
	d.auditor.Record(ctx, audit.Entry{
		OfficialID: audit.Actor(requester.ID),
		Action:     audit.ActionUpdateUser,
		EntityType: audit.EntityOfficial,
		EntityID:   updated.ID,
		Detail:     detail,
	})
	return updated, nil
}

// List returns every official ordered by full name.
func (d *Directory) List(ctx context.Context, requester auth.Official) ([]auth.Official, error) {
	if err := auth.RequireCapability(requester, auth.CapManageOfficials); err != nil {
		return nil, err
	}
	officials, err := d.officials.ListOfficials(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(officials, func(i, j int) bool { return officials[i].FullName < officials[j].FullName })
	return officials, nil
}

// Get returns one official. Officials may always read their own record.
func (d *Directory) Get(ctx context.Context, requester auth.Official, id string) (auth.Official, error) {
	id = strings.TrimSpace(id)
	if id != requester.ID {
		if err := auth.RequireCapability(requester, auth.CapManageOfficials); err != nil {
			return auth.Official{}, err
		}
	}
	if id == "" {
		return auth.Official{}, fmt.Errorf("%w: official id is required", auth.ErrValidation)
	}
	if !ids.Valid(id) {
		return auth.Official{}, fmt.Errorf("%w: official %s", auth.ErrNotFound, id)
	}
	return d.officials.GetOfficial(ctx, id)
}

// ChangePassword rotates the secret of official and revokes every session it
// holds. Revocation happens after the new hash is stored and is not cut short
// by cancellation of ctx once that commit succeeded.
func (d *Directory) ChangePassword(ctx context.Context, official auth.Official, current, next string) error {
	if err := d.credentials.CheckSecret(ctx, official.ID, current); err != nil {
		return err
	}
	if err := auth.ValidateNewSecret(next); err != nil {
		return err
	}
	if next == current {
		return fmt.Errorf("%w: new secret must differ from the current one", auth.ErrValidation)
	}
	hash, err := auth.HashSecret(next)
	if err != nil {
		return err
	}
	if err := d.officials.UpdateOfficialPassword(ctx, official.ID, hash, false); err != nil {
		return err
	}
	committed := context.WithoutCancel(ctx)
	revoked, err := d.sessions.RevokeAll(committed, official.ID)
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	d.auditor.Record(committed, audit.Entry{
		OfficialID: audit.Actor(official.ID),
		Action:     audit.ActionPasswordChange,
		EntityType: audit.EntityOfficial,
		EntityID:   official.ID,
		Detail:     map[string]any{"sessions_revoked": revoked},
	})
	return nil
}

func (in NewOfficial) normalize() (auth.Official, error) {
	o := auth.Official{
		EmployeeCode:   strings.TrimSpace(in.EmployeeCode),
		FullName:       strings.TrimSpace(in.FullName),
		Phone:          strings.TrimSpace(in.Phone),
		Department:     strings.TrimSpace(in.Department),
		Rank:           normalizeRank(in.Rank),
		OfficeLocation: strings.TrimSpace(in.OfficeLocation),
		IsSuperAdmin:   in.IsSuperAdmin,
		IsActive:       true,
	}
	if in.IsActive != nil {
		o.IsActive = *in.IsActive
	}
	if o.EmployeeCode == "" {
		return auth.Official{}, fmt.Errorf("%w: employee_code is required", auth.ErrValidation)
	}
	if o.FullName == "" {
		return auth.Official{}, fmt.Errorf("%w: full_name is required", auth.ErrValidation)
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return auth.Official{}, err
	}
	o.Email = email
	if sup := strings.TrimSpace(in.SupervisorID); sup != "" {
		o.SupervisorID = &sup
	}
	grants, err := parseGrants(in.Grants)
	if err != nil {
		return auth.Official{}, err
	}
	o.Grants = o.Grants.Apply(grants)
	return o, nil
}

func (p Patch) normalize() (auth.OfficialUpdate, map[string]any, error) {
	var upd auth.OfficialUpdate
	detail := map[string]any{}
	trim := func(name string, v *string, required bool) (*string, error) {
		if v == nil {
			return nil, nil
		}
		s := strings.TrimSpace(*v)
		if required && s == "" {
			return nil, fmt.Errorf("%w: %s must not be empty", auth.ErrValidation, name)
		}
		detail[name] = s
		return &s, nil
	}
	var err error
	if upd.FullName, err = trim("full_name", p.FullName, true); err != nil {
		return upd, nil, err
	}
	if upd.Phone, err = trim("phone", p.Phone, false); err != nil {
		return upd, nil, err
	}
	if upd.Department, err = trim("department", p.Department, false); err != nil {
		return upd, nil, err
	}
	if upd.OfficeLocation, err = trim("office_location", p.OfficeLocation, false); err != nil {
		return upd, nil, err
	}
	if upd.SupervisorID, err = trim("supervisor_id", p.SupervisorID, false); err != nil {
		return upd, nil, err
	}
	if p.Email != nil {
		email, err := normalizeEmail(*p.Email)
		if err != nil {
			return upd, nil, err
		}
		upd.Email = &email
		detail["email"] = email
	}
	if p.Rank != nil {
		rank := normalizeRank(*p.Rank)
		upd.Rank = &rank
		detail["rank"] = rank
	}
	if p.IsActive != nil {
		upd.IsActive = p.IsActive
		detail["is_active"] = *p.IsActive
	}
	if p.AccountLocked != nil {
		upd.AccountLocked = p.AccountLocked
		detail["account_locked"] = *p.AccountLocked
	}
	if p.IsSuperAdmin != nil {
		upd.IsSuperAdmin = p.IsSuperAdmin
		detail["is_super_admin"] = *p.IsSuperAdmin
	}
	if len(p.Grants) > 0 {
		grants, err := parseGrants(p.Grants)
		if err != nil {
			return upd, nil, err
		}
		upd.Grants = grants
		changed := make(map[string]bool, len(grants))
		for c, on := range grants {
			changed[string(c)] = on
		}
		detail["grants"] = changed
	}
	return upd, detail, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", auth.ErrValidation)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndexByte(email, '@')+1:], ".") {
		return "", fmt.Errorf("%w: invalid email %q", auth.ErrValidation, raw)
	}
	return email, nil
}

func normalizeRank(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func parseGrants(raw map[string]bool) (map[auth.Capability]bool, error) {
	out := make(map[auth.Capability]bool, len(raw))
	for name, on := range raw {
		c, err := auth.ParseCapability(name)
		if err != nil {
			return nil, err
		}
		out[c] = on
	}
	return out, nil
}
