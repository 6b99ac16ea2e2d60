package directory

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"erca.gov.et/portal/internal/audit"
	"erca.gov.et/portal/internal/auth"
	"erca.gov.et/portal/internal/obs"
	"erca.gov.et/portal/internal/store/memory"
)

type fixture struct {
	store *memory.Store
	audit *audit.Logger
	auth  *auth.Service
	dir   *Directory
	admin auth.Official
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	prev := obs.SetOutput(io.Discard)
	t.Cleanup(func() { obs.SetOutput(prev) })

	store := memory.New()
	logger, err := audit.NewLogger(store)
	if err != nil {
		t.Fatalf("audit.NewLogger: %v", err)
	}
	sessions, err := auth.NewSessionManager(store, store, auth.WithSessionTTL(time.Hour))
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	svc, err := auth.NewService(store, sessions, auth.WithAuditor(logger))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	dir, err := New(store, svc.Credentials(), sessions, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	created, err := dir.Bootstrap(context.Background(), NewOfficial{
		EmployeeCode: "ADM-1",
		FullName:     "Almaz Admin",
		Email:        "admin@erca.gov.et",
		Secret:       "initial-admin-secret",
	})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return &fixture{store: store, audit: logger, auth: svc, dir: dir, admin: created.Official}
}

func (f *fixture) entries(t *testing.T, filter audit.Filter) []audit.Entry {
	t.Helper()
	out, err := f.audit.Query(context.Background(), filter, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	return out
}

func TestBootstrapOnlyOnce(t *testing.T) {
	f := newFixture(t)
	if !f.admin.IsSuperAdmin || !f.admin.IsActive {
		t.Fatalf("bootstrap official should be an active super-admin: %+v", f.admin)
	}
	if f.admin.MustChangePassword {
		t.Fatal("chosen secret must not force rotation")
	}
	_, err := f.dir.Bootstrap(context.Background(), NewOfficial{EmployeeCode: "ADM-2", FullName: "Second", Email: "second@erca.gov.et"})
	if !errors.Is(err, ErrAlreadyBootstrapped) {
		t.Fatalf("expected ErrAlreadyBootstrapped, got %v", err)
	}
	entries := f.entries(t, audit.Filter{Action: audit.ActionCreateUser})
	if len(entries) != 1 || entries[0].OfficialID != nil || entries[0].Detail["bootstrap"] != true {
		t.Fatalf("unexpected bootstrap audit: %+v", entries)
	}
}

func TestCreateGeneratesOneTimeSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.dir.Create(ctx, f.admin, NewOfficial{
		EmployeeCode: "E-100",
		FullName:     "Hana Tesfaye",
		Email:        " Hana@ERCA.gov.et ",
		Rank:         "Officer",
		Grants:       map[string]bool{"view_reports": true},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.GeneratedSecret == "" {
		t.Fatal("expected generated secret")
	}
	o := created.Official
	if o.Email != "hana@erca.gov.et" || o.Rank != "officer" || o.RankLevel != 7 {
		t.Fatalf("unexpected normalization: %+v", o)
	}
	if !o.MustChangePassword || !o.IsActive {
		t.Fatalf("expected active official with forced rotation: %+v", o)
	}
	if o.CreatedBy == nil || *o.CreatedBy != f.admin.ID {
		t.Fatalf("created_by not recorded: %v", o.CreatedBy)
	}

	res, err := f.auth.Login(ctx, "E-100", created.GeneratedSecret, auth.ClientInfo{})
	if err != nil {
		t.Fatalf("login with generated secret: %v", err)
	}
	if !res.MustChangePassword {
		t.Fatal("login result should report forced rotation")
	}

	entries := f.entries(t, audit.Filter{Action: audit.ActionCreateUser, EntityID: o.ID})
	if len(entries) != 1 || entries[0].OfficialID == nil || *entries[0].OfficialID != f.admin.ID {
		t.Fatalf("expected one create_user entry by admin, got %+v", entries)
	}
	for k, v := range entries[0].Detail {
		if s, ok := v.(string); ok && s == created.GeneratedSecret {
			t.Fatalf("secret leaked into audit detail key %q", k)
		}
	}
}

func TestCreateRequiresManageOfficials(t *testing.T) {
	f := newFixture(t)
	clerk := auth.Official{ID: "clerk", IsActive: true}
	clerk.Grants.ViewReports = true
	_, err := f.dir.Create(context.Background(), clerk, NewOfficial{EmployeeCode: "E-1", FullName: "X", Email: "x@erca.gov.et"})
	if !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if n, _ := f.store.CountOfficials(context.Background()); n != 1 {
		t.Fatalf("no official should be created, have %d", n)
	}
}

func TestOnlySuperAdminGrantsSuperAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mgr, err := f.dir.Create(ctx, f.admin, NewOfficial{
		EmployeeCode: "M-1", FullName: "Manager", Email: "mgr@erca.gov.et", Secret: "manager-secret",
		Grants: map[string]bool{"manage_officials": true},
	})
	if err != nil {
		t.Fatalf("Create manager: %v", err)
	}
	_, err = f.dir.Create(ctx, mgr.Official, NewOfficial{EmployeeCode: "E-9", FullName: "Nine", Email: "nine@erca.gov.et", IsSuperAdmin: true})
	if !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized on create, got %v", err)
	}
	yes := true
	_, err = f.dir.Update(ctx, mgr.Official, mgr.Official.ID, Patch{IsSuperAdmin: &yes})
	if !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized on update, got %v", err)
	}
}

func TestManagerCannotModifySuperAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mgr, err := f.dir.Create(ctx, f.admin, NewOfficial{
		EmployeeCode: "M-1", FullName: "Manager", Email: "mgr@erca.gov.et", Secret: "manager-secret",
		Grants: map[string]bool{"manage_officials": true},
	})
	if err != nil {
		t.Fatalf("Create manager: %v", err)
	}

	locked, inactive := true, false
	email := "elsewhere@erca.gov.et"
	for name, patch := range map[string]Patch{
		"lock":       {AccountLocked: &locked},
		"deactivate": {IsActive: &inactive},
		"re-email":   {Email: &email},
	} {
		if _, err := f.dir.Update(ctx, mgr.Official, f.admin.ID, patch); !errors.Is(err, auth.ErrUnauthorized) {
			t.Fatalf("%s: expected ErrUnauthorized, got %v", name, err)
		}
	}
	stored, err := f.store.GetOfficial(ctx, f.admin.ID)
	if err != nil {
		t.Fatalf("GetOfficial: %v", err)
	}
	if stored.AccountLocked || !stored.IsActive || stored.Email != "admin@erca.gov.et" {
		t.Fatalf("super-admin record changed: %+v", stored)
	}

	// ordinary officials stay manageable
	other, _ := f.dir.Create(ctx, f.admin, NewOfficial{EmployeeCode: "E-3", FullName: "C", Email: "c@erca.gov.et"})
	if _, err := f.dir.Update(ctx, mgr.Official, other.Official.ID, Patch{AccountLocked: &locked}); err != nil {
		t.Fatalf("manager update of regular official: %v", err)
	}
	// another super-admin may
	if _, err := f.dir.Update(ctx, f.admin, f.admin.ID, Patch{Email: &email}); err != nil {
		t.Fatalf("super-admin self update: %v", err)
	}
}

func TestMalformedIDIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	name := "x"
	for _, id := range []string{"missing", "01HZ", "'; drop table officials; --"} {
		if _, err := f.dir.Get(ctx, f.admin, id); !errors.Is(err, auth.ErrNotFound) {
			t.Fatalf("Get(%q): expected ErrNotFound, got %v", id, err)
		}
		if _, err := f.dir.Update(ctx, f.admin, id, Patch{FullName: &name}); !errors.Is(err, auth.ErrNotFound) {
			t.Fatalf("Update(%q): expected ErrNotFound, got %v", id, err)
		}
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]NewOfficial{
		"code":    {FullName: "A", Email: "a@erca.gov.et"},
		"name":    {EmployeeCode: "E-1", Email: "a@erca.gov.et"},
		"email":   {EmployeeCode: "E-1", FullName: "A", Email: "not-an-email"},
		"domain":  {EmployeeCode: "E-1", FullName: "A", Email: "a@localhost"},
		"secret":  {EmployeeCode: "E-1", FullName: "A", Email: "a@erca.gov.et", Secret: "short"},
		"grant":   {EmployeeCode: "E-1", FullName: "A", Email: "a@erca.gov.et", Grants: map[string]bool{"fly": true}},
		"rank":    {EmployeeCode: "E-1", FullName: "A", Email: "a@erca.gov.et", Rank: "emperor"},
		"missing": {EmployeeCode: "E-1", FullName: "A", Email: "a@erca.gov.et", SupervisorID: "nobody"},
	}
	for name, in := range cases {
		if _, err := f.dir.Create(context.Background(), f.admin, in); !errors.Is(err, auth.ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", name, err)
		}
	}
}

func TestCreateDuplicateEmployeeCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := NewOfficial{EmployeeCode: "E-100", FullName: "First", Email: "first@erca.gov.et"}
	if _, err := f.dir.Create(ctx, f.admin, in); err != nil {
		t.Fatalf("first create: %v", err)
	}
	in.Email = "second@erca.gov.et"
	if _, err := f.dir.Create(ctx, f.admin, in); !errors.Is(err, auth.ErrDuplicateIdentifier) {
		t.Fatalf("expected ErrDuplicateIdentifier, got %v", err)
	}
	if n, _ := f.store.CountOfficials(ctx); n != 2 {
		t.Fatalf("expected admin plus one official, got %d", n)
	}
	if got := f.entries(t, audit.Filter{Action: audit.ActionCreateUser}); len(got) != 2 {
		t.Fatalf("failed create must not be audited, got %d entries", len(got))
	}
}

func TestConcurrentCreateKeepsOneRecord(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.dir.Create(context.Background(), f.admin, NewOfficial{EmployeeCode: "E-7", FullName: "Same", Email: "same@erca.gov.et"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	ok := 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, auth.ErrDuplicateIdentifier):
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one successful create, got %d", ok)
	}
}

func TestUpdateAppliesPatchAndAudits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, _ := f.dir.Create(ctx, f.admin, NewOfficial{EmployeeCode: "E-1", FullName: "Abel", Email: "abel@erca.gov.et"})
	before := created.Official.UpdatedAt

	name := "Abel Girma"
	locked := true
	time.Sleep(2 * time.Millisecond)
	updated, err := f.dir.Update(ctx, f.admin, created.Official.ID, Patch{
		FullName:      &name,
		AccountLocked: &locked,
		Grants:        map[string]bool{"issue_penalties": true},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.FullName != name || !updated.AccountLocked || !updated.Grants.IssuePenalties {
		t.Fatalf("patch not applied: %+v", updated)
	}
	if !updated.UpdatedAt.After(before) {
		t.Fatalf("updated_at not refreshed: %v -> %v", before, updated.UpdatedAt)
	}

	entries := f.entries(t, audit.Filter{Action: audit.ActionUpdateUser, EntityID: updated.ID})
	if len(entries) != 1 {
		t.Fatalf("expected one update_user entry, got %d", len(entries))
	}
	if entries[0].Detail["full_name"] != name || entries[0].Detail["account_locked"] != true {
		t.Fatalf("unexpected detail %+v", entries[0].Detail)
	}
}

func TestUpdateEmptyPatchRefreshesTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, _ := f.dir.Create(ctx, f.admin, NewOfficial{EmployeeCode: "E-1", FullName: "Abel", Email: "abel@erca.gov.et"})
	time.Sleep(2 * time.Millisecond)
	updated, err := f.dir.Update(ctx, f.admin, created.Official.ID, Patch{})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !updated.UpdatedAt.After(created.Official.UpdatedAt) {
		t.Fatal("updated_at not refreshed")
	}
}

func TestUpdateErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	name := "x"
	if _, err := f.dir.Update(ctx, f.admin, "missing", Patch{FullName: &name}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	blank := "  "
	if _, err := f.dir.Update(ctx, f.admin, f.admin.ID, Patch{FullName: &blank}); !errors.Is(err, auth.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	other, _ := f.dir.Create(ctx, f.admin, NewOfficial{EmployeeCode: "E-2", FullName: "B", Email: "b@erca.gov.et"})
	taken := "admin@erca.gov.et"
	if _, err := f.dir.Update(ctx, f.admin, other.Official.ID, Patch{Email: &taken}); !errors.Is(err, auth.ErrDuplicateIdentifier) {
		t.Fatalf("expected ErrDuplicateIdentifier, got %v", err)
	}
}

func TestListOrderedByName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, n := range []string{"Zewdu", "Bethel", "Meron"} {
		if _, err := f.dir.Create(ctx, f.admin, NewOfficial{EmployeeCode: "E-" + n, FullName: n, Email: n + "@erca.gov.et"}); err != nil {
			t.Fatalf("Create %s: %v", n, err)
		}
	}
	list, err := f.dir.List(ctx, f.admin)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"Almaz Admin", "Bethel", "Meron", "Zewdu"}
	if len(list) != len(want) {
		t.Fatalf("expected %d officials, got %d", len(want), len(list))
	}
	for i, o := range list {
		if o.FullName != want[i] {
			t.Fatalf("position %d: got %s want %s", i, o.FullName, want[i])
		}
	}
	if _, err := f.dir.List(ctx, auth.Official{ID: "nobody"}); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestGetOwnRecordWithoutCapability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, _ := f.dir.Create(ctx, f.admin, NewOfficial{EmployeeCode: "E-1", FullName: "Abel", Email: "abel@erca.gov.et"})
	self := created.Official
	if _, err := f.dir.Get(ctx, self, self.ID); err != nil {
		t.Fatalf("Get self: %v", err)
	}
	if _, err := f.dir.Get(ctx, self, f.admin.ID); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestChangePasswordRevokesEverySession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, _ := f.dir.Create(ctx, f.admin, NewOfficial{EmployeeCode: "E-1", FullName: "Abel", Email: "abel@erca.gov.et"})
	secret := created.GeneratedSecret

	a, err := f.auth.Login(ctx, "E-1", secret, auth.ClientInfo{})
	if err != nil {
		t.Fatalf("Login a: %v", err)
	}
	b, err := f.auth.Login(ctx, "abel@erca.gov.et", secret, auth.ClientInfo{})
	if err != nil {
		t.Fatalf("Login b: %v", err)
	}

	if err := f.dir.ChangePassword(ctx, created.Official, "wrong", "brand-new-secret"); !errors.Is(err, auth.ErrInvalidCurrentSecret) {
		t.Fatalf("expected ErrInvalidCurrentSecret, got %v", err)
	}
	if err := f.dir.ChangePassword(ctx, created.Official, secret, "short"); !errors.Is(err, auth.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if err := f.dir.ChangePassword(ctx, created.Official, secret, "brand-new-secret"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	for _, tok := range []string{a.Token, b.Token} {
		if _, _, err := f.auth.Authenticate(ctx, tok); !errors.Is(err, auth.ErrInvalidSession) {
			t.Fatalf("expected revoked session, got %v", err)
		}
	}
	if _, err := f.auth.Login(ctx, "E-1", secret, auth.ClientInfo{}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("old secret should fail, got %v", err)
	}
	res, err := f.auth.Login(ctx, "E-1", "brand-new-secret", auth.ClientInfo{})
	if err != nil {
		t.Fatalf("login with new secret: %v", err)
	}
	if res.MustChangePassword {
		t.Fatal("rotation flag should be cleared")
	}

	entries := f.entries(t, audit.Filter{Action: audit.ActionPasswordChange})
	if len(entries) != 1 || entries[0].Detail["sessions_revoked"] != int64(2) {
		t.Fatalf("unexpected password_change entries %+v", entries)
	}
}

func TestPrivilegedFlowAuditTrail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.dir.Create(ctx, f.admin, NewOfficial{EmployeeCode: "E-1", FullName: "Abel", Email: "abel@erca.gov.et", Secret: "chosen-secret"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	res, err := f.auth.Login(ctx, "E-1", "chosen-secret", auth.ClientInfo{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := f.auth.Logout(ctx, res.Token, auth.ClientInfo{}); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	entries := f.entries(t, audit.Filter{EntityID: created.Official.ID})
	got := map[string]int{}
	for _, e := range entries {
		got[e.Action]++
	}
	for _, action := range []string{audit.ActionCreateUser, audit.ActionLogin, audit.ActionLogout} {
		if got[action] != 1 {
			t.Fatalf("expected one %s entry, got %d (%v)", action, got[action], got)
		}
	}
}

// ctxStore behaves like a database driver: every call fails once ctx is done.
// Storing a password hash cancels the caller's context, modelling a client
// that disconnects right after the commit.
type ctxStore struct {
	*memory.Store
	cancel context.CancelFunc
}

func (s *ctxStore) UpdateOfficialPassword(ctx context.Context, id, hash string, mustChange bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.Store.UpdateOfficialPassword(ctx, id, hash, mustChange)
	if s.cancel != nil {
		s.cancel()
	}
	return err
}

func (s *ctxStore) DeleteSessionsForOfficial(ctx context.Context, officialID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.Store.DeleteSessionsForOfficial(ctx, officialID)
}

func (s *ctxStore) AppendAuditEntry(ctx context.Context, e audit.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.AppendAuditEntry(ctx, e)
}

func TestChangePasswordRevokesAfterClientCancels(t *testing.T) {
	prev := obs.SetOutput(io.Discard)
	t.Cleanup(func() { obs.SetOutput(prev) })

	store := &ctxStore{Store: memory.New()}
	logger, err := audit.NewLogger(store)
	if err != nil {
		t.Fatalf("audit.NewLogger: %v", err)
	}
	sessions, err := auth.NewSessionManager(store, store, auth.WithSessionTTL(time.Hour))
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	svc, err := auth.NewService(store, sessions, auth.WithAuditor(logger))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	dir, err := New(store, svc.Credentials(), sessions, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bg := context.Background()
	created, err := dir.Bootstrap(bg, NewOfficial{
		EmployeeCode: "ADM-1",
		FullName:     "Almaz Admin",
		Email:        "admin@erca.gov.et",
		Secret:       "initial-admin-secret",
	})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	old, err := svc.Login(bg, "ADM-1", "initial-admin-secret", auth.ClientInfo{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	ctx, cancel := context.WithCancel(bg)
	defer cancel()
	store.cancel = cancel
	if err := dir.ChangePassword(ctx, created.Official, "initial-admin-secret", "rotated-admin-secret"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	store.cancel = nil

	if _, _, err := svc.Authenticate(bg, old.Token); !errors.Is(err, auth.ErrInvalidSession) {
		t.Fatalf("old session must be revoked once the new secret is stored, got %v", err)
	}
	if _, err := svc.Login(bg, "ADM-1", "rotated-admin-secret", auth.ClientInfo{}); err != nil {
		t.Fatalf("login with rotated secret: %v", err)
	}
	entries, err := logger.Query(bg, audit.Filter{Action: audit.ActionPasswordChange}, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("password_change must be audited after cancellation, got %d entries", len(entries))
	}
}
