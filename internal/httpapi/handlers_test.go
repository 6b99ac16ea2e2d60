package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"erca.gov.et/portal/internal/audit"
	"erca.gov.et/portal/internal/auth"
	"erca.gov.et/portal/internal/directory"
	"erca.gov.et/portal/internal/obs"
	"erca.gov.et/portal/internal/store/memory"
)

const (
	adminCode   = "ADM-1"
	adminSecret = "initial-admin-secret"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	store   *memory.Store
	admin   auth.Official
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	return newTestAPIWithReady(t, ReadyProbe{})
}

func newTestAPIWithReady(t *testing.T, ready ReadyProbe) *apiClient {
	t.Helper()
	prev := obs.SetOutput(io.Discard)
	t.Cleanup(func() { obs.SetOutput(prev) })

	store := memory.New()
	feed := audit.NewBroadcaster()
	logger, err := audit.NewLogger(store, audit.WithPublisher(feed))
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
	dir, err := directory.New(store, svc.Credentials(), sessions, logger)
	if err != nil {
		t.Fatalf("directory.New: %v", err)
	}
	created, err := dir.Bootstrap(context.Background(), directory.NewOfficial{
		EmployeeCode: adminCode,
		FullName:     "Almaz Admin",
		Email:        "admin@erca.gov.et",
		Secret:       adminSecret,
	})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if ready.Store == nil {
		ready.Store = store
	}

	api, err := New(Deps{
		Service:   svc,
		Directory: dir,
		Audit:     logger,
		Feed:      feed,
		Ranks:     store,
		Ready:     ready,
	}, Options{Version: "test", LoginRateBurst: 100, LoginRatePerSec: 100})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		store:   store,
		admin:   created.Official,
	}
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) put(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPut, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, headers)
}

// expect asserts the status code and decodes the body into dst when non-nil.
func (c *apiClient) expect(resp *http.Response, code int, dst any) {
	c.t.Helper()
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != code {
		c.t.Fatalf("expected %d, got %d: %s", code, resp.StatusCode, raw)
	}
	if dst != nil {
		if err := json.Unmarshal(raw, dst); err != nil {
			c.t.Fatalf("decode response: %v (%s)", err, raw)
		}
	}
}

func (c *apiClient) login(identifier, secret string) loginPayload {
	c.t.Helper()
	var res loginPayload
	c.expect(c.post("/auth/login", map[string]any{"identifier": identifier, "secret": secret}, nil), http.StatusOK, &res)
	if res.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return res
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

type loginPayload struct {
	Token              string        `json:"token"`
	ExpiresAt          time.Time     `json:"expiresAt"`
	Official           auth.Official `json:"official"`
	Capabilities       []string      `json:"capabilities"`
	MustChangePassword bool          `json:"must_change_password"`
}

type validatePayload struct {
	Valid        bool           `json:"valid"`
	Official     *auth.Official `json:"official"`
	Capabilities []string       `json:"capabilities"`
}

type createdPayload struct {
	Official        auth.Official `json:"official"`
	GeneratedSecret string        `json:"generated_secret"`
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)
	var body map[string]any
	api.expect(api.get("/healthz", nil, nil), http.StatusOK, &body)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestReadyzReportsStoreFailure(t *testing.T) {
	api := newTestAPIWithReady(t, ReadyProbe{Store: failingPinger{}})
	var body map[string]any
	api.expect(api.get("/readyz", nil, nil), http.StatusServiceUnavailable, &body)
	if body["status"] != "not_ready" {
		t.Fatalf("unexpected readiness body: %v", body)
	}
	if _, leaked := body["error"]; leaked {
		t.Fatalf("readiness must not leak store errors: %v", body)
	}
}

func TestLoginValidateLogoutFlow(t *testing.T) {
	api := newTestAPI(t)

	var res loginPayload
	api.expect(api.post("/auth/login", map[string]any{"identifier": adminCode, "secret": adminSecret}, nil), http.StatusOK, &res)
	if res.Token == "" || res.Official.ID != api.admin.ID {
		t.Fatalf("unexpected login payload: %+v", res)
	}
	if res.MustChangePassword {
		t.Fatal("bootstrap secret was chosen, rotation should not be forced")
	}
	if len(res.Capabilities) != len(auth.AllCapabilities) {
		t.Fatalf("super-admin should resolve every capability, got %v", res.Capabilities)
	}
	if !res.ExpiresAt.After(time.Now()) {
		t.Fatalf("expiresAt should be in the future: %v", res.ExpiresAt)
	}

	var v validatePayload
	api.expect(api.post("/auth/validate", map[string]any{"token": res.Token}, nil), http.StatusOK, &v)
	if !v.Valid || v.Official == nil || v.Official.ID != api.admin.ID {
		t.Fatalf("expected valid session, got %+v", v)
	}

	var me struct {
		Official     auth.Official `json:"official"`
		Capabilities []string      `json:"capabilities"`
	}
	api.expect(api.get("/auth/me", nil, bearerHeader(res.Token)), http.StatusOK, &me)
	if me.Official.EmployeeCode != adminCode {
		t.Fatalf("unexpected /auth/me official: %+v", me.Official)
	}

	var out map[string]any
	api.expect(api.post("/auth/logout", map[string]any{"token": res.Token}, nil), http.StatusOK, &out)
	if out["success"] != true {
		t.Fatalf("unexpected logout body: %v", out)
	}

	v = validatePayload{}
	api.expect(api.post("/auth/validate", map[string]any{"token": res.Token}, nil), http.StatusOK, &v)
	if v.Valid || v.Official != nil {
		t.Fatalf("revoked token still valid: %+v", v)
	}
	api.expect(api.get("/auth/me", nil, bearerHeader(res.Token)), http.StatusUnauthorized, nil)

	// idempotent; the bearer header is accepted as well
	api.expect(api.post("/auth/logout", nil, bearerHeader(res.Token)), http.StatusOK, nil)
}

func TestLoginWrongSecretIsUnauthorized(t *testing.T) {
	api := newTestAPI(t)
	var body errorBody
	api.expect(api.post("/auth/login", map[string]any{"identifier": adminCode, "secret": "wrong-secret"}, nil), http.StatusUnauthorized, &body)
	if body.Error != "invalid credentials" {
		t.Fatalf("unexpected error message: %q", body.Error)
	}
	if body.RequestID == "" {
		t.Fatal("expected request_id in error body")
	}
	api.expect(api.post("/auth/login", map[string]any{"identifier": "NOPE-1", "secret": "wrong-secret"}, nil), http.StatusUnauthorized, &body)
	if body.Error != "invalid credentials" {
		t.Fatalf("unknown identifiers must look like wrong secrets, got %q", body.Error)
	}
}

func TestLoginRejectsMalformedBodies(t *testing.T) {
	api := newTestAPI(t)
	api.expect(api.post("/auth/login", nil, nil), http.StatusBadRequest, nil)
	api.expect(api.post("/auth/login", map[string]any{"identifier": adminCode}, nil), http.StatusBadRequest, nil)
	api.expect(api.post("/auth/login", map[string]any{"identifier": adminCode, "secret": adminSecret, "role": "x"}, nil), http.StatusBadRequest, nil)
}

func TestInactiveOfficialCannotLogin(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login(adminCode, adminSecret)

	var created createdPayload
	api.expect(api.post("/officials", map[string]any{
		"employee_code": "E100",
		"full_name":     "Bekele Tadesse",
		"email":         "bekele@erca.gov.et",
		"secret":        "bekele-secret-1",
	}, bearerHeader(admin.Token)), http.StatusCreated, &created)

	officer := api.login("bekele@erca.gov.et", "bekele-secret-1")
	api.expect(api.put("/officials/"+created.Official.ID, map[string]any{"is_active": false}, bearerHeader(admin.Token)), http.StatusOK, nil)

	var body errorBody
	api.expect(api.post("/auth/login", map[string]any{"identifier": "E100", "secret": "bekele-secret-1"}, nil), http.StatusUnauthorized, &body)
	if body.Error != "account inactive" {
		t.Fatalf("unexpected error: %q", body.Error)
	}
	var v validatePayload
	api.expect(api.post("/auth/validate", map[string]any{"token": officer.Token}, nil), http.StatusOK, &v)
	if v.Valid {
		t.Fatal("session of a deactivated official must be invalid")
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	api := newTestAPI(t)
	api.expect(api.get("/officials", nil, nil), http.StatusUnauthorized, nil)
	api.expect(api.get("/officials", nil, map[string]string{"Authorization": "Basic abc"}), http.StatusUnauthorized, nil)
	api.expect(api.get("/officials", nil, bearerHeader("not-a-session")), http.StatusUnauthorized, nil)
	api.expect(api.get("/ranks", nil, nil), http.StatusUnauthorized, nil)
	api.expect(api.get("/audit-logs", nil, nil), http.StatusUnauthorized, nil)
	api.expect(api.post("/auth/change-password", map[string]any{"currentSecret": "a", "newSecret": "b"}, nil), http.StatusUnauthorized, nil)
}

func TestGeneratedSecretForcesRotation(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login(adminCode, adminSecret)

	var created createdPayload
	resp := api.post("/officials", map[string]any{
		"employee_code": "E200",
		"full_name":     "Hana Girma",
		"email":         "Hana.Girma@ERCA.gov.et",
		"rank":          "officer",
		"grants":        map[string]bool{"view_reports": true},
	}, bearerHeader(admin.Token))
	if loc := resp.Header.Get("Location"); loc == "" {
		t.Fatal("expected Location header")
	}
	api.expect(resp, http.StatusCreated, &created)
	if created.GeneratedSecret == "" {
		t.Fatal("expected a generated one-time secret")
	}
	if created.Official.Email != "hana.girma@erca.gov.et" || !created.Official.MustChangePassword {
		t.Fatalf("unexpected created official: %+v", created.Official)
	}

	first := api.login("E200", created.GeneratedSecret)
	if !first.MustChangePassword {
		t.Fatal("first login should require a password change")
	}

	var body errorBody
	api.expect(api.get("/ranks", nil, bearerHeader(first.Token)), http.StatusForbidden, &body)
	if body.Error != "password change required" {
		t.Fatalf("unexpected error: %q", body.Error)
	}
	api.expect(api.get("/auth/me", nil, bearerHeader(first.Token)), http.StatusOK, nil)

	api.expect(api.post("/auth/change-password", map[string]any{
		"current_secret": "not-it",
		"new_secret":     "hana-new-secret",
	}, bearerHeader(first.Token)), http.StatusUnauthorized, nil)
	api.expect(api.post("/auth/change-password", map[string]any{
		"currentSecret": created.GeneratedSecret,
		"newSecret":     "short",
	}, bearerHeader(first.Token)), http.StatusBadRequest, nil)
	api.expect(api.post("/auth/change-password", map[string]any{
		"currentSecret": created.GeneratedSecret,
		"newSecret":     "hana-new-secret",
	}, bearerHeader(first.Token)), http.StatusOK, nil)

	var v validatePayload
	api.expect(api.post("/auth/validate", map[string]any{"token": first.Token}, nil), http.StatusOK, &v)
	if v.Valid {
		t.Fatal("password change must revoke existing sessions")
	}
	api.expect(api.post("/auth/login", map[string]any{"identifier": "E200", "secret": created.GeneratedSecret}, nil), http.StatusUnauthorized, nil)

	second := api.login("E200", "hana-new-secret")
	if second.MustChangePassword {
		t.Fatal("rotation flag should be cleared")
	}
	var ranks ranksResponse
	api.expect(api.get("/ranks", nil, bearerHeader(second.Token)), http.StatusOK, &ranks)
	if len(ranks.Ranks) == 0 {
		t.Fatal("expected the rank catalog")
	}

	// own record is readable, the directory is not
	api.expect(api.get("/officials/"+created.Official.ID, nil, bearerHeader(second.Token)), http.StatusOK, nil)
	api.expect(api.get("/officials/"+api.admin.ID, nil, bearerHeader(second.Token)), http.StatusForbidden, nil)
	api.expect(api.get("/officials", nil, bearerHeader(second.Token)), http.StatusForbidden, nil)
}

func TestCreateOfficialErrors(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login(adminCode, adminSecret)
	h := bearerHeader(admin.Token)

	api.expect(api.post("/officials", map[string]any{
		"employee_code": "E300",
		"full_name":     "Sara Mekonnen",
		"email":         "sara@erca.gov.et",
	}, h), http.StatusCreated, nil)

	var body errorBody
	api.expect(api.post("/officials", map[string]any{
		"employee_code": "E301",
		"full_name":     "Sara Duplicate",
		"email":         "SARA@erca.gov.et",
	}, h), http.StatusConflict, &body)
	if body.Error == "" {
		t.Fatal("expected conflict message")
	}
	api.expect(api.post("/officials", map[string]any{
		"employee_code": "E302",
		"full_name":     "No Email",
		"email":         "not-an-email",
	}, h), http.StatusBadRequest, nil)
	api.expect(api.post("/officials", map[string]any{
		"employee_code": "E303",
		"full_name":     "Bad Grant",
		"email":         "grant@erca.gov.et",
		"grants":        map[string]bool{"launch_rockets": true},
	}, h), http.StatusBadRequest, nil)
	api.expect(api.put("/officials/01HZZZZZZZZZZZZZZZZZZZZZZZ", map[string]any{"department": "Customs"}, h), http.StatusNotFound, nil)
}

func TestListOfficialsOrderedByName(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login(adminCode, adminSecret)
	h := bearerHeader(admin.Token)
	for _, o := range []map[string]any{
		{"employee_code": "E401", "full_name": "Zewdu Alemu", "email": "zewdu@erca.gov.et"},
		{"employee_code": "E402", "full_name": "Abebe Kebede", "email": "abebe@erca.gov.et"},
	} {
		api.expect(api.post("/officials", o, h), http.StatusCreated, nil)
	}

	var list officialsResponse
	api.expect(api.get("/officials", nil, h), http.StatusOK, &list)
	if len(list.Officials) != 3 {
		t.Fatalf("expected 3 officials, got %d", len(list.Officials))
	}
	names := []string{list.Officials[0].FullName, list.Officials[1].FullName, list.Officials[2].FullName}
	if names[0] != "Abebe Kebede" || names[1] != "Almaz Admin" || names[2] != "Zewdu Alemu" {
		t.Fatalf("unexpected order: %v", names)
	}
}

func TestAuditLogsForSuperAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login(adminCode, adminSecret)
	h := bearerHeader(admin.Token)

	api.expect(api.post("/auth/login", map[string]any{"identifier": adminCode, "secret": "bad-guess"}, nil), http.StatusUnauthorized, nil)
	api.expect(api.post("/officials", map[string]any{
		"employee_code": "E500",
		"full_name":     "Manager Mulu",
		"email":         "mulu@erca.gov.et",
		"secret":        "mulu-secret-1",
		"grants":        map[string]bool{"manage_officials": true},
	}, h), http.StatusCreated, nil)

	var logs auditLogsResponse
	api.expect(api.get("/audit-logs", url.Values{"action": {audit.ActionLoginFailed}}, h), http.StatusOK, &logs)
	if len(logs.Entries) != 1 || logs.Entries[0].OfficialID != nil {
		t.Fatalf("expected one anonymous login_failed entry, got %+v", logs.Entries)
	}
	if logs.Entries[0].RequestID == "" || logs.Entries[0].IPAddress == "" {
		t.Fatalf("request metadata missing from audit entry: %+v", logs.Entries[0])
	}

	api.expect(api.get("/audit-logs", url.Values{"limit": {"2"}}, h), http.StatusOK, &logs)
	if len(logs.Entries) != 2 || logs.Limit != 2 {
		t.Fatalf("expected two entries, got %d (limit %d)", len(logs.Entries), logs.Limit)
	}
	if logs.Entries[0].OccurredAt.Before(logs.Entries[1].OccurredAt) {
		t.Fatal("entries should be most recent first")
	}

	api.expect(api.get("/audit-logs", url.Values{"limit": {"0"}}, h), http.StatusBadRequest, nil)
	api.expect(api.get("/audit-logs", url.Values{"since": {"yesterday"}}, h), http.StatusBadRequest, nil)
	api.expect(api.get("/audit-logs", url.Values{
		"since": {"2026-01-02T00:00:00Z"},
		"until": {"2026-01-01T00:00:00Z"},
	}, h), http.StatusBadRequest, nil)

	manager := api.login("E500", "mulu-secret-1")
	api.expect(api.get("/officials", nil, bearerHeader(manager.Token)), http.StatusOK, nil)
	api.expect(api.get("/audit-logs", nil, bearerHeader(manager.Token)), http.StatusForbidden, nil)
	api.expect(api.get("/audit-logs/stream", nil, bearerHeader(manager.Token)), http.StatusForbidden, nil)
}

func TestManagerCannotGrantSuperAdmin(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login(adminCode, adminSecret)
	api.expect(api.post("/officials", map[string]any{
		"employee_code": "E600",
		"full_name":     "Manager Tsehay",
		"email":         "tsehay@erca.gov.et",
		"secret":        "tsehay-secret-1",
		"grants":        map[string]bool{"manage_officials": true},
	}, bearerHeader(admin.Token)), http.StatusCreated, nil)

	manager := api.login("E600", "tsehay-secret-1")
	api.expect(api.post("/officials", map[string]any{
		"employee_code":  "E601",
		"full_name":      "Would Be Admin",
		"email":          "wba@erca.gov.et",
		"is_super_admin": true,
	}, bearerHeader(manager.Token)), http.StatusForbidden, nil)
	api.expect(api.put("/officials/"+manager.Official.ID, map[string]any{"is_super_admin": true}, bearerHeader(manager.Token)), http.StatusForbidden, nil)
	api.expect(api.put("/officials/"+api.admin.ID, map[string]any{"account_locked": true}, bearerHeader(manager.Token)), http.StatusForbidden, nil)
	api.expect(api.get("/officials/not-an-id", nil, bearerHeader(manager.Token)), http.StatusNotFound, nil)
}

func TestMetricsUseRouteTemplates(t *testing.T) {
	obs.Init()
	api := newTestAPI(t)
	admin := api.login(adminCode, adminSecret)
	api.expect(api.get("/officials/"+api.admin.ID, nil, bearerHeader(admin.Token)), http.StatusOK, nil)
	api.expect(api.get("/wp-login-7f3a", nil, nil), http.StatusNotFound, nil)

	resp := api.get("/metrics", nil, nil)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	body := string(raw)
	if !strings.Contains(body, `route="/officials/{id}"`) {
		t.Fatalf("expected templated officials route in metrics")
	}
	if strings.Contains(body, api.admin.ID) || strings.Contains(body, "wp-login-7f3a") {
		t.Fatal("request paths leaked into metric labels")
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	api := newTestAPI(t)
	var body errorBody
	api.expect(api.get("/nowhere", nil, nil), http.StatusNotFound, &body)
	if body.RequestID == "" {
		t.Fatal("expected request_id on 404")
	}
	api.expect(api.get("/auth/login", nil, nil), http.StatusMethodNotAllowed, nil)
}

func TestAuditStreamDeliversNewEntries(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login(adminCode, adminSecret)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/audit-logs/stream?action="+audit.ActionLoginFailed, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+admin.Token)
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, ": stream started") {
		t.Fatalf("expected stream preamble, got %q (%v)", line, err)
	}

	api.login(adminCode, adminSecret) // filtered out
	api.expect(api.post("/auth/login", map[string]any{"identifier": adminCode, "secret": "bad-guess"}, nil), http.StatusUnauthorized, nil)

	var event string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e audit.Entry
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if event != audit.ActionLoginFailed || e.Action != audit.ActionLoginFailed {
			t.Fatalf("unexpected event %q: %+v", event, e)
		}
		if e.Detail["identifier"] != adminCode {
			t.Fatalf("unexpected detail: %v", e.Detail)
		}
		return
	}
}
