package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"erca.gov.et/portal/internal/audit"
	"erca.gov.et/portal/internal/auth"
	"erca.gov.et/portal/internal/directory"
	"erca.gov.et/portal/internal/obs"
)

const serviceName = "portal-api"

var errEmptyBody = errors.New("request body is required")

// Pinger is satisfied by both the PostgreSQL and the in-memory store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe reports whether the backing store answers.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// Deps are the domain components served over HTTP.
type Deps struct {
	Service   *auth.Service
	Directory *directory.Directory
	Audit     *audit.Logger
	Feed      *audit.Broadcaster // optional live audit feed
	Ranks     auth.RankStore
	Ready     ReadyProbe
}

// Options tune the outer surface of the API.
type Options struct {
	Version         string
	CORSOrigins     []string
	LoginRateBurst  int
	LoginRatePerSec float64
	MaxBodyBytes    int64
	// TrustedProxies lists peers (IPs or CIDRs) whose X-Forwarded-For is honoured.
	TrustedProxies []string
}

// API is the HTTP layer.
type API struct {
	router     chi.Router
	service    *auth.Service
	directory  *directory.Directory
	audit      *audit.Logger
	feed       *audit.Broadcaster
	ranks      auth.RankStore
	readyProbe ReadyProbe
	version    string

	corsOrigins  []string
	rateBurst    int
	ratePerSec   float64
	maxBodyBytes int64
	trusted      []netip.Prefix
}

func New(deps Deps, opts Options) (*API, error) {
	switch {
	case deps.Service == nil:
		return nil, errors.New("auth service is required")
	case deps.Directory == nil:
		return nil, errors.New("directory is required")
	case deps.Audit == nil:
		return nil, errors.New("audit logger is required")
	case deps.Ranks == nil:
		return nil, errors.New("rank store is required")
	}
	trusted, err := ParseTrustedProxies(opts.TrustedProxies)
	if err != nil {
		return nil, err
	}
	a := &API{
		service:      deps.Service,
		directory:    deps.Directory,
		audit:        deps.Audit,
		feed:         deps.Feed,
		ranks:        deps.Ranks,
		readyProbe:   deps.Ready,
		version:      opts.Version,
		corsOrigins:  opts.CORSOrigins,
		rateBurst:    opts.LoginRateBurst,
		ratePerSec:   opts.LoginRatePerSec,
		maxBodyBytes: opts.MaxBodyBytes,
		trusted:      trusted,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 10
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 1
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}
	a.router = a.routes()
	return a, nil
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(obs.Instrument(routePattern))
	r.Use(RealIP(a.trusted), RequestID, LoggingJSON, SecurityHeaders, CORS(a.corsOrigins))
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.maxBodyBytes) })
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.With(a.loginLimiter).Post("/login", a.handleLogin)
		r.Post("/validate", a.handleValidate)
		r.Post("/logout", a.handleLogout)
		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)
			r.Post("/change-password", a.handleChangePassword)
			r.Get("/me", a.handleMe)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(a.withAuth, requireRotatedSecret)
		r.Route("/officials", func(r chi.Router) {
			r.Get("/", a.handleListOfficials)
			r.Post("/", a.handleCreateOfficial)
			r.Get("/{id}", a.handleGetOfficial)
			r.Put("/{id}", a.handleUpdateOfficial)
		})
		r.Get("/ranks", a.handleListRanks)
		r.Get("/audit-logs", a.handleAuditLogs)
		r.Get("/audit-logs/stream", a.handleAuditStream)
	})
	return r
}

// Handler returns the root handler with metrics and tracing around the router.
func (a *API) Handler() http.Handler {
	return otelhttp.NewHandler(a.router, serviceName,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method
		}),
	)
}

// routePattern is the chi template that matched r, such as /officials/{id}.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

func (a *API) loginLimiter(next http.Handler) http.Handler {
	return RateLimit(next, a.rateBurst, a.ratePerSec)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.Logger().Warn().Err(err).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errEmptyBody
		case errors.As(err, &tooLarge):
			return errors.New("request body too large")
		}
		return errors.New("malformed JSON body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// handleDomainError maps domain sentinels to status codes. Messages for
// unexpected errors never reach the client.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrAccountInactive):
		writeError(w, r, http.StatusUnauthorized, "account inactive")
	case errors.Is(err, auth.ErrAccountLocked):
		writeError(w, r, http.StatusUnauthorized, "account locked")
	case errors.Is(err, auth.ErrInvalidSession):
		writeError(w, r, http.StatusUnauthorized, "invalid session")
	case errors.Is(err, auth.ErrInvalidCurrentSecret):
		writeError(w, r, http.StatusUnauthorized, "current secret is incorrect")
	case errors.Is(err, auth.ErrPasswordChangeRequired):
		writeError(w, r, http.StatusForbidden, "password change required")
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrDuplicateIdentifier):
		writeError(w, r, http.StatusConflict, "employee code or email already in use")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrValidation), errors.Is(err, audit.ErrInvalidFilter):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, directory.ErrAlreadyBootstrapped):
		writeError(w, r, http.StatusBadRequest, "directory already bootstrapped")
	default:
		obs.Logger().Error().Err(err).
			Str("request_id", RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, errors.New("must be a positive integer")
	}
	return n, nil
}

func clientInfo(r *http.Request) auth.ClientInfo {
	return auth.ClientInfo{IPAddress: clientIP(r), UserAgent: r.UserAgent()}
}
