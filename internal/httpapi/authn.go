package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"erca.gov.et/portal/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth resolves the bearer token to an official. Failures answer 401.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		official, _, err := a.service.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidSession) {
				writeError(w, r, http.StatusUnauthorized, "invalid session")
				return
			}
			handleDomainError(w, r, err)
			return
		}

		ctx := auth.ContextWithOfficial(r.Context(), official)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRotatedSecret blocks officials that still hold a generated secret.
func requireRotatedSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		official, ok := auth.OfficialFromContext(r.Context())
		if ok && official.MustChangePassword {
			handleDomainError(w, r, auth.ErrPasswordChangeRequired)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func currentOfficial(w http.ResponseWriter, r *http.Request) (auth.Official, bool) {
	official, ok := auth.OfficialFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return auth.Official{}, false
	}
	return official, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
