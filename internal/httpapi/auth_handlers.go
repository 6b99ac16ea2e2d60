package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"erca.gov.et/portal/internal/auth"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type validateResponse struct {
	Valid        bool               `json:"valid"`
	Official     *auth.Official     `json:"official,omitempty"`
	Capabilities auth.CapabilitySet `json:"capabilities,omitempty"`
}

// changePasswordRequest also accepts the snake_case spellings used by
// earlier portal clients.
type changePasswordRequest struct {
	CurrentSecret      string `json:"currentSecret"`
	NewSecret          string `json:"newSecret"`
	CurrentSecretSnake string `json:"current_secret"`
	NewSecretSnake     string `json:"new_secret"`
}

func (req changePasswordRequest) secrets() (current, next string) {
	current, next = req.CurrentSecret, req.NewSecret
	if current == "" {
		current = req.CurrentSecretSnake
	}
	if next == "" {
		next = req.NewSecretSnake
	}
	return current, next
}

type meResponse struct {
	Official     auth.Official      `json:"official"`
	Capabilities auth.CapabilitySet `json:"capabilities"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Identifier) == "" || req.Secret == "" {
		writeError(w, r, http.StatusBadRequest, "identifier and secret are required")
		return
	}

	res, err := a.service.Login(r.Context(), req.Identifier, req.Secret, clientInfo(r))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleValidate never fails on a bad token; it answers valid=false instead.
func (a *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	official, _, err := a.service.Authenticate(r.Context(), strings.TrimSpace(req.Token))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidSession) {
			writeJSON(w, http.StatusOK, validateResponse{Valid: false})
			return
		}
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{
		Valid:        true,
		Official:     &official,
		Capabilities: auth.Resolve(official),
	})
}

// handleLogout accepts the token in the body or as a bearer header and is
// idempotent.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		if t, err := extractBearerToken(r.Header.Get(authHeader)); err == nil {
			token = t
		}
	}
	if token == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}
	if err := a.service.Logout(r.Context(), token, clientInfo(r)); err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	official, ok := currentOfficial(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	current, next := req.secrets()
	if current == "" {
		writeError(w, r, http.StatusBadRequest, "currentSecret is required")
		return
	}
	if err := a.directory.ChangePassword(r.Context(), official, current, next); err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	official, ok := currentOfficial(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		Official:     official,
		Capabilities: auth.Resolve(official),
	})
}
