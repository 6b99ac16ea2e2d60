package httpapi

import (
	"net/http"
	"strings"
	"time"

	"erca.gov.et/portal/internal/audit"
	"erca.gov.et/portal/internal/auth"
)

type auditLogsResponse struct {
	Entries []audit.Entry `json:"entries"`
	Limit   int           `json:"limit"`
}

// handleAuditLogs lists audit entries, most recent first. Super-admin only.
func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	requester, ok := currentOfficial(w, r)
	if !ok {
		return
	}
	if err := auth.RequireSuperAdmin(requester); err != nil {
		handleDomainError(w, r, err)
		return
	}

	q := r.URL.Query()
	limit := audit.DefaultQueryLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := parsePositiveInt(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "limit "+err.Error())
			return
		}
		limit = n
	}
	f := audit.Filter{
		OfficialID: strings.TrimSpace(q.Get("official_id")),
		Action:     strings.TrimSpace(q.Get("action")),
		EntityType: strings.TrimSpace(q.Get("entity_type")),
		EntityID:   strings.TrimSpace(q.Get("entity_id")),
	}
	var err error
	if f.Since, err = parseTimeParam(q.Get("since")); err != nil {
		writeError(w, r, http.StatusBadRequest, "since must be an RFC3339 timestamp")
		return
	}
	if f.Until, err = parseTimeParam(q.Get("until")); err != nil {
		writeError(w, r, http.StatusBadRequest, "until must be an RFC3339 timestamp")
		return
	}

	entries, err := a.audit.Query(r.Context(), f, limit)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, auditLogsResponse{Entries: entries, Limit: audit.NormalizeLimit(limit)})
}

func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
