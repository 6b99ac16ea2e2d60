package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"erca.gov.et/portal/internal/audit"
	"erca.gov.et/portal/internal/auth"
)

const streamHeartbeat = 15 * time.Second

// handleAuditStream serves new audit entries as Server-Sent Events. An
// optional action query parameter narrows the feed. Super-admin only.
func (a *API) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	requester, ok := currentOfficial(w, r)
	if !ok {
		return
	}
	if err := auth.RequireSuperAdmin(requester); err != nil {
		handleDomainError(w, r, err)
		return
	}
	if a.feed == nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit streaming disabled")
		return
	}

	rc := http.NewResponseController(w)
	// long-lived response; the server write timeout does not apply
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := a.feed.Subscribe(r.Context())
	action := strings.TrimSpace(r.URL.Query().Get("action"))

	_, _ = w.Write([]byte(": stream started\n\n"))
	if err := rc.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
		case e, open := <-ch:
			if !open {
				return
			}
			if action != "" && e.Action != action {
				continue
			}
			if err := writeEvent(w, e); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, e audit.Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("id: ")
	b.WriteString(e.ID)
	b.WriteString("\nevent: ")
	b.WriteString(e.Action)
	b.WriteString("\ndata: ")
	b.Write(payload)
	b.WriteString("\n\n")
	_, err = w.Write([]byte(b.String()))
	return err
}
