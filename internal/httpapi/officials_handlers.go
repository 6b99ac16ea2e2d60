package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"erca.gov.et/portal/internal/auth"
	"erca.gov.et/portal/internal/directory"
)

type officialsResponse struct {
	Officials []auth.Official `json:"officials"`
}

type ranksResponse struct {
	Ranks []auth.Rank `json:"ranks"`
}

func (a *API) handleListOfficials(w http.ResponseWriter, r *http.Request) {
	requester, ok := currentOfficial(w, r)
	if !ok {
		return
	}
	officials, err := a.directory.List(r.Context(), requester)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if officials == nil {
		officials = []auth.Official{}
	}
	writeJSON(w, http.StatusOK, officialsResponse{Officials: officials})
}

func (a *API) handleCreateOfficial(w http.ResponseWriter, r *http.Request) {
	requester, ok := currentOfficial(w, r)
	if !ok {
		return
	}
	var req directory.NewOfficial
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	created, err := a.directory.Create(r.Context(), requester, req)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/officials/"+created.Official.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleGetOfficial(w http.ResponseWriter, r *http.Request) {
	requester, ok := currentOfficial(w, r)
	if !ok {
		return
	}
	official, err := a.directory.Get(r.Context(), requester, chi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, official)
}

func (a *API) handleUpdateOfficial(w http.ResponseWriter, r *http.Request) {
	requester, ok := currentOfficial(w, r)
	if !ok {
		return
	}
	var patch directory.Patch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := a.directory.Update(r.Context(), requester, chi.URLParam(r, "id"), patch)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleListRanks(w http.ResponseWriter, r *http.Request) {
	ranks, err := a.ranks.ListRanks(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if ranks == nil {
		ranks = []auth.Rank{}
	}
	writeJSON(w, http.StatusOK, ranksResponse{Ranks: ranks})
}
