package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"salesgrid.io/internal/rowlevel"
)

type recordRequest struct {
	Name        string          `json:"name"`
	OwnerUserID string          `json:"owner_user_id"`
	Payload     json.RawMessage `json:"payload"`
}

type recordsResponse struct {
	Items []rowlevel.Record `json:"items"`
}

func (a *API) recordKind(w http.ResponseWriter, r *http.Request) (rowlevel.Kind, bool) {
	kind, err := rowlevel.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		writeError(w, r, http.StatusNotFound, err.Error())
		return "", false
	}
	return kind, true
}

func (a *API) handleListRecords(w http.ResponseWriter, r *http.Request) {
	kind, ok := a.recordKind(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	items, err := a.records.List(r.Context(), viewerID(r), kind, limit)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordsResponse{Items: nonNil(items)})
}

func (a *API) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	kind, ok := a.recordKind(w, r)
	if !ok {
		return
	}
	rec, err := a.records.Get(r.Context(), viewerID(r), kind, mux.Vars(r)["id"])
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	kind, ok := a.recordKind(w, r)
	if !ok {
		return
	}
	var req recordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := a.records.Create(r.Context(), viewerID(r), rowlevel.Record{
		Kind:        kind,
		OwnerUserID: req.OwnerUserID,
		Name:        req.Name,
		Payload:     req.Payload,
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/records/"+string(kind)+"/"+rec.ID)
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	kind, ok := a.recordKind(w, r)
	if !ok {
		return
	}
	var req recordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := a.records.Update(r.Context(), viewerID(r), rowlevel.Record{
		ID:      mux.Vars(r)["id"],
		Kind:    kind,
		Name:    req.Name,
		Payload: req.Payload,
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	kind, ok := a.recordKind(w, r)
	if !ok {
		return
	}
	if err := a.records.Delete(r.Context(), viewerID(r), kind, mux.Vars(r)["id"]); err != nil {
		handleAccessError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
