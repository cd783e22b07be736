package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"salesgrid.io/internal/audit"
)

type setRoleRequest struct {
	Role string `json:"role"`
}

type assigneeRequest struct {
	AssigneeID   string `json:"assignee_id"`
	AdminOwnerID string `json:"admin_owner_id"`
}

func (a *API) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var req setRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	targetID := mux.Vars(r)["id"]
	profile, err := a.svc.SetRole(r.Context(), viewerID(r), targetID, req.Role)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	a.audit(r.Context(), audit.EventRoleChanged, map[string]any{
		"target_user_id": profile.ID,
		"new_role":       string(profile.Role),
	})
	writeJSON(w, http.StatusOK, profile)
}

func (a *API) handleLinkAssignee(w http.ResponseWriter, r *http.Request) {
	var req assigneeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	link, err := a.svc.LinkAssignee(r.Context(), viewerID(r), req.AssigneeID, req.AdminOwnerID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	a.audit(r.Context(), audit.EventAssigneeLinked, map[string]any{
		"assignee_id":    link.AssigneeID,
		"admin_owner_id": link.AdminOwnerID,
	})
	writeJSON(w, http.StatusCreated, link)
}

func (a *API) handleUnlinkAssignee(w http.ResponseWriter, r *http.Request) {
	var req assigneeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.UnlinkAssignee(r.Context(), viewerID(r), req.AssigneeID, req.AdminOwnerID); err != nil {
		handleAccessError(w, r, err)
		return
	}
	owner := req.AdminOwnerID
	if owner == "" {
		owner = viewerID(r)
	}
	a.audit(r.Context(), audit.EventAssigneeUnlinked, map[string]any{
		"assignee_id":    req.AssigneeID,
		"admin_owner_id": owner,
	})
	w.WriteHeader(http.StatusNoContent)
}
