package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"salesgrid.io/internal/access"
	"salesgrid.io/internal/audit"
)

type sendRequestRequest struct {
	ReceiverID string `json:"receiver_id"`
}

type updateStatusRequest struct {
	RequestID string `json:"request_id"`
	NewStatus string `json:"new_status"`
}

type revokeRequest struct {
	RequestID string `json:"request_id"`
}

type updatePermissionRequest struct {
	TargetUserID          string `json:"target_user_id"`
	CanViewOtherUsersData *bool  `json:"can_view_other_users_data"`
}

type meResponse struct {
	Profile access.UserProfile `json:"profile"`
	IsAdmin bool               `json:"is_admin"`
}

type visibleOwnersResponse struct {
	ViewerID string   `json:"viewer_id"`
	OwnerIDs []string `json:"owner_ids"`
}

type requestsResponse struct {
	Items []access.AccessRequest `json:"items"`
}

type usersResponse struct {
	Items []access.UserProfile `json:"items"`
}

type granteesResponse struct {
	Items []access.GranteeView `json:"items"`
}

type outcomeResponse struct {
	Request access.AccessRequest `json:"request"`
	Grant   *access.AccessGrant  `json:"grant,omitempty"`
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	profile, err := a.svc.Profile(r.Context(), viewerID(r))
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{Profile: profile, IsAdmin: profile.Role.IsAdmin()})
}

func (a *API) handleVisibleOwners(w http.ResponseWriter, r *http.Request) {
	id := viewerID(r)
	owners := a.svc.VisibleOwners(r.Context(), id)
	writeJSON(w, http.StatusOK, visibleOwnersResponse{ViewerID: id, OwnerIDs: owners.IDs()})
}

func (a *API) handleAvailableUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.svc.AvailableUsers(r.Context(), viewerID(r))
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usersResponse{Items: users})
}

func (a *API) handleSendRequest(w http.ResponseWriter, r *http.Request) {
	var req sendRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	created, err := a.svc.SendRequest(r.Context(), viewerID(r), req.ReceiverID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	a.audit(r.Context(), audit.EventRequestSent, map[string]any{
		"access_request_id": created.ID,
		"receiver_id":       created.ReceiverID,
	})
	w.Header().Set("Location", "/v1/access/requests/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handlePendingRequests(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.PendingRequests(r.Context(), viewerID(r))
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requestsResponse{Items: nonNil(items)})
}

func (a *API) handleSentRequests(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.SentRequests(r.Context(), viewerID(r))
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requestsResponse{Items: nonNil(items)})
}

// handleUpdateRequestStatus accepts the request id from the path or the body;
// when both are present they must agree.
func (a *API) handleUpdateRequestStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := strings.TrimSpace(mux.Vars(r)["id"])
	bodyID := strings.TrimSpace(req.RequestID)
	switch {
	case id == "":
		id = bodyID
	case bodyID != "" && bodyID != id:
		writeError(w, r, http.StatusBadRequest, "request_id does not match path")
		return
	}
	if id == "" {
		writeError(w, r, http.StatusBadRequest, "request_id is required")
		return
	}
	decision, err := access.ParseDecision(req.NewStatus)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	out, err := a.svc.RespondToRequest(r.Context(), id, viewerID(r), decision)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	event := audit.EventRequestRejected
	if decision == access.DecisionAccept {
		event = audit.EventRequestAccepted
	}
	fields := map[string]any{
		"access_request_id": out.Request.ID,
		"requester_id":      out.Request.RequesterID,
	}
	if out.Grant != nil {
		fields["owner_user_id"] = out.Grant.OwnerUserID
		fields["grantee_user_id"] = out.Grant.GranteeUserID
	}
	a.audit(r.Context(), event, fields)
	writeJSON(w, http.StatusOK, outcomeResponse{Request: out.Request, Grant: out.Grant})
}

func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RequestID) == "" {
		writeError(w, r, http.StatusBadRequest, "request_id is required")
		return
	}
	out, err := a.svc.RevokeRequest(r.Context(), req.RequestID, viewerID(r))
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	fields := map[string]any{
		"access_request_id": out.Request.ID,
		"receiver_id":       out.Request.ReceiverID,
	}
	if out.Grant != nil {
		fields["owner_user_id"] = out.Grant.OwnerUserID
		fields["grantee_user_id"] = out.Grant.GranteeUserID
	}
	a.audit(r.Context(), audit.EventRequestRevoked, fields)
	writeJSON(w, http.StatusOK, outcomeResponse{Request: out.Request, Grant: out.Grant})
}

func (a *API) handleUsersWithPermissions(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.UsersWithPermissions(r.Context(), viewerID(r))
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, granteesResponse{Items: items})
}

func (a *API) handleUpdatePermission(w http.ResponseWriter, r *http.Request) {
	var req updatePermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.CanViewOtherUsersData == nil {
		writeError(w, r, http.StatusBadRequest, "can_view_other_users_data is required")
		return
	}
	perm, err := a.svc.UpdateUserPermission(r.Context(), viewerID(r), req.TargetUserID, *req.CanViewOtherUsersData)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	a.audit(r.Context(), audit.EventPermissionUpdated, map[string]any{
		"target_user_id": perm.UserID,
		"enabled":        perm.CanViewOtherUsersData,
	})
	writeJSON(w, http.StatusOK, perm)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
