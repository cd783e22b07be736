package access

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Role is the coarse authority level of a user profile.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// ParseRole validates raw against the known roles.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleUser:
		return RoleUser, nil
	}
	return "", fmt.Errorf("%w: unsupported role %q", ErrInvalidInput, raw)
}

// RoleOrDefault parses raw and falls back to RoleUser for anything unknown.
func RoleOrDefault(raw string) Role {
	role, err := ParseRole(raw)
	if err != nil {
		return RoleUser
	}
	return role
}

func (r Role) IsAdmin() bool { return r == RoleAdmin }

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// UserProfile is the internal identity every owner-scoped record points at.
type UserProfile struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	Role       Role      `json:"role"`
	Email      string    `json:"email"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AccessGrant lets GranteeUserID read records owned by OwnerUserID. One hop only.
type AccessGrant struct {
	OwnerUserID   string    `json:"owner_user_id"`
	GranteeUserID string    `json:"grantee_user_id"`
	GrantedAt     time.Time `json:"granted_at"`
}

// AssigneeLink delegates visibility of an admin's records to an assignee.
type AssigneeLink struct {
	AssigneeID   string    `json:"assignee_id"`
	AdminOwnerID string    `json:"admin_owner_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// RequestStatus is the lifecycle state of an AccessRequest.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusAccepted RequestStatus = "accepted"
	StatusRejected RequestStatus = "rejected"
	StatusRevoked  RequestStatus = "revoked"
)

// Open reports whether the status still occupies the (requester, receiver) pair.
func (s RequestStatus) Open() bool {
	return s == StatusPending || s == StatusAccepted
}

// AccessRequest asks ReceiverID to open visibility between the two parties.
type AccessRequest struct {
	ID          string        `json:"id"`
	RequesterID string        `json:"requester_id"`
	ReceiverID  string        `json:"receiver_id"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`

	// The edge written when the request was accepted. Revocation removes
	// exactly this edge even if either party's role changed since.
	GrantOwnerID   string `json:"grant_owner_id,omitempty"`
	GrantGranteeID string `json:"grant_grantee_id,omitempty"`
}

// Grant returns the edge recorded at acceptance, if any.
func (r AccessRequest) Grant() (AccessGrant, bool) {
	if r.GrantOwnerID == "" || r.GrantGranteeID == "" {
		return AccessGrant{}, false
	}
	return AccessGrant{OwnerUserID: r.GrantOwnerID, GranteeUserID: r.GrantGranteeID, GrantedAt: r.UpdatedAt}, true
}

// Yields reports whether the request currently backs the owner -> grantee edge.
func (r AccessRequest) Yields(ownerID, granteeID string) bool {
	return r.Status == StatusAccepted && r.GrantOwnerID == ownerID && r.GrantGranteeID == granteeID
}

// Decision is the receiver's answer to a pending request.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// ParseDecision accepts both verb and status spellings ("accept", "accepted").
func ParseDecision(raw string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "accept", "accepted":
		return DecisionAccept, nil
	case "reject", "rejected":
		return DecisionReject, nil
	case "":
		return "", fmt.Errorf("%w: new_status is required", ErrInvalidInput)
	}
	return "", fmt.Errorf("%w: unsupported status %q", ErrInvalidInput, raw)
}

// UserPermission is the admin-controlled override flag kept for older clients.
type UserPermission struct {
	UserID                string    `json:"user_id"`
	CanViewOtherUsersData bool      `json:"can_view_other_users_data"`
	GrantedBy             string    `json:"granted_by,omitempty"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// GranteeView describes a user holding a grant on the viewer's records.
type GranteeView struct {
	User                  UserProfile `json:"user"`
	CanViewOtherUsersData bool        `json:"can_view_other_users_data"`
	GrantedAt             time.Time   `json:"granted_at"`
}

// OwnerSet is a set of owner ids visible to one viewer.
type OwnerSet map[string]struct{}

// NewOwnerSet builds a set from ids, skipping blanks.
func NewOwnerSet(ids ...string) OwnerSet {
	set := make(OwnerSet, len(ids))
	set.Add(ids...)
	return set
}

func (s OwnerSet) Add(ids ...string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		s[id] = struct{}{}
	}
}

func (s OwnerSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

func (s OwnerSet) Len() int { return len(s) }

// IDs returns the members in sorted order.
func (s OwnerSet) IDs() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy.
func (s OwnerSet) Clone() OwnerSet {
	out := make(OwnerSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}
