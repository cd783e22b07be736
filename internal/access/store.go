package access

import "context"

// Directory maps identities to user profiles.
type Directory interface {
	Profile(ctx context.Context, id string) (UserProfile, error)
	ProfileByExternalID(ctx context.Context, externalID string) (UserProfile, error)
	ProfileByEmail(ctx context.Context, email string) (UserProfile, error)
	ListProfiles(ctx context.Context) ([]UserProfile, error)
	ListProfileIDs(ctx context.Context) ([]string, error)
	// UpsertProfile creates the profile for externalID with role user, or refreshes its email.
	UpsertProfile(ctx context.Context, externalID, email string) (UserProfile, error)
	SetRole(ctx context.Context, userID string, role Role) (UserProfile, error)
}

// GrantStore reads access grant edges.
type GrantStore interface {
	GrantedOwners(ctx context.Context, granteeID string) ([]string, error)
	GrantsByOwner(ctx context.Context, ownerID string) ([]AccessGrant, error)
}

// AssigneeStore manages assignee delegation edges.
type AssigneeStore interface {
	AdminOwners(ctx context.Context, assigneeID string) ([]string, error)
	LinkAssignee(ctx context.Context, assigneeID, adminOwnerID string) (AssigneeLink, error)
	UnlinkAssignee(ctx context.Context, assigneeID, adminOwnerID string) error
}

// RequestStore persists access requests and performs their transitions.
// Accept, Revoke and SetPermission must each commit atomically.
type RequestStore interface {
	CreateRequest(ctx context.Context, requesterID, receiverID string) (AccessRequest, error)
	Request(ctx context.Context, id string) (AccessRequest, error)
	IncomingRequests(ctx context.Context, receiverID string, status RequestStatus) ([]AccessRequest, error)
	OutgoingRequests(ctx context.Context, requesterID string) ([]AccessRequest, error)

	// AcceptRequest moves a pending request to accepted, records grant on it
	// and inserts the grant. Accepting an already accepted request re-ensures
	// the grant recorded at the first accept and ignores the one passed in.
	AcceptRequest(ctx context.Context, requestID string, grant AccessGrant) (AccessRequest, error)
	RejectRequest(ctx context.Context, requestID string) (AccessRequest, error)
	// RevokeRequest moves an accepted request to revoked, deletes the grant
	// recorded at acceptance and the requester's permission row granted by
	// the receiver.
	RevokeRequest(ctx context.Context, requestID string) (AccessRequest, error)
}

// PermissionStore manages the legacy override flag.
type PermissionStore interface {
	Permission(ctx context.Context, userID string) (UserPermission, error)
	// SetPermission upserts perm and, in the same transaction, inserts grant
	// when the flag is enabled or deletes it when disabled. A grant still
	// backed by an accepted request is kept. A zero grant is skipped.
	SetPermission(ctx context.Context, perm UserPermission, grant AccessGrant) error
}

// ResolverStore is the read-only view the Resolver needs.
type ResolverStore interface {
	Profile(ctx context.Context, id string) (UserProfile, error)
	ListProfileIDs(ctx context.Context) ([]string, error)
	GrantedOwners(ctx context.Context, granteeID string) ([]string, error)
	AdminOwners(ctx context.Context, assigneeID string) ([]string, error)
}

// Store is everything the access service persists.
type Store interface {
	Directory
	GrantStore
	AssigneeStore
	RequestStore
	PermissionStore
}
