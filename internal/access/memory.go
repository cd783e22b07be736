package access

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"salesgrid.io/internal/ids"
)

type edgeKey struct{ from, to string }

// MemoryStore implements Store in process. It mirrors the constraints the
// Postgres schema enforces so the workflow behaves the same on both.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]UserProfile
	external map[string]string // external id -> profile id
	grants   map[edgeKey]AccessGrant
	links    map[edgeKey]AssigneeLink
	requests map[string]AccessRequest
	perms    map[string]UserPermission
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]UserProfile),
		external: make(map[string]string),
		grants:   make(map[edgeKey]AccessGrant),
		links:    make(map[edgeKey]AssigneeLink),
		requests: make(map[string]AccessRequest),
		perms:    make(map[string]UserPermission),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PutProfile inserts or replaces a profile verbatim. Blank fields are filled
// with defaults.
func (m *MemoryStore) PutProfile(p UserProfile) UserProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = ids.New()
	}
	if p.ExternalID == "" {
		p.ExternalID = p.ID
	}
	p.Role = RoleOrDefault(string(p.Role))
	if p.Status == "" {
		p.Status = UserStatusActive
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	p.UpdatedAt = p.CreatedAt
	m.profiles[p.ID] = p
	m.external[p.ExternalID] = p.ID
	return p
}

func (m *MemoryStore) Profile(_ context.Context, id string) (UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return UserProfile{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return p, nil
}

func (m *MemoryStore) ProfileByExternalID(_ context.Context, externalID string) (UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.external[externalID]
	if !ok {
		return UserProfile{}, fmt.Errorf("%w: identity %s", ErrNotFound, externalID)
	}
	return m.profiles[id], nil
}

func (m *MemoryStore) ProfileByEmail(_ context.Context, email string) (UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.profiles {
		if p.Email != "" && strings.EqualFold(p.Email, email) {
			return p, nil
		}
	}
	return UserProfile{}, fmt.Errorf("%w: email %s", ErrNotFound, email)
}

func (m *MemoryStore) ListProfiles(context.Context) ([]UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]UserProfile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListProfileIDs(ctx context.Context) ([]string, error) {
	profiles, _ := m.ListProfiles(ctx)
	out := make([]string, len(profiles))
	for i, p := range profiles {
		out[i] = p.ID
	}
	return out, nil
}

func (m *MemoryStore) UpsertProfile(_ context.Context, externalID, email string) (UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if id, ok := m.external[externalID]; ok {
		p := m.profiles[id]
		if email != "" && email != p.Email {
			p.Email = email
			p.UpdatedAt = now
			m.profiles[id] = p
		}
		return p, nil
	}
	p := UserProfile{
		ID:         ids.New(),
		ExternalID: externalID,
		Role:       RoleUser,
		Email:      email,
		Status:     UserStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.profiles[p.ID] = p
	m.external[externalID] = p.ID
	return p, nil
}

func (m *MemoryStore) SetRole(_ context.Context, userID string, role Role) (UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return UserProfile{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	p.Role = role
	p.UpdatedAt = m.now()
	m.profiles[userID] = p
	return p, nil
}

func (m *MemoryStore) GrantedOwners(_ context.Context, granteeID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.grants {
		if k.to == granteeID {
			out = append(out, k.from)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) GrantsByOwner(_ context.Context, ownerID string) ([]AccessGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AccessGrant
	for k, g := range m.grants {
		if k.from == ownerID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GranteeUserID < out[j].GranteeUserID })
	return out, nil
}

// Grants returns a snapshot of every grant edge.
func (m *MemoryStore) Grants() []AccessGrant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AccessGrant, 0, len(m.grants))
	for _, g := range m.grants {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OwnerUserID != out[j].OwnerUserID {
			return out[i].OwnerUserID < out[j].OwnerUserID
		}
		return out[i].GranteeUserID < out[j].GranteeUserID
	})
	return out
}

func (m *MemoryStore) AdminOwners(_ context.Context, assigneeID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.links {
		if k.from == assigneeID {
			out = append(out, k.to)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) LinkAssignee(_ context.Context, assigneeID, adminOwnerID string) (AssigneeLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireProfiles(assigneeID, adminOwnerID); err != nil {
		return AssigneeLink{}, err
	}
	key := edgeKey{assigneeID, adminOwnerID}
	if link, ok := m.links[key]; ok {
		return link, nil
	}
	link := AssigneeLink{AssigneeID: assigneeID, AdminOwnerID: adminOwnerID, CreatedAt: m.now()}
	m.links[key] = link
	return link, nil
}

func (m *MemoryStore) UnlinkAssignee(_ context.Context, assigneeID, adminOwnerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := edgeKey{assigneeID, adminOwnerID}
	if _, ok := m.links[key]; !ok {
		return fmt.Errorf("%w: assignee link %s -> %s", ErrNotFound, assigneeID, adminOwnerID)
	}
	delete(m.links, key)
	return nil
}

func (m *MemoryStore) CreateRequest(_ context.Context, requesterID, receiverID string) (AccessRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if requesterID == receiverID {
		return AccessRequest{}, fmt.Errorf("%w: requester and receiver must differ", ErrInvalidInput)
	}
	if err := m.requireProfiles(requesterID, receiverID); err != nil {
		return AccessRequest{}, err
	}
	for _, r := range m.requests {
		if r.RequesterID == requesterID && r.ReceiverID == receiverID && r.Status.Open() {
			return AccessRequest{}, fmt.Errorf("%w: open request already exists", ErrConflict)
		}
	}
	now := m.now()
	req := AccessRequest{
		ID:          ids.New(),
		RequesterID: requesterID,
		ReceiverID:  receiverID,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.requests[req.ID] = req
	return req, nil
}

func (m *MemoryStore) Request(_ context.Context, id string) (AccessRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return AccessRequest{}, fmt.Errorf("%w: request %s", ErrNotFound, id)
	}
	return req, nil
}

func (m *MemoryStore) IncomingRequests(_ context.Context, receiverID string, status RequestStatus) ([]AccessRequest, error) {
	return m.filterRequests(func(r AccessRequest) bool {
		return r.ReceiverID == receiverID && (status == "" || r.Status == status)
	}), nil
}

func (m *MemoryStore) OutgoingRequests(_ context.Context, requesterID string) ([]AccessRequest, error) {
	return m.filterRequests(func(r AccessRequest) bool { return r.RequesterID == requesterID }), nil
}

func (m *MemoryStore) filterRequests(keep func(AccessRequest) bool) []AccessRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AccessRequest
	for _, r := range m.requests {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) AcceptRequest(_ context.Context, requestID string, grant AccessGrant) (AccessRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok {
		return AccessRequest{}, fmt.Errorf("%w: request %s", ErrNotFound, requestID)
	}
	switch req.Status {
	case StatusPending:
		if grant.OwnerUserID == "" || grant.GranteeUserID == "" {
			return AccessRequest{}, fmt.Errorf("%w: accept needs a grant", ErrInvalidInput)
		}
		req.Status = StatusAccepted
		req.UpdatedAt = m.now()
		req.GrantOwnerID, req.GrantGranteeID = grant.OwnerUserID, grant.GranteeUserID
		m.requests[requestID] = req
	case StatusAccepted:
	default:
		return AccessRequest{}, fmt.Errorf("%w: request %s is %s", ErrConflict, requestID, req.Status)
	}
	recorded, _ := req.Grant()
	m.insertGrant(recorded)
	return req, nil
}

func (m *MemoryStore) RejectRequest(_ context.Context, requestID string) (AccessRequest, error) {
	return m.transition(requestID, StatusPending, StatusRejected, nil)
}

func (m *MemoryStore) RevokeRequest(_ context.Context, requestID string) (AccessRequest, error) {
	return m.transition(requestID, StatusAccepted, StatusRevoked, func(req AccessRequest) {
		delete(m.grants, edgeKey{req.GrantOwnerID, req.GrantGranteeID})
		if p, ok := m.perms[req.RequesterID]; ok && p.GrantedBy == req.ReceiverID {
			delete(m.perms, req.RequesterID)
		}
	})
}

func (m *MemoryStore) transition(requestID string, from, to RequestStatus, apply func(AccessRequest)) (AccessRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok {
		return AccessRequest{}, fmt.Errorf("%w: request %s", ErrNotFound, requestID)
	}
	if req.Status != from {
		return AccessRequest{}, fmt.Errorf("%w: request %s is %s", ErrConflict, requestID, req.Status)
	}
	req.Status = to
	req.UpdatedAt = m.now()
	m.requests[requestID] = req
	if apply != nil {
		apply(req)
	}
	return req, nil
}

func (m *MemoryStore) Permission(_ context.Context, userID string) (UserPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.perms[userID]
	if !ok {
		return UserPermission{}, fmt.Errorf("%w: permission for %s", ErrNotFound, userID)
	}
	return p, nil
}

func (m *MemoryStore) SetPermission(_ context.Context, perm UserPermission, grant AccessGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireProfiles(perm.UserID); err != nil {
		return err
	}
	if perm.UpdatedAt.IsZero() {
		perm.UpdatedAt = m.now()
	}
	m.perms[perm.UserID] = perm
	if grant.OwnerUserID == "" || grant.GranteeUserID == "" {
		return nil
	}
	if perm.CanViewOtherUsersData {
		m.insertGrant(grant)
		return nil
	}
	for _, r := range m.requests {
		if r.Yields(grant.OwnerUserID, grant.GranteeUserID) {
			return nil
		}
	}
	delete(m.grants, edgeKey{grant.OwnerUserID, grant.GranteeUserID})
	return nil
}

// insertGrant keeps an existing edge untouched. Caller holds mu.
func (m *MemoryStore) insertGrant(g AccessGrant) {
	key := edgeKey{g.OwnerUserID, g.GranteeUserID}
	if _, ok := m.grants[key]; ok {
		return
	}
	if g.GrantedAt.IsZero() {
		g.GrantedAt = m.now()
	}
	m.grants[key] = g
}

// requireProfiles mirrors the foreign keys. Caller holds mu.
func (m *MemoryStore) requireProfiles(userIDs ...string) error {
	for _, id := range userIDs {
		if _, ok := m.profiles[id]; !ok {
			return fmt.Errorf("%w: user %s", ErrNotFound, id)
		}
	}
	return nil
}
