package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"salesgrid.io/internal/ids"
	"salesgrid.io/internal/obs"
)

// Outcome is the result of a workflow transition.
type Outcome struct {
	Request AccessRequest `json:"request"`
	Grant   *AccessGrant  `json:"grant,omitempty"`
}

// Service implements the access request workflow and the admin operations
// around the directory, assignee links and permission flags.
type Service struct {
	store       Store
	resolver    OwnerResolver
	invalidator Invalidator
	notifier    Notifier
	now         func() time.Time

	cacheSize int
	cacheTTL  time.Duration
	useCache  bool
}

// Option configures a Service.
type Option func(*Service)

// WithResolverCache memoises resolver answers in an expiring LRU.
func WithResolverCache(size int, ttl time.Duration) Option {
	return func(s *Service) {
		s.useCache = true
		s.cacheSize = size
		s.cacheTTL = ttl
	}
}

// WithNotifier publishes committed transitions to n.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the workflow to store.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("access store is required")
	}
	base, err := NewResolver(store)
	if err != nil {
		return nil, err
	}
	s := &Service{
		store:    store,
		notifier: noopNotifier{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = base
	if s.useCache {
		cached := NewCachedResolver(base, s.cacheSize, s.cacheTTL)
		s.resolver = cached
		s.invalidator = cached
	}
	return s, nil
}

// Resolver exposes the (possibly cached) resolver for row-level enforcement.
func (s *Service) Resolver() OwnerResolver { return s.resolver }

// VisibleOwners is the resolver output for viewerID.
func (s *Service) VisibleOwners(ctx context.Context, viewerID string) OwnerSet {
	return s.resolver.AccessibleOwnerIDs(ctx, viewerID)
}

// AvailableUsers lists active profiles other than the viewer.
func (s *Service) AvailableUsers(ctx context.Context, viewerID string) ([]UserProfile, error) {
	profiles, err := s.store.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]UserProfile, 0, len(profiles))
	for _, p := range profiles {
		if p.ID == viewerID || p.Status == UserStatusDisabled {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// SendRequest opens a pending request from requesterID to the user named by
// receiver, which may be an internal id or an email address.
func (s *Service) SendRequest(ctx context.Context, requesterID, receiver string) (AccessRequest, error) {
	receiver = strings.TrimSpace(receiver)
	if receiver == "" {
		return AccessRequest{}, fmt.Errorf("%w: receiver_id is required", ErrInvalidInput)
	}
	requester, err := s.store.Profile(ctx, requesterID)
	if err != nil {
		return AccessRequest{}, err
	}
	target, err := s.lookupUser(ctx, receiver)
	if err != nil {
		return AccessRequest{}, err
	}
	if target.ID == requester.ID {
		return AccessRequest{}, fmt.Errorf("%w: cannot request access from yourself", ErrInvalidInput)
	}

	outgoing, err := s.store.OutgoingRequests(ctx, requester.ID)
	if err != nil {
		return AccessRequest{}, err
	}
	for _, existing := range outgoing {
		if existing.ReceiverID == target.ID && existing.Status.Open() {
			return AccessRequest{}, fmt.Errorf("%w: request %s is already %s", ErrConflict, existing.ID, existing.Status)
		}
	}

	req, err := s.store.CreateRequest(ctx, requester.ID, target.ID)
	if err != nil {
		return AccessRequest{}, err
	}
	s.publish(ctx, EventRequestCreated, req)
	return req, nil
}

// RespondToRequest applies the receiver's decision to a pending request.
func (s *Service) RespondToRequest(ctx context.Context, requestID, actingID string, decision Decision) (Outcome, error) {
	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return Outcome{}, err
	}
	if req.ReceiverID != actingID {
		return Outcome{}, fmt.Errorf("%w: only the receiver can respond to request %s", ErrForbidden, req.ID)
	}

	switch decision {
	case DecisionAccept:
		if req.Status != StatusPending && req.Status != StatusAccepted {
			return Outcome{}, fmt.Errorf("%w: request %s is %s", ErrConflict, req.ID, req.Status)
		}
		var grant AccessGrant
		if req.Status == StatusPending {
			if grant, err = s.grantFor(ctx, req); err != nil {
				return Outcome{}, err
			}
		}
		updated, err := s.store.AcceptRequest(ctx, req.ID, grant)
		if err != nil {
			return Outcome{}, err
		}
		recorded, ok := updated.Grant()
		if !ok {
			return Outcome{}, fmt.Errorf("request %s accepted without a recorded grant", updated.ID)
		}
		s.invalidate(recorded.GranteeUserID)
		if req.Status == StatusPending {
			s.publish(ctx, EventRequestAccepted, updated)
		}
		return Outcome{Request: updated, Grant: &recorded}, nil
	case DecisionReject:
		if req.Status != StatusPending {
			return Outcome{}, fmt.Errorf("%w: request %s is %s", ErrConflict, req.ID, req.Status)
		}
		updated, err := s.store.RejectRequest(ctx, req.ID)
		if err != nil {
			return Outcome{}, err
		}
		s.publish(ctx, EventRequestRejected, updated)
		return Outcome{Request: updated}, nil
	}
	return Outcome{}, fmt.Errorf("%w: unsupported decision %q", ErrInvalidInput, decision)
}

// RevokeRequest withdraws an accepted request and removes the grant its
// acceptance created. Only the requester may revoke.
func (s *Service) RevokeRequest(ctx context.Context, requestID, actingID string) (Outcome, error) {
	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return Outcome{}, err
	}
	if req.RequesterID != actingID {
		return Outcome{}, fmt.Errorf("%w: only the requester can revoke request %s", ErrForbidden, req.ID)
	}
	if req.Status != StatusAccepted {
		return Outcome{}, fmt.Errorf("%w: request %s is %s", ErrConflict, req.ID, req.Status)
	}
	updated, err := s.store.RevokeRequest(ctx, req.ID)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Request: updated}
	if grant, ok := updated.Grant(); ok {
		out.Grant = &grant
		s.invalidate(grant.GranteeUserID)
	}
	s.invalidate(req.RequesterID)
	s.publish(ctx, EventRequestRevoked, updated)
	return out, nil
}

// PendingRequests lists requests awaiting the viewer's decision.
func (s *Service) PendingRequests(ctx context.Context, viewerID string) ([]AccessRequest, error) {
	return s.store.IncomingRequests(ctx, viewerID, StatusPending)
}

// SentRequests lists every request the viewer has made.
func (s *Service) SentRequests(ctx context.Context, viewerID string) ([]AccessRequest, error) {
	return s.store.OutgoingRequests(ctx, viewerID)
}

func (s *Service) loadRequest(ctx context.Context, requestID string) (AccessRequest, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return AccessRequest{}, fmt.Errorf("%w: request_id is required", ErrInvalidInput)
	}
	if !ids.Valid(requestID) {
		return AccessRequest{}, fmt.Errorf("%w: request %s", ErrNotFound, requestID)
	}
	return s.store.Request(ctx, requestID)
}

// grantFor derives the edge for a first accept from the parties' current roles.
func (s *Service) grantFor(ctx context.Context, req AccessRequest) (AccessGrant, error) {
	requester, err := s.store.Profile(ctx, req.RequesterID)
	if err != nil {
		return AccessGrant{}, err
	}
	receiver, err := s.store.Profile(ctx, req.ReceiverID)
	if err != nil {
		return AccessGrant{}, err
	}
	grant := GrantFor(requester, receiver)
	grant.GrantedAt = s.now().UTC()
	return grant, nil
}

// lookupUser resolves an internal id or an email address.
func (s *Service) lookupUser(ctx context.Context, ident string) (UserProfile, error) {
	var (
		profile UserProfile
		err     error
	)
	if strings.Contains(ident, "@") {
		profile, err = s.store.ProfileByEmail(ctx, ident)
	} else {
		profile, err = s.store.Profile(ctx, ident)
	}
	if errors.Is(err, ErrNotFound) {
		return UserProfile{}, fmt.Errorf("%w: user %q", ErrNotFound, ident)
	}
	return profile, err
}

func (s *Service) invalidate(viewerIDs ...string) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(viewerIDs...)
	}
}

func (s *Service) purge() {
	if s.invalidator != nil {
		s.invalidator.Purge()
	}
}

func (s *Service) publish(ctx context.Context, typ EventType, req AccessRequest) {
	obs.ObserveTransition(string(req.Status))
	s.notifier.Notify(ctx, Event{
		Type:        typ,
		RequestID:   req.ID,
		RequesterID: req.RequesterID,
		ReceiverID:  req.ReceiverID,
		Status:      req.Status,
		OccurredAt:  s.now().UTC(),
	})
}
