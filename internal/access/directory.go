package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// EnsureProfile syncs an authenticated external identity into the directory.
// Disabled profiles are refused.
func (s *Service) EnsureProfile(ctx context.Context, externalID, email string) (UserProfile, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return UserProfile{}, fmt.Errorf("%w: missing subject", ErrUnauthenticated)
	}
	email = strings.TrimSpace(email)
	profile, err := s.store.ProfileByExternalID(ctx, externalID)
	switch {
	case err == nil && (email == "" || strings.EqualFold(profile.Email, email)):
		// Known identity with nothing to sync; skip the write.
	case err == nil || errors.Is(err, ErrNotFound):
		if profile, err = s.store.UpsertProfile(ctx, externalID, email); err != nil {
			return UserProfile{}, err
		}
	default:
		return UserProfile{}, err
	}
	if profile.Status == UserStatusDisabled {
		return UserProfile{}, fmt.Errorf("%w: profile %s is disabled", ErrUnauthenticated, profile.ID)
	}
	return profile, nil
}

// Profile returns a profile by internal id.
func (s *Service) Profile(ctx context.Context, id string) (UserProfile, error) {
	return s.store.Profile(ctx, id)
}

// SetRole changes targetID's role. Admins cannot demote themselves.
func (s *Service) SetRole(ctx context.Context, actingID, targetID, rawRole string) (UserProfile, error) {
	if _, err := s.requireAdmin(ctx, actingID); err != nil {
		return UserProfile{}, err
	}
	role, err := ParseRole(rawRole)
	if err != nil {
		return UserProfile{}, err
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return UserProfile{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if targetID == actingID && role != RoleAdmin {
		return UserProfile{}, fmt.Errorf("%w: admins cannot demote themselves", ErrForbidden)
	}
	profile, err := s.store.SetRole(ctx, targetID, role)
	if err != nil {
		return UserProfile{}, err
	}
	// Role changes flip admin visibility and grant direction for everyone.
	s.purge()
	return profile, nil
}

// LinkAssignee delegates visibility of adminOwnerID's records to assigneeID.
// An empty adminOwnerID means the acting admin.
func (s *Service) LinkAssignee(ctx context.Context, actingID, assigneeID, adminOwnerID string) (AssigneeLink, error) {
	owner, assignee, err := s.assigneePair(ctx, actingID, assigneeID, adminOwnerID)
	if err != nil {
		return AssigneeLink{}, err
	}
	link, err := s.store.LinkAssignee(ctx, assignee.ID, owner.ID)
	if err != nil {
		return AssigneeLink{}, err
	}
	s.invalidate(assignee.ID)
	return link, nil
}

// UnlinkAssignee removes a delegation edge.
func (s *Service) UnlinkAssignee(ctx context.Context, actingID, assigneeID, adminOwnerID string) error {
	owner, assignee, err := s.assigneePair(ctx, actingID, assigneeID, adminOwnerID)
	if err != nil {
		return err
	}
	if err := s.store.UnlinkAssignee(ctx, assignee.ID, owner.ID); err != nil {
		return err
	}
	s.invalidate(assignee.ID)
	return nil
}

func (s *Service) assigneePair(ctx context.Context, actingID, assigneeID, adminOwnerID string) (UserProfile, UserProfile, error) {
	acting, err := s.requireAdmin(ctx, actingID)
	if err != nil {
		return UserProfile{}, UserProfile{}, err
	}
	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID == "" {
		return UserProfile{}, UserProfile{}, fmt.Errorf("%w: assignee_id is required", ErrInvalidInput)
	}
	owner := acting
	if id := strings.TrimSpace(adminOwnerID); id != "" && id != acting.ID {
		owner, err = s.lookupUser(ctx, id)
		if err != nil {
			return UserProfile{}, UserProfile{}, err
		}
	}
	if !RoleOrDefault(string(owner.Role)).IsAdmin() {
		return UserProfile{}, UserProfile{}, fmt.Errorf("%w: owner %s is not an admin", ErrInvalidInput, owner.ID)
	}
	assignee, err := s.lookupUser(ctx, assigneeID)
	if err != nil {
		return UserProfile{}, UserProfile{}, err
	}
	if assignee.ID == owner.ID {
		return UserProfile{}, UserProfile{}, fmt.Errorf("%w: cannot assign an admin to themselves", ErrInvalidInput)
	}
	return owner, assignee, nil
}

func (s *Service) requireAdmin(ctx context.Context, actingID string) (UserProfile, error) {
	profile, err := s.store.Profile(ctx, actingID)
	if errors.Is(err, ErrNotFound) {
		return UserProfile{}, fmt.Errorf("%w: unknown user", ErrForbidden)
	}
	if err != nil {
		return UserProfile{}, err
	}
	if !RoleOrDefault(string(profile.Role)).IsAdmin() {
		return UserProfile{}, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return profile, nil
}
