package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UsersWithPermissions lists every user holding a grant on the viewer's
// records together with their override flag.
func (s *Service) UsersWithPermissions(ctx context.Context, viewerID string) ([]GranteeView, error) {
	grants, err := s.store.GrantsByOwner(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	out := make([]GranteeView, 0, len(grants))
	for _, g := range grants {
		if g.GranteeUserID == viewerID {
			continue
		}
		profile, err := s.store.Profile(ctx, g.GranteeUserID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		view := GranteeView{User: profile, GrantedAt: g.GrantedAt}
		perm, err := s.store.Permission(ctx, g.GranteeUserID)
		switch {
		case err == nil:
			view.CanViewOtherUsersData = perm.CanViewOtherUsersData
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}

// UpdateUserPermission toggles the override flag on targetID. Enabling it
// also grants targetID visibility of the acting admin's records; disabling
// removes that grant.
func (s *Service) UpdateUserPermission(ctx context.Context, actingID, targetID string, enabled bool) (UserPermission, error) {
	if _, err := s.requireAdmin(ctx, actingID); err != nil {
		return UserPermission{}, err
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return UserPermission{}, fmt.Errorf("%w: target_user_id is required", ErrInvalidInput)
	}
	target, err := s.lookupUser(ctx, targetID)
	if err != nil {
		return UserPermission{}, err
	}

	now := s.now().UTC()
	perm := UserPermission{
		UserID:                target.ID,
		CanViewOtherUsersData: enabled,
		GrantedBy:             actingID,
		UpdatedAt:             now,
	}
	var grant AccessGrant
	if target.ID != actingID {
		grant = AccessGrant{OwnerUserID: actingID, GranteeUserID: target.ID, GrantedAt: now}
	}
	if err := s.store.SetPermission(ctx, perm, grant); err != nil {
		return UserPermission{}, err
	}
	s.invalidate(target.ID)
	s.notifier.Notify(ctx, Event{
		Type:        EventPermissionSet,
		RequesterID: actingID,
		ReceiverID:  target.ID,
		OccurredAt:  now,
	})
	return perm, nil
}
