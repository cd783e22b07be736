package pg

import (
	"context"
	"fmt"

	"salesgrid.io/internal/access"
)

func (s *Store) GrantedOwners(ctx context.Context, granteeID string) ([]string, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.queryIDs(ctx, `
		select owner_user_id from access_grants
		where grantee_user_id = $1
		order by owner_user_id
	`, granteeID)
}

func (s *Store) GrantsByOwner(ctx context.Context, ownerID string) ([]access.AccessGrant, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select owner_user_id, grantee_user_id, granted_at
		from access_grants
		where owner_user_id = $1
		order by granted_at, grantee_user_id
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []access.AccessGrant
	for rows.Next() {
		var g access.AccessGrant
		if err := rows.Scan(&g.OwnerUserID, &g.GranteeUserID, &g.GrantedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) AdminOwners(ctx context.Context, assigneeID string) ([]string, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.queryIDs(ctx, `
		select admin_owner_id from assignee_links
		where assignee_id = $1
		order by admin_owner_id
	`, assigneeID)
}

// LinkAssignee is idempotent: an existing link is returned unchanged.
func (s *Store) LinkAssignee(ctx context.Context, assigneeID, adminOwnerID string) (access.AssigneeLink, error) {
	if s.db == nil {
		return access.AssigneeLink{}, errNoDB
	}
	what := fmt.Sprintf("assignee link %s -> %s", assigneeID, adminOwnerID)
	if _, err := s.db.ExecContext(ctx, `
		insert into assignee_links (assignee_id, admin_owner_id)
		values ($1, $2)
		on conflict (assignee_id, admin_owner_id) do nothing
	`, assigneeID, adminOwnerID); err != nil {
		return access.AssigneeLink{}, mapPgError(err, what)
	}
	var link access.AssigneeLink
	err := s.db.QueryRowContext(ctx, `
		select assignee_id, admin_owner_id, created_at
		from assignee_links
		where assignee_id = $1 and admin_owner_id = $2
	`, assigneeID, adminOwnerID).Scan(&link.AssigneeID, &link.AdminOwnerID, &link.CreatedAt)
	return link, mapPgError(err, what)
}

func (s *Store) UnlinkAssignee(ctx context.Context, assigneeID, adminOwnerID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		delete from assignee_links where assignee_id = $1 and admin_owner_id = $2
	`, assigneeID, adminOwnerID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: assignee link %s -> %s", access.ErrNotFound, assigneeID, adminOwnerID)
	}
	return nil
}
