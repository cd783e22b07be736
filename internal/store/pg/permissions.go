package pg

import (
	"context"
	"database/sql"

	"salesgrid.io/internal/access"
)

func (s *Store) Permission(ctx context.Context, userID string) (access.UserPermission, error) {
	if s.db == nil {
		return access.UserPermission{}, errNoDB
	}
	var p access.UserPermission
	err := s.db.QueryRowContext(ctx, `
		select user_id, can_view_other_users_data, coalesce(granted_by, ''), updated_at
		from user_permissions
		where user_id = $1
	`, userID).Scan(&p.UserID, &p.CanViewOtherUsersData, &p.GrantedBy, &p.UpdatedAt)
	return p, mapPgError(err, "permission for "+userID)
}

// SetPermission upserts the flag and keeps the paired grant in step with it.
func (s *Store) SetPermission(ctx context.Context, perm access.UserPermission, grant access.AccessGrant) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into user_permissions (user_id, can_view_other_users_data, granted_by, updated_at)
		values ($1, $2, $3, now())
		on conflict (user_id) do update
		set can_view_other_users_data = excluded.can_view_other_users_data,
		    granted_by = excluded.granted_by,
		    updated_at = now()
	`, perm.UserID, perm.CanViewOtherUsersData, nullIfEmpty(perm.GrantedBy)); err != nil {
		return mapPgError(err, "permission for "+perm.UserID)
	}
	if perm.CanViewOtherUsersData {
		err = insertGrant(ctx, tx, grant)
	} else {
		err = deleteUnbackedGrant(ctx, tx, grant)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// deleteUnbackedGrant removes the edge unless an accepted request recorded it.
func deleteUnbackedGrant(ctx context.Context, tx *sql.Tx, g access.AccessGrant) error {
	if g.OwnerUserID == "" || g.GranteeUserID == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		delete from access_grants g
		where g.owner_user_id = $1 and g.grantee_user_id = $2
		  and not exists (
		    select 1 from access_requests r
		    where r.status = 'accepted'
		      and r.grant_owner_id = g.owner_user_id
		      and r.grant_grantee_id = g.grantee_user_id
		  )
	`, g.OwnerUserID, g.GranteeUserID)
	return err
}
