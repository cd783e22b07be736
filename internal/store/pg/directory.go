package pg

import (
	"context"

	"salesgrid.io/internal/access"
	"salesgrid.io/internal/ids"
)

const profileColumns = `id, external_id, role::text, coalesce(email, ''), status, created_at, updated_at`

func scanProfile(row rowScanner) (access.UserProfile, error) {
	var (
		p    access.UserProfile
		role string
	)
	if err := row.Scan(&p.ID, &p.ExternalID, &role, &p.Email, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return access.UserProfile{}, err
	}
	p.Role = access.RoleOrDefault(role)
	return p, nil
}

func (s *Store) Profile(ctx context.Context, id string) (access.UserProfile, error) {
	if s.db == nil {
		return access.UserProfile{}, errNoDB
	}
	p, err := scanProfile(s.db.QueryRowContext(ctx, `select `+profileColumns+` from users where id = $1`, id))
	return p, mapPgError(err, "user "+id)
}

func (s *Store) ProfileByExternalID(ctx context.Context, externalID string) (access.UserProfile, error) {
	if s.db == nil {
		return access.UserProfile{}, errNoDB
	}
	p, err := scanProfile(s.db.QueryRowContext(ctx, `select `+profileColumns+` from users where external_id = $1`, externalID))
	return p, mapPgError(err, "identity "+externalID)
}

func (s *Store) ProfileByEmail(ctx context.Context, email string) (access.UserProfile, error) {
	if s.db == nil {
		return access.UserProfile{}, errNoDB
	}
	p, err := scanProfile(s.db.QueryRowContext(ctx, `select `+profileColumns+` from users where lower(email) = lower($1)`, email))
	return p, mapPgError(err, "email "+email)
}

func (s *Store) ListProfiles(ctx context.Context) ([]access.UserProfile, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+profileColumns+` from users order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []access.UserProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListProfileIDs(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.queryIDs(ctx, `select id from users order by id`)
}

// UpsertProfile is the directory-sync path: first sight of an identity creates
// a user profile, later sights refresh the email.
func (s *Store) UpsertProfile(ctx context.Context, externalID, email string) (access.UserProfile, error) {
	if s.db == nil {
		return access.UserProfile{}, errNoDB
	}
	p, err := scanProfile(s.db.QueryRowContext(ctx, `
		insert into users (id, external_id, email)
		values ($1, $2, $3)
		on conflict (external_id) do update
		set email = coalesce(excluded.email, users.email),
		    updated_at = case
		        when excluded.email is distinct from users.email and excluded.email is not null then now()
		        else users.updated_at
		    end
		returning `+profileColumns,
		ids.New(), externalID, nullIfEmpty(email)))
	return p, mapPgError(err, "user "+externalID)
}

func (s *Store) SetRole(ctx context.Context, userID string, role access.Role) (access.UserProfile, error) {
	if s.db == nil {
		return access.UserProfile{}, errNoDB
	}
	p, err := scanProfile(s.db.QueryRowContext(ctx, `
		update users set role = $2::user_role, updated_at = now()
		where id = $1
		returning `+profileColumns, userID, string(role)))
	return p, mapPgError(err, "user "+userID)
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
