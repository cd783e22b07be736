package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"salesgrid.io/internal/access"
	"salesgrid.io/internal/ids"
)

const requestColumns = `id, requester_id, receiver_id, status::text, created_at, updated_at,
	coalesce(grant_owner_id, ''), coalesce(grant_grantee_id, '')`

func scanRequest(row rowScanner) (access.AccessRequest, error) {
	var (
		r      access.AccessRequest
		status string
	)
	if err := row.Scan(&r.ID, &r.RequesterID, &r.ReceiverID, &status, &r.CreatedAt, &r.UpdatedAt,
		&r.GrantOwnerID, &r.GrantGranteeID); err != nil {
		return access.AccessRequest{}, err
	}
	r.Status = access.RequestStatus(status)
	return r, nil
}

// CreateRequest relies on the partial unique index over open requests, so a
// racing duplicate surfaces as ErrConflict.
func (s *Store) CreateRequest(ctx context.Context, requesterID, receiverID string) (access.AccessRequest, error) {
	if s.db == nil {
		return access.AccessRequest{}, errNoDB
	}
	r, err := scanRequest(s.db.QueryRowContext(ctx, `
		insert into access_requests (id, requester_id, receiver_id)
		values ($1, $2, $3)
		returning `+requestColumns, ids.New(), requesterID, receiverID))
	return r, mapPgError(err, fmt.Sprintf("request %s -> %s", requesterID, receiverID))
}

func (s *Store) Request(ctx context.Context, id string) (access.AccessRequest, error) {
	if s.db == nil {
		return access.AccessRequest{}, errNoDB
	}
	r, err := scanRequest(s.db.QueryRowContext(ctx, `select `+requestColumns+` from access_requests where id = $1`, id))
	return r, mapPgError(err, "request "+id)
}

// IncomingRequests lists requests addressed to receiverID; an empty status
// returns all of them.
func (s *Store) IncomingRequests(ctx context.Context, receiverID string, status access.RequestStatus) ([]access.AccessRequest, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.queryRequests(ctx, `
		select `+requestColumns+` from access_requests
		where receiver_id = $1 and ($2 = '' or status::text = $2)
		order by created_at, id
	`, receiverID, string(status))
}

func (s *Store) OutgoingRequests(ctx context.Context, requesterID string) ([]access.AccessRequest, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.queryRequests(ctx, `
		select `+requestColumns+` from access_requests
		where requester_id = $1
		order by created_at, id
	`, requesterID)
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]access.AccessRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []access.AccessRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// AcceptRequest flips pending to accepted, records grant on the row and
// inserts it in one transaction. A caller that lost the race to another accept
// re-reads the row and still succeeds, re-ensuring the grant the winner recorded.
func (s *Store) AcceptRequest(ctx context.Context, requestID string, grant access.AccessGrant) (access.AccessRequest, error) {
	if s.db == nil {
		return access.AccessRequest{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.AccessRequest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	req, err := scanRequest(tx.QueryRowContext(ctx, `
		update access_requests
		set status = 'accepted', grant_owner_id = $2, grant_grantee_id = $3, updated_at = now()
		where id = $1 and status = 'pending'
		returning `+requestColumns, requestID, nullIfEmpty(grant.OwnerUserID), nullIfEmpty(grant.GranteeUserID)))
	if errors.Is(err, sql.ErrNoRows) {
		req, err = currentState(ctx, tx, requestID)
		if errors.Is(err, access.ErrConflict) && req.Status == access.StatusAccepted {
			err = nil
		}
	} else {
		err = mapPgError(err, "request "+requestID)
	}
	if err != nil {
		return access.AccessRequest{}, err
	}
	recorded, ok := req.Grant()
	if !ok {
		return access.AccessRequest{}, fmt.Errorf("request %s has no recorded grant", requestID)
	}
	if err := insertGrant(ctx, tx, recorded); err != nil {
		return access.AccessRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return access.AccessRequest{}, err
	}
	return req, nil
}

func (s *Store) RejectRequest(ctx context.Context, requestID string) (access.AccessRequest, error) {
	if s.db == nil {
		return access.AccessRequest{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.AccessRequest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	req, err := transition(ctx, tx, requestID, access.StatusPending, access.StatusRejected)
	if err != nil {
		return access.AccessRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return access.AccessRequest{}, err
	}
	return req, nil
}

// RevokeRequest marks the request revoked, deletes the grant recorded at
// acceptance and the permission row the receiver granted to the requester,
// atomically.
func (s *Store) RevokeRequest(ctx context.Context, requestID string) (access.AccessRequest, error) {
	if s.db == nil {
		return access.AccessRequest{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.AccessRequest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	req, err := transition(ctx, tx, requestID, access.StatusAccepted, access.StatusRevoked)
	if err != nil {
		return access.AccessRequest{}, err
	}
	if grant, ok := req.Grant(); ok {
		if err := deleteGrant(ctx, tx, grant); err != nil {
			return access.AccessRequest{}, err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		delete from user_permissions where user_id = $1 and granted_by = $2
	`, req.RequesterID, req.ReceiverID); err != nil {
		return access.AccessRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return access.AccessRequest{}, err
	}
	return req, nil
}

// transition performs a conditional status update. When no row matches it
// returns ErrNotFound, or ErrConflict together with the row's current state.
func transition(ctx context.Context, tx *sql.Tx, id string, from, to access.RequestStatus) (access.AccessRequest, error) {
	req, err := scanRequest(tx.QueryRowContext(ctx, `
		update access_requests
		set status = $3::request_status, updated_at = now()
		where id = $1 and status = $2::request_status
		returning `+requestColumns, id, string(from), string(to)))
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return access.AccessRequest{}, err
	}
	return currentState(ctx, tx, id)
}

// currentState re-reads a row a conditional update missed and reports it as
// ErrConflict, or ErrNotFound when the row is gone.
func currentState(ctx context.Context, tx *sql.Tx, id string) (access.AccessRequest, error) {
	current, err := scanRequest(tx.QueryRowContext(ctx, `select `+requestColumns+` from access_requests where id = $1`, id))
	if err != nil {
		return access.AccessRequest{}, mapPgError(err, "request "+id)
	}
	return current, fmt.Errorf("%w: request %s is %s", access.ErrConflict, id, current.Status)
}

func insertGrant(ctx context.Context, tx *sql.Tx, g access.AccessGrant) error {
	if g.OwnerUserID == "" || g.GranteeUserID == "" {
		return nil
	}
	var grantedAt any
	if !g.GrantedAt.IsZero() {
		grantedAt = g.GrantedAt
	}
	_, err := tx.ExecContext(ctx, `
		insert into access_grants (owner_user_id, grantee_user_id, granted_at)
		values ($1, $2, coalesce($3, now()))
		on conflict (owner_user_id, grantee_user_id) do nothing
	`, g.OwnerUserID, g.GranteeUserID, grantedAt)
	return mapPgError(err, fmt.Sprintf("grant %s -> %s", g.OwnerUserID, g.GranteeUserID))
}

func deleteGrant(ctx context.Context, tx *sql.Tx, g access.AccessGrant) error {
	if g.OwnerUserID == "" || g.GranteeUserID == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		delete from access_grants where owner_user_id = $1 and grantee_user_id = $2
	`, g.OwnerUserID, g.GranteeUserID)
	return err
}
