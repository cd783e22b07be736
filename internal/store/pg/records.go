package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"salesgrid.io/internal/access"
	"salesgrid.io/internal/ids"
	"salesgrid.io/internal/rowlevel"
)

var _ rowlevel.RecordStore = (*Store)(nil)

const recordColumns = `id, owner_user_id, name, payload, created_at, updated_at`

func scanRecord(row rowScanner, kind rowlevel.Kind) (rowlevel.Record, error) {
	var (
		rec     rowlevel.Record
		payload []byte
	)
	if err := row.Scan(&rec.ID, &rec.OwnerUserID, &rec.Name, &payload, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return rowlevel.Record{}, err
	}
	rec.Kind = kind
	if len(payload) > 0 {
		rec.Payload = json.RawMessage(payload)
	}
	return rec, nil
}

// table re-validates kind so only known table names reach the query text.
func table(kind rowlevel.Kind) (string, error) {
	k, err := rowlevel.ParseKind(string(kind))
	if err != nil {
		return "", err
	}
	return string(k), nil
}

// ListRecords applies the scope twice: as an explicit predicate and through
// the row-level security policy bound to the viewer.
func (s *Store) ListRecords(ctx context.Context, scope rowlevel.Scope, kind rowlevel.Kind, limit int) ([]rowlevel.Record, error) {
	tbl, err := table(kind)
	if err != nil {
		return nil, err
	}
	clause, owners := scope.Predicate("owner_user_id", 1)
	query := fmt.Sprintf(`select %s from %s where %s order by id limit $2`, recordColumns, tbl, clause)

	var out []rowlevel.Record
	err = s.WithViewer(ctx, scope.ViewerID, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, owners, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanRecord(rows, kind)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) GetRecord(ctx context.Context, scope rowlevel.Scope, kind rowlevel.Kind, id string) (rowlevel.Record, error) {
	tbl, err := table(kind)
	if err != nil {
		return rowlevel.Record{}, err
	}
	clause, owners := scope.Predicate("owner_user_id", 2)
	query := fmt.Sprintf(`select %s from %s where id = $1 and %s`, recordColumns, tbl, clause)

	var rec rowlevel.Record
	err = s.WithViewer(ctx, scope.ViewerID, func(tx *sql.Tx) error {
		var err error
		rec, err = scanRecord(tx.QueryRowContext(ctx, query, id, owners), kind)
		return mapPgError(err, "record "+id)
	})
	return rec, err
}

func (s *Store) InsertRecord(ctx context.Context, scope rowlevel.Scope, rec rowlevel.Record) (rowlevel.Record, error) {
	tbl, err := table(rec.Kind)
	if err != nil {
		return rowlevel.Record{}, err
	}
	if err := scope.CheckInsert(rec.OwnerUserID); err != nil {
		return rowlevel.Record{}, err
	}
	payload := []byte(rec.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	query := fmt.Sprintf(`insert into %s (id, owner_user_id, name, payload) values ($1, $2, $3, $4) returning %s`, tbl, recordColumns)

	var out rowlevel.Record
	err = s.WithViewer(ctx, scope.ViewerID, func(tx *sql.Tx) error {
		var err error
		out, err = scanRecord(tx.QueryRowContext(ctx, query, ids.New(), rec.OwnerUserID, rec.Name, payload), rec.Kind)
		return mapPgError(err, "record")
	})
	return out, err
}

func (s *Store) UpdateRecord(ctx context.Context, scope rowlevel.Scope, rec rowlevel.Record) (rowlevel.Record, error) {
	tbl, err := table(rec.Kind)
	if err != nil {
		return rowlevel.Record{}, err
	}
	clause, owners := scope.Predicate("owner_user_id", 4)
	query := fmt.Sprintf(`
		update %s set name = $2, payload = coalesce($3, payload), updated_at = now()
		where id = $1 and %s
		returning %s`, tbl, clause, recordColumns)

	var payload any
	if len(rec.Payload) > 0 {
		payload = []byte(rec.Payload)
	}
	var out rowlevel.Record
	err = s.WithViewer(ctx, scope.ViewerID, func(tx *sql.Tx) error {
		var err error
		out, err = scanRecord(tx.QueryRowContext(ctx, query, rec.ID, rec.Name, payload, owners), rec.Kind)
		return mapPgError(err, "record "+rec.ID)
	})
	return out, err
}

func (s *Store) DeleteRecord(ctx context.Context, scope rowlevel.Scope, kind rowlevel.Kind, id string) error {
	tbl, err := table(kind)
	if err != nil {
		return err
	}
	clause, owners := scope.Predicate("owner_user_id", 2)
	query := fmt.Sprintf(`delete from %s where id = $1 and %s`, tbl, clause)

	return s.WithViewer(ctx, scope.ViewerID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, id, owners)
		if err != nil {
			return err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if aff == 0 {
			return fmt.Errorf("%w: record %s", access.ErrNotFound, id)
		}
		return nil
	})
}
