// Package rowlevel applies the accessible owner set to owner-scoped CRM records.
//
// Reads are limited to owners the viewer can see, inserts must be owned by the
// viewer, and updates or deletes require the existing row's owner to be
// visible. The same rule is enforced a second time by Postgres row-level
// security (see internal/migrate/sql).
package rowlevel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"salesgrid.io/internal/access"
)

// Kind names an owner-scoped tenant table.
type Kind string

const (
	KindLeads         Kind = "leads"
	KindOpportunities Kind = "opportunities"
	KindCustomers     Kind = "customers"
	KindActivities    Kind = "activities"
)

// Kinds lists every tenant table under row-level enforcement.
var Kinds = []Kind{KindLeads, KindOpportunities, KindCustomers, KindActivities}

// ParseKind validates raw against the tenant tables. Only values returned
// from here are ever interpolated into SQL.
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown record kind %q", access.ErrInvalidInput, raw)
}

// Guard turns viewer ids into enforcement scopes.
type Guard struct {
	resolver access.OwnerResolver
}

func NewGuard(resolver access.OwnerResolver) (*Guard, error) {
	if resolver == nil {
		return nil, errors.New("owner resolver is required")
	}
	return &Guard{resolver: resolver}, nil
}

// Scope resolves viewerID once; callers reuse the result for the whole request.
func (g *Guard) Scope(ctx context.Context, viewerID string) (Scope, error) {
	viewerID = strings.TrimSpace(viewerID)
	if viewerID == "" {
		return Scope{}, fmt.Errorf("%w: viewer is required", access.ErrUnauthenticated)
	}
	return Scope{
		ViewerID: viewerID,
		Owners:   g.resolver.AccessibleOwnerIDs(ctx, viewerID),
	}, nil
}

// Scope is one viewer's resolved visibility.
type Scope struct {
	ViewerID string
	Owners   access.OwnerSet
}

func (s Scope) CanRead(ownerID string) bool {
	return s.Owners.Contains(ownerID)
}

// CheckInsert allows new rows owned by the viewer only.
func (s Scope) CheckInsert(ownerID string) error {
	if ownerID == "" || ownerID != s.ViewerID {
		return fmt.Errorf("%w: records can only be created for yourself", access.ErrForbidden)
	}
	return nil
}

// Predicate renders "column = any($argIndex)" and the matching argument.
// An empty scope renders a predicate that matches nothing.
func (s Scope) Predicate(column string, argIndex int) (string, any) {
	return fmt.Sprintf("%s = any($%d)", column, argIndex), s.Owners.IDs()
}

// Filter keeps the items whose owner is visible.
func Filter[T any](s Scope, items []T, owner func(T) string) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if s.CanRead(owner(item)) {
			out = append(out, item)
		}
	}
	return out
}
