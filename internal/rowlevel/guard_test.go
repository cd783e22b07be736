package rowlevel

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salesgrid.io/internal/access"
)

type staticResolver map[string]access.OwnerSet

func (s staticResolver) AccessibleOwnerIDs(_ context.Context, viewerID string) access.OwnerSet {
	if set, ok := s[viewerID]; ok {
		return set.Clone()
	}
	return access.NewOwnerSet(viewerID)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Leads ")
	require.NoError(t, err)
	assert.Equal(t, KindLeads, k)

	_, err = ParseKind("users; drop table users")
	assert.ErrorIs(t, err, access.ErrInvalidInput)
}

func TestScopeChecks(t *testing.T) {
	guard, err := NewGuard(staticResolver{"u": access.NewOwnerSet("u", "a")})
	require.NoError(t, err)

	scope, err := guard.Scope(context.Background(), "u")
	require.NoError(t, err)

	assert.True(t, scope.CanRead("a"))
	assert.False(t, scope.CanRead("x"))

	assert.NoError(t, scope.CheckInsert("u"))
	assert.ErrorIs(t, scope.CheckInsert("a"), access.ErrForbidden)
	assert.ErrorIs(t, scope.CheckInsert(""), access.ErrForbidden)

	clause, arg := scope.Predicate("owner_user_id", 3)
	assert.Equal(t, "owner_user_id = any($3)", clause)
	assert.Equal(t, []string{"a", "u"}, arg)

	_, err = guard.Scope(context.Background(), "")
	assert.ErrorIs(t, err, access.ErrUnauthenticated)
}

func TestFilter(t *testing.T) {
	scope := Scope{ViewerID: "u", Owners: access.NewOwnerSet("u", "a")}
	owners := []string{"u", "x", "a", "y"}
	got := Filter(scope, owners, func(s string) string { return s })
	assert.Equal(t, []string{"u", "a"}, got)
}

func TestRecordsEnforceOwnership(t *testing.T) {
	resolver := staticResolver{
		"u": access.NewOwnerSet("u", "a"),
		"a": access.NewOwnerSet("a"),
	}
	guard, err := NewGuard(resolver)
	require.NoError(t, err)
	records, err := NewRecords(guard, NewMemoryRecords())
	require.NoError(t, err)
	ctx := context.Background()

	mine, err := records.Create(ctx, "u", Record{Kind: KindLeads, Name: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "u", mine.OwnerUserID)

	_, err = records.Create(ctx, "u", Record{Kind: KindLeads, Name: "spoof", OwnerUserID: "a"})
	assert.ErrorIs(t, err, access.ErrForbidden)

	_, err = records.Create(ctx, "u", Record{Kind: KindLeads})
	assert.ErrorIs(t, err, access.ErrInvalidInput)

	theirs, err := records.Create(ctx, "a", Record{Kind: KindLeads, Name: "globex"})
	require.NoError(t, err)
	other, err := records.Create(ctx, "x", Record{Kind: KindLeads, Name: "initech"})
	require.NoError(t, err)

	list, err := records.List(ctx, "u", KindLeads, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{mine.ID, theirs.ID}, recordIDs(list))

	list, err = records.List(ctx, "u", KindCustomers, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = records.Get(ctx, "u", KindLeads, other.ID)
	assert.ErrorIs(t, err, access.ErrNotFound)

	updated, err := records.Update(ctx, "u", Record{ID: theirs.ID, Kind: KindLeads, Payload: json.RawMessage(`{"stage":"won"}`)})
	require.NoError(t, err)
	assert.Equal(t, "a", updated.OwnerUserID)
	assert.Equal(t, "globex", updated.Name)
	assert.JSONEq(t, `{"stage":"won"}`, string(updated.Payload))

	_, err = records.Update(ctx, "u", Record{ID: other.ID, Kind: KindLeads, Name: "taken"})
	assert.ErrorIs(t, err, access.ErrNotFound)

	assert.ErrorIs(t, records.Delete(ctx, "a", KindLeads, mine.ID), access.ErrNotFound)
	require.NoError(t, records.Delete(ctx, "u", KindLeads, theirs.ID))

	list, err = records.List(ctx, "a", KindLeads, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

type countingResolver struct {
	staticResolver
	calls int
}

func (c *countingResolver) AccessibleOwnerIDs(ctx context.Context, viewerID string) access.OwnerSet {
	c.calls++
	return c.staticResolver.AccessibleOwnerIDs(ctx, viewerID)
}

func TestRecordsResolveOncePerMutation(t *testing.T) {
	resolver := &countingResolver{staticResolver: staticResolver{"u": access.NewOwnerSet("u")}}
	guard, err := NewGuard(resolver)
	require.NoError(t, err)
	records, err := NewRecords(guard, NewMemoryRecords())
	require.NoError(t, err)
	ctx := context.Background()

	rec, err := records.Create(ctx, "u", Record{Kind: KindLeads, Name: "acme"})
	require.NoError(t, err)

	resolver.calls = 0
	_, err = records.Update(ctx, "u", Record{ID: rec.ID, Kind: KindLeads, Name: "acme corp"})
	require.NoError(t, err)
	assert.Equal(t, 1, resolver.calls)

	resolver.calls = 0
	require.NoError(t, records.Delete(ctx, "u", KindLeads, rec.ID))
	assert.Equal(t, 1, resolver.calls)

	_, err = records.Get(ctx, "u", KindLeads, "../leads")
	assert.ErrorIs(t, err, access.ErrNotFound)
}

func recordIDs(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
