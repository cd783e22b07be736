package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salesgrid.io/internal/access"
	"salesgrid.io/internal/auth"
	"salesgrid.io/internal/httpapi"
)

type harness struct {
	client *Client
	tokens *auth.Tokens
}

func newHarness(t *testing.T) harness {
	t.Helper()
	store := access.NewMemoryStore()
	store.PutProfile(access.UserProfile{ID: "A", ExternalID: "ext-a", Role: access.RoleAdmin, Email: "admin@example.com"})
	store.PutProfile(access.UserProfile{ID: "U", ExternalID: "ext-u", Email: "user@example.com"})
	store.PutProfile(access.UserProfile{ID: "S", ExternalID: "ext-s", Email: "sam@example.com"})

	svc, err := access.NewService(store)
	require.NoError(t, err)
	tokens, err := auth.NewTokens("client-test-secret-0123456789")
	require.NoError(t, err)
	api, err := httpapi.New(httpapi.Config{Service: svc, Tokens: tokens})
	require.NoError(t, err)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return harness{client: c, tokens: tokens}
}

func (h harness) as(t *testing.T, externalID string) *Client {
	t.Helper()
	tok, err := h.tokens.Issue(externalID, "", time.Hour)
	require.NoError(t, err)
	return h.client.As(tok)
}

func TestClientWorkflow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin, user := h.as(t, "ext-a"), h.as(t, "ext-u")

	me, err := admin.Me(ctx)
	require.NoError(t, err)
	assert.True(t, me.IsAdmin)

	req, err := user.SendRequest(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, access.StatusPending, req.Status)

	_, err = user.SendRequest(ctx, "A")
	assert.True(t, errors.Is(err, access.ErrConflict), "got %v", err)
	assert.True(t, IsStatus(err, http.StatusConflict))

	pending, err := admin.PendingRequests(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	out, err := admin.Respond(ctx, req.ID, access.DecisionAccept)
	require.NoError(t, err)
	require.NotNil(t, out.Grant)
	assert.Equal(t, "U", out.Grant.OwnerUserID)
	assert.Equal(t, "A", out.Grant.GranteeUserID)

	grantees, err := user.UsersWithPermissions(ctx)
	require.NoError(t, err)
	require.Len(t, grantees, 1)
	assert.Equal(t, "A", grantees[0].User.ID)

	_, err = admin.Revoke(ctx, req.ID)
	assert.True(t, errors.Is(err, access.ErrForbidden), "got %v", err)

	revoked, err := user.Revoke(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, access.StatusRevoked, revoked.Request.Status)

	sent, err := user.SentRequests(ctx)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, access.StatusRevoked, sent[0].Status)
}

func TestClientAdminOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin, sam := h.as(t, "ext-a"), h.as(t, "ext-s")

	_, err := sam.LinkAssignee(ctx, "U", "A")
	assert.True(t, errors.Is(err, access.ErrForbidden), "got %v", err)

	link, err := admin.LinkAssignee(ctx, "S", "")
	require.NoError(t, err)
	assert.Equal(t, "A", link.AdminOwnerID)

	owners, err := sam.VisibleOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "S"}, owners)

	require.NoError(t, admin.UnlinkAssignee(ctx, "S", ""))
	owners, err = sam.VisibleOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"S"}, owners)

	perm, err := admin.UpdatePermission(ctx, "S", true)
	require.NoError(t, err)
	assert.True(t, perm.CanViewOtherUsersData)

	profile, err := admin.SetRole(ctx, "U", access.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, access.RoleAdmin, profile.Role)

	users, err := sam.AvailableUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestClientUnauthenticated(t *testing.T) {
	h := newHarness(t)
	_, err := h.client.Me(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, access.ErrUnauthenticated), "got %v", err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.NotEmpty(t, apiErr.RequestID)
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New("/v1")
	assert.Error(t, err)
}

func TestMapStatus(t *testing.T) {
	cases := []struct {
		code int
		want error
	}{
		{http.StatusBadRequest, access.ErrInvalidInput},
		{http.StatusUnauthorized, access.ErrUnauthenticated},
		{http.StatusForbidden, access.ErrForbidden},
		{http.StatusNotFound, access.ErrNotFound},
		{http.StatusConflict, access.ErrConflict},
		{http.StatusInternalServerError, nil},
	}
	for _, tc := range cases {
		err := &APIError{Status: tc.code}
		if tc.want == nil {
			assert.Nil(t, errors.Unwrap(err))
			continue
		}
		assert.True(t, errors.Is(err, tc.want), "status %d", tc.code)
	}
}
