package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"salesgrid.io/internal/access"
	"salesgrid.io/internal/auth"
	"salesgrid.io/internal/rowlevel"
	"salesgrid.io/internal/stream"
)

const testSecret = "test-secret-0123456789abcdef"

type apiClient struct {
	baseURL string
	client  *http.Client
	tokens  *auth.Tokens
	store   *access.MemoryStore
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := access.NewMemoryStore()
	store.PutProfile(access.UserProfile{ID: "A", ExternalID: "ext-a", Role: access.RoleAdmin, Email: "admin@example.com"})
	store.PutProfile(access.UserProfile{ID: "U", ExternalID: "ext-u", Role: access.RoleUser, Email: "user@example.com"})
	store.PutProfile(access.UserProfile{ID: "X", ExternalID: "ext-x", Role: access.RoleUser, Email: "x@example.com"})
	store.PutProfile(access.UserProfile{ID: "D", ExternalID: "ext-d", Status: access.UserStatusDisabled})

	events := stream.New()
	svc, err := access.NewService(store, access.WithResolverCache(64, time.Minute), access.WithNotifier(events))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	guard, err := rowlevel.NewGuard(svc.Resolver())
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	records, err := rowlevel.NewRecords(guard, rowlevel.NewMemoryRecords())
	if err != nil {
		t.Fatalf("new records: %v", err)
	}
	tokens, err := auth.NewTokens(testSecret)
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}

	api, err := New(Config{
		Service: svc,
		Records: records,
		Tokens:  tokens,
		Stream:  events,
		Limiter: NewLocalLimiter(1000, 1000),
		Version: "test",
	})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		tokens:  tokens,
		store:   store,
		t:       t,
	}
}

func (c *apiClient) token(externalID string) string {
	c.t.Helper()
	tok, err := c.tokens.Issue(externalID, "", time.Hour)
	if err != nil {
		c.t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (c *apiClient) do(method, path, token string, body any) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) expect(resp *http.Response, code int) {
	c.t.Helper()
	if resp.StatusCode != code {
		var body bytes.Buffer
		_, _ = body.ReadFrom(resp.Body)
		resp.Body.Close()
		c.t.Fatalf("expected %d, got %d: %s", code, resp.StatusCode, body.String())
	}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestAPIRequiresBearerToken(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodGet, "/v1/access/users", "", nil)
	c.expect(resp, http.StatusUnauthorized)
	body := decode[map[string]any](t, resp)
	if body["request_id"] == "" || body["request_id"] == nil {
		t.Fatalf("expected request_id in error body: %v", body)
	}

	resp = c.do(http.MethodGet, "/v1/access/users", "not-a-jwt", nil)
	c.expect(resp, http.StatusUnauthorized)
	resp.Body.Close()

	other, err := auth.NewTokens("another-secret-0123456789")
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	forged, _ := other.Issue("ext-u", "", time.Hour)
	resp = c.do(http.MethodGet, "/v1/access/users", forged, nil)
	c.expect(resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/access/users", c.token("ext-d"), nil)
	c.expect(resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestAPIFirstLoginCreatesProfile(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodGet, "/v1/access/me", c.token("ext-new"), nil)
	c.expect(resp, http.StatusOK)
	me := decode[meResponse](t, resp)
	if me.Profile.ExternalID != "ext-new" || me.Profile.Role != access.RoleUser || me.IsAdmin {
		t.Fatalf("unexpected profile: %+v", me)
	}

	resp = c.do(http.MethodGet, "/v1/access/visible-owners", c.token("ext-new"), nil)
	c.expect(resp, http.StatusOK)
	owners := decode[visibleOwnersResponse](t, resp)
	if len(owners.OwnerIDs) != 1 || owners.OwnerIDs[0] != me.Profile.ID {
		t.Fatalf("new user should only see themself: %+v", owners)
	}
}

func TestAPIAvailableUsersExcludesViewer(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodGet, "/v1/access/users", c.token("ext-u"), nil)
	c.expect(resp, http.StatusOK)
	users := decode[usersResponse](t, resp)
	for _, u := range users.Items {
		if u.ID == "U" {
			t.Fatal("viewer listed in available users")
		}
		if u.ID == "D" {
			t.Fatal("disabled user listed in available users")
		}
	}
	if len(users.Items) != 2 {
		t.Fatalf("expected A and X, got %+v", users.Items)
	}
}

func TestAPIRequestAcceptRevokeFlow(t *testing.T) {
	c := newTestAPI(t)
	adminTok, userTok := c.token("ext-a"), c.token("ext-u")

	resp := c.do(http.MethodPost, "/v1/access/requests", adminTok, map[string]any{"receiver_id": "U"})
	c.expect(resp, http.StatusCreated)
	created := decode[access.AccessRequest](t, resp)
	if created.Status != access.StatusPending || created.RequesterID != "A" || created.ReceiverID != "U" {
		t.Fatalf("unexpected request: %+v", created)
	}

	resp = c.do(http.MethodPost, "/v1/access/requests", adminTok, map[string]any{"receiver_id": "user@example.com"})
	c.expect(resp, http.StatusConflict)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/access/requests/pending", userTok, nil)
	c.expect(resp, http.StatusOK)
	pending := decode[requestsResponse](t, resp)
	if len(pending.Items) != 1 || pending.Items[0].ID != created.ID {
		t.Fatalf("unexpected pending list: %+v", pending.Items)
	}

	// Only the receiver may respond.
	resp = c.do(http.MethodPost, "/v1/access/requests/"+created.ID+"/status", adminTok, map[string]any{"new_status": "accepted"})
	c.expect(resp, http.StatusForbidden)
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/access/requests/"+created.ID+"/status", userTok, map[string]any{"new_status": "accepted"})
	c.expect(resp, http.StatusOK)
	outcome := decode[outcomeResponse](t, resp)
	if outcome.Request.Status != access.StatusAccepted {
		t.Fatalf("unexpected status: %s", outcome.Request.Status)
	}
	if outcome.Grant == nil || outcome.Grant.OwnerUserID != "A" || outcome.Grant.GranteeUserID != "U" {
		t.Fatalf("unexpected grant: %+v", outcome.Grant)
	}

	resp = c.do(http.MethodGet, "/v1/access/visible-owners", userTok, nil)
	c.expect(resp, http.StatusOK)
	owners := decode[visibleOwnersResponse](t, resp)
	if strings.Join(owners.OwnerIDs, ",") != "A,U" {
		t.Fatalf("unexpected owners after accept: %v", owners.OwnerIDs)
	}

	resp = c.do(http.MethodPost, "/v1/access/revoke", userTok, map[string]any{"request_id": created.ID})
	c.expect(resp, http.StatusForbidden)
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/access/revoke", adminTok, map[string]any{"request_id": created.ID})
	c.expect(resp, http.StatusOK)
	revoked := decode[outcomeResponse](t, resp)
	if revoked.Request.Status != access.StatusRevoked {
		t.Fatalf("unexpected status after revoke: %s", revoked.Request.Status)
	}

	resp = c.do(http.MethodGet, "/v1/access/visible-owners", userTok, nil)
	c.expect(resp, http.StatusOK)
	owners = decode[visibleOwnersResponse](t, resp)
	if strings.Join(owners.OwnerIDs, ",") != "U" {
		t.Fatalf("unexpected owners after revoke: %v", owners.OwnerIDs)
	}

	resp = c.do(http.MethodGet, "/v1/access/requests/sent", adminTok, nil)
	c.expect(resp, http.StatusOK)
	sent := decode[requestsResponse](t, resp)
	if len(sent.Items) != 1 || sent.Items[0].Status != access.StatusRevoked {
		t.Fatalf("unexpected sent list: %+v", sent.Items)
	}

	// The pair is free again once revoked.
	resp = c.do(http.MethodPost, "/v1/access/requests", adminTok, map[string]any{"receiver_id": "U"})
	c.expect(resp, http.StatusCreated)
	resp.Body.Close()
}

func TestAPIUpdateStatusBodyForm(t *testing.T) {
	c := newTestAPI(t)
	userTok, xTok := c.token("ext-u"), c.token("ext-x")

	resp := c.do(http.MethodPost, "/v1/access/requests", userTok, map[string]any{"receiver_id": "X"})
	c.expect(resp, http.StatusCreated)
	created := decode[access.AccessRequest](t, resp)

	resp = c.do(http.MethodPost, "/v1/access/requests/status", xTok, map[string]any{"request_id": created.ID, "new_status": "bogus"})
	c.expect(resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/access/requests/other/status", xTok, map[string]any{"request_id": created.ID, "new_status": "reject"})
	c.expect(resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/access/requests/status", xTok, map[string]any{"request_id": created.ID, "new_status": "rejected"})
	c.expect(resp, http.StatusOK)
	outcome := decode[outcomeResponse](t, resp)
	if outcome.Request.Status != access.StatusRejected || outcome.Grant != nil {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	resp = c.do(http.MethodPost, "/v1/access/requests/status", xTok, map[string]any{"request_id": created.ID, "new_status": "accepted"})
	c.expect(resp, http.StatusConflict)
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/access/requests/status", xTok, map[string]any{"request_id": "missing", "new_status": "accepted"})
	c.expect(resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestAPISendRequestValidation(t *testing.T) {
	c := newTestAPI(t)
	userTok := c.token("ext-u")

	cases := []struct {
		name string
		body any
		code int
	}{
		{"missing receiver", map[string]any{}, http.StatusBadRequest},
		{"self", map[string]any{"receiver_id": "U"}, http.StatusBadRequest},
		{"unknown receiver", map[string]any{"receiver_id": "nobody"}, http.StatusNotFound},
		{"unknown field", map[string]any{"receiver_id": "X", "role": "admin"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := c.do(http.MethodPost, "/v1/access/requests", userTok, tc.body)
			c.expect(resp, tc.code)
			resp.Body.Close()
		})
	}
}

func TestAPIPermissions(t *testing.T) {
	c := newTestAPI(t)
	adminTok, userTok := c.token("ext-a"), c.token("ext-u")

	resp := c.do(http.MethodPut, "/v1/access/permissions", userTok, map[string]any{"target_user_id": "X", "can_view_other_users_data": true})
	c.expect(resp, http.StatusForbidden)
	resp.Body.Close()

	resp = c.do(http.MethodPut, "/v1/access/permissions", adminTok, map[string]any{"target_user_id": "X"})
	c.expect(resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = c.do(http.MethodPut, "/v1/access/permissions", adminTok, map[string]any{"target_user_id": "X", "can_view_other_users_data": true})
	c.expect(resp, http.StatusOK)
	perm := decode[access.UserPermission](t, resp)
	if !perm.CanViewOtherUsersData || perm.UserID != "X" || perm.GrantedBy != "A" {
		t.Fatalf("unexpected permission: %+v", perm)
	}

	resp = c.do(http.MethodGet, "/v1/access/permissions", adminTok, nil)
	c.expect(resp, http.StatusOK)
	grantees := decode[granteesResponse](t, resp)
	if len(grantees.Items) != 1 || grantees.Items[0].User.ID != "X" || !grantees.Items[0].CanViewOtherUsersData {
		t.Fatalf("unexpected grantees: %+v", grantees.Items)
	}

	resp = c.do(http.MethodPut, "/v1/access/permissions", adminTok, map[string]any{"target_user_id": "X", "can_view_other_users_data": false})
	c.expect(resp, http.StatusOK)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/access/permissions", adminTok, nil)
	c.expect(resp, http.StatusOK)
	grantees = decode[granteesResponse](t, resp)
	if len(grantees.Items) != 0 {
		t.Fatalf("expected no grantees after disable: %+v", grantees.Items)
	}
}

func TestAPIAdminRoutes(t *testing.T) {
	c := newTestAPI(t)
	adminTok, userTok := c.token("ext-a"), c.token("ext-u")

	resp := c.do(http.MethodPut, "/v1/admin/users/X/role", userTok, map[string]any{"role": "admin"})
	c.expect(resp, http.StatusForbidden)
	resp.Body.Close()

	resp = c.do(http.MethodPut, "/v1/admin/users/A/role", adminTok, map[string]any{"role": "user"})
	c.expect(resp, http.StatusForbidden)
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/admin/assignees", adminTok, map[string]any{"assignee_id": "X"})
	c.expect(resp, http.StatusCreated)
	link := decode[access.AssigneeLink](t, resp)
	if link.AssigneeID != "X" || link.AdminOwnerID != "A" {
		t.Fatalf("unexpected link: %+v", link)
	}

	xTok := c.token("ext-x")
	resp = c.do(http.MethodGet, "/v1/access/visible-owners", xTok, nil)
	c.expect(resp, http.StatusOK)
	owners := decode[visibleOwnersResponse](t, resp)
	if strings.Join(owners.OwnerIDs, ",") != "A,X" {
		t.Fatalf("assignee should see admin: %v", owners.OwnerIDs)
	}

	resp = c.do(http.MethodDelete, "/v1/admin/assignees", adminTok, map[string]any{"assignee_id": "X"})
	c.expect(resp, http.StatusNoContent)
	resp.Body.Close()

	resp = c.do(http.MethodPut, "/v1/admin/users/X/role", adminTok, map[string]any{"role": "admin"})
	c.expect(resp, http.StatusOK)
	profile := decode[access.UserProfile](t, resp)
	if profile.Role != access.RoleAdmin {
		t.Fatalf("unexpected role: %s", profile.Role)
	}
}

func TestAPIRecordsEnforceVisibility(t *testing.T) {
	c := newTestAPI(t)
	adminTok, userTok, xTok := c.token("ext-a"), c.token("ext-u"), c.token("ext-x")

	resp := c.do(http.MethodPost, "/v1/records/leads", userTok, map[string]any{"name": "Acme"})
	c.expect(resp, http.StatusCreated)
	lead := decode[rowlevel.Record](t, resp)
	if lead.OwnerUserID != "U" {
		t.Fatalf("unexpected owner: %s", lead.OwnerUserID)
	}

	resp = c.do(http.MethodPost, "/v1/records/leads", userTok, map[string]any{"name": "Spoof", "owner_user_id": "X"})
	c.expect(resp, http.StatusForbidden)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/records/leads", xTok, nil)
	c.expect(resp, http.StatusOK)
	if got := decode[recordsResponse](t, resp); len(got.Items) != 0 {
		t.Fatalf("X should not see U's leads: %+v", got.Items)
	}

	resp = c.do(http.MethodGet, "/v1/records/leads/"+lead.ID, xTok, nil)
	c.expect(resp, http.StatusNotFound)
	resp.Body.Close()

	resp = c.do(http.MethodDelete, "/v1/records/leads/"+lead.ID, xTok, nil)
	c.expect(resp, http.StatusNotFound)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/records/leads", adminTok, nil)
	c.expect(resp, http.StatusOK)
	if got := decode[recordsResponse](t, resp); len(got.Items) != 1 {
		t.Fatalf("admin should see every lead: %+v", got.Items)
	}

	resp = c.do(http.MethodPut, "/v1/records/leads/"+lead.ID, userTok, map[string]any{"name": "Acme Corp"})
	c.expect(resp, http.StatusOK)
	if got := decode[rowlevel.Record](t, resp); got.Name != "Acme Corp" {
		t.Fatalf("unexpected name: %s", got.Name)
	}

	resp = c.do(http.MethodGet, "/v1/records/invoices", userTok, nil)
	c.expect(resp, http.StatusNotFound)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/records/leads?limit=-1", userTok, nil)
	c.expect(resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestAPIEventStream(t *testing.T) {
	c := newTestAPI(t)
	userTok, adminTok := c.token("ext-u"), c.token("ext-a")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/access/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+userTok)
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type: %s", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, ": stream started") {
		t.Fatalf("unexpected preamble %q: %v", line, err)
	}

	send := c.do(http.MethodPost, "/v1/access/requests", adminTok, map[string]any{"receiver_id": "U"})
	c.expect(send, http.StatusCreated)
	send.Body.Close()

	for {
		line, err = reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "event: ") {
			if got := strings.TrimSpace(strings.TrimPrefix(line, "event: ")); got != string(access.EventRequestCreated) {
				t.Fatalf("unexpected event: %s", got)
			}
			return
		}
	}
}

func TestAPIHealthAndErrors(t *testing.T) {
	c := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := c.do(http.MethodGet, path, "", nil)
		c.expect(resp, http.StatusOK)
		resp.Body.Close()
	}

	resp := c.do(http.MethodGet, "/nope", "", nil)
	c.expect(resp, http.StatusNotFound)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("expected JSON 404, got %s", ct)
	}
	resp.Body.Close()

	resp = c.do(http.MethodDelete, "/healthz", "", nil)
	c.expect(resp, http.StatusMethodNotAllowed)
	resp.Body.Close()
}

type failingProbe struct{}

func (failingProbe) Check(context.Context) error { return context.DeadlineExceeded }

func TestReadyReportsProbeFailure(t *testing.T) {
	svc, err := access.NewService(access.NewMemoryStore())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	tokens, _ := auth.NewTokens(testSecret)
	api, err := New(Config{Service: svc, Tokens: tokens, Ready: failingProbe{}})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
