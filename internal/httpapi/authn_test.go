package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"salesgrid.io/internal/access"
	"salesgrid.io/internal/auth"
)

func newAuthAPI(t *testing.T) (*API, *auth.Tokens, *access.MemoryStore) {
	t.Helper()
	store := access.NewMemoryStore()
	svc, err := access.NewService(store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	tokens, err := auth.NewTokens(testSecret)
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	api, err := New(Config{Service: svc, Tokens: tokens})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	return api, tokens, store
}

func TestWithAuthAttachesDirectoryViewer(t *testing.T) {
	api, tokens, store := newAuthAPI(t)
	store.PutProfile(access.UserProfile{ID: "A", ExternalID: "idp|admin", Role: access.RoleAdmin})

	var got auth.Viewer
	handler := api.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.ViewerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tok, err := tokens.Issue("idp|admin", "admin@example.com", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/access/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.UserID != "A" || got.Role != string(access.RoleAdmin) || got.Email != "admin@example.com" {
		t.Fatalf("unexpected viewer: %+v", got)
	}
}

func TestWithAuthRejectsExpiredToken(t *testing.T) {
	api, _, _ := newAuthAPI(t)
	past, err := auth.NewTokens(testSecret, auth.WithClock(func() time.Time { return time.Now().Add(-time.Hour) }))
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	tok, err := past.Issue("idp|late", "", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	handler := api.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/access/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestWithAuthPassesPreflight(t *testing.T) {
	api, _, _ := newAuthAPI(t)
	handler := api.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/v1/access/me", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected preflight to pass, got %d", rr.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer   abc  ", "abc", true},
		{"", "", false},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if (err == nil) != tc.ok {
			t.Fatalf("%q: unexpected error state %v", tc.header, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %q want %q", tc.header, got, tc.want)
		}
	}
}
