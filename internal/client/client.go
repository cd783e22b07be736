// Package client is a typed HTTP client for the access API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"salesgrid.io/internal/access"
)

// Client calls the access API as the bearer of token.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	token   string
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken sets the bearer token sent with every call.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must include scheme and host", baseURL)
	}
	c := &Client{baseURL: u, http: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// As returns a copy of c authenticated with token.
func (c *Client) As(token string) *Client {
	cp := *c
	cp.token = strings.TrimSpace(token)
	return &cp
}

// APIError is a non-2xx response. It unwraps to the matching access sentinel.
type APIError struct {
	Status    int
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("access api: %d %s (request %s)", e.Status, e.Message, e.RequestID)
	}
	return fmt.Sprintf("access api: %d %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return mapStatus(e.Status)
}

func mapStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return access.ErrInvalidInput
	case http.StatusUnauthorized:
		return access.ErrUnauthenticated
	case http.StatusForbidden:
		return access.ErrForbidden
	case http.StatusNotFound:
		return access.ErrNotFound
	case http.StatusConflict:
		return access.ErrConflict
	}
	return nil
}

// Profile is the caller's directory entry.
type Profile struct {
	Profile access.UserProfile `json:"profile"`
	IsAdmin bool               `json:"is_admin"`
}

// Outcome is the result of a status change or revocation.
type Outcome struct {
	Request access.AccessRequest `json:"request"`
	Grant   *access.AccessGrant  `json:"grant,omitempty"`
}

type items[T any] struct {
	Items []T `json:"items"`
}

func (c *Client) Me(ctx context.Context) (Profile, error) {
	var out Profile
	err := c.do(ctx, http.MethodGet, "/v1/access/me", nil, &out)
	return out, err
}

// VisibleOwners returns the caller's accessible owner ids, sorted.
func (c *Client) VisibleOwners(ctx context.Context) ([]string, error) {
	var out struct {
		OwnerIDs []string `json:"owner_ids"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/access/visible-owners", nil, &out)
	return out.OwnerIDs, err
}

func (c *Client) AvailableUsers(ctx context.Context) ([]access.UserProfile, error) {
	var out items[access.UserProfile]
	err := c.do(ctx, http.MethodGet, "/v1/access/users", nil, &out)
	return out.Items, err
}

// SendRequest asks receiver (an id or an email) for access.
func (c *Client) SendRequest(ctx context.Context, receiver string) (access.AccessRequest, error) {
	var out access.AccessRequest
	err := c.do(ctx, http.MethodPost, "/v1/access/requests", map[string]string{"receiver_id": receiver}, &out)
	return out, err
}

func (c *Client) PendingRequests(ctx context.Context) ([]access.AccessRequest, error) {
	var out items[access.AccessRequest]
	err := c.do(ctx, http.MethodGet, "/v1/access/requests/pending", nil, &out)
	return out.Items, err
}

func (c *Client) SentRequests(ctx context.Context) ([]access.AccessRequest, error) {
	var out items[access.AccessRequest]
	err := c.do(ctx, http.MethodGet, "/v1/access/requests/sent", nil, &out)
	return out.Items, err
}

// Respond accepts or rejects a pending request addressed to the caller.
func (c *Client) Respond(ctx context.Context, requestID string, decision access.Decision) (Outcome, error) {
	var out Outcome
	path := "/v1/access/requests/" + url.PathEscape(requestID) + "/status"
	err := c.do(ctx, http.MethodPost, path, map[string]string{"new_status": string(decision)}, &out)
	return out, err
}

func (c *Client) Revoke(ctx context.Context, requestID string) (Outcome, error) {
	var out Outcome
	err := c.do(ctx, http.MethodPost, "/v1/access/revoke", map[string]string{"request_id": requestID}, &out)
	return out, err
}

func (c *Client) UsersWithPermissions(ctx context.Context) ([]access.GranteeView, error) {
	var out items[access.GranteeView]
	err := c.do(ctx, http.MethodGet, "/v1/access/permissions", nil, &out)
	return out.Items, err
}

func (c *Client) UpdatePermission(ctx context.Context, targetID string, enabled bool) (access.UserPermission, error) {
	var out access.UserPermission
	body := map[string]any{"target_user_id": targetID, "can_view_other_users_data": enabled}
	err := c.do(ctx, http.MethodPut, "/v1/access/permissions", body, &out)
	return out, err
}

// SetRole changes a user's role. Admin only.
func (c *Client) SetRole(ctx context.Context, userID string, role access.Role) (access.UserProfile, error) {
	var out access.UserProfile
	path := "/v1/admin/users/" + url.PathEscape(userID) + "/role"
	err := c.do(ctx, http.MethodPut, path, map[string]string{"role": string(role)}, &out)
	return out, err
}

// LinkAssignee delegates adminOwnerID's records to assigneeID. A blank owner
// means the caller.
func (c *Client) LinkAssignee(ctx context.Context, assigneeID, adminOwnerID string) (access.AssigneeLink, error) {
	var out access.AssigneeLink
	body := map[string]string{"assignee_id": assigneeID, "admin_owner_id": adminOwnerID}
	err := c.do(ctx, http.MethodPost, "/v1/admin/assignees", body, &out)
	return out, err
}

func (c *Client) UnlinkAssignee(ctx context.Context, assigneeID, adminOwnerID string) error {
	body := map[string]string{"assignee_id": assigneeID, "admin_owner_id": adminOwnerID}
	return c.do(ctx, http.MethodDelete, "/v1/admin/assignees", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	u := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, RequestID: resp.Header.Get("X-Request-ID")}
		var payload struct {
			Error     string `json:"error"`
			RequestID string `json:"request_id"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload); err == nil {
			apiErr.Message = payload.Error
			if payload.RequestID != "" {
				apiErr.RequestID = payload.RequestID
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// WithTimeout returns a context with a default timeout useful for CLI tools.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(parent, d)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == code
}
