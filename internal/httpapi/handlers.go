package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"time"

	"github.com/gorilla/mux"

	"salesgrid.io/internal/access"
	"salesgrid.io/internal/audit"
	"salesgrid.io/internal/auth"
	"salesgrid.io/internal/obs"
	"salesgrid.io/internal/rowlevel"
	"salesgrid.io/internal/stream"
)

const (
	serviceName     = "salesgrid-access"
	maxRequestBytes = 1 << 20
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config wires the API to its collaborators. Records and Stream are optional.
type Config struct {
	Service     *access.Service
	Records     *rowlevel.Records
	Tokens      *auth.Tokens
	Stream      *stream.Stream
	Ready       readinessChecker
	Limiter     Limiter
	CORSOrigins []string
	// TrustedProxies may set X-Forwarded-For; CIDRs or addresses.
	TrustedProxies []string
	Version        string
}

// API is the HTTP layer.
type API struct {
	router  *mux.Router
	svc     *access.Service
	records *rowlevel.Records
	tokens  *auth.Tokens
	stream  *stream.Stream
	ready   readinessChecker
	limiter Limiter
	origins []string
	proxies []netip.Prefix
	version string
}

func New(cfg Config) (*API, error) {
	if cfg.Service == nil {
		return nil, errors.New("access service is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token verifier is required")
	}
	if cfg.Ready == nil {
		cfg.Ready = ReadyProbe{}
	}
	proxies, err := ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	a := &API{
		router:  mux.NewRouter(),
		svc:     cfg.Service,
		records: cfg.Records,
		tokens:  cfg.Tokens,
		stream:  cfg.Stream,
		ready:   cfg.Ready,
		limiter: cfg.Limiter,
		origins: cfg.CORSOrigins,
		proxies: proxies,
		version: cfg.Version,
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	r := a.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.HandleFunc("/v1/info", a.Info).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	acc := r.PathPrefix("/v1/access").Subrouter()
	acc.Use(a.withAuth)
	acc.HandleFunc("/me", a.handleMe).Methods(http.MethodGet)
	acc.HandleFunc("/visible-owners", a.handleVisibleOwners).Methods(http.MethodGet)
	acc.HandleFunc("/users", a.handleAvailableUsers).Methods(http.MethodGet)
	acc.HandleFunc("/requests", a.handleSendRequest).Methods(http.MethodPost)
	acc.HandleFunc("/requests/pending", a.handlePendingRequests).Methods(http.MethodGet)
	acc.HandleFunc("/requests/sent", a.handleSentRequests).Methods(http.MethodGet)
	acc.HandleFunc("/requests/status", a.handleUpdateRequestStatus).Methods(http.MethodPost)
	acc.HandleFunc("/requests/{id}/status", a.handleUpdateRequestStatus).Methods(http.MethodPost)
	acc.HandleFunc("/revoke", a.handleRevoke).Methods(http.MethodPost)
	acc.HandleFunc("/permissions", a.handleUsersWithPermissions).Methods(http.MethodGet)
	acc.HandleFunc("/permissions", a.handleUpdatePermission).Methods(http.MethodPut)
	acc.HandleFunc("/events", a.Stream).Methods(http.MethodGet)

	admin := r.PathPrefix("/v1/admin").Subrouter()
	admin.Use(a.withAuth)
	admin.HandleFunc("/users/{id}/role", a.handleSetRole).Methods(http.MethodPut)
	admin.HandleFunc("/assignees", a.handleLinkAssignee).Methods(http.MethodPost)
	admin.HandleFunc("/assignees", a.handleUnlinkAssignee).Methods(http.MethodDelete)

	if a.records != nil {
		rec := r.PathPrefix("/v1/records/{kind}").Subrouter()
		rec.Use(a.withAuth)
		rec.HandleFunc("", a.handleListRecords).Methods(http.MethodGet)
		rec.HandleFunc("", a.handleCreateRecord).Methods(http.MethodPost)
		rec.HandleFunc("/{id}", a.handleGetRecord).Methods(http.MethodGet)
		rec.HandleFunc("/{id}", a.handleUpdateRecord).Methods(http.MethodPut)
		rec.HandleFunc("/{id}", a.handleDeleteRecord).Methods(http.MethodDelete)
	}
}

// Handler returns the router wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, maxRequestBytes)
	h = RateLimit(h, a.limiter)
	h = CORS(a.origins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RealIP(a.proxies)(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleAccessError maps domain errors to status codes. Unclassified errors
// are logged and hidden from the client.
func handleAccessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, access.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, access.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, access.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		entry := obs.Logger().WithError(err).WithField("request_id", audit.RequestIDFromContext(r.Context()))
		if uid, ok := auth.UserIDFromContext(r.Context()); ok {
			entry = entry.WithField("user_id", uid)
		}
		entry.Error("access operation failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		obs.Logger().WithError(err).Warn("audit log failed")
	}
}

// viewerID is only called behind withAuth.
func viewerID(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}
