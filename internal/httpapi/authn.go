package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"salesgrid.io/internal/access"
	"salesgrid.io/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth verifies the bearer token, syncs its subject into the directory and
// attaches the resulting viewer. Roles come from the directory, never the token.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.tokens.Verify(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		profile, err := a.svc.EnsureProfile(r.Context(), claims.Subject, claims.Email)
		if err != nil {
			if errors.Is(err, access.ErrUnauthenticated) {
				writeError(w, r, http.StatusUnauthorized, "account is not active")
				return
			}
			handleAccessError(w, r, err)
			return
		}

		ctx := auth.ContextWithViewer(r.Context(), auth.Viewer{
			UserID:     profile.ID,
			ExternalID: profile.ExternalID,
			Role:       string(profile.Role),
			Email:      profile.Email,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
