package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"plazaviva.org/internal/auth"
	"plazaviva.org/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth resolves the bearer token into a user and stores it on the
// request context. Unlike the websocket handshake there is no demo fallback
// here: the REST surface requires a real account.
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

		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		if a.users == nil {
			writeError(w, r, http.StatusServiceUnavailable, "persistence is disabled")
			return
		}
		user, err := a.users.FindUser(r.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				writeError(w, r, http.StatusUnauthorized, "unknown user")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		if !user.IsActive {
			writeError(w, r, http.StatusForbidden, "account is deactivated")
			return
		}

		ctx := auth.ContextWithUser(r.Context(), *user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// mustUser fetches the authenticated user; withAuth guarantees it is set.
func mustUser(w http.ResponseWriter, r *http.Request) (identity.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return identity.User{}, false
	}
	return user, true
}

func requireRole(w http.ResponseWriter, r *http.Request, role identity.Role) (identity.User, bool) {
	user, ok := mustUser(w, r)
	if !ok {
		return identity.User{}, false
	}
	if user.Role != role {
		writeError(w, r, http.StatusForbidden, "insufficient role")
		return identity.User{}, false
	}
	return user, true
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
