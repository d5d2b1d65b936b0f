// ABOUTME: HTTP middleware for JWT authentication on the web chat
// ABOUTME: Accepts a token from the Authorization header, a cookie or a one-time query parameter

package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// CookieName is the cookie that carries the token between requests.
const CookieName = "chatbot_token"

// QueryParam lets a link carry the token once; it is moved into the cookie.
const QueryParam = "token"

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// tokenSource names where a request's token came from.
type tokenSource int

const (
	sourceNone tokenSource = iota
	sourceHeader
	sourceCookie
	sourceQuery
)

// extractToken looks for a token in the header, then the cookie, then the query.
func extractToken(r *http.Request) (string, tokenSource, string) {
	if h := r.Header.Get("Authorization"); h != "" {
		token, errMsg := extractBearerToken(h)
		return token, sourceHeader, errMsg
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value, sourceCookie, ""
	}
	if q := r.URL.Query().Get(QueryParam); q != "" {
		return q, sourceQuery, ""
	}
	return "", sourceNone, "missing token"
}

// HTTPAuthMiddleware creates an HTTP middleware that requires a valid JWT.
// The verified user name is added to the request context with WithUser.
// A token given as ?token= is stored in a cookie and, for GET requests, the
// browser is redirected to the same URL without it.
func HTTPAuthMiddleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, source, errMsg := extractToken(r)
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			name, err := verifier.Verify(token)
			if err != nil {
				logger.Debug("rejected token", "path", r.URL.Path, "error", err)
				if source == sourceCookie {
					clearCookie(w)
				}
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			if source == sourceQuery {
				setCookie(w, r, token)
				if r.Method == http.MethodGet {
					u := *r.URL
					q := u.Query()
					q.Del(QueryParam)
					u.RawQuery = q.Encode()
					http.Redirect(w, r, u.RequestURI(), http.StatusSeeOther)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), name)))
		})
	}
}

func setCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}
