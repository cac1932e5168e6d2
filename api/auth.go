package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned by a UserResolver for unknown tokens.
var ErrUnauthorized = errors.New("api: invalid access token")

// UserResolver maps an access token to a user ID.
type UserResolver interface {
	ResolveUser(ctx context.Context, token string) (string, error)
}

// StaticTokens resolves users from a fixed token -> user ID table.
type StaticTokens map[string]string

// ResolveUser implements UserResolver.
func (t StaticTokens) ResolveUser(_ context.Context, token string) (string, error) {
	if user, ok := t[token]; ok && token != "" {
		return user, nil
	}
	return "", ErrUnauthorized
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "the access token was not found")
			return
		}

		userID, err := h.users.ResolveUser(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "the access token provided is invalid")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("access_token")
}
