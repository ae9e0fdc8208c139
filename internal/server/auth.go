package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/fllgameday/refcalc/internal/tabulation"
)

type ctxKey int

const ctxKeyUser ctxKey = iota

var errNoSession = errors.New("no valid session")

func bearerToken(r *http.Request) string {
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found {
		return ""
	}
	return strings.TrimSpace(token)
}

func userFromRequest(r *http.Request, store Store, token string) (tabulation.Me, error) {
	if token == "" {
		return tabulation.Me{}, errNoSession
	}
	me, err := store.UserFromSession(r.Context(), token)
	if errors.Is(err, ErrNotFound) {
		return tabulation.Me{}, errNoSession
	}
	return me, err
}

// sessionMiddleware resolves the bearer session and rejects requests without one.
func sessionMiddleware(store Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			me, err := userFromRequest(r, store, bearerToken(r))
			if errors.Is(err, errNoSession) {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyUser, me)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func userFrom(r *http.Request) tabulation.Me {
	return r.Context().Value(ctxKeyUser).(tabulation.Me)
}
