package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mailfold/relay/internal/config"
	"github.com/mailfold/relay/internal/services/session"
	"github.com/mailfold/relay/pkg/httpext"
)

type contextKey string

const sessionClaimsKey contextKey = "sessionClaims"

// RequireSession validates the session token header and stores the resolved
// claims in the request context.
func RequireSession(sessionService *session.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := r.Header.Get(config.GetSessionHeaderName())
			if tokenString == "" {
				httpext.JsonError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := sessionService.Validate(tokenString)
			if err != nil {
				log.Debug().Err(err).Msg("Rejected request with invalid session token")
				httpext.JsonError(w, "Invalid session token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), sessionClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext returns the claims stored by RequireSession, if any.
func SessionFromContext(ctx context.Context) (*session.SessionClaims, bool) {
	claims, ok := ctx.Value(sessionClaimsKey).(*session.SessionClaims)
	return claims, ok
}
