package middleware

import (
	"net/http"

	"moyasar-gateway/internal/auth"
	"moyasar-gateway/internal/logger"

	"go.uber.org/zap"
)

// ServiceAuth admits requests carrying a valid HS256 service token with
// the given scope.
func ServiceAuth(secret, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := auth.ParseServiceToken(auth.ExtractAccessToken(r), secret)
			if err != nil {
				writeJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !claims.HasScope(scope) {
				logger.FromCtx(r.Context()).Warn("service token lacks scope",
					zap.String("subject", claims.Subject),
					zap.String("scope", scope),
				)
				writeJSONError(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}
