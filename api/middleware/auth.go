package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/adpilot-hq/adpilot-backend/api/responses"
	"github.com/adpilot-hq/adpilot-backend/pkg/config"
	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
	"github.com/adpilot-hq/adpilot-backend/pkg/logger"
)

// OperatorAuth gates the operator surface behind the static bearer token.
// The API is internal tooling; there are no per-user accounts.
func OperatorAuth(cfg config.AuthConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(cfg.OperatorToken))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "operator token not configured"))
				return
			}

			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "missing credentials"))
				return
			}

			if subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "invalid credentials"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
