package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	dErrors "github.com/Cooperation-org/claim-lexicon/pkg/domain-errors"
	"github.com/Cooperation-org/claim-lexicon/pkg/platform/httputil"
)

// AdminTokenHeader carries the admin token. "Authorization: Bearer <token>"
// is accepted too.
const AdminTokenHeader = "X-Admin-Token"

// RequireAdminToken rejects requests that do not present expectedToken.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(AdminTokenHeader)
			if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); token == "" && ok {
				token = bearer
			}
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", GetRequestID(ctx),
					"path", r.URL.Path,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
