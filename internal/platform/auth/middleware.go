package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/animus-labs/animus-evals/internal/platform/httpserver"
	"github.com/animus-labs/animus-evals/internal/platform/requestid"
)

// Middleware authenticates every request outside SkipPrefixes and enforces
// the role Policy requires.
type Middleware struct {
	Logger        *slog.Logger
	Authenticator Authenticator
	Policy        Policy
	SkipPrefixes  []string
}

func (m Middleware) Wrap(next http.Handler) http.Handler {
	if m.Authenticator == nil {
		return next
	}
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range m.SkipPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		identity, err := m.Authenticator.Authenticate(r.Context(), r)
		if err != nil {
			code := "invalid_token"
			if errors.Is(err, ErrUnauthenticated) {
				code = "unauthorized"
			}
			deny(logger, r, http.StatusUnauthorized, code, err, "")
			httpserver.WriteError(w, r, http.StatusUnauthorized, code, "")
			return
		}
		if required := m.Policy.RequiredRole(r); !HasAtLeast(identity.Roles, required) {
			deny(logger, r, http.StatusForbidden, "forbidden", ErrForbidden, identity.Subject)
			httpserver.WriteError(w, r, http.StatusForbidden, "forbidden", "role "+required+" required")
			return
		}

		req := r.WithContext(ContextWithIdentity(r.Context(), identity))
		next.ServeHTTP(w, req)
		// Outer middleware labels metrics and spans with the matched route.
		r.Pattern = req.Pattern
	})
}

func deny(logger *slog.Logger, r *http.Request, status int, reason string, err error, subject string) {
	requestID, _ := requestid.FromContext(r.Context())
	logger.Warn("auth deny",
		"reason", reason,
		"status", status,
		"request_id", requestID,
		"method", r.Method,
		"path", r.URL.Path,
		"subject", subject,
		"error", err.Error(),
	)
}
