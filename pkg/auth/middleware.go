package auth

import (
	"net"
	"net/http"
	"strings"

	"github.com/tacedge/tacgate/pkg/api"
	"github.com/tacedge/tacgate/pkg/audit"
	"github.com/tacedge/tacgate/pkg/metrics"
)

// publicPaths are endpoints that do not require authentication.
var publicPaths = []string{
	"/health",
	"/ready",
	"/metrics",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// NewMiddleware creates bearer-token auth middleware. Rejections are
// recorded as IA-family AUTH_FAILURE audit events; successful
// validations inject the Principal into the request context without an
// audit event (one per request would flood the log).
// If validator is nil, all non-public requests are rejected (fail closed).
func NewMiddleware(validator *Validator, log *audit.Log) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				denyUnauthenticated(w, r, log, "missing_header", "Missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				denyUnauthenticated(w, r, log, "bad_header", "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}
			tokenStr := parts[1]

			if validator == nil {
				denyUnauthenticated(w, r, log, "unconfigured", "Authentication not configured")
				return
			}

			claims, err := validator.Validate(tokenStr)
			if err != nil {
				reason := FailureReason(err)
				metrics.AuthFailures.WithLabelValues(reason).Inc()
				if log != nil {
					_, _ = log.Append("AUTH_FAILURE", audit.FamilyIdentification,
						audit.Actor{NodeID: "unknown", Role: "unknown", IPAddress: remoteIP(r)},
						audit.Action{
							Operation: "VALIDATE_TOKEN",
							Resource:  r.URL.Path,
							Outcome:   audit.OutcomeFailure,
							Reason:    reason,
						}, nil)
				}
				api.WriteInvalidToken(w, "Invalid or expired token")
				return
			}

			principal := NewPrincipal(claims, tokenStr)
			ctx := WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func denyUnauthenticated(w http.ResponseWriter, r *http.Request, log *audit.Log, reason, message string) {
	metrics.AuthFailures.WithLabelValues(reason).Inc()
	if log != nil {
		_, _ = log.Append("AUTH_FAILURE", audit.FamilyIdentification,
			audit.Actor{NodeID: "unknown", Role: "unknown", IPAddress: remoteIP(r)},
			audit.Action{
				Operation: "VALIDATE_TOKEN",
				Resource:  r.URL.Path,
				Outcome:   audit.OutcomeFailure,
				Reason:    reason,
			}, nil)
	}
	api.WriteUnauthorized(w, message)
}

// RequirePermission wraps a handler with an RBAC check. Denials are
// recorded as AC-family ACCESS_DENIED audit events.
func RequirePermission(perm string, log *audit.Log, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := GetPrincipal(r.Context())
		if err != nil {
			api.WriteUnauthorized(w, "")
			return
		}
		if !principal.HasPermission(perm) {
			if log != nil {
				_, _ = log.Append("ACCESS_DENIED", audit.FamilyAccessControl,
					audit.Actor{
						NodeID:    principal.ActorNode(),
						Role:      string(principal.Role),
						IPAddress: remoteIP(r),
					},
					audit.Action{
						Operation: "AUTHORIZE",
						Resource:  r.URL.Path,
						Outcome:   audit.OutcomeFailure,
						Reason:    "missing permission " + perm,
					}, nil)
			}
			api.WriteForbidden(w, "Missing required permission: "+perm)
			return
		}
		next(w, r)
	}
}

func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
