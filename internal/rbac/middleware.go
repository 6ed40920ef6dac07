package rbac

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/slotline/slotline/internal/shared"
)

// Middleware wires authorization guards for HTTP handlers. Each guard
// makes a single resolver call and short-circuits with a denial response.
// A resolver error is treated as deny.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
}

// RequirePermission ensures the current user holds the permission
// platform-wide.
func (m Middleware) RequirePermission(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := m.CurrentUserID(r)
			if !ok {
				deny(w)
				return
			}
			allowed, err := m.Resolver.HasPermission(r.Context(), userID, resource, action)
			if err != nil {
				m.logError("require permission", err)
				deny(w)
				return
			}
			if !allowed {
				deny(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireContextPermission ensures the current user holds the permission
// within the entity identified by the URL parameter.
func (m Middleware) RequireContextPermission(scopeType ScopeType, urlParam, resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := m.CurrentUserID(r)
			if !ok {
				deny(w)
				return
			}
			scopeID, err := strconv.ParseInt(chi.URLParam(r, urlParam), 10, 64)
			if err != nil {
				deny(w)
				return
			}
			allowed, err := m.Resolver.HasContextPermission(r.Context(), userID, scopeType, scopeID, resource, action)
			if err != nil {
				m.logError("require context permission", err)
				deny(w)
				return
			}
			if !allowed {
				deny(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRoleClass ensures the current user holds a role of any given class.
func (m Middleware) RequireRoleClass(classes ...RoleClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := m.CurrentUserID(r)
			if !ok {
				deny(w)
				return
			}
			allowed, err := m.Resolver.HasRoleClass(r.Context(), userID, classes...)
			if err != nil {
				m.logError("require role class", err)
				deny(w)
				return
			}
			if !allowed {
				deny(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CurrentUserID extracts the authenticated principal from the session.
func (m Middleware) CurrentUserID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		m.logError("parse session user id", err)
		return 0, false
	}
	return id, true
}

func (m Middleware) logError(msg string, err error) {
	if m.Logger != nil {
		m.Logger.Error(msg, slog.Any("error", err))
	}
}

func deny(w http.ResponseWriter) {
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}
