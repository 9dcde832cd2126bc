package middleware

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/permission"
)

// ResourceFunc extracts the authorization scope from a request.
type ResourceFunc func(*http.Request) authcore.ResourceContext

// ChiResource reads the server and channel IDs from chi URL parameters.
// An empty channelParam scopes checks to the whole server.
func ChiResource(serverParam, channelParam string) ResourceFunc {
	return func(r *http.Request) authcore.ResourceContext {
		rc := authcore.ResourceContext{ServerID: chi.URLParam(r, serverParam)}
		if channelParam != "" {
			rc.ChannelID = chi.URLParam(r, channelParam)
		}
		return rc
	}
}

// RequireCapability denies with 403 unless the caller holds every bit of
// required in the resource named by resource. It must run after Guard.
func RequireCapability(engine *authcore.Engine, required permission.Mask, resource ResourceFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := authcore.IdentityFromContext(r.Context())
			if !ok || engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			var rc authcore.ResourceContext
			if resource != nil {
				rc = resource(r)
			}

			if _, err := engine.AuthorizeIdentity(r.Context(), id, required, rc); err != nil {
				if errors.Is(err, authcore.ErrBackendUnavailable) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
