// Package httpapi exposes the engine over JSON/HTTP for the server command.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/MrEthical07/authcore/middleware"
)

// Options tunes the router. The zero value serves JSON tokens only and
// leaves /metrics unmounted.
type Options struct {
	Logger logging.Logger
	// Metrics is mounted at GET /metrics when non-nil.
	Metrics http.Handler
	// RefreshCookie mirrors the refresh token into an HttpOnly cookie.
	RefreshCookie bool
}

// Handler holds the endpoints backed by one engine.
type Handler struct {
	engine        *authcore.Engine
	logger        logging.Logger
	refreshCookie bool
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(engine *authcore.Engine, opts Options) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop{}
	}
	h := &Handler{engine: engine, logger: logger, refreshCookie: opts.RefreshCookie}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.ClientContext)

	r.Get("/healthz", h.HandleHealth)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Post("/register", h.HandleRegister)
	r.Post("/login", h.HandleLogin)
	r.Post("/refresh", h.HandleRefresh)
	r.Post("/forgot-password", h.HandleForgotPassword)
	r.Post("/reset-password", h.HandleResetPassword)

	// Protected routes (require a valid access token)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Guard(engine))

		r.Post("/logout", h.HandleLogout)
		r.Post("/logout-all", h.HandleLogoutAll)
		r.Get("/sessions", h.HandleListSessions)
		r.Post("/sessions/heartbeat", h.HandleHeartbeat)
		r.Delete("/sessions/{sessionID}", h.HandleRevokeSession)

		r.Post("/2fa/setup", h.HandleTwoFactorSetup)
		r.Post("/2fa/verify-setup", h.HandleTwoFactorVerifySetup)
		r.Post("/2fa/disable", h.HandleTwoFactorDisable)

		r.Post("/change-password", h.HandleChangePassword)
		r.Get("/authorize", h.HandleAuthorize)
	})

	return r
}

func requestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info(r.Context(), "http request",
					"request_id", chimw.GetReqID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
