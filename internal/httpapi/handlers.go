package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/permission"
)

const refreshCookieName = "refresh_token"

type registerRequest struct {
	Email         string `json:"email"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	TermsAccepted bool   `json:"terms_accepted"`
	RememberMe    bool   `json:"remember_me"`
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
	MFACode    string `json:"mfa_code"`
}

type authResponse struct {
	User   *authcore.PublicUser `json:"user,omitempty"`
	Tokens *authcore.TokenPair  `json:"tokens,omitempty"`
}

type twoFactorRequiredResponse struct {
	RequiresTwoFactor bool `json:"requires_2fa"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// HandleHealth handles GET /healthz
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		writeEngineError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleRegister handles POST /register
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.engine.Register(r.Context(), authcore.RegisterRequest{
		Email:         req.Email,
		Username:      req.Username,
		Password:      req.Password,
		TermsAccepted: req.TermsAccepted,
		RememberMe:    req.RememberMe,
	})
	if err != nil {
		writeEngineError(r.Context(), w, h.logger, err)
		return
	}

	h.setRefreshCookie(w, r, res.Tokens)
	writeJSON(w, http.StatusCreated, authResponse{User: &res.User, Tokens: res.Tokens})
}

// HandleLogin handles POST /login
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.engine.Login(r.Context(), authcore.LoginRequest{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		MFACode:    req.MFACode,
	})
	if err != nil {
		writeEngineError(r.Context(), w, h.logger, err)
		return
	}
	if res.RequiresTwoFactor {
		writeJSON(w, http.StatusOK, twoFactorRequiredResponse{RequiresTwoFactor: true})
		return
	}

	h.setRefreshCookie(w, r, res.Tokens)
	writeJSON(w, http.StatusOK, authResponse{User: &res.User, Tokens: res.Tokens})
}

// HandleRefresh handles POST /refresh. The token is read from the body,
// falling back to the refresh cookie.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		if c, err := r.Cookie(refreshCookieName); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		respondWithError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	pair, err := h.engine.Refresh(r.Context(), token)
	if err != nil {
		writeEngineError(r.Context(), w, h.logger, err)
		return
	}

	h.setRefreshCookie(w, r, pair)
	writeJSON(w, http.StatusOK, authResponse{Tokens: pair})
}

// HandleLogout handles POST /logout
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	id, _ := authcore.IdentityFromContext(r.Context())
	if err := h.engine.Logout(r.Context(), id); err != nil {
		writeEngineError(r.Context(), w, h.logger, err)
		return
	}
	h.clearRefreshCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// HandleHeartbeat handles POST /sessions/heartbeat
func (h *Handler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id, _ := authcore.IdentityFromContext(r.Context())
	if err := h.engine.Heartbeat(r.Context(), id.SessionID); err != nil {
		writeEngineError(r.Context(), w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLogoutAll handles POST /logout-all
func (h *Handler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	id, _ := authcore.IdentityFromContext(r.Context())
	n, err := h.engine.LogoutAll(r.Context(), id)
	if err != nil {
		writeEngineError(r.Context(), w, h.logger, err)
		return
	}
	h.clearRefreshCookie(w, r)
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

// HandleListSessions handles GET /sessions
func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	id, _ := authcore.IdentityFromContext(r.Context())
	sessions, err := h.engine.ListSessions(r.Context(), id)
	if err != nil {
		writeEngineError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// HandleRevokeSession handles DELETE /sessions/{sessionID}
func (h *Handler) HandleRevokeSession(w http.ResponseWriter, r *http.Request) {
	id, _ := authcore.IdentityFromContext(r.Context())
	if err := h.engine.RevokeSession(r.Context(), id, chi.URLParam(r, "sessionID")); err != nil {
		writeEngineError(r.Context(), w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleTwoFactorSetup handles POST /2fa/setup
func (h *Handler) HandleTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	id, _ := authcore.IdentityFromContext(r.Context())
	setup, err := h.engine.BeginTwoFactorSetup(r.Context(), id.UserID)
	if err != nil {
		writeEngineError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

// HandleTwoFactorVerifySetup handles POST /2fa/verify-setup
func (h *Handler) HandleTwoFactorVerifySetup(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, _ := authcore.IdentityFromContext(r.Context())
	if err := h.engine.ConfirmTwoFactorSetup(r.Context(), id.UserID, req.Code); err != nil {
		writeEngineError(r.Context(), w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleTwoFactorDisable handles POST /2fa/disable
func (h *Handler) HandleTwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, _ := authcore.IdentityFromContext(r.Context())
	if err := h.engine.DisableTwoFactor(r.Context(), id.UserID, req.Password); err != nil {
		writeEngineError(r.Context(), w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleChangePassword handles POST /change-password
func (h *Handler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, _ := authcore.IdentityFromContext(r.Context())
	if err := h.engine.ChangePassword(r.Context(), id.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		writeEngineError(r.Context(), w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleForgotPassword handles POST /forgot-password. The response is the
// same whether or not the address is registered.
func (h *Handler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.engine.ForgotPassword(r.Context(), req.Email); err != nil {
		writeEngineError(r.Context(), w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleResetPassword handles POST /reset-password
func (h *Handler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.engine.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeEngineError(r.Context(), w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAuthorize handles GET /authorize?capability=a,b&server_id=&channel_id=
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var required permission.Mask
	if raw := strings.TrimSpace(q.Get("capability")); raw != "" {
		names := strings.Split(raw, ",")
		for i := range names {
			names[i] = strings.TrimSpace(names[i])
		}
		m, err := h.engine.Registry().Mask(names...)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "unknown_capability")
			return
		}
		required = m
	}

	id, _ := authcore.IdentityFromContext(r.Context())
	rc := authcore.ResourceContext{ServerID: q.Get("server_id"), ChannelID: q.Get("channel_id")}
	if _, err := h.engine.AuthorizeIdentity(r.Context(), id, required, rc); err != nil {
		writeEngineError(r.Context(), w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, r *http.Request, pair *authcore.TokenPair) {
	if !h.refreshCookie || pair == nil {
		return
	}
	maxAge := int(time.Until(pair.RefreshExpiresAt).Seconds())
	if maxAge <= 0 {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.RefreshToken,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter, r *http.Request) {
	if !h.refreshCookie {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}
