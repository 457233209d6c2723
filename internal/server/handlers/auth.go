package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/bunbase/bunbase/internal/apierr"
	"github.com/bunbase/bunbase/internal/auth"
)

// BruteForceProtector throttles repeated failed logins per key (typically
// email+remote-addr). Implemented by server.BruteForceProtector.
type BruteForceProtector interface {
	IsBlocked(key string) bool
	RecordFailedAttempt(key string)
	ClearAttempts(key string)
}

// AuthHandlers covers three admin auth routes. The teacher's
// OAuth, registration, refresh and logout surface has no equivalent here:
// bunbase issues one long-lived admin token per login and has no user
// self-registration flow.
type AuthHandlers struct {
	service *auth.Service
	bfp     BruteForceProtector
	devMode bool
}

func NewAuthHandlers(service *auth.Service, bfp BruteForceProtector, devMode bool) *AuthHandlers {
	return &AuthHandlers{service: service, bfp: bfp, devMode: devMode}
}

func (h *AuthHandlers) Service() *auth.Service {
	return h.service
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string    `json:"token"`
	Admin adminView `json:"admin"`
}

type adminView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Login authenticates an admin and issues a bearer token.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, apierr.Validation("invalid JSON body"), h.devMode)
		return
	}

	key := req.Email + "|" + extractClientIP(r)
	if h.bfp != nil && h.bfp.IsBlocked(key) {
		WriteError(w, r, apierr.Unauthorized("too many failed login attempts, try again later"), h.devMode)
		return
	}

	principal, token, err := h.service.LoginAdmin(r.Context(), req.Email, req.Password)
	if err != nil {
		if h.bfp != nil {
			h.bfp.RecordFailedAttempt(key)
		}
		WriteError(w, r, apierr.Unauthorized("invalid email or password"), h.devMode)
		return
	}
	if h.bfp != nil {
		h.bfp.ClearAttempts(key)
	}

	JSON(w, http.StatusOK, loginResponse{
		Token: token,
		Admin: adminView{ID: principal.ID, Email: req.Email},
	})
}

// Me returns the requesting admin's principal.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	principal, err := h.service.RequireAdmin(r)
	if err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}
	JSON(w, http.StatusOK, adminView{ID: principal.ID})
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// ChangePassword rotates the requesting admin's password.
func (h *AuthHandlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, err := h.service.RequireAdmin(r)
	if err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, apierr.Validation("invalid JSON body"), h.devMode)
		return
	}

	if err := h.service.ChangePassword(r.Context(), principal.ID, req.OldPassword, req.NewPassword); err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}

	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func extractClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
