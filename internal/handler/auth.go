package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/starjar/internal/auth"
	"github.com/dukerupert/starjar/internal/identity"
	"github.com/dukerupert/starjar/internal/middleware"
	"github.com/dukerupert/starjar/internal/model"
)

type AuthHandler struct {
	identity     *identity.Service
	secureCookie bool
	logger       *slog.Logger
}

func NewAuthHandler(id *identity.Service, secureCookie bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{identity: id, secureCookie: secureCookie, logger: logger}
}

type credentials struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type identityError struct {
	Error   string        `json:"error"`
	Kind    identity.Kind `json:"kind"`
	Message string        `json:"message"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sess, err := h.identity.Register(req.Email, req.Secret)
	if err != nil {
		h.identityFailure(w, err)
		return
	}
	h.startSession(w, http.StatusCreated, sess)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sess, err := h.identity.Login(req.Email, req.Secret)
	if err != nil {
		h.identityFailure(w, err)
		return
	}
	h.startSession(w, http.StatusOK, sess)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.identity.Logout(auth.Token(r.Context())); err != nil {
		h.logger.Error("logout", "error", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

// Me returns the signed-in account.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.identity.User(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("load user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load account")
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *AuthHandler) startSession(w http.ResponseWriter, status int, sess *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, status, sessionResponse{Token: sess.Token, UserID: sess.UserID, ExpiresAt: sess.ExpiresAt})
}

func (h *AuthHandler) identityFailure(w http.ResponseWriter, err error) {
	kind := identity.KindOf(err)
	status := http.StatusBadRequest
	switch kind {
	case identity.KindBadCredentials:
		status = http.StatusUnauthorized
	case identity.KindDuplicateAccount:
		status = http.StatusConflict
	case identity.KindTryAgain:
		h.logger.Error("identity", "error", err)
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, identityError{Error: string(kind), Kind: kind, Message: identity.Message(kind)})
}
