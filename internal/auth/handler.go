package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/slotline/slotline/internal/shared"
)

// Handler manages login and logout endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	sessions *shared.SessionManager
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager) *Handler {
	return &Handler{logger: logger, service: service, sessions: sessions}
}

// MountRoutes registers auth routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "malformed JSON"})
		return
	}
	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	sess.SetUser(strconv.FormatInt(user.ID, 10))

	// Audit record of the login, independent of the redis session lifetime.
	loginID := uuid.NewString()
	sess.Set("login_id", loginID)
	expiresAt := time.Now().Add(h.sessions.TTL())
	if err := h.service.RecordLogin(r.Context(), loginID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("record login", slog.Any("error", err))
	}

	h.respondJSON(w, http.StatusOK, map[string]any{"user_id": user.ID, "email": user.Email, "name": user.Name})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if loginID := sess.Get("login_id"); loginID != "" {
			if err := h.service.RemoveLogin(r.Context(), loginID); err != nil {
				h.logger.Warn("remove login", slog.Any("error", err))
			}
		}
		h.sessions.Destroy(sess)
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response", slog.Any("error", err))
	}
}
