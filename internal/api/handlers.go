// Package api exposes the HTTP surface: auth, media, plans, users, stream
// control, settings, and the SSE event relay.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"loopcast/internal/auth"
	"loopcast/internal/engine"
	"loopcast/internal/events"
	"loopcast/internal/models"
	"loopcast/internal/storage"
)

const sessionCookieName = "loopcast_session"

// StreamEngine is the slice of the engine the handlers drive.
type StreamEngine interface {
	Start(ctx context.Context, req engine.StartRequest) (string, error)
	Stop(sessionID string) bool
	ListActive(ownerID string) []models.StreamInfo
	CountActive(ownerID string) int
}

type Handler struct {
	Store    storage.Repository
	Sessions *auth.SessionManager
	Engine   StreamEngine
	Events   events.Queue
	Logger   *slog.Logger
}

func NewHandler(store storage.Repository, sessions *auth.SessionManager, eng StreamEngine, queue events.Queue, logger *slog.Logger) *Handler {
	if sessions == nil {
		sessions = auth.NewSessionManager(24 * time.Hour)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Store: store, Sessions: sessions, Engine: eng, Events: queue, Logger: logger}
}

// ExtractToken pulls the session token from the Authorization header or the
// session cookie.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func (h *Handler) currentUser(r *http.Request) (models.User, error) {
	token := ExtractToken(r)
	if token == "" {
		return models.User{}, errors.New("missing session token")
	}
	userID, ok, err := h.Sessions.Validate(token)
	if err != nil {
		return models.User{}, err
	}
	if !ok {
		return models.User{}, errors.New("invalid or expired session")
	}
	user, err := h.Store.GetUser(r.Context(), userID)
	if err != nil {
		return models.User{}, errors.New("account not found")
	}
	return user, nil
}

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, err := h.currentUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return models.User{}, false
	}
	return user, true
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return models.User{}, false
	}
	if !user.IsAdmin() {
		writeError(w, http.StatusForbidden, errors.New("admin access required"))
		return models.User{}, false
	}
	return user, true
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, token string, expires time.Time) {
	maxAge := int(time.Until(expires).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteStrictMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteStrictMode,
	})
}

func isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		for _, p := range strings.Split(proto, ",") {
			if strings.EqualFold(strings.TrimSpace(p), "https") {
				return true
			}
		}
	}
	return false
}

// Health reports liveness plus datastore reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.Store.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

type userResponse struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	PlanID       string `json:"planId"`
	StorageUsed  int64  `json:"storageUsed"`
	UsageSeconds int64  `json:"usageSeconds"`
}

func newUserResponse(u models.User) userResponse {
	return userResponse{
		ID:           u.ID,
		Username:     u.Username,
		Role:         u.Role,
		PlanID:       u.PlanID,
		StorageUsed:  u.StorageUsed,
		UsageSeconds: u.UsageSeconds,
	}
}

type signupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := h.Store.CreateUser(r.Context(), storage.CreateUserParams{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, storage.ErrConflict) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	token, expiresAt, err := h.Sessions.Create(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	setSessionCookie(w, r, token, expiresAt)
	writeJSON(w, http.StatusCreated, newUserResponse(user))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := h.Store.AuthenticateUser(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, errors.New("invalid credentials"))
		return
	}
	token, expiresAt, err := h.Sessions.Create(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	setSessionCookie(w, r, token, expiresAt)
	writeJSON(w, http.StatusOK, newUserResponse(user))
}

// Session reports the logged-in user (GET) or logs out (DELETE).
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		user, ok := h.requireUser(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, newUserResponse(user))
	case http.MethodDelete:
		if token := ExtractToken(r); token != "" {
			if err := h.Sessions.Destroy(token); err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
		}
		clearSessionCookie(w, r)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, "GET, DELETE")
	}
}

type profileUpdateRequest struct {
	Password string `json:"password"`
}

// Profile lets the authenticated user change their password.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, "PATCH")
		return
	}
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req profileUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, errors.New("password must be at least 6 characters"))
		return
	}
	updated, err := h.Store.UpdateUser(r.Context(), user.ID, storage.UserUpdate{Password: &req.Password})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(updated))
}

// Plans lists the public plan catalogue.
func (h *Handler) Plans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	plans, err := h.Store.ListPlans(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

// Settings serves the public settings map (GET) and admin updates (PUT).
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := h.Store.ListSettings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		var req map[string]string
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		for key, value := range req {
			if err := h.Store.SetSetting(r.Context(), key, value); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	default:
		methodNotAllowed(w, r, "GET, PUT")
	}
}
