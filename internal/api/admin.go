package api

import (
	"errors"
	"net/http"
	"strings"

	"loopcast/internal/models"
	"loopcast/internal/storage"
)

// AdminUsers lists every account: GET /api/admin/users.
func (h *Handler) AdminUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, newUserResponse(u))
	}
	writeJSON(w, http.StatusOK, out)
}

type adminUserUpdateRequest struct {
	PlanID *string `json:"planId"`
	Role   *string `json:"role"`
}

// AdminUserByID updates or deletes an account:
// PATCH/DELETE /api/admin/users/{id}.
func (h *Handler) AdminUserByID(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/admin/users/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("user id is required"))
		return
	}
	switch r.Method {
	case http.MethodPatch:
		var req adminUserUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.Role != nil && admin.ID == id {
			writeError(w, http.StatusBadRequest, errors.New("cannot change your own role"))
			return
		}
		updated, err := h.Store.UpdateUser(r.Context(), id, storage.UserUpdate{
			PlanID: req.PlanID,
			Role:   req.Role,
		})
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, storage.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, newUserResponse(updated))
	case http.MethodDelete:
		if admin.ID == id {
			writeError(w, http.StatusBadRequest, errors.New("cannot delete your own account"))
			return
		}
		if err := h.Store.DeleteUser(r.Context(), id); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, storage.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeError(w, status, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, "PATCH, DELETE")
	}
}

// AdminPlans upserts a plan: PUT /api/admin/plans.
func (h *Handler) AdminPlans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, "PUT")
		return
	}
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	var plan models.Plan
	if err := decodeJSON(r, &plan); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if plan.LimitType != models.LimitTypeDaily && plan.LimitType != models.LimitTypeTotal {
		writeError(w, http.StatusBadRequest, errors.New("limit type must be daily or total"))
		return
	}
	saved, err := h.Store.UpsertPlan(r.Context(), plan)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// AdminStreams lists every live broadcast: GET /api/admin/streams.
func (h *Handler) AdminStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.Engine.ListActive(""))
}
