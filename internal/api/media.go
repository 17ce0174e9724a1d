package api

import (
	"errors"
	"net/http"
	"strings"

	"loopcast/internal/storage"
)

// Media lists the caller's library; admins may pass ?all=1 to see every
// user's files.
func (h *Handler) Media(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	ownerID := user.ID
	if user.IsAdmin() && r.URL.Query().Get("all") == "1" {
		ownerID = ""
	}
	files, err := h.Store.ListMediaFiles(r.Context(), ownerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// MediaByID routes /api/media/{id} and /api/media/{id}/lock.
func (h *Handler) MediaByID(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/media/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, errors.New("media id is required"))
		return
	}
	mediaID := parts[0]

	media, err := h.Store.GetMediaFile(r.Context(), mediaID)
	if err != nil {
		writeError(w, http.StatusNotFound, errors.New("media file not found"))
		return
	}
	if media.OwnerID != user.ID && !user.IsAdmin() {
		writeError(w, http.StatusForbidden, errors.New("not your file"))
		return
	}

	if len(parts) == 2 && parts[1] == "lock" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, "POST")
			return
		}
		updated, err := h.Store.SetMediaLocked(r.Context(), mediaID, !media.Locked)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, media)
	case http.MethodDelete:
		if err := h.Store.DeleteMediaFile(r.Context(), mediaID); err != nil {
			if errors.Is(err, storage.ErrLocked) {
				writeError(w, http.StatusConflict, errors.New("file is locked; unlock it first"))
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, "GET, DELETE")
	}
}
