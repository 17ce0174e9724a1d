package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"loopcast/internal/engine"
	"loopcast/internal/models"
)

type startStreamRequest struct {
	Name      string   `json:"name"`
	MediaIDs  []string `json:"mediaIds"`
	RTMPURL   string   `json:"rtmpUrl"`
	StreamKey string   `json:"streamKey"`
	Loop      bool     `json:"loop"`
	CoverID   string   `json:"coverId"`
}

type streamStatusResponse struct {
	Active       bool                `json:"active"`
	Streams      []models.StreamInfo `json:"streams"`
	UsageSeconds int64               `json:"usageSeconds"`
	LimitSeconds int64               `json:"limitSeconds"`
}

// Streams starts a broadcast (POST) or reports the caller's live status
// (GET).
func (h *Handler) Streams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.startStream(w, r)
	case http.MethodGet:
		h.streamStatus(w, r)
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

func (h *Handler) streamStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	synced, plan, err := h.Store.SyncUsage(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	streams := h.Engine.ListActive(user.ID)
	writeJSON(w, http.StatusOK, streamStatusResponse{
		Active:       len(streams) > 0,
		Streams:      streams,
		UsageSeconds: synced.UsageSeconds,
		LimitSeconds: plan.LimitSeconds(),
	})
}

func (h *Handler) startStream(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req startStreamRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.MediaIDs) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("select at least one media file"))
		return
	}
	destination := strings.TrimRight(strings.TrimSpace(req.RTMPURL), "/")
	if key := strings.TrimSpace(req.StreamKey); key != "" {
		destination = destination + "/" + key
	}
	if destination == "" {
		writeError(w, http.StatusBadRequest, errors.New("rtmp url is required"))
		return
	}

	// Pre-flight: the sync also applies the daily reset, so a user whose
	// allowance rolled over at midnight is not rejected on stale numbers.
	synced, plan, err := h.Store.SyncUsage(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if limit := plan.LimitSeconds(); limit > 0 && synced.UsageSeconds >= limit {
		writeError(w, http.StatusForbidden, errors.New(engine.ExhaustionMessage(plan.LimitType)))
		return
	}
	if active := h.Engine.CountActive(user.ID); active >= plan.MaxActiveStreams {
		writeError(w, http.StatusForbidden,
			fmt.Errorf("your plan allows %d concurrent streams", plan.MaxActiveStreams))
		return
	}

	var files []string
	for _, mediaID := range req.MediaIDs {
		media, err := h.Store.GetMediaFile(r.Context(), mediaID)
		if err != nil {
			writeError(w, http.StatusNotFound, fmt.Errorf("media file %s not found", mediaID))
			return
		}
		if media.OwnerID != user.ID {
			writeError(w, http.StatusForbidden, errors.New("not your file"))
			return
		}
		if !plan.Allows(media.Type) {
			writeError(w, http.StatusForbidden,
				fmt.Errorf("your plan does not allow %s streaming", media.Type))
			return
		}
		files = append(files, media.Path)
	}

	cover := ""
	if req.CoverID != "" {
		media, err := h.Store.GetMediaFile(r.Context(), req.CoverID)
		if err != nil || media.OwnerID != user.ID {
			writeError(w, http.StatusNotFound, errors.New("cover image not found"))
			return
		}
		if media.Type != models.MediaTypeImage {
			writeError(w, http.StatusBadRequest, errors.New("cover must be an image"))
			return
		}
		cover = media.Path
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Untitled stream"
	}
	id, err := h.Engine.Start(r.Context(), engine.StartRequest{
		OwnerID:     user.ID,
		Name:        name,
		Files:       files,
		Destination: destination,
		Loop:        req.Loop,
		CoverImage:  cover,
		LimitType:   plan.LimitType,
	})
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrNoInput),
			errors.Is(err, engine.ErrNoDestination),
			errors.Is(err, engine.ErrNoPlayableFiles):
			writeError(w, http.StatusBadRequest, err)
		default:
			var startupErr *engine.StartupError
			if errors.As(err, &startupErr) {
				h.Logger.Error("stream startup failed",
					slog.String("owner_id", user.ID),
					slog.String("error", err.Error()))
				writeError(w, http.StatusBadGateway, errors.New("stream failed to start; check your RTMP URL and key"))
				return
			}
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// StreamByID stops a broadcast: DELETE /api/streams/{id}.
func (h *Handler) StreamByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, "DELETE")
		return
	}
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/streams/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("stream id is required"))
		return
	}
	if !user.IsAdmin() {
		owned := false
		for _, info := range h.Engine.ListActive(user.ID) {
			if info.ID == id {
				owned = true
				break
			}
		}
		if !owned {
			writeError(w, http.StatusNotFound, errors.New("stream not found"))
			return
		}
	}
	if !h.Engine.Stop(id) {
		writeError(w, http.StatusNotFound, errors.New("stream not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
