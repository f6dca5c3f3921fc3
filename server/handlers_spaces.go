package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/onnwee/space-tender/captions"
	"github.com/onnwee/space-tender/store"
	"github.com/onnwee/space-tender/telemetry"
)

// HandleSpacesList returns the most recently updated spaces (?limit=, default 50, max 500).
func (h *Handlers) HandleSpacesList(w http.ResponseWriter, r *http.Request) {
	if h.deps.Spaces == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	limit := parseIntQuery(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rooms, err := h.deps.Spaces.ListRecent(r.Context(), limit)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("list spaces", slog.Any("err", err), slog.String("component", "http"))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

// HandleSpace returns one space with its creator and memberships.
func (h *Handlers) HandleSpace(w http.ResponseWriter, r *http.Request) {
	if h.deps.Spaces == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	room, err := h.deps.Spaces.Get(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "space not found")
		return
	case err != nil:
		telemetry.LoggerWithCorr(r.Context()).Error("get space", slog.Any("err", err), slog.String("component", "http"))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// HandleCaptionRuns lists the caption download runs recorded for a space.
func (h *Handlers) HandleCaptionRuns(w http.ResponseWriter, r *http.Request) {
	if h.deps.Spaces == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	runs, err := h.deps.Spaces.ListDownloads(r.Context(), r.PathValue("id"))
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("list caption runs", slog.Any("err", err), slog.String("component", "http"))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if runs == nil {
		runs = []*store.Download{}
	}
	writeJSON(w, http.StatusOK, runs)
}

type startCaptionsRequest struct {
	AccessToken string `json:"access_token"`
	File        string `json:"file,omitempty"`
}

// HandleStartCaptions starts a background caption download for the space in the path and
// answers 202 with the destination file. file, when given, must be a bare file name; it is
// created inside the data directory.
func (h *Handlers) HandleStartCaptions(w http.ResponseWriter, r *http.Request) {
	if h.deps.Captions == nil {
		writeError(w, http.StatusServiceUnavailable, "caption downloads not configured")
		return
	}
	id := r.PathValue("id")
	var req startCaptionsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.AccessToken) == "" {
		writeError(w, http.StatusBadRequest, "access_token required")
		return
	}
	if req.File != "" && (req.File != filepath.Base(req.File) || strings.HasPrefix(req.File, ".")) {
		writeError(w, http.StatusBadRequest, "file must be a plain file name")
		return
	}

	dest := ""
	if req.File != "" {
		dest = filepath.Join(h.deps.DataDir, req.File)
	}
	path, err := h.deps.Captions.Start(id, req.AccessToken, dest)
	switch {
	case errors.Is(err, captions.ErrInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		telemetry.LoggerWithCorr(r.Context()).Error("start captions", slog.String("space_id", id), slog.Any("err", err), slog.String("component", "http"))
		writeError(w, http.StatusInternalServerError, "start failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"path": path})
}
