package server

import (
	"net/http"
	"time"

	"github.com/onnwee/space-tender/captions"
	"github.com/onnwee/space-tender/gateway"
	"github.com/onnwee/space-tender/telemetry"
	"github.com/onnwee/space-tender/watch"
)

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.deps.DB == nil || h.deps.DB.PingContext(r.Context()) != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type statusResponse struct {
	Time      time.Time         `json:"time"`
	Watchers  []watch.Status    `json:"watchers"`
	Downloads []captions.Active `json:"downloads"`
	Gateway   *gateway.Stats    `json:"gateway,omitempty"`
	Tracing   bool              `json:"tracing"`
}

// HandleStatus reports every watcher's last cycle, running downloads and gateway counters.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Time:      time.Now().UTC(),
		Watchers:  make([]watch.Status, 0, len(h.deps.Watchers)),
		Downloads: []captions.Active{},
		Tracing:   telemetry.IsTracingEnabled(),
	}
	for _, wt := range h.deps.Watchers {
		resp.Watchers = append(resp.Watchers, wt.Status())
	}
	if h.deps.Captions != nil {
		resp.Downloads = h.deps.Captions.Active()
	}
	if h.deps.Gateway != nil {
		st := h.deps.Gateway.Stats()
		resp.Gateway = &st
	}
	writeJSON(w, http.StatusOK, resp)
}
