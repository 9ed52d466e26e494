package handlers

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/mrmushfiq/ai-gateway/internal/gateway"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/cache"
	"github.com/mrmushfiq/ai-gateway/internal/shared/config"
)

// HandleHealth handles GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"providers": len(h.gw.Status().Providers),
	})
}

type statusResponse struct {
	gateway.Status
	Stats []gateway.ProviderStats `json:"stats"`
	Cache cache.Stats             `json:"cache"`
}

// HandleStatus handles GET /status. API keys are masked.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status: h.gw.Status(),
		Stats:  h.gw.ProviderStats(),
		Cache:  h.gw.CacheStats(r.Context()),
	})
}

// HandleConfig handles POST /config. The body is a partial configuration;
// omitted fields keep their current value.
func (h *Handler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var o config.Overrides
	if err := json.Unmarshal(data, &o); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.gw.UpdateConfig(o.Update()); err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("config updated over http", "remote", clientIP(r))
	writeJSON(w, http.StatusOK, h.gw.Status())
}

// HandleClearCache handles POST /cache/clear
func (h *Handler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	n, err := h.gw.ClearCache(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}
