package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tego/internal/common"
)

// DebugHandler exposes introspection endpoints: a plain liveness string
// and read/write access to the active configuration.
type DebugHandler struct {
	app    Application
	reinit Reinitializer
	logger arbor.ILogger
}

func NewDebugHandler(app Application, reinit Reinitializer) *DebugHandler {
	return &DebugHandler{
		app:    app,
		reinit: reinit,
		logger: common.GetLogger(),
	}
}

// HelloWorldHandler returns a fixed string. Useful for probing the
// middleware chain without touching any service.
func (h *DebugHandler) HelloWorldHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Hello World!"))
}

// ConfigHandler reads or rewrites the active configuration. Secrets are
// masked on the way out by their JSON encoding.
func (h *DebugHandler) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getConfig(w, r)
	case http.MethodPut:
		h.setConfig(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *DebugHandler) getConfig(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, h.app.Config())
}

// setConfig applies a flat map of dotted configuration keys and rebuilds
// the services so the new values take effect immediately.
func (h *DebugHandler) setConfig(w http.ResponseWriter, r *http.Request) {
	var overrides map[string]any
	if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
		h.logger.Error().Err(err).Msg("Configuration overrides are not a JSON object")
		WriteEmpty(w, http.StatusBadRequest)
		return
	}

	if err := common.ApplyOverrides(h.app.Config(), overrides, h.logger); err != nil {
		h.logger.Error().Err(err).Msg("Unable to apply configuration overrides")
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.reinit.Reinitialize(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("Unable to reinitialize services")
		WriteError(w, http.StatusInternalServerError, "unable to reinitialize services")
		return
	}

	WriteEmpty(w, http.StatusOK)
}
