package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tego/internal/common"
	"github.com/ternarybob/tego/internal/engine"
	"github.com/ternarybob/tego/internal/models"
	"github.com/ternarybob/tego/internal/transformers"
)

// HeaderTransformerType names the transformer that decodes the request
// body.
const HeaderTransformerType = "Transformer-Type"

// AnonymizerHandler serves the anonymization endpoint. GET verifies the
// supplied credentials, POST validates the payload and runs the pipeline
// on it.
type AnonymizerHandler struct {
	app    Application
	logger arbor.ILogger
}

func NewAnonymizerHandler(app Application) *AnonymizerHandler {
	return &AnonymizerHandler{
		app:    app,
		logger: common.GetLogger(),
	}
}

// Handle dispatches by method.
func (h *AnonymizerHandler) Handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.verifyCredentials(w, r)
	case http.MethodPost:
		h.anonymize(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// verifyCredentials confirms the supplied credentials without touching
// the pipeline.
func (h *AnonymizerHandler) verifyCredentials(w http.ResponseWriter, r *http.Request) {
	auth := h.authorize(w, r)
	if auth == nil {
		return
	}
	applyAuthHeaders(w, auth)
	WriteEmpty(w, http.StatusOK)
}

// anonymize validates the payload against the solicited transformer,
// checks credentials and executes the pipeline on the decoded data.
// Validation runs before authorization, matching the endpoint contract.
func (h *AnonymizerHandler) anonymize(w http.ResponseWriter, r *http.Request) {
	transformerType := r.Header.Get(HeaderTransformerType)
	if transformerType == "" {
		h.validationFail(w, "unable to locate \""+HeaderTransformerType+"\" HTTP header")
		return
	}
	transformer, err := transformers.FromString(transformerType)
	if err != nil {
		h.validationFail(w, err.Error())
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		h.validationFail(w, "unable to read the request body")
		return
	}
	body, err := transformer.DecodeBody(raw)
	if err != nil {
		h.validationFail(w, err.Error())
		return
	}

	var requestJSON any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &requestJSON); err != nil {
			h.validationFail(w, "request body is not valid JSON")
			return
		}
	}

	auth := h.authorize(w, r)
	if auth == nil {
		return
	}
	applyAuthHeaders(w, auth)

	data, err := transformer.Transform(body)
	if err != nil {
		h.logger.Error().Err(err).Msg("Unable to transform the request body")
		WriteError(w, http.StatusInternalServerError, "unable to transform the request body")
		return
	}

	auditTimestamp := float64(time.Now().UnixNano()) / float64(time.Second)
	if snapshot := transformer.Snapshot(body); len(snapshot) > 0 {
		stored, err := h.app.AuditStore().LogAudit(r.Context(), snapshot, auditTimestamp)
		if err != nil {
			h.logger.Warn().Err(err).Msg("Unable to record the audit snapshot")
		} else {
			auditTimestamp = stored
		}
	}

	config := h.app.Config()
	h.logger.Debug().Str("file", config.Pipeline.File).Msg("Pipeline file")
	eng, err := engine.New(config.Pipeline.File, h.app.PipelineRegistry())
	if err != nil {
		h.logger.Error().Err(err).Msg("Unable to build the pipeline")
		WriteError(w, http.StatusInternalServerError, "unable to build the pipeline")
		return
	}

	request := &engine.WebRequest{JSON: requestJSON, Header: r.Header}
	response, err := eng.Run(r.Context(), request, data, body, auditTimestamp)
	if err != nil {
		if r.Context().Err() != nil {
			h.logger.Warn().Err(err).Msg("Pipeline run cancelled")
			return
		}
		h.logger.Error().Err(err).Msg("Pipeline run failed")
		WriteError(w, http.StatusInternalServerError, "pipeline execution failed")
		return
	}
	writeEngineResponse(w, response)
}

// authorize resolves the request credentials against the configured
// provider. A nil return means the rejection has already been written.
func (h *AnonymizerHandler) authorize(w http.ResponseWriter, r *http.Request) *models.AuthResult {
	credentials := models.CredentialsFromHeaders(r.Header)
	auth, err := h.app.AuthService().Authorize(r.Context(), credentials)
	if err != nil {
		h.logger.Error().Err(err).Msg("Authorization check failed")
		WriteError(w, http.StatusInternalServerError, "authorization check failed")
		return nil
	}
	if !auth.Authorized {
		WriteEmpty(w, http.StatusForbidden)
		return nil
	}
	return auth
}

// validationFail logs the reason and rejects the request before it can
// reach the pipeline.
func (h *AnonymizerHandler) validationFail(w http.ResponseWriter, reason string) {
	h.logger.Error().Str("reason", reason).Msg("Validation failed")
	WriteEmpty(w, http.StatusBadRequest)
}

// applyAuthHeaders echoes token headers onto the response. Must run
// before the status line is written.
func applyAuthHeaders(w http.ResponseWriter, auth *models.AuthResult) {
	for key, value := range auth.Headers() {
		w.Header().Set(key, value)
	}
}

// writeEngineResponse renders a pipeline response, keeping empty bodies
// empty instead of encoding them as JSON null.
func writeEngineResponse(w http.ResponseWriter, response *engine.Response) {
	if response.JSON == nil {
		WriteEmpty(w, response.Status)
		return
	}
	WriteJSON(w, response.Status, response.JSON)
}
