package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/pcarvalho/stackwizard/internal/gateway"
	"github.com/pcarvalho/stackwizard/internal/orchestrator"
	"github.com/pcarvalho/stackwizard/internal/state"
	"github.com/pcarvalho/stackwizard/internal/templates"
)

// DeploymentHandler exposes the wizard lifecycle over HTTP. Lifecycle
// operations answer 202 and run against the orchestrator asynchronously; the
// client follows progress through the status endpoint.
type DeploymentHandler struct {
	orch    *orchestrator.Orchestrator
	catalog *templates.Catalog
	gw      gateway.Gateway
	repo    *state.Repository
}

// NewDeploymentHandler creates a new deployment handler
func NewDeploymentHandler(orch *orchestrator.Orchestrator, catalog *templates.Catalog, gw gateway.Gateway, repo *state.Repository) *DeploymentHandler {
	return &DeploymentHandler{orch: orch, catalog: catalog, gw: gw, repo: repo}
}

// GetStatus handles GET /api/v1/deployment/status
func (h *DeploymentHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	step, rec, st := h.orch.Snapshot()
	RespondWithJSON(w, http.StatusOK, StatusToResponse(step, rec, st))
}

// Prepare handles POST /api/v1/deployment/prepare
func (h *DeploymentHandler) Prepare(w http.ResponseWriter, r *http.Request) {
	var req PrepareDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.TemplateID == "" {
		RespondWithError(w, http.StatusBadRequest, "template_id is required")
		return
	}

	files, vars, err := h.catalog.Render(req.TemplateID, req.Variables, req.AddOns)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	prepareReq := orchestrator.PrepareRequest{
		TemplateID: req.TemplateID,
		NamePrefix: req.NamePrefix,
		Files:      files,
		Variables:  vars,
		Credentials: gateway.Credentials{
			Cloud: req.Credentials.Cloud,
			Env:   req.Credentials.Env,
		},
	}

	// Prepare blocks through init and plan; the request must not.
	go h.orch.Prepare(context.Background(), prepareReq)

	RespondWithSuccess(w, http.StatusAccepted, "Deployment preparation started", nil)
}

// Confirm handles POST /api/v1/deployment/confirm
func (h *DeploymentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	step, _, _ := h.orch.Snapshot()
	if step != orchestrator.StepReview {
		RespondWithError(w, http.StatusConflict, "No plan awaiting confirmation")
		return
	}

	go h.orch.ConfirmAndApply(context.Background())

	RespondWithSuccess(w, http.StatusAccepted, "Deployment started", nil)
}

// Cancel handles POST /api/v1/deployment/cancel
func (h *DeploymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	step, _, _ := h.orch.Snapshot()
	if !step.CanCancel() {
		RespondWithError(w, http.StatusConflict, "Nothing to cancel")
		return
	}

	h.orch.Cancel(r.Context())

	RespondWithSuccess(w, http.StatusAccepted, "Cancellation requested", nil)
}

// Rollback handles POST /api/v1/deployment/rollback
func (h *DeploymentHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if r.Body != nil {
		// An empty body means default framing
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	_, _, st := h.orch.Snapshot()
	if st == nil || !st.CanRollback {
		RespondWithError(w, http.StatusConflict, "Nothing to roll back")
		return
	}

	go h.orch.Rollback(context.Background(), orchestrator.RollbackOptions{
		KeepRollingBackOnSuccess: req.KeepRollingBackOnSuccess,
	})

	RespondWithSuccess(w, http.StatusAccepted, "Rollback started", nil)
}

// Reset handles POST /api/v1/deployment/reset
func (h *DeploymentHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.orch.Reset(r.Context())
	RespondWithSuccess(w, http.StatusOK, "Deployment state cleared", nil)
}

// OpenFolder handles POST /api/v1/deployment/open-folder
func (h *DeploymentHandler) OpenFolder(w http.ResponseWriter, r *http.Request) {
	_, rec, _ := h.orch.Snapshot()
	if rec == nil || rec.Path == "" {
		RespondWithError(w, http.StatusNotFound, "No deployment folder to open")
		return
	}

	if err := h.gw.OpenFolder(r.Context(), rec.Path); err != nil {
		log.Error().Err(err).Str("path", rec.Path).Msg("Failed to open deployment folder")
		RespondWithError(w, http.StatusInternalServerError, "Failed to open folder")
		return
	}

	RespondWithSuccess(w, http.StatusOK, "Folder opened", nil)
}

// ListRecords handles GET /api/v1/records
func (h *DeploymentHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	limit := 20
	offset := 0

	if parsed, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && parsed > 0 {
		limit = parsed
	}
	if parsed, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && parsed >= 0 {
		offset = parsed
	}

	records, err := h.repo.ListRecords(r.Context(), limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list deployment records")
		RespondWithError(w, http.StatusInternalServerError, "Failed to list records")
		return
	}

	RespondWithJSON(w, http.StatusOK, ListRecordsResponse{
		Records: RecordsToResponse(records),
		Total:   len(records),
		Limit:   limit,
		Offset:  offset,
	})
}
