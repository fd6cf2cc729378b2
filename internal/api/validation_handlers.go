package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/pcarvalho/stackwizard/internal/validation"
)

// ValidationHandler proxies credential checks to the validation service
type ValidationHandler struct {
	client *validation.Client
}

// NewValidationHandler creates a new validation handler
func NewValidationHandler(client *validation.Client) *ValidationHandler {
	return &ValidationHandler{client: client}
}

// ValidateCredentials handles POST /api/v1/validate-credentials
func (h *ValidationHandler) ValidateCredentials(w http.ResponseWriter, r *http.Request) {
	var req validation.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Cloud == "" {
		RespondWithError(w, http.StatusBadRequest, "cloud is required")
		return
	}

	result, err := h.client.ValidateCredentials(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Str("cloud", req.Cloud).Msg("Credential validation failed")
		RespondWithError(w, http.StatusBadGateway, "Validation service unavailable")
		return
	}

	RespondWithJSON(w, http.StatusOK, result)
}
