package api

import (
	"net/http"

	"github.com/pcarvalho/stackwizard/internal/templates"
)

// TemplateHandler serves the template catalog
type TemplateHandler struct {
	catalog *templates.Catalog
}

// NewTemplateHandler creates a new template handler
func NewTemplateHandler(catalog *templates.Catalog) *TemplateHandler {
	return &TemplateHandler{catalog: catalog}
}

// ListTemplates handles GET /api/v1/templates
func (h *TemplateHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	list := h.catalog.List()

	out := make([]TemplateResponse, 0, len(list))
	for _, tpl := range list {
		out = append(out, TemplateToResponse(tpl))
	}

	RespondWithJSON(w, http.StatusOK, out)
}
