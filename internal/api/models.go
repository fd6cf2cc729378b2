package api

import (
	"time"

	"github.com/pcarvalho/stackwizard/internal/gateway"
	"github.com/pcarvalho/stackwizard/internal/orchestrator"
	"github.com/pcarvalho/stackwizard/internal/state"
	"github.com/pcarvalho/stackwizard/internal/templates"
)

// ErrorResponse is the standard error payload
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SuccessResponse is the standard success payload
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// HealthResponse is the health check payload
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Version  string `json:"version"`
}

// PrepareDeploymentRequest starts the prepare sequence
type PrepareDeploymentRequest struct {
	TemplateID  string                 `json:"template_id"`
	NamePrefix  string                 `json:"name_prefix,omitempty"`
	Variables   map[string]interface{} `json:"variables,omitempty"`
	AddOns      []string               `json:"add_ons,omitempty"`
	Credentials CredentialsRequest     `json:"credentials"`
}

// CredentialsRequest carries cloud credentials as environment variables
type CredentialsRequest struct {
	Cloud string            `json:"cloud"`
	Env   map[string]string `json:"env"`
}

// RollbackRequest controls rollback outcome framing
type RollbackRequest struct {
	KeepRollingBackOnSuccess bool `json:"keep_rolling_back_on_success"`
}

// RecordResponse is the wire shape of the deployment record
type RecordResponse struct {
	Name          string `json:"name"`
	Path          string `json:"path"`
	TemplateID    string `json:"template_id"`
	IsRollingBack bool   `json:"is_rolling_back"`
}

// RunStatusResponse is the wire shape of the latest run status
type RunStatusResponse struct {
	Running     bool   `json:"running"`
	Command     string `json:"command,omitempty"`
	Output      string `json:"output,omitempty"`
	Success     *bool  `json:"success,omitempty"`
	CanRollback bool   `json:"can_rollback"`
}

// DeploymentStatusResponse is the full wizard state
type DeploymentStatusResponse struct {
	Step      string             `json:"step"`
	CanCancel bool               `json:"can_cancel"`
	Record    *RecordResponse    `json:"record,omitempty"`
	RunStatus *RunStatusResponse `json:"run_status,omitempty"`
}

// TemplateResponse is the catalog entry shape
type TemplateResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Cloud       string               `json:"cloud"`
	Variables   []templates.Variable `json:"variables,omitempty"`
	AddOns      []AddOnResponse      `json:"add_ons,omitempty"`
}

// AddOnResponse is the catalog add-on shape
type AddOnResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// HistoryRecordResponse is one persisted deployment history entry
type HistoryRecordResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	TemplateID    string     `json:"template_id"`
	Step          string     `json:"step"`
	IsRollingBack bool       `json:"is_rolling_back"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// ListRecordsResponse wraps the deployment history
type ListRecordsResponse struct {
	Records []HistoryRecordResponse `json:"records"`
	Total   int                     `json:"total"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
}

// StatusToResponse converts an orchestrator snapshot to the wire shape
func StatusToResponse(step orchestrator.Step, rec *orchestrator.Record, st *gateway.RunStatus) DeploymentStatusResponse {
	resp := DeploymentStatusResponse{
		Step:      string(step),
		CanCancel: step.CanCancel(),
	}

	if rec != nil {
		resp.Record = &RecordResponse{
			Name:          rec.Name,
			Path:          rec.Path,
			TemplateID:    rec.TemplateID,
			IsRollingBack: rec.IsRollingBack,
		}
	}

	if st != nil {
		resp.RunStatus = &RunStatusResponse{
			Running:     st.Running,
			Command:     st.Command,
			Output:      st.Output,
			Success:     st.Success,
			CanRollback: st.CanRollback,
		}
	}

	return resp
}

// TemplateToResponse converts a catalog template to the wire shape
func TemplateToResponse(tpl templates.Template) TemplateResponse {
	resp := TemplateResponse{
		ID:          tpl.ID,
		Name:        tpl.Name,
		Description: tpl.Description,
		Cloud:       tpl.Cloud,
		Variables:   tpl.Variables,
	}
	for _, addOn := range tpl.AddOns {
		resp.AddOns = append(resp.AddOns, AddOnResponse{
			ID:          addOn.ID,
			Name:        addOn.Name,
			Description: addOn.Description,
		})
	}
	return resp
}

// RecordsToResponse converts persisted records to the wire shape
func RecordsToResponse(records []state.DeploymentRecord) []HistoryRecordResponse {
	out := make([]HistoryRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, HistoryRecordResponse{
			ID:            rec.ID.String(),
			Name:          rec.Name,
			TemplateID:    rec.TemplateID,
			Step:          rec.Step,
			IsRollingBack: rec.IsRollingBack,
			CreatedAt:     rec.CreatedAt,
			CompletedAt:   rec.CompletedAt,
		})
	}
	return out
}
