package state

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pcarvalho/stackwizard/internal/gateway"
	"github.com/pcarvalho/stackwizard/internal/orchestrator"
)

// Sink persists orchestrator step transitions as deployment history. It
// upserts the deployment record by name so retries of the same attempt keep
// appending to one record.
type Sink struct {
	repo   *Repository
	logger zerolog.Logger
}

// NewSink creates a transition sink backed by the repository
func NewSink(repo *Repository, logger zerolog.Logger) *Sink {
	return &Sink{
		repo:   repo,
		logger: logger.With().Str("component", "state").Logger(),
	}
}

// RecordTransition implements orchestrator.TransitionSink
func (s *Sink) RecordTransition(ctx context.Context, rec orchestrator.Record, step orchestrator.Step, st *gateway.RunStatus) error {
	if rec.Name == "" {
		return nil
	}

	record, err := s.repo.GetRecordByName(ctx, rec.Name)
	if err != nil {
		return err
	}

	if record == nil {
		record = &DeploymentRecord{
			Name:          rec.Name,
			Path:          rec.Path,
			TemplateID:    rec.TemplateID,
			Step:          string(step),
			IsRollingBack: rec.IsRollingBack,
		}
		if err := s.repo.CreateRecord(ctx, record); err != nil {
			return err
		}
	} else {
		record.Path = rec.Path
		record.Step = string(step)
		record.IsRollingBack = rec.IsRollingBack
		if err := s.repo.UpdateRecordStep(ctx, record.ID, string(step), rec.IsRollingBack); err != nil {
			return err
		}
	}

	transition := &Transition{
		RecordID: record.ID,
		Step:     string(step),
	}
	if st != nil {
		transition.Running = st.Running
		transition.Command = st.Command
		transition.Output = st.Output
		transition.CanRollback = st.CanRollback
		if st.Success != nil {
			v := *st.Success
			transition.Success = &v
		}
	}

	if err := s.repo.AppendTransition(ctx, transition); err != nil {
		return fmt.Errorf("record %s: %w", rec.Name, err)
	}

	s.logger.Debug().
		Str("deployment", rec.Name).
		Str("step", string(step)).
		Msg("Transition recorded")

	return nil
}

var _ orchestrator.TransitionSink = (*Sink)(nil)
