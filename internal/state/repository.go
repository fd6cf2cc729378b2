package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository provides database operations for deployment records
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new state repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateRecord creates a new deployment record
func (r *Repository) CreateRecord(ctx context.Context, record *DeploymentRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to create deployment record: %w", err)
	}

	return nil
}

// GetRecordByName retrieves a deployment record by its deployment name.
// Returns nil, nil when no record exists so callers can upsert.
func (r *Repository) GetRecordByName(ctx context.Context, name string) (*DeploymentRecord, error) {
	var record DeploymentRecord

	if err := r.db.WithContext(ctx).
		First(&record, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get deployment record: %w", err)
	}

	return &record, nil
}

// GetRecord retrieves a deployment record by ID
func (r *Repository) GetRecord(ctx context.Context, id uuid.UUID) (*DeploymentRecord, error) {
	var record DeploymentRecord

	if err := r.db.WithContext(ctx).
		Preload("Transitions").
		First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("deployment record not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get deployment record: %w", err)
	}

	return &record, nil
}

// ListRecords retrieves deployment records, newest first
func (r *Repository) ListRecords(ctx context.Context, limit, offset int) ([]DeploymentRecord, error) {
	var records []DeploymentRecord

	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list deployment records: %w", err)
	}

	return records, nil
}

// UpdateRecord updates a deployment record
func (r *Repository) UpdateRecord(ctx context.Context, record *DeploymentRecord) error {
	if err := r.db.WithContext(ctx).Save(record).Error; err != nil {
		return fmt.Errorf("failed to update deployment record: %w", err)
	}

	return nil
}

// UpdateRecordStep updates only the step of a deployment record, stamping
// the completion time on a terminal step.
func (r *Repository) UpdateRecordStep(ctx context.Context, id uuid.UUID, step string, rollingBack bool) error {
	updates := map[string]interface{}{
		"step":            step,
		"is_rolling_back": rollingBack,
	}
	if step == "complete" || step == "failed" {
		now := time.Now()
		updates["completed_at"] = &now
	}

	if err := r.db.WithContext(ctx).
		Model(&DeploymentRecord{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update record step: %w", err)
	}

	return nil
}

// DeleteRecord deletes a deployment record and its transitions
func (r *Repository) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).
		Where("record_id = ?", id).
		Delete(&Transition{}).Error; err != nil {
		return fmt.Errorf("failed to delete transitions: %w", err)
	}

	if err := r.db.WithContext(ctx).Delete(&DeploymentRecord{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete deployment record: %w", err)
	}

	return nil
}

// AppendTransition records one step change or status snapshot
func (r *Repository) AppendTransition(ctx context.Context, transition *Transition) error {
	if transition.ID == uuid.Nil {
		transition.ID = uuid.New()
	}

	if err := r.db.WithContext(ctx).Create(transition).Error; err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}

	return nil
}

// ListTransitions retrieves the transition history of a record, oldest first
func (r *Repository) ListTransitions(ctx context.Context, recordID uuid.UUID) ([]Transition, error) {
	var transitions []Transition

	if err := r.db.WithContext(ctx).
		Where("record_id = ?", recordID).
		Order("created_at ASC").
		Find(&transitions).Error; err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}

	return transitions, nil
}

// CountRecordsByStep counts deployment records on a given step
func (r *Repository) CountRecordsByStep(ctx context.Context, step string) (int64, error) {
	var count int64

	if err := r.db.WithContext(ctx).
		Model(&DeploymentRecord{}).
		Where("step = ?", step).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count deployment records: %w", err)
	}

	return count, nil
}
