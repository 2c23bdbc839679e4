package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"dataforge/internal/model"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(job *model.BatchJob) error {
	if err := r.db.Create(job).Error; err != nil {
		return fmt.Errorf("create batch job failed: %w", err)
	}
	return nil
}

// MarkTerminal records the final status of a job. Called exactly once per job,
// after every document has reached a terminal state.
func (r *JobRepository) MarkTerminal(jobID, status, jobErr string, recordCount int) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":       status,
		"error":        jobErr,
		"record_count": recordCount,
		"completed_at": &now,
	}
	if err := r.db.Model(&model.BatchJob{}).Where("job_id = ?", jobID).Updates(updates).Error; err != nil {
		return fmt.Errorf("mark batch job terminal failed: %w", err)
	}
	return nil
}

func (r *JobRepository) GetByJobID(jobID string, ownerID uint) (*model.BatchJob, error) {
	var job model.BatchJob
	if err := r.db.Where("job_id = ? AND owner_id = ?", jobID, ownerID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query batch job by job id failed: %w", err)
	}
	return &job, nil
}

func (r *JobRepository) GetByBatchProjectID(projectID string, ownerID uint) (*model.BatchJob, error) {
	var job model.BatchJob
	if err := r.db.Where("batch_project_id = ? AND owner_id = ?", projectID, ownerID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query batch job by project id failed: %w", err)
	}
	return &job, nil
}

func (r *JobRepository) ListByOwner(ownerID uint) ([]model.BatchJob, error) {
	var jobs []model.BatchJob
	if err := r.db.Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list batch jobs failed: %w", err)
	}
	return jobs, nil
}
