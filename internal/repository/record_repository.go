package repository

import (
	"fmt"

	"gorm.io/gorm"

	"dataforge/internal/model"
)

type RecordRepository struct {
	db *gorm.DB
}

func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) CreateBatch(records []model.TrainingRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := r.db.CreateInBatches(records, 100).Error; err != nil {
		return fmt.Errorf("create training records failed: %w", err)
	}
	return nil
}

// ListByBatchProjectID returns records ordered by source document then chunk
// position so the aggregated export is stable across calls.
func (r *RecordRepository) ListByBatchProjectID(projectID string, ownerID uint) ([]model.TrainingRecord, error) {
	var records []model.TrainingRecord
	err := r.db.
		Where("batch_project_id = ? AND owner_id = ?", projectID, ownerID).
		Order("source_document ASC, chunk_index ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list training records failed: %w", err)
	}
	return records, nil
}
