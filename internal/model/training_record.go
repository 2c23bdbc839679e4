package model

import "time"

// TrainingRecord is one chunked text segment emitted for downstream fine-tuning.
type TrainingRecord struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	BatchProjectID string    `gorm:"size:64;not null;index" json:"batch_project_id"`
	OwnerID        uint      `gorm:"not null;index" json:"owner_id"`
	SourceDocument string    `gorm:"size:256;not null" json:"source_document"`
	ChunkIndex     int       `gorm:"not null" json:"chunk_index"`
	Label          string    `gorm:"size:64" json:"label,omitempty"`
	Text           string    `gorm:"type:text;not null" json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

// RecordPayload is the queue-side shape of a single training record.
type RecordPayload struct {
	ChunkIndex int    `json:"chunk_index"`
	Label      string `json:"label,omitempty"`
	Text       string `json:"text"`
}

// RecordBatch is the persistence-queue message carrying every record produced
// from one succeeded document.
type RecordBatch struct {
	JobID          string          `json:"job_id"`
	BatchProjectID string          `json:"batch_project_id"`
	OwnerID        uint            `json:"owner_id"`
	SourceDocument string          `json:"source_document"`
	Records        []RecordPayload `json:"records"`
}
