package model

import "time"

const (
	BatchJobStatusRunning        = "running"
	BatchJobStatusSucceeded      = "succeeded"
	BatchJobStatusFailed         = "failed"
	BatchJobStatusPartialSuccess = "partial_success"
)

// BatchJob is the durable summary row for one batch submission. The live
// per-document state lives in the in-process job store; this row is written at
// submission and updated once when the job reaches a terminal state.
type BatchJob struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	JobID          string     `gorm:"size:64;not null;uniqueIndex" json:"job_id"`
	BatchProjectID string     `gorm:"size:64;not null;index" json:"batch_project_id"`
	OwnerID        uint       `gorm:"not null;index" json:"owner_id"`
	ProjectName    string     `gorm:"size:256;not null" json:"project_name"`
	Options        string     `gorm:"type:text" json:"-"` // JSON-encoded processing options
	Status         string     `gorm:"size:32;not null" json:"status"`
	Error          string     `gorm:"size:512" json:"error,omitempty"`
	DocumentCount  int        `gorm:"not null" json:"document_count"`
	RecordCount    int        `gorm:"not null;default:0" json:"record_count"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}
