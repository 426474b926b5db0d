// Package domain contains persistence models and contracts for data
// ingestion runs.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Job statuses. A job ends complete, partial or failed; partial means at
// least one chunk succeeded and at least one chunk exhausted its retries.
const (
	JobStatusPending  = "pending"
	JobStatusRunning  = "running"
	JobStatusComplete = "complete"
	JobStatusPartial  = "partial"
	JobStatusFailed   = "failed"
)

// Chunk outcomes recorded on checkpoints.
const (
	ChunkOutcomePending = "pending"
	ChunkOutcomeSuccess = "success"
	ChunkOutcomeFailed  = "failed"
)

// Ingestion sources.
const (
	SourceStatcast  = "statcast"
	SourceReference = "reference"
)

// IngestionJob tracks one backfill run over a date range.
type IngestionJob struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	Source       string       `gorm:"type:text;not null;index:idx_jobs_source_range" json:"source"`
	StartDate    string       `gorm:"type:text;not null;index:idx_jobs_source_range" json:"start_date"`
	EndDate      string       `gorm:"type:text;not null;index:idx_jobs_source_range" json:"end_date"`
	ChunkDays    int          `gorm:"not null" json:"chunk_days"`
	Status       string       `gorm:"type:text;not null;default:pending" json:"status"`
	TotalRecords int          `gorm:"not null;default:0" json:"total_records"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (IngestionJob) TableName() string { return "ingestion_jobs" }

// IngestionCheckpoint records the outcome of one chunk of a job. The unique
// key over (job_id, chunk_start, chunk_end) is what makes reruns idempotent.
type IngestionCheckpoint struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	JobID      snowflake.ID `gorm:"not null;uniqueIndex:idx_checkpoints_job_chunk" json:"job_id"`
	ChunkStart string       `gorm:"type:text;not null;uniqueIndex:idx_checkpoints_job_chunk" json:"chunk_start"`
	ChunkEnd   string       `gorm:"type:text;not null;uniqueIndex:idx_checkpoints_job_chunk" json:"chunk_end"`
	Outcome    string       `gorm:"type:text;not null;default:pending" json:"outcome"`
	Records    int          `gorm:"not null;default:0" json:"records"`
	Attempts   int          `gorm:"not null;default:0" json:"attempts"`
	LastError  string       `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (IngestionCheckpoint) TableName() string { return "ingestion_checkpoints" }
