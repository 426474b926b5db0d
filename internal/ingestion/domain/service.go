package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/jeffconboy/statedge/pkg/db/pagination"
)

// BackfillRequest asks for a chunked collection run. Either Season or an
// explicit StartDate/EndDate pair (inclusive, YYYY-MM-DD) selects the range.
type BackfillRequest struct {
	Season    int    `json:"season"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	ChunkDays int    `json:"chunk_days"`
}

// BackfillResult summarizes a finished run.
type BackfillResult struct {
	JobID           snowflake.ID `json:"job_id"`
	Status          string       `json:"status"`
	StartDate       string       `json:"start_date"`
	EndDate         string       `json:"end_date"`
	TotalRecords    int          `json:"total_records"`
	ChunksProcessed int          `json:"chunks_processed"`
	ChunksFailed    int          `json:"chunks_failed"`
	ChunksSkipped   int          `json:"chunks_skipped"`
}

// CollectDayResult reports a single-day collection.
type CollectDayResult struct {
	Date    string `json:"date"`
	Records int    `json:"records"`
}

type ListJobsRequest struct {
	Source    string `json:"source"`
	PageToken string `json:"page_token"`
	PageSize  int32  `json:"page_size"`
}

type ListJobsResponse struct {
	pagination.PageInfo
	Jobs []IngestionJob `json:"jobs"`
}

// Service runs and inspects ingestion work.
type Service interface {
	RunBackfill(ctx context.Context, req BackfillRequest) (*BackfillResult, error)
	CollectDay(ctx context.Context, date string) (*CollectDayResult, error)
	RefreshReference(ctx context.Context, season int) (int, error)
	GetJob(ctx context.Context, id snowflake.ID) (*IngestionJob, error)
	ListJobs(ctx context.Context, req ListJobsRequest) (ListJobsResponse, error)
}

var (
	ErrInvalidRange     = errors.New("invalid_date_range")
	ErrInvalidChunkSize = errors.New("invalid_chunk_size")
	ErrBackfillInFlight = errors.New("backfill_already_running")
	ErrJobNotFound      = errors.New("ingestion_job_not_found")
	ErrUpstreamFailed   = errors.New("upstream_collection_failed")
)
