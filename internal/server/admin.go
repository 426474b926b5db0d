package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ingestiondomain "github.com/jeffconboy/statedge/internal/ingestion/domain"
)

// collectionResponse is the envelope for every manual collection trigger.
type collectionResponse struct {
	Status                string    `json:"status"`
	Message               string    `json:"message"`
	TotalRecordsCollected int       `json:"total_records_collected"`
	BatchesProcessed      int       `json:"batches_processed"`
	DateRange             string    `json:"date_range,omitempty"`
	JobID                 string    `json:"job_id,omitempty"`
	Timestamp             time.Time `json:"timestamp"`
}

type collectDataRequest struct {
	Date string `json:"date" binding:"required"`
}

func (s *Server) CollectData(c *gin.Context) {
	var req collectDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.ingestSvc.CollectDay(c.Request.Context(), req.Date)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, collectionResponse{
		Status:                "success",
		Message:               "collected game data for " + result.Date,
		TotalRecordsCollected: result.Records,
		BatchesProcessed:      1,
		DateRange:             result.Date + " to " + result.Date,
		Timestamp:             time.Now().UTC(),
	})
}

type collectReferenceRequest struct {
	Season int `json:"season"`
}

func (s *Server) CollectReference(c *gin.Context) {
	var req collectReferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	records, err := s.ingestSvc.RefreshReference(c.Request.Context(), req.Season)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, collectionResponse{
		Status:                "success",
		Message:               "reference data refreshed",
		TotalRecordsCollected: records,
		BatchesProcessed:      1,
		Timestamp:             time.Now().UTC(),
	})
}

func (s *Server) RunBackfill(c *gin.Context) {
	var req ingestiondomain.BackfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.ingestSvc.RunBackfill(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := "success"
	message := "backfill complete"
	switch result.Status {
	case ingestiondomain.JobStatusPartial:
		status = "partial"
		message = "backfill finished with failed chunks"
	case ingestiondomain.JobStatusFailed:
		status = "failed"
		message = "backfill failed"
	}

	c.JSON(http.StatusOK, collectionResponse{
		Status:                status,
		Message:               message,
		TotalRecordsCollected: result.TotalRecords,
		BatchesProcessed:      result.ChunksProcessed + result.ChunksSkipped,
		DateRange:             result.StartDate + " to " + result.EndDate,
		JobID:                 result.JobID.String(),
		Timestamp:             time.Now().UTC(),
	})
}

func (s *Server) ListJobs(c *gin.Context) {
	var req ingestiondomain.ListJobsRequest
	req.Source = c.Query("source")
	req.PageToken = c.Query("page_token")
	if size := c.Query("page_size"); size != "" {
		parsed, err := strconv.ParseInt(size, 10, 32)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		req.PageSize = int32(parsed)
	}

	resp, err := s.ingestSvc.ListJobs(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetJob(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	job, err := s.ingestSvc.GetJob(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}
