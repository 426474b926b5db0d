package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jeffconboy/statedge/internal/clock"
	"github.com/jeffconboy/statedge/internal/config"
	ingestiondomain "github.com/jeffconboy/statedge/internal/ingestion/domain"
	"github.com/jeffconboy/statedge/internal/ingestion/provider"
	obsmetrics "github.com/jeffconboy/statedge/internal/observability/metrics"
	"github.com/jeffconboy/statedge/internal/ratelimit"
	"github.com/jeffconboy/statedge/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	dateLayout = "2006-01-02"

	defaultChunkDays = 7
	defaultPageSize  = 20
	maxPageSize      = 250

	lockTTL        = time.Hour
	keyIngestLock  = "statedge:ingest:lock:%s"
	seasonFirstDay = "%d-03-01"
	seasonLastDay  = "%d-10-31"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	GenID    *snowflake.Node
	Provider provider.Provider
	Budget   ratelimit.Budget
	Locker   ratelimit.Locker
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	genID    *snowflake.Node
	provider provider.Provider
	budget   ratelimit.Budget
	locker   ratelimit.Locker
	metrics  *obsmetrics.Metrics

	retryBase time.Duration
}

func NewService(p ServiceParam) ingestiondomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("ingestion.service"),
		clock:     p.Clock,
		genID:     p.GenID,
		provider:  p.Provider,
		budget:    p.Budget,
		locker:    p.Locker,
		metrics:   p.Metrics,
		retryBase: time.Second,
	}
}

func (s *Service) RunBackfill(ctx context.Context, req ingestiondomain.BackfillRequest) (*ingestiondomain.BackfillResult, error) {
	start, end, err := s.resolveRange(req)
	if err != nil {
		return nil, err
	}

	chunkDays := req.ChunkDays
	if chunkDays == 0 {
		chunkDays = defaultChunkDays
	}
	if chunkDays < 0 {
		return nil, ingestiondomain.ErrInvalidChunkSize
	}

	lockKey := fmt.Sprintf(keyIngestLock, ingestiondomain.SourceStatcast)
	token, ok, err := s.locker.TryLock(ctx, lockKey, lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ingestiondomain.ErrBackfillInFlight
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
			s.log.Warn("lock release failed", zap.Error(err))
		}
	}()

	job, err := s.findOrCreateJob(ctx, ingestiondomain.SourceStatcast, start, end, chunkDays)
	if err != nil {
		return nil, err
	}

	// A reused job keeps its original chunking so the walk lines up with the
	// checkpoints already on record.
	return s.runJob(ctx, job, start, end, job.ChunkDays)
}

// runJob walks the range chronologically, one chunk at a time. Chunks that
// already succeeded in an earlier run are skipped; chunks that exhaust their
// retries are recorded and the run moves on.
func (s *Service) runJob(ctx context.Context, job *ingestiondomain.IngestionJob, start, end time.Time, chunkDays int) (*ingestiondomain.BackfillResult, error) {
	now := s.clock.Now().UTC()
	err := s.db.WithContext(ctx).Model(job).Updates(map[string]any{
		"status":     ingestiondomain.JobStatusRunning,
		"started_at": now,
		"updated_at": now,
	}).Error
	if err != nil {
		return nil, err
	}

	done, err := s.completedChunks(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	result := &ingestiondomain.BackfillResult{
		JobID:     job.ID,
		StartDate: start.Format(dateLayout),
		EndDate:   end.Format(dateLayout),
	}
	totalChunks := 0

	for chunkStart := start; !chunkStart.After(end); chunkStart = chunkStart.AddDate(0, 0, chunkDays) {
		totalChunks++

		chunkEnd := chunkStart.AddDate(0, 0, chunkDays-1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		startKey := chunkStart.Format(dateLayout)
		endKey := chunkEnd.Format(dateLayout)

		if ctx.Err() != nil {
			break
		}
		if done[chunkKey{startKey, endKey}] {
			result.ChunksSkipped++
			s.incChunk(ingestiondomain.SourceStatcast, obsmetrics.ChunkOutcomeSkipped)
			continue
		}

		records, err := s.runChunk(ctx, job, chunkStart, chunkEnd)
		if err != nil {
			result.ChunksFailed++
			s.incChunk(ingestiondomain.SourceStatcast, obsmetrics.ChunkOutcomeFailed)
			s.log.Warn("chunk failed after retries",
				zap.String("job_id", job.ID.String()),
				zap.String("chunk_start", startKey),
				zap.String("chunk_end", endKey),
				zap.Error(err),
			)
			continue
		}

		result.ChunksProcessed++
		result.TotalRecords += records
		s.incChunk(ingestiondomain.SourceStatcast, obsmetrics.ChunkOutcomeSuccess)
		if s.metrics != nil {
			s.metrics.AddRecordsIngested(ingestiondomain.SourceStatcast, records)
		}

		err = s.db.WithContext(ctx).Model(job).Updates(map[string]any{
			"total_records": gorm.Expr("total_records + ?", records),
			"updated_at":    s.clock.Now().UTC(),
		}).Error
		if err != nil {
			return nil, err
		}
	}

	result.Status = finalStatus(totalChunks, result.ChunksProcessed, result.ChunksSkipped, result.ChunksFailed)

	finished := s.clock.Now().UTC()
	err = s.db.WithContext(context.WithoutCancel(ctx)).Model(job).Updates(map[string]any{
		"status":      result.Status,
		"finished_at": finished,
		"updated_at":  finished,
	}).Error
	if err != nil {
		return nil, err
	}

	var fresh ingestiondomain.IngestionJob
	if err := s.db.WithContext(context.WithoutCancel(ctx)).First(&fresh, "id = ?", job.ID).Error; err == nil {
		result.TotalRecords = fresh.TotalRecords
	}

	s.log.Info("backfill finished",
		zap.String("job_id", job.ID.String()),
		zap.String("status", result.Status),
		zap.Int("chunks_processed", result.ChunksProcessed),
		zap.Int("chunks_skipped", result.ChunksSkipped),
		zap.Int("chunks_failed", result.ChunksFailed),
		zap.Int("total_records", result.TotalRecords),
	)
	return result, nil
}

// runChunk collects every day in [chunkStart, chunkEnd] with bounded retries
// around the whole chunk, then records the checkpoint.
func (s *Service) runChunk(ctx context.Context, job *ingestiondomain.IngestionJob, chunkStart, chunkEnd time.Time) (int, error) {
	startKey := chunkStart.Format(dateLayout)
	endKey := chunkEnd.Format(dateLayout)
	began := time.Now()

	var lastErr error
	attempts := 0
	for attempts < maxChunkAttempts {
		attempts++

		if err := s.budget.WaitFor(ctx, config.BudgetProviderStatcast); err != nil {
			lastErr = err
			break
		}

		records, err := s.collectChunk(ctx, chunkStart, chunkEnd)
		if err == nil {
			s.observeChunk(began)
			return records, s.saveCheckpoint(ctx, job.ID, startKey, endKey, ingestiondomain.ChunkOutcomeSuccess, records, attempts, "")
		}

		lastErr = err
		if attempts < maxChunkAttempts {
			if err := sleep(ctx, retryDelay(attempts, s.retryBase)); err != nil {
				break
			}
		}
	}

	s.observeChunk(began)
	saveErr := s.saveCheckpoint(ctx, job.ID, startKey, endKey, ingestiondomain.ChunkOutcomeFailed, 0, attempts, lastErr.Error())
	if saveErr != nil {
		s.log.Error("checkpoint save failed", zap.Error(saveErr))
	}
	return 0, lastErr
}

func (s *Service) collectChunk(ctx context.Context, chunkStart, chunkEnd time.Time) (int, error) {
	records := 0
	for day := chunkStart; !day.After(chunkEnd); day = day.AddDate(0, 0, 1) {
		n, err := s.provider.CollectDay(ctx, day.Format(dateLayout))
		if err != nil {
			return records, err
		}
		records += n
	}
	return records, nil
}

func (s *Service) CollectDay(ctx context.Context, date string) (*ingestiondomain.CollectDayResult, error) {
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, ingestiondomain.ErrInvalidRange
	}
	if day.After(s.clock.Now().UTC()) {
		return nil, ingestiondomain.ErrInvalidRange
	}

	if err := s.budget.WaitFor(ctx, config.BudgetProviderStatcast); err != nil {
		return nil, err
	}

	records, err := s.provider.CollectDay(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ingestiondomain.ErrUpstreamFailed, err)
	}
	return &ingestiondomain.CollectDayResult{Date: date, Records: records}, nil
}

func (s *Service) RefreshReference(ctx context.Context, season int) (int, error) {
	now := s.clock.Now().UTC()
	if season == 0 {
		season = now.Year()
	}
	if season < 1900 || season > now.Year() {
		return 0, ingestiondomain.ErrInvalidRange
	}

	total := 0
	if err := s.budget.WaitFor(ctx, config.BudgetProviderStatcast); err != nil {
		return 0, err
	}
	players, err := s.provider.CollectPlayers(ctx, season)
	if err != nil {
		return total, fmt.Errorf("%w: %v", ingestiondomain.ErrUpstreamFailed, err)
	}
	total += players

	if err := s.budget.WaitFor(ctx, config.BudgetProviderStatcast); err != nil {
		return total, err
	}
	stats, err := s.provider.CollectSeasonStats(ctx, season)
	if err != nil {
		return total, fmt.Errorf("%w: %v", ingestiondomain.ErrUpstreamFailed, err)
	}
	total += stats

	s.log.Info("reference refresh finished",
		zap.Int("season", season),
		zap.Int("players", players),
		zap.Int("season_stats", stats),
	)
	return total, nil
}

func (s *Service) GetJob(ctx context.Context, id snowflake.ID) (*ingestiondomain.IngestionJob, error) {
	var job ingestiondomain.IngestionJob
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ingestiondomain.ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (s *Service) ListJobs(ctx context.Context, req ingestiondomain.ListJobsRequest) (ingestiondomain.ListJobsResponse, error) {
	pageSize := int(req.PageSize)
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	query := s.db.WithContext(ctx).Model(&ingestiondomain.IngestionJob{}).Order("id DESC")
	if req.Source != "" {
		query = query.Where("source = ?", req.Source)
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return ingestiondomain.ListJobsResponse{}, err
		}
		lastID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return ingestiondomain.ListJobsResponse{}, err
		}
		query = query.Where("id < ?", lastID)
	}

	var jobs []*ingestiondomain.IngestionJob
	if err := query.Limit(pageSize + 1).Find(&jobs).Error; err != nil {
		return ingestiondomain.ListJobsResponse{}, err
	}

	jobs, pageInfo := pagination.BuildCursorPageInfo(jobs, pageSize, func(job *ingestiondomain.IngestionJob) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: job.ID.String()})
		return token
	})

	resp := ingestiondomain.ListJobsResponse{PageInfo: *pageInfo}
	if !pageInfo.HasMore {
		resp.NextPageToken = ""
	}
	resp.Jobs = make([]ingestiondomain.IngestionJob, 0, len(jobs))
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, *job)
	}
	return resp, nil
}

func (s *Service) resolveRange(req ingestiondomain.BackfillRequest) (time.Time, time.Time, error) {
	today := s.clock.Now().UTC().Truncate(24 * time.Hour)

	if req.StartDate != "" || req.EndDate != "" {
		start, err := time.Parse(dateLayout, req.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, ingestiondomain.ErrInvalidRange
		}
		end, err := time.Parse(dateLayout, req.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, ingestiondomain.ErrInvalidRange
		}
		if end.Before(start) || start.After(today) {
			return time.Time{}, time.Time{}, ingestiondomain.ErrInvalidRange
		}
		if end.After(today) {
			end = today
		}
		return start, end, nil
	}

	season := req.Season
	if season == 0 {
		season = today.Year()
	}
	if season < 1900 || season > today.Year() {
		return time.Time{}, time.Time{}, ingestiondomain.ErrInvalidRange
	}

	start, _ := time.Parse(dateLayout, fmt.Sprintf(seasonFirstDay, season))
	end, _ := time.Parse(dateLayout, fmt.Sprintf(seasonLastDay, season))
	if start.After(today) {
		return time.Time{}, time.Time{}, ingestiondomain.ErrInvalidRange
	}
	if end.After(today) {
		end = today
	}
	return start, end, nil
}

// findOrCreateJob reuses the latest job covering the exact same range so a
// rerun resumes from its checkpoints instead of re-collecting.
func (s *Service) findOrCreateJob(ctx context.Context, source string, start, end time.Time, chunkDays int) (*ingestiondomain.IngestionJob, error) {
	startKey := start.Format(dateLayout)
	endKey := end.Format(dateLayout)

	var job ingestiondomain.IngestionJob
	err := s.db.WithContext(ctx).
		Where("source = ? AND start_date = ? AND end_date = ?", source, startKey, endKey).
		Order("id DESC").
		First(&job).Error
	if err == nil {
		return &job, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	job = ingestiondomain.IngestionJob{
		ID:        s.genID.Generate(),
		Source:    source,
		StartDate: startKey,
		EndDate:   endKey,
		ChunkDays: chunkDays,
		Status:    ingestiondomain.JobStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// chunkKey identifies a checkpoint by its full range; a success counts only
// for the exact chunk it recorded.
type chunkKey struct {
	start string
	end   string
}

func (s *Service) completedChunks(ctx context.Context, jobID snowflake.ID) (map[chunkKey]bool, error) {
	var checkpoints []ingestiondomain.IngestionCheckpoint
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND outcome = ?", jobID, ingestiondomain.ChunkOutcomeSuccess).
		Find(&checkpoints).Error
	if err != nil {
		return nil, err
	}

	done := make(map[chunkKey]bool, len(checkpoints))
	for _, cp := range checkpoints {
		done[chunkKey{cp.ChunkStart, cp.ChunkEnd}] = true
	}
	return done, nil
}

func (s *Service) saveCheckpoint(ctx context.Context, jobID snowflake.ID, chunkStart, chunkEnd, outcome string, records, attempts int, lastError string) error {
	cp := ingestiondomain.IngestionCheckpoint{
		ID:         s.genID.Generate(),
		JobID:      jobID,
		ChunkStart: chunkStart,
		ChunkEnd:   chunkEnd,
		Outcome:    outcome,
		Records:    records,
		Attempts:   attempts,
		LastError:  lastError,
	}
	return s.db.WithContext(context.WithoutCancel(ctx)).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}, {Name: "chunk_start"}, {Name: "chunk_end"}},
		DoUpdates: clause.AssignmentColumns([]string{"outcome", "records", "attempts", "last_error", "updated_at"}),
	}).Create(&cp).Error
}

func finalStatus(total, processed, skipped, failed int) string {
	switch {
	case failed == 0 && processed+skipped == total:
		return ingestiondomain.JobStatusComplete
	case processed+skipped > 0:
		return ingestiondomain.JobStatusPartial
	default:
		return ingestiondomain.JobStatusFailed
	}
}

func (s *Service) incChunk(source, outcome string) {
	if s.metrics != nil {
		s.metrics.IncChunkOutcome(source, outcome)
	}
}

func (s *Service) observeChunk(began time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveChunkDuration(ingestiondomain.SourceStatcast, time.Since(began))
	}
}
