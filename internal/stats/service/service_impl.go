package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	statsdomain "github.com/jeffconboy/statedge/internal/stats/domain"
	"github.com/jeffconboy/statedge/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 250

	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100

	defaultMetric    = "homeRuns"
	defaultStatGroup = "hitting"
)

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p ServiceParam) statsdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("stats.service"),
	}
}

func (s *Service) SearchPlayers(ctx context.Context, req statsdomain.SearchPlayersRequest) (statsdomain.SearchPlayersResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" && strings.TrimSpace(req.Team) == "" && strings.TrimSpace(req.Position) == "" {
		return statsdomain.SearchPlayersResponse{}, statsdomain.ErrInvalidQuery
	}

	pageSize := int(req.PageSize)
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	query := s.db.WithContext(ctx).Model(&statsdomain.Player{}).Order("id ASC")
	if name != "" {
		query = query.Where("LOWER(full_name) LIKE ?", "%"+strings.ToLower(name)+"%")
	}
	if team := strings.TrimSpace(req.Team); team != "" {
		query = query.Where("LOWER(team) = ?", strings.ToLower(team))
	}
	if position := strings.TrimSpace(req.Position); position != "" {
		query = query.Where("LOWER(position) = ?", strings.ToLower(position))
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return statsdomain.SearchPlayersResponse{}, err
		}
		lastID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return statsdomain.SearchPlayersResponse{}, err
		}
		query = query.Where("id > ?", lastID)
	}

	var players []*statsdomain.Player
	if err := query.Limit(pageSize + 1).Find(&players).Error; err != nil {
		return statsdomain.SearchPlayersResponse{}, err
	}

	players, pageInfo := pagination.BuildCursorPageInfo(players, pageSize, func(p *statsdomain.Player) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: p.ID.String()})
		return token
	})

	resp := statsdomain.SearchPlayersResponse{PageInfo: *pageInfo}
	if !pageInfo.HasMore {
		resp.NextPageToken = ""
	}
	resp.Players = make([]statsdomain.Player, 0, len(players))
	for _, p := range players {
		resp.Players = append(resp.Players, *p)
	}
	return resp, nil
}

func (s *Service) PlayerSummary(ctx context.Context, mlbID int) (*statsdomain.PlayerSummary, error) {
	var player statsdomain.Player
	err := s.db.WithContext(ctx).First(&player, "mlb_id = ?", mlbID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, statsdomain.ErrPlayerNotFound
		}
		return nil, err
	}

	var seasons []statsdomain.SeasonStat
	err = s.db.WithContext(ctx).
		Where("mlb_id = ?", mlbID).
		Order("season DESC, stat_group ASC").
		Find(&seasons).Error
	if err != nil {
		return nil, err
	}

	return &statsdomain.PlayerSummary{Player: player, SeasonStats: seasons}, nil
}

// Leaderboard ranks season lines by one metric from the stored payload.
// Metrics arrive from the provider as numbers or as formatted strings like
// ".310", so ranking happens after decode rather than in SQL.
func (s *Service) Leaderboard(ctx context.Context, req statsdomain.LeaderboardRequest) (statsdomain.LeaderboardResponse, error) {
	if req.Season <= 0 {
		return statsdomain.LeaderboardResponse{}, statsdomain.ErrInvalidQuery
	}
	group := strings.TrimSpace(req.StatGroup)
	if group == "" {
		group = defaultStatGroup
	}
	metric := strings.TrimSpace(req.Metric)
	if metric == "" {
		metric = defaultMetric
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}

	var lines []statsdomain.SeasonStat
	err := s.db.WithContext(ctx).
		Where("season = ? AND stat_group = ?", req.Season, group).
		Find(&lines).Error
	if err != nil {
		return statsdomain.LeaderboardResponse{}, err
	}

	type ranked struct {
		mlbID int
		value float64
		stats map[string]any
	}
	rankedLines := make([]ranked, 0, len(lines))
	for _, line := range lines {
		value, ok := metricValue(line.Payload, metric)
		if !ok {
			continue
		}
		rankedLines = append(rankedLines, ranked{
			mlbID: line.MLBID,
			value: value,
			stats: line.Payload,
		})
	}
	sort.Slice(rankedLines, func(i, j int) bool {
		return rankedLines[i].value > rankedLines[j].value
	})
	if len(rankedLines) > limit {
		rankedLines = rankedLines[:limit]
	}

	resp := statsdomain.LeaderboardResponse{
		Season:    req.Season,
		StatGroup: group,
		Metric:    metric,
		Rows:      make([]statsdomain.LeaderboardRow, 0, len(rankedLines)),
	}
	if len(rankedLines) == 0 {
		return resp, nil
	}

	ids := make([]int, 0, len(rankedLines))
	for _, r := range rankedLines {
		ids = append(ids, r.mlbID)
	}
	var players []statsdomain.Player
	if err := s.db.WithContext(ctx).Where("mlb_id IN ?", ids).Find(&players).Error; err != nil {
		return statsdomain.LeaderboardResponse{}, err
	}
	byID := make(map[int]statsdomain.Player, len(players))
	for _, p := range players {
		byID[p.MLBID] = p
	}

	for _, r := range rankedLines {
		row := statsdomain.LeaderboardRow{Value: r.value, Stats: r.stats}
		if p, ok := byID[r.mlbID]; ok {
			row.Player = p
		} else {
			row.Player = statsdomain.Player{MLBID: r.mlbID}
		}
		resp.Rows = append(resp.Rows, row)
	}
	return resp, nil
}

// Trending surfaces the current leaders of the most recent season on record.
func (s *Service) Trending(ctx context.Context, limit int) ([]statsdomain.LeaderboardRow, error) {
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}

	var season int
	err := s.db.WithContext(ctx).
		Model(&statsdomain.SeasonStat{}).
		Select("COALESCE(MAX(season), 0)").
		Scan(&season).Error
	if err != nil {
		return nil, err
	}
	if season == 0 {
		return []statsdomain.LeaderboardRow{}, nil
	}

	resp, err := s.Leaderboard(ctx, statsdomain.LeaderboardRequest{
		Season: season,
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

// metricValue reads a numeric metric out of a stat payload. Averages come
// back from the provider as strings like ".310".
func metricValue(payload map[string]any, metric string) (float64, bool) {
	raw, ok := payload[metric]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
