package domain

import (
	"context"
	"errors"

	"github.com/jeffconboy/statedge/pkg/db/pagination"
)

type SearchPlayersRequest struct {
	Name      string `json:"name" form:"name"`
	Team      string `json:"team" form:"team"`
	Position  string `json:"position" form:"position"`
	PageToken string `json:"page_token" form:"page_token"`
	PageSize  int32  `json:"page_size" form:"page_size"`
}

type SearchPlayersResponse struct {
	pagination.PageInfo
	Players []Player `json:"players"`
}

// PlayerSummary joins a player's reference row with every season line on
// record.
type PlayerSummary struct {
	Player      Player       `json:"player"`
	SeasonStats []SeasonStat `json:"season_stats"`
}

type LeaderboardRequest struct {
	Season    int    `json:"season" form:"season"`
	StatGroup string `json:"stat_group" form:"stat_group"`
	Metric    string `json:"metric" form:"metric"`
	Limit     int    `json:"limit" form:"limit"`
}

// LeaderboardRow pairs a player with the metric value it ranked on.
type LeaderboardRow struct {
	Player Player         `json:"player"`
	Value  float64        `json:"value"`
	Stats  map[string]any `json:"stats"`
}

type LeaderboardResponse struct {
	Season    int              `json:"season"`
	StatGroup string           `json:"stat_group"`
	Metric    string           `json:"metric"`
	Rows      []LeaderboardRow `json:"rows"`
}

// Service answers read queries over collected data.
type Service interface {
	SearchPlayers(ctx context.Context, req SearchPlayersRequest) (SearchPlayersResponse, error)
	PlayerSummary(ctx context.Context, mlbID int) (*PlayerSummary, error)
	Leaderboard(ctx context.Context, req LeaderboardRequest) (LeaderboardResponse, error)
	Trending(ctx context.Context, limit int) ([]LeaderboardRow, error)
}

var (
	ErrPlayerNotFound = errors.New("player_not_found")
	ErrInvalidQuery   = errors.New("invalid_query")
)
