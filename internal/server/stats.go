package server

import (
	"context"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jeffconboy/statedge/internal/config"
	statsdomain "github.com/jeffconboy/statedge/internal/stats/domain"
)

func (s *Server) SearchPlayers(c *gin.Context) {
	var req statsdomain.SearchPlayersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	s.serveWithCache(c, config.CacheClassSearch, c.Request.URL.Query(), func(ctx context.Context) (any, error) {
		return s.statsSvc.SearchPlayers(ctx, req)
	})
}

func (s *Server) PlayerSummary(c *gin.Context) {
	mlbID, err := strconv.Atoi(c.Param("mlb_id"))
	if err != nil || mlbID <= 0 {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	params := url.Values{"mlb_id": {strconv.Itoa(mlbID)}}
	s.serveWithCache(c, config.CacheClassPlayer, params, func(ctx context.Context) (any, error) {
		return s.statsSvc.PlayerSummary(ctx, mlbID)
	})
}

func (s *Server) Leaderboard(c *gin.Context) {
	var req statsdomain.LeaderboardRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	s.serveWithCache(c, config.CacheClassLeaderboard, c.Request.URL.Query(), func(ctx context.Context) (any, error) {
		return s.statsSvc.Leaderboard(ctx, req)
	})
}

func (s *Server) Trending(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	params := url.Values{"trending": {"1"}, "limit": {strconv.Itoa(limit)}}
	s.serveWithCache(c, config.CacheClassLeaderboard, params, func(ctx context.Context) (any, error) {
		return s.statsSvc.Trending(ctx, limit)
	})
}
