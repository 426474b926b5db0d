package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	statsdomain "github.com/jeffconboy/statedge/internal/stats/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newStatsFixture(t *testing.T, name string) (statsdomain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&statsdomain.Player{},
		&statsdomain.SeasonStat{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(ServiceParam{DB: db, Log: zap.NewNop()})
	return svc, db, node
}

func seedPlayer(t *testing.T, db *gorm.DB, node *snowflake.Node, mlbID int, name, team, position string) {
	t.Helper()
	require.NoError(t, db.Create(&statsdomain.Player{
		ID:       node.Generate(),
		MLBID:    mlbID,
		FullName: name,
		Team:     team,
		Position: position,
		Active:   true,
	}).Error)
}

func seedSeasonStat(t *testing.T, db *gorm.DB, node *snowflake.Node, season, mlbID int, group string, payload map[string]any) {
	t.Helper()
	require.NoError(t, db.Create(&statsdomain.SeasonStat{
		ID:        node.Generate(),
		Season:    season,
		MLBID:     mlbID,
		StatGroup: group,
		Payload:   datatypes.JSONMap(payload),
	}).Error)
}

func TestSearchPlayers(t *testing.T) {
	svc, db, node := newStatsFixture(t, "stats_search")
	seedPlayer(t, db, node, 592450, "Aaron Judge", "New York Yankees", "RF")
	seedPlayer(t, db, node, 660271, "Shohei Ohtani", "Los Angeles Dodgers", "DH")
	seedPlayer(t, db, node, 605141, "Mookie Betts", "Los Angeles Dodgers", "SS")

	ctx := context.Background()

	resp, err := svc.SearchPlayers(ctx, statsdomain.SearchPlayersRequest{Name: "judge"})
	require.NoError(t, err)
	require.Len(t, resp.Players, 1)
	assert.Equal(t, "Aaron Judge", resp.Players[0].FullName)

	resp, err = svc.SearchPlayers(ctx, statsdomain.SearchPlayersRequest{Team: "Los Angeles Dodgers"})
	require.NoError(t, err)
	assert.Len(t, resp.Players, 2)

	_, err = svc.SearchPlayers(ctx, statsdomain.SearchPlayersRequest{})
	assert.ErrorIs(t, err, statsdomain.ErrInvalidQuery)
}

func TestSearchPlayers_Pagination(t *testing.T) {
	svc, db, node := newStatsFixture(t, "stats_page")
	seedPlayer(t, db, node, 1001, "Test Hitter One", "Team A", "1B")
	seedPlayer(t, db, node, 1002, "Test Hitter Two", "Team A", "2B")
	seedPlayer(t, db, node, 1003, "Test Hitter Three", "Team B", "3B")

	ctx := context.Background()

	page, err := svc.SearchPlayers(ctx, statsdomain.SearchPlayersRequest{Name: "hitter", PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, page.Players, 2)
	assert.True(t, page.HasMore)
	require.NotEmpty(t, page.NextPageToken)

	rest, err := svc.SearchPlayers(ctx, statsdomain.SearchPlayersRequest{
		Name:      "hitter",
		PageSize:  2,
		PageToken: page.NextPageToken,
	})
	require.NoError(t, err)
	assert.Len(t, rest.Players, 1)
	assert.False(t, rest.HasMore)
}

func TestPlayerSummary(t *testing.T) {
	svc, db, node := newStatsFixture(t, "stats_summary")
	seedPlayer(t, db, node, 592450, "Aaron Judge", "New York Yankees", "RF")
	seedSeasonStat(t, db, node, 2024, 592450, "hitting", map[string]any{"homeRuns": 58})
	seedSeasonStat(t, db, node, 2025, 592450, "hitting", map[string]any{"homeRuns": 41})

	summary, err := svc.PlayerSummary(context.Background(), 592450)
	require.NoError(t, err)
	assert.Equal(t, "Aaron Judge", summary.Player.FullName)
	require.Len(t, summary.SeasonStats, 2)
	assert.Equal(t, 2025, summary.SeasonStats[0].Season, "most recent season first")

	_, err = svc.PlayerSummary(context.Background(), 999999)
	assert.ErrorIs(t, err, statsdomain.ErrPlayerNotFound)
}

func TestLeaderboard(t *testing.T) {
	svc, db, node := newStatsFixture(t, "stats_leaders")
	seedPlayer(t, db, node, 1, "Slugger A", "Team A", "RF")
	seedPlayer(t, db, node, 2, "Slugger B", "Team B", "CF")
	seedPlayer(t, db, node, 3, "Slugger C", "Team C", "LF")
	seedSeasonStat(t, db, node, 2025, 1, "hitting", map[string]any{"homeRuns": float64(30), "avg": ".290"})
	seedSeasonStat(t, db, node, 2025, 2, "hitting", map[string]any{"homeRuns": float64(45), "avg": ".310"})
	seedSeasonStat(t, db, node, 2025, 3, "hitting", map[string]any{"homeRuns": float64(12), "avg": ".330"})

	resp, err := svc.Leaderboard(context.Background(), statsdomain.LeaderboardRequest{
		Season: 2025,
		Limit:  2,
	})
	require.NoError(t, err)
	require.Len(t, resp.Rows, 2)
	assert.Equal(t, "Slugger B", resp.Rows[0].Player.FullName)
	assert.Equal(t, float64(45), resp.Rows[0].Value)
	assert.Equal(t, "Slugger A", resp.Rows[1].Player.FullName)

	// String-encoded metrics rank too.
	resp, err = svc.Leaderboard(context.Background(), statsdomain.LeaderboardRequest{
		Season: 2025,
		Metric: "avg",
		Limit:  1,
	})
	require.NoError(t, err)
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, "Slugger C", resp.Rows[0].Player.FullName)

	_, err = svc.Leaderboard(context.Background(), statsdomain.LeaderboardRequest{})
	assert.ErrorIs(t, err, statsdomain.ErrInvalidQuery)
}

func TestTrending_UsesLatestSeason(t *testing.T) {
	svc, db, node := newStatsFixture(t, "stats_trending")
	seedPlayer(t, db, node, 1, "Old Leader", "Team A", "RF")
	seedPlayer(t, db, node, 2, "New Leader", "Team B", "CF")
	seedSeasonStat(t, db, node, 2024, 1, "hitting", map[string]any{"homeRuns": float64(62)})
	seedSeasonStat(t, db, node, 2025, 2, "hitting", map[string]any{"homeRuns": float64(20)})

	rows, err := svc.Trending(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "New Leader", rows[0].Player.FullName)
}

func TestTrending_EmptyDatabase(t *testing.T) {
	svc, _, _ := newStatsFixture(t, "stats_empty")

	rows, err := svc.Trending(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
