package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/jeffconboy/statedge/internal/config"
	statsdomain "github.com/jeffconboy/statedge/internal/stats/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

func newProviderTest(t *testing.T, name string, handler http.Handler) (Provider, *gorm.DB) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&statsdomain.Player{},
		&statsdomain.GameLog{},
		&statsdomain.SeasonStat{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	client := NewStatsAPIClient(StatsAPIParam{
		Config: config.Config{
			ProviderBaseURL: srv.URL,
			ProviderTimeout: 5 * time.Second,
		},
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})
	// Tests hit a local server; pacing would only slow them down.
	client.(*statsAPIClient).limiter = rate.NewLimiter(rate.Inf, 1)
	return client, db
}

func TestCollectDay_UpsertsGameLogs(t *testing.T) {
	calls := 0
	client, db := newProviderTest(t, "provider_day", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/schedule", r.URL.Path)
		assert.Equal(t, "2025-06-14", r.URL.Query().Get("date"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"dates":[{"date":"2025-06-14","games":[
			{"gamePk":777001,"status":{"detailedState":"Final"}},
			{"gamePk":777002,"status":{"detailedState":"Final"}}
		]}]}`))
	}))

	written, err := client.CollectDay(context.Background(), "2025-06-14")
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	// Re-collecting the same day rewrites in place, no duplicate rows.
	_, err = client.CollectDay(context.Background(), "2025-06-14")
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&statsdomain.GameLog{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 2, calls)
}

func TestCollectPlayers_UpsertsByMLBID(t *testing.T) {
	client, db := newProviderTest(t, "provider_players", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sports/1/players", r.URL.Path)
		assert.Equal(t, "2025", r.URL.Query().Get("season"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"people":[
			{"id":592450,"fullName":"Aaron Judge","active":true,
			 "currentTeam":{"name":"New York Yankees"},
			 "primaryPosition":{"abbreviation":"RF"}},
			{"id":0,"fullName":"Broken Row"}
		]}`))
	}))

	written, err := client.CollectPlayers(context.Background(), 2025)
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	var player statsdomain.Player
	require.NoError(t, db.First(&player, "mlb_id = ?", 592450).Error)
	assert.Equal(t, "Aaron Judge", player.FullName)
	assert.Equal(t, "RF", player.Position)
}

func TestCollectSeasonStats_CoversBothGroups(t *testing.T) {
	groups := map[string]int{}
	client, db := newProviderTest(t, "provider_season", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		group := r.URL.Query().Get("group")
		groups[group]++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"stats":[{"splits":[
			{"player":{"id":592450},"stat":{"avg":".310","homeRuns":30}}
		]}]}`))
	}))

	written, err := client.CollectSeasonStats(context.Background(), 2025)
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.Equal(t, 1, groups["hitting"])
	assert.Equal(t, 1, groups["pitching"])

	var count int64
	require.NoError(t, db.Model(&statsdomain.SeasonStat{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestCollectDay_UpstreamError(t *testing.T) {
	client, _ := newProviderTest(t, "provider_err", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))

	_, err := client.CollectDay(context.Background(), "2025-06-14")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}
