package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/jeffconboy/statedge/internal/cache"
	"github.com/jeffconboy/statedge/internal/clock"
	"github.com/jeffconboy/statedge/internal/config"
	identitydomain "github.com/jeffconboy/statedge/internal/identity/domain"
	ingestiondomain "github.com/jeffconboy/statedge/internal/ingestion/domain"
	ingestionservice "github.com/jeffconboy/statedge/internal/ingestion/service"
	"github.com/jeffconboy/statedge/internal/observability"
	quotaservice "github.com/jeffconboy/statedge/internal/quota/service"
	"github.com/jeffconboy/statedge/internal/ratelimit"
	statsdomain "github.com/jeffconboy/statedge/internal/stats/domain"
	statsservice "github.com/jeffconboy/statedge/internal/stats/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCollector struct {
	mu        sync.Mutex
	failDates map[string]bool
}

func (p *fakeCollector) CollectDay(_ context.Context, date string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failDates[date] {
		return 0, errors.New("upstream boom")
	}
	return 3, nil
}

func (p *fakeCollector) CollectPlayers(context.Context, int) (int, error)     { return 50, nil }
func (p *fakeCollector) CollectSeasonStats(context.Context, int) (int, error) { return 25, nil }

type testEnv struct {
	server    *Server
	db        *gorm.DB
	node      *snowflake.Node
	clock     *clock.FakeClock
	collector *fakeCollector
	limits    config.LimitsConfig
}

func newTestServer(t *testing.T, name string, mutateLimits func(*config.LimitsConfig)) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&identitydomain.Identity{},
		&ingestiondomain.IngestionJob{},
		&ingestiondomain.IngestionCheckpoint{},
		&statsdomain.Player{},
		&statsdomain.GameLog{},
		&statsdomain.SeasonStat{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC))

	limits := config.DefaultLimitsConfig()
	limits.Budgets[config.BudgetProviderStatcast] = config.BudgetRule{Limit: 100000, Window: time.Minute}
	if mutateLimits != nil {
		mutateLimits(&limits)
	}
	holder := config.NewStaticLimitsHolder(limits)
	logger := zap.NewNop()

	quotaSvc := quotaservice.NewService(quotaservice.ServiceParam{
		DB:     db,
		Log:    logger,
		Limits: holder,
		Clock:  fake,
	})

	statsSvc := statsservice.NewService(statsservice.ServiceParam{DB: db, Log: logger})

	collector := &fakeCollector{failDates: make(map[string]bool)}
	ingestSvc := ingestionservice.NewService(ingestionservice.ServiceParam{
		DB:       db,
		Log:      logger,
		Clock:    fake,
		GenID:    node,
		Provider: collector,
		Budget:   ratelimit.NewMemoryBudget(holder, clock.NewSystemClock()),
		Locker:   ratelimit.NewMemoryLocker(fake),
	})

	respCache := cache.NewResponseCache(cache.ResponseCacheParam{
		Store:  cache.NewMemoryStore(cache.NewTTLCacheWithClock[string, []byte](fake)),
		Limits: holder,
		Log:    logger,
	})

	engine := NewEngine(observability.Config{LogLevel: "error"}, nil)
	srv := NewServer(ServerParams{
		Gin:       engine,
		Cfg:       config.Config{HTTPAddr: ":0"},
		DB:        db,
		GenID:     node,
		QuotaSvc:  quotaSvc,
		StatsSvc:  statsSvc,
		IngestSvc: ingestSvc,
		RespCache: respCache,
		Budget:    ratelimit.NewMemoryBudget(holder, clock.NewSystemClock()),
	})

	return &testEnv{
		server:    srv,
		db:        db,
		node:      node,
		clock:     fake,
		collector: collector,
		limits:    limits,
	}
}

func (e *testEnv) seedIdentity(t *testing.T, apiKey, tier string, used int) {
	t.Helper()
	require.NoError(t, e.db.Create(&identitydomain.Identity{
		ID:             e.node.Generate(),
		APIKey:         apiKey,
		Name:           "test",
		Tier:           tier,
		CallsUsedToday: used,
		LastResetDate:  "2025-06-14",
	}).Error)
}

func (e *testEnv) seedPlayer(t *testing.T, mlbID int, name string) {
	t.Helper()
	require.NoError(t, e.db.Create(&statsdomain.Player{
		ID:       e.node.Generate(),
		MLBID:    mlbID,
		FullName: name,
		Team:     "New York Yankees",
		Position: "RF",
		Active:   true,
	}).Error)
}

func (e *testEnv) do(method, path, apiKey, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if apiKey != "" {
		req.Header.Set(HeaderAPIKey, apiKey)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.Engine().ServeHTTP(w, req)
	return w
}

func TestHealth_NoAuthRequired(t *testing.T) {
	env := newTestServer(t, "srv_health", nil)

	w := env.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSearch_RequiresAPIKey(t *testing.T) {
	env := newTestServer(t, "srv_auth", nil)

	w := env.do(http.MethodGet, "/api/players/search?name=judge", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodGet, "/api/players/search?name=judge", "no-such-key", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSearch_QuotaHeadersAndCachedFlag(t *testing.T) {
	env := newTestServer(t, "srv_search", nil)
	env.seedIdentity(t, "key-free", config.TierFree, 0)
	env.seedPlayer(t, 592450, "Aaron Judge")

	w := env.do(http.MethodGet, "/api/players/search?name=judge", "key-free", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "50", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "49", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

	var envelope cachedEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.False(t, envelope.Cached)
	assert.Contains(t, string(envelope.Data), "Aaron Judge")

	// Same query again: served from cache, still charged against the quota.
	w = env.do(http.MethodGet, "/api/players/search?name=judge", "key-free", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "48", w.Header().Get("X-RateLimit-Remaining"))

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.True(t, envelope.Cached)
	assert.Contains(t, string(envelope.Data), "Aaron Judge")
}

func TestQuotaExhausted_Returns429(t *testing.T) {
	env := newTestServer(t, "srv_quota", nil)
	env.seedIdentity(t, "key-empty", config.TierFree, 50)

	w := env.do(http.MethodGet, "/api/players/search?name=judge", "key-empty", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	var resp rateLimitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", resp.ErrorCode)
	assert.Equal(t, 50, resp.Limit)
	assert.Equal(t, 0, resp.Remaining)
	assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), resp.ResetAt)
}

func TestTrending_BypassesQuota(t *testing.T) {
	env := newTestServer(t, "srv_trending", nil)
	env.seedIdentity(t, "key-empty", config.TierFree, 50)

	// No credentials at all.
	w := env.do(http.MethodGet, "/api/trending", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// A caller with an exhausted quota is served too, and stays uncharged.
	w = env.do(http.MethodGet, "/api/trending", "key-empty", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var after identitydomain.Identity
	require.NoError(t, env.db.First(&after, "api_key = ?", "key-empty").Error)
	assert.Equal(t, 50, after.CallsUsedToday, "trending never charges the ledger")
}

func TestAdminRoutes_RequirePremiumTier(t *testing.T) {
	env := newTestServer(t, "srv_admintier", nil)
	env.seedIdentity(t, "key-basic", config.TierBasic, 0)

	w := env.do(http.MethodPost, "/api/admin/collect-data", "key-basic", `{"date":"2025-06-13"}`)
	require.Equal(t, http.StatusForbidden, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "forbidden", resp.Error.Type)
}

func TestAdminCollect_BudgetWindow(t *testing.T) {
	env := newTestServer(t, "srv_budget", func(limits *config.LimitsConfig) {
		limits.Budgets[config.BudgetManualCollection] = config.BudgetRule{Limit: 1, Window: time.Hour}
	})
	env.seedIdentity(t, "key-admin", config.TierPremium, 0)

	w := env.do(http.MethodPost, "/api/admin/collect-data", "key-admin", `{"date":"2025-06-13"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp collectionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, 3, resp.TotalRecordsCollected)
	assert.Equal(t, "2025-06-13 to 2025-06-13", resp.DateRange)

	// Second trigger inside the window trips the operation budget.
	w = env.do(http.MethodPost, "/api/admin/collect-data", "key-admin", `{"date":"2025-06-13"}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var limited rateLimitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &limited))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", limited.ErrorCode)
	assert.GreaterOrEqual(t, limited.RetryAfter, 0)
}

func TestAdminBackfill_RunsAndListsJobs(t *testing.T) {
	env := newTestServer(t, "srv_backfill", nil)
	env.seedIdentity(t, "key-admin", config.TierPremium, 0)

	w := env.do(http.MethodPost, "/api/admin/backfill", "key-admin",
		`{"start_date":"2025-06-01","end_date":"2025-06-04","chunk_days":2}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp collectionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, 2, resp.BatchesProcessed)
	assert.Equal(t, 12, resp.TotalRecordsCollected)
	require.NotEmpty(t, resp.JobID)

	w = env.do(http.MethodGet, "/api/admin/jobs", "key-admin", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list ingestiondomain.ListJobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, ingestiondomain.JobStatusComplete, list.Jobs[0].Status)

	w = env.do(http.MethodGet, "/api/admin/jobs/"+resp.JobID, "key-admin", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/admin/jobs/123456789", "key-admin", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlayerSummary_NotFound(t *testing.T) {
	env := newTestServer(t, "srv_notfound", nil)
	env.seedIdentity(t, "key-free", config.TierFree, 0)

	w := env.do(http.MethodGet, "/api/players/999999/summary", "key-free", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not_found", resp.Error.Type)
}

func TestAdminCollect_UpstreamFailure(t *testing.T) {
	env := newTestServer(t, "srv_upstream", nil)
	env.seedIdentity(t, "key-admin", config.TierPremium, 0)
	env.collector.failDates["2025-06-13"] = true

	w := env.do(http.MethodPost, "/api/admin/collect-data", "key-admin", `{"date":"2025-06-13"}`)
	require.Equal(t, http.StatusBadGateway, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "upstream_unavailable", resp.Error.Type)
}

func TestAdminCollect_InvalidDate(t *testing.T) {
	env := newTestServer(t, "srv_baddate", nil)
	env.seedIdentity(t, "key-admin", config.TierPremium, 0)

	w := env.do(http.MethodPost, "/api/admin/collect-data", "key-admin", `{"date":"13-06-2025"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation_error", resp.Error.Type)
}
