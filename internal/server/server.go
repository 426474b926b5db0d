package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/jeffconboy/statedge/internal/cache"
	"github.com/jeffconboy/statedge/internal/config"
	ingestiondomain "github.com/jeffconboy/statedge/internal/ingestion/domain"
	"github.com/jeffconboy/statedge/internal/observability"
	obsmiddleware "github.com/jeffconboy/statedge/internal/observability/logger"
	obsmetrics "github.com/jeffconboy/statedge/internal/observability/metrics"
	quotadomain "github.com/jeffconboy/statedge/internal/quota/domain"
	"github.com/jeffconboy/statedge/internal/ratelimit"
	statsdomain "github.com/jeffconboy/statedge/internal/stats/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, metrics *obsmetrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obsmetrics.GinMiddleware(metrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, metrics *obsmetrics.Metrics) *gin.Engine {
	return NewEngine(obsCfg, metrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	genID      *snowflake.Node
	quotaSvc   quotadomain.Service
	statsSvc   statsdomain.Service
	ingestSvc  ingestiondomain.Service
	respCache  *cache.ResponseCache
	budget     ratelimit.Budget
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	GenID      *snowflake.Node
	QuotaSvc   quotadomain.Service
	StatsSvc   statsdomain.Service
	IngestSvc  ingestiondomain.Service
	RespCache  *cache.ResponseCache
	Budget     ratelimit.Budget
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		genID:      p.GenID,
		quotaSvc:   p.QuotaSvc,
		statsSvc:   p.StatsSvc,
		ingestSvc:  p.IngestSvc,
		respCache:  p.RespCache,
		budget:     p.Budget,
		obsMetrics: p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	// Trending serves unauthenticated discovery: no credentials, no quota.
	s.engine.GET("/api/trending", s.Trending)

	api := s.engine.Group("/api", s.APIKeyRequired())

	metered := api.Group("", s.QuotaAdmission())
	metered.GET("/players/search", s.SearchPlayers)
	metered.GET("/players/:mlb_id/summary", s.PlayerSummary)
	metered.GET("/leaderboard", s.Leaderboard)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/api/admin", s.APIKeyRequired(), s.TierRequired(config.TierPremium))

	admin.POST("/collect-data", s.BudgetAdmission(config.BudgetManualCollection), s.CollectData)
	admin.POST("/collect-reference", s.BudgetAdmission(config.BudgetReferenceRefresh), s.CollectReference)
	admin.POST("/backfill", s.BudgetAdmission(config.BudgetSeasonBackfill), s.RunBackfill)
	admin.GET("/jobs", s.ListJobs)
	admin.GET("/jobs/:id", s.GetJob)
}
