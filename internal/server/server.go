package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	analyticsservice "github.com/smallbiznis/revlens/internal/analytics/service"
	"github.com/smallbiznis/revlens/internal/clock"
	cohortservice "github.com/smallbiznis/revlens/internal/cohort/service"
	"github.com/smallbiznis/revlens/internal/config"
	conversionservice "github.com/smallbiznis/revlens/internal/conversion/service"
	"github.com/smallbiznis/revlens/internal/observability"
	obsmiddleware "github.com/smallbiznis/revlens/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/revlens/internal/observability/metrics"
	obstracing "github.com/smallbiznis/revlens/internal/observability/tracing"
	"github.com/smallbiznis/revlens/internal/scheduler"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine        *gin.Engine
	cfg           config.Config
	clock         clock.Clock
	reportingLoc  *time.Location
	cohortSvc     *cohortservice.Service
	conversionSvc *conversionservice.Service
	analyticsSvc  *analyticsservice.Service
	scheduler     *scheduler.Scheduler
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Clock         clock.Clock
	CohortSvc     *cohortservice.Service
	ConversionSvc *conversionservice.Service
	AnalyticsSvc  *analyticsservice.Service
	Scheduler     *scheduler.Scheduler `optional:"true"`
}

func NewServer(p ServerParams) (*Server, error) {
	loc, err := clock.LoadLocation(p.Cfg.ReportingTimezone)
	if err != nil {
		return nil, err
	}

	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		clock:         p.Clock,
		reportingLoc:  loc,
		cohortSvc:     p.CohortSvc,
		conversionSvc: p.ConversionSvc,
		analyticsSvc:  p.AnalyticsSvc,
		scheduler:     p.Scheduler,
	}

	svc.registerAPIRoutes()

	return svc, nil
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	api.GET("/analytics/retention", s.GetRetention)
	api.GET("/analytics/trial-conversion", s.GetTrialConversion)
	api.GET("/analytics/snapshot", s.GetAnalyticsSnapshot)

	api.POST("/snapshots/run", s.RunSnapshot)
}
