package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/plume/internal/config"
	"github.com/ifuryst/plume/internal/service"
)

type Server struct {
	Config   *config.Config
	DB       *gorm.DB
	Router   *gin.Engine
	Logger   *zap.Logger
	Server   *http.Server
	Registry *prometheus.Registry

	Pipeline *service.Pipeline

	// baseCtx outlives individual requests; the scheduler loop runs on it.
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return newServer(cfg, db, logger)
}

func newServer(cfg *config.Config, db *gorm.DB, logger *zap.Logger) (*Server, error) {
	gin.SetMode(cfg.Server.Mode)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pipeline, err := service.NewPipeline(cfg, db, logger, registry)
	if err != nil {
		return nil, err
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	srv := &Server{
		Config:     cfg,
		DB:         db,
		Router:     gin.New(),
		Logger:     logger,
		Registry:   registry,
		Pipeline:   pipeline,
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func (s *Server) setupMiddleware() {
	s.Router.Use(gin.Recovery())

	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health", "/metrics"},
	}))

	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})
	s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})))

	api := s.Router.Group("/api/v1")
	{
		scheduler := api.Group("/scheduler")
		{
			scheduler.GET("", s.handleSchedulerStatus)
			scheduler.POST("", s.handleSchedulerAction)
		}

		posts := api.Group("/posts")
		{
			posts.POST("", s.handleCreatePost)
			posts.GET("/:id", s.handleGetPost)
			posts.POST("/:id/schedule", s.handleSchedulePost)
			posts.POST("/:id/archive", s.handleArchivePost)
		}

		channels := api.Group("/channels")
		{
			channels.POST("", s.handleCreateChannel)
			channels.POST("/validate", s.handleValidateChannel)
		}
	}
}

// Start brings up the scheduler when enabled and then serves HTTP until
// the listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.cancelBase)
	defer stop()

	if s.Config.Scheduler.IsEnabled() {
		s.Pipeline.Scheduler.Start(s.baseCtx)
	} else {
		s.Logger.Info("Scheduler disabled by configuration")
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	var err error
	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		err = s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	} else {
		err = s.Server.ListenAndServe()
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the scheduler, waits for a tick in flight and then drains
// HTTP connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Pipeline.Scheduler.Stop()
	s.Pipeline.Scheduler.Wait()
	s.cancelBase()

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
