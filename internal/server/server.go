package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"ledger-engine/config"
	"ledger-engine/internal/handler"
	"ledger-engine/internal/middleware"
	"ledger-engine/internal/transport/httpdto"
	"ledger-engine/pkg/logger"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
}

var (
	ReleaseMode = "production"
	TestMode    = "test"
)

type Handlers struct {
	Account *handler.AccountHandler
	Saga    *handler.SagaMonitorHandler
}

func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.Server.Environment == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.Server.Environment == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
			Handler: engine,
		},
		engine: engine,
		config: cfg,
		logger: l,
	}
}

// SetupRoutes wires middleware and endpoints. healthCheck probes the
// relational store.
func (s *Server) SetupRoutes(handlers *Handlers, healthCheck func() error) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		if err := healthCheck(); err != nil {
			c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(err.Error(), "UNHEALTHY"))
			return
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
	})

	accounts := s.engine.Group("/v1/accounts")
	{
		accounts.POST("/:id/deposit", handlers.Account.Deposit)
		accounts.POST("/:id/withdraw", handlers.Account.Withdraw)
		accounts.POST("/:id/transfer", handlers.Account.Transfer)
		accounts.GET("/:id", handlers.Account.GetAccount)
	}

	s.engine.GET("/v1/saga/:txId", handlers.Saga.GetStatus)
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Infof("http server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
