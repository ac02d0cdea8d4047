// Package admin is the small ops HTTP surface each binary runs next to its
// main loop: liveness, counter snapshots, and (where registered) a refresh
// trigger for the CRUD collaborator.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mya15oct/stock-backend/pkg/metrics"
)

type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// RefreshFunc is invoked by POST /refresh; nil disables the route.
type RefreshFunc func(ctx context.Context) error

func NewServer(addr string, reg *metrics.Registry, refresh RefreshFunc, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, reg.Snapshot())
	})

	if refresh != nil {
		router.POST("/refresh", func(c *gin.Context) {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
			defer cancel()

			if err := refresh(ctx); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "refreshed"})
		})
	}

	return &Server{
		srv:    &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

// Start runs the listener in the background; ListenAndServe errors other
// than a clean shutdown are logged, not fatal.
func (s *Server) Start() {
	go func() {
		s.logger.Info("Admin server started", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Admin server error", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
