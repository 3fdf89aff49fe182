// Package api implements a read-only HTTP surface over the coordinator's
// domain store for dashboards and operator tooling, built on Gin (component
// C6's out-of-band cousin: operators who prefer curl to the CLI).
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/north-cloud/crawlcoord/internal/logger"
	"github.com/north-cloud/crawlcoord/internal/operator"
	"github.com/north-cloud/crawlcoord/internal/priority"
)

const readHeaderTimeout = 10 * time.Second

// NewServer builds the configured *http.Server; callers own ListenAndServe.
func NewServer(addr string, log logger.Interface, op *operator.Operator, prio *priority.Calculator) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(log))

	h := &handlers{operator: op, priority: prio}

	router.GET("/health", h.health)

	v1 := router.Group("/api/v1")
	v1.GET("/domains", h.domainStatusSummary)
	v1.GET("/domains/:domain", h.domainInfo)
	v1.GET("/domains/by-status/:status", h.domainsByStatus)
	v1.GET("/priority/summary", h.prioritySummary)

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func loggingMiddleware(log logger.Interface) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}
