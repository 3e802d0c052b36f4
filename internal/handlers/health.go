package handlers

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/logging"
)

const serviceName = "storefront"

var startTime = time.Now()

// Health handles GET /health
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": serviceName,
	})
}

// Ready handles GET /ready. The store must answer a ping.
func (h *Handlers) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Readiness check failed", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"service": serviceName,
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ready",
		"service": serviceName,
		"store":   h.config.Store.Driver,
	})
}

// Live handles GET /live
func (h *Handlers) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}

// Version handles GET /version
func (h *Handlers) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":     h.config.Version,
		"service":     serviceName,
		"environment": h.config.Environment,
		"go_version":  runtime.Version(),
		"started_at":  startTime.UTC().Format(time.RFC3339),
	})
}

type endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Docs lists the routes registered on the engine, sorted by path.
func Docs(routes func() gin.RoutesInfo) gin.HandlerFunc {
	return func(c *gin.Context) {
		infos := routes()
		out := make([]endpoint, 0, len(infos))
		for _, r := range infos {
			out = append(out, endpoint{Method: r.Method, Path: r.Path})
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Path != out[j].Path {
				return out[i].Path < out[j].Path
			}
			return out[i].Method < out[j].Method
		})
		c.JSON(http.StatusOK, gin.H{
			"service":   serviceName,
			"endpoints": out,
		})
	}
}
