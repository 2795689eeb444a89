// Package ginadmin exposes eviction.Loop's admin surface as Gin routes.
//
// Kept in its own package, separate from the other admin surfaces, so
// that importing one of them does not pull in github.com/gin-gonic/gin.
//
// Usage:
//
//	r := gin.Default()
//	ginadmin.Register(r.Group("/admin"), loop)
package ginadmin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kestrelstore/pageguard/eviction"
)

// Register mounts POST /evict and GET /evict/last on g.
func Register(g *gin.RouterGroup, loop *eviction.Loop) {
	g.POST("/evict", triggerHandler(loop))
	g.GET("/evict/last", lastReportHandler(loop))
}

func triggerHandler(loop *eviction.Loop) gin.HandlerFunc {
	return func(c *gin.Context) {
		if loop == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "disk usage eviction is not configured"})
			return
		}
		report, err := loop.TriggerNow(c.Request.Context())
		if err != nil {
			if errors.Is(err, eviction.ErrIterationAlreadyRunning) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func lastReportHandler(loop *eviction.Loop) gin.HandlerFunc {
	return func(c *gin.Context) {
		if loop == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "disk usage eviction is not configured"})
			return
		}
		c.JSON(http.StatusOK, loop.LastReport())
	}
}
