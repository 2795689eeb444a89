// Package echoadmin exposes eviction.Loop's admin surface as Echo routes.
//
// Kept in its own package, separate from the other admin surfaces, so
// that importing one of them does not pull in github.com/labstack/echo.
//
// Usage:
//
//	e := echo.New()
//	g := e.Group("/admin")
//	echoadmin.Register(g, loop)
package echoadmin

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kestrelstore/pageguard/eviction"
)

// Register mounts POST /evict and GET /evict/last on g.
func Register(g *echo.Group, loop *eviction.Loop) {
	g.POST("/evict", triggerHandler(loop))
	g.GET("/evict/last", lastReportHandler(loop))
}

func triggerHandler(loop *eviction.Loop) echo.HandlerFunc {
	return func(c echo.Context) error {
		if loop == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "disk usage eviction is not configured"})
		}
		report, err := loop.TriggerNow(c.Request().Context())
		if err != nil {
			if errors.Is(err, eviction.ErrIterationAlreadyRunning) {
				return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
			}
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, report)
	}
}

func lastReportHandler(loop *eviction.Loop) echo.HandlerFunc {
	return func(c echo.Context) error {
		if loop == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "disk usage eviction is not configured"})
		}
		return c.JSON(http.StatusOK, loop.LastReport())
	}
}
