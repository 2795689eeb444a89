// Package fiberadmin exposes eviction.Loop's admin surface as Fiber routes.
//
// Kept in its own package, separate from the other admin surfaces, so
// that importing one of them does not pull in github.com/gofiber/fiber/v2.
//
// Usage:
//
//	app := fiber.New()
//	fiberadmin.Register(app.Group("/admin"), loop)
package fiberadmin

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/kestrelstore/pageguard/eviction"
)

// Register mounts POST /evict and GET /evict/last on g.
func Register(g fiber.Router, loop *eviction.Loop) {
	g.Post("/evict", triggerHandler(loop))
	g.Get("/evict/last", lastReportHandler(loop))
}

func triggerHandler(loop *eviction.Loop) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if loop == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "disk usage eviction is not configured"})
		}
		report, err := loop.TriggerNow(c.Context())
		if err != nil {
			if errors.Is(err, eviction.ErrIterationAlreadyRunning) {
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusOK).JSON(report)
	}
}

func lastReportHandler(loop *eviction.Loop) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if loop == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "disk usage eviction is not configured"})
		}
		return c.Status(fiber.StatusOK).JSON(loop.LastReport())
	}
}
