package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"

	"github.com/harvestloop/harvestloop/internal/middleware"
)

const statusDisabled = "disabled"

// RegisterHealthRoutes adds the keep-alive ping endpoints and a readiness probe.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	ping := func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":    "success",
			"message":   "Server is running",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
	// Get also answers HEAD.
	app.Get("/ping", middleware.NoCache(), ping)
	app.Get("/api/ping", middleware.NoCache(), ping)

	app.Get("/healthz", middleware.NoCache(), func(c *fiber.Ctx) error {
		dbStatus, redisStatus := statusDisabled, statusDisabled

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		var g errgroup.Group
		if d.DB != nil {
			g.Go(func() error {
				dbStatus = "ok"
				if err := d.DB.Ping(ctx); err != nil {
					dbStatus = err.Error()
				}
				return nil
			})
		}
		if d.Cache != nil {
			g.Go(func() error {
				redisStatus = "ok"
				if err := d.Cache.Ping(ctx).Err(); err != nil {
					redisStatus = err.Error()
				}
				return nil
			})
		}
		_ = g.Wait()

		status := http.StatusOK
		if !healthy(dbStatus) || !healthy(redisStatus) {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    fiber.Map{"postgres": dbStatus, "redis": redisStatus},
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}

func healthy(status string) bool {
	return status == "ok" || status == statusDisabled
}
