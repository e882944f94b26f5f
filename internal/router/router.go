package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grading-api/internal/config"
	"github.com/noah-isme/gema-grading-api/internal/handler"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	EssayHandler      *handler.EssayHandler
	ExamHandler       *handler.ExamHandler
	EvaluationHandler *handler.EvaluationHandler
	HealthProbes      map[string]handler.HealthProbe
	JWTMiddleware     fiber.Handler
	MetricsHandler    fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	if deps.MetricsHandler != nil {
		app.Get("/metrics", deps.MetricsHandler)
	}

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.EssayHandler != nil {
		deps.EssayHandler.Register(app.Group("/api/v2/essays", jwtMiddleware))
	}

	if deps.ExamHandler != nil {
		deps.ExamHandler.Register(app.Group("/api/v2/exams", jwtMiddleware))
	}

	if deps.EvaluationHandler != nil {
		deps.EvaluationHandler.Register(app.Group("/api/v2/evaluations", jwtMiddleware))
	}
}
