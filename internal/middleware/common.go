package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
)

// Config customises the middleware pipeline.
type Config struct {
	Logger       *zerolog.Logger
	AllowOrigins []string
	AccessLog    bool
}

// Register installs the pipeline shared by every grading route, in order: panic recovery,
// correlation tagging, request observation, optional access log, then CORS.
func Register(app *fiber.App, cfg Config) {
	for _, h := range pipeline(cfg) {
		app.Use(h)
	}
}

func pipeline(cfg Config) []fiber.Handler {
	requestLogger := zerolog.Nop()
	if cfg.Logger != nil {
		requestLogger = *cfg.Logger
	}

	handlers := []fiber.Handler{
		recover.New(recover.Config{EnableStackTrace: cfg.AccessLog}),
		CorrelationID(),
		Observability(requestLogger),
	}
	if cfg.AccessLog {
		handlers = append(handlers, logger.New(logger.Config{
			Format: "${time} ${status} ${method} ${path} ${latency} ${respHeader:" + HeaderCorrelationID + "}\n",
		}))
	}
	return append(handlers, cors.New(corsConfig(cfg.AllowOrigins)))
}

func corsConfig(origins []string) cors.Config {
	allow := "*"
	if len(origins) > 0 {
		allow = strings.Join(origins, ",")
	}
	return cors.Config{
		AllowOrigins: allow,
		// Scans arrive as multipart, everything else as JSON.
		AllowHeaders:  strings.Join([]string{fiber.HeaderOrigin, fiber.HeaderContentType, fiber.HeaderAccept, fiber.HeaderAuthorization, HeaderCorrelationID}, ", "),
		AllowMethods:  strings.Join([]string{fiber.MethodGet, fiber.MethodPost, fiber.MethodOptions}, ","),
		ExposeHeaders: strings.Join([]string{HeaderCorrelationID, fiber.HeaderRetryAfter}, ", "),
		MaxAge:        600,
	}
}
