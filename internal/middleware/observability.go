package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/observability"
)

const slowRequestThreshold = 500 * time.Millisecond

// Observability records request metrics and one log line per grading API call. Websocket
// upgrades are counted but kept out of the latency histogram since the stream outlives them.
func Observability(logger zerolog.Logger) fiber.Handler {
	observability.RegisterMetrics()

	return func(c *fiber.Ctx) error {
		if !strings.HasPrefix(c.Path(), "/api/") {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()
		elapsed := time.Since(start)

		route := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		method := c.Method()
		status := c.Response().StatusCode()
		statusLabel := strconv.Itoa(status)

		observability.HTTPRequests().WithLabelValues(method, route, statusLabel).Inc()
		if status != fiber.StatusSwitchingProtocols {
			observability.HTTPLatency().WithLabelValues(method, route).Observe(elapsed.Seconds())
		}
		if status >= fiber.StatusBadRequest {
			observability.HTTPErrors().WithLabelValues(method, route, statusLabel).Inc()
		}

		event := logger.Info()
		switch {
		case status >= fiber.StatusInternalServerError:
			event = logger.Error()
		case status >= fiber.StatusBadRequest, elapsed > slowRequestThreshold:
			event = logger.Warn()
		}
		event.
			Str("correlation_id", GetCorrelationID(c)).
			Str("engine", engineOf(route)).
			Str("method", method).
			Str("route", route).
			Int("status", status).
			Uint("user_id", UserID(c)).
			Dur("elapsed", elapsed).
			Bool("slow", elapsed > slowRequestThreshold).
			Msg("grading request")

		return err
	}
}

// engineOf names the grading engine behind an /api/v2 route, or "platform" for the rest.
func engineOf(route string) string {
	parts := strings.Split(strings.TrimPrefix(route, "/"), "/")
	if len(parts) >= 3 && parts[1] == "v2" {
		switch parts[2] {
		case "essays", "exams", "evaluations":
			return parts[2]
		}
	}
	return "platform"
}
