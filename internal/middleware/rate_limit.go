package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// Quota bounds how often one caller may hit an expensive grading route.
type Quota struct {
	Name   string
	Max    int
	Window time.Duration
}

var (
	// ScanQuota covers OCR runs, each of which starts a container.
	ScanQuota = Quota{Name: "essay_scan", Max: 6, Window: time.Minute}
	// LabelQuota covers labeler calls, which may reach a paid model.
	LabelQuota = Quota{Name: "evaluation_label", Max: 20, Window: time.Minute}
)

// Throttle enforces q per authenticated user, or per client IP for anonymous callers.
// Rejected requests carry Retry-After in seconds.
func Throttle(q Quota) fiber.Handler {
	if q.Max <= 0 {
		q.Max = 10
	}
	if q.Window <= 0 {
		q.Window = time.Second
	}
	retryAfter := strconv.Itoa(int((q.Window + time.Second - 1) / time.Second))

	return limiter.New(limiter.Config{
		Max:        q.Max,
		Expiration: q.Window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return quotaKey(q.Name, c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderRetryAfter, retryAfter)
			return utils.SendError(c, fiber.StatusTooManyRequests, fmt.Sprintf("%s quota exhausted, retry later", q.Name))
		},
	})
}

func quotaKey(name string, c *fiber.Ctx) string {
	if userID := UserID(c); userID != 0 {
		return name + ":user:" + strconv.FormatUint(uint64(userID), 10)
	}
	return name + ":ip:" + c.IP()
}
