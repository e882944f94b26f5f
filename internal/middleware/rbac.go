package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// Roles recognised by the grading API.
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// roleRank orders roles by privilege. Unknown roles rank zero.
var roleRank = map[string]int{
	RoleStudent: 1,
	RoleTeacher: 2,
	RoleAdmin:   3,
}

// RequireAtLeast admits callers whose role ranks at or above minimum. Answer keys and
// evaluation sessions are created this way; scoring and reading stay open to students.
func RequireAtLeast(minimum string) fiber.Handler {
	need := roleRank[normalizeRole(minimum)]
	if need == 0 {
		need = roleRank[RoleAdmin]
	}

	return func(c *fiber.Ctx) error {
		if roleRank[UserRole(c)] < need {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}

// RequireStaff admits teachers and admins.
func RequireStaff() fiber.Handler {
	return RequireAtLeast(RoleTeacher)
}

