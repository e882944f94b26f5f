package middleware

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-grading-api/internal/utils"
)

const (
	localsUserID   = "user_id"
	localsUserRole = "user_role"
)

// Claims is the token payload accepted by the grading API. The subject carries the numeric
// user id; Role (or the first entry of Roles) carries the caller's role.
type Claims struct {
	jwt.RegisteredClaims
	UserID any      `json:"user_id,omitempty"`
	Role   string   `json:"role,omitempty"`
	Roles  []string `json:"roles,omitempty"`
}

// JWTProtected returns a middleware that validates HMAC-signed bearer tokens.
func JWTProtected(secret string) fiber.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))

	return func(c *fiber.Ctx) error {
		authorization := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		if authorization == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
		}

		const bearer = "bearer "
		if len(authorization) <= len(bearer) || !strings.EqualFold(authorization[:len(bearer)], bearer) {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid authorization header")
		}

		var claims Claims
		token, err := parser.ParseWithClaims(strings.TrimSpace(authorization[len(bearer):]), &claims, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		if userID, ok := claims.userID(); ok {
			c.Locals(localsUserID, userID)
		}
		if role := claims.role(); role != "" {
			c.Locals(localsUserRole, role)
		}

		return c.Next()
	}
}

func (c Claims) userID() (uint, bool) {
	if c.Subject != "" {
		if id, err := strconv.ParseUint(c.Subject, 10, 64); err == nil {
			return uint(id), true
		}
	}
	switch v := c.UserID.(type) {
	case float64:
		if v >= 0 {
			return uint(v), true
		}
	case string:
		if id, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64); err == nil {
			return uint(id), true
		}
	}
	return 0, false
}

func (c Claims) role() string {
	if role := normalizeRole(c.Role); role != "" {
		return role
	}
	for _, candidate := range c.Roles {
		if role := normalizeRole(candidate); role != "" {
			return role
		}
	}
	return ""
}

func normalizeRole(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// UserID returns the authenticated user id, or 0 for anonymous requests.
func UserID(c *fiber.Ctx) uint {
	if id, ok := c.Locals(localsUserID).(uint); ok {
		return id
	}
	return 0
}

// UserRole returns the authenticated role in lower case.
func UserRole(c *fiber.Ctx) string {
	switch v := c.Locals(localsUserRole).(type) {
	case string:
		return normalizeRole(v)
	case nil:
		return ""
	default:
		return normalizeRole(fmt.Sprintf("%v", v))
	}
}
