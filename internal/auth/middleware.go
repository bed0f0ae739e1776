package auth

import (
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"

	"portfolio-cms/internal/apperr"
)

const userKey = "user"

// Middleware validates the access token from the Authorization header or
// the session cookie and sets the User on the request.
func Middleware(tokens *Tokens, cookieName string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return apperr.Unauthorized("Invalid auth header format")
			}
		}

		token := bearerOrCookie(c, cookieName)
		if token == "" {
			return apperr.Unauthorized("Missing auth token")
		}
		claims, err := tokens.Parse(token)
		if err != nil {
			return apperr.Unauthorized("Invalid or expired token")
		}

		c.Locals(userKey, &User{ID: claims.Subject, Roles: claims.Roles})
		return c.Next()
	}
}

// RequireAdmin checks the authenticated user has the admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetUser(c)
		if user == nil {
			return apperr.Unauthorized("Missing auth token")
		}
		if !user.IsAdmin() {
			return apperr.Forbidden("Admin access required")
		}
		return c.Next()
	}
}

// RedirectToLogin guards HTML pages. A request without a valid admin session
// is sent to the login page, carrying its own URL so sign-in can return to it.
func RedirectToLogin(tokens *Tokens, cookieName string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := tokens.Parse(bearerOrCookie(c, cookieName))
		if err != nil {
			return c.Redirect("/login?redirect="+url.QueryEscape(c.OriginalURL()), fiber.StatusFound)
		}
		user := &User{ID: claims.Subject, Roles: claims.Roles}
		if !user.IsAdmin() {
			return apperr.Forbidden("Admin access required")
		}
		c.Locals(userKey, user)
		return c.Next()
	}
}

// GetUser extracts the User from a Fiber context.
func GetUser(c *fiber.Ctx) *User {
	user, _ := c.Locals(userKey).(*User)
	return user
}

func bearerOrCookie(c *fiber.Ctx, cookieName string) string {
	if header := c.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Cookies(cookieName)
}
