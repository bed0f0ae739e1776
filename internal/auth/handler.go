package auth

import (
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"portfolio-cms/internal/apperr"
	"portfolio-cms/internal/config"
)

const defaultRedirect = "/admin"

// Handler serves the login, refresh and logout endpoints.
type Handler struct {
	users  *Users
	tokens *Tokens
	cookie string
	secure bool
	logger zerolog.Logger

	mu       sync.Mutex
	onLogout []func(userID string)
}

func NewHandler(users *Users, tokens *Tokens, cfg config.AuthConfig, logger zerolog.Logger) *Handler {
	name := cfg.CookieName
	if name == "" {
		name = "portfolio_session"
	}
	return &Handler{
		users:  users,
		tokens: tokens,
		cookie: name,
		secure: cfg.SecureCookie,
		logger: logger.With().Str("component", "auth").Logger(),
	}
}

// CookieName is the access token cookie read by Middleware.
func (h *Handler) CookieName() string { return h.cookie }

func (h *Handler) refreshCookie() string { return h.cookie + "_refresh" }

// OnLogout registers fn to run after a user signs out.
func (h *Handler) OnLogout(fn func(userID string)) {
	h.mu.Lock()
	h.onLogout = append(h.onLogout, fn)
	h.mu.Unlock()
}

type loginResponse struct {
	TokenPair
	User     *User  `json:"user"`
	Redirect string `json:"redirect"`
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(c *fiber.Ctx) error {
	var body struct {
		Email    string `json:"email" form:"email"`
		Password string `json:"password" form:"password"`
		Redirect string `json:"redirect" form:"redirect"`
	}
	if err := c.BodyParser(&body); err != nil {
		return apperr.InvalidPayload("Invalid request body")
	}
	if body.Email == "" || body.Password == "" {
		return apperr.Unauthorized("Email and password are required")
	}

	user, err := h.users.Authenticate(c.Context(), strings.TrimSpace(body.Email), body.Password)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		h.logger.Warn().Str("email", body.Email).Msg("login rejected")
		return apperr.Unauthorized("Invalid email or password")
	case errors.Is(err, ErrDisabled):
		return apperr.Unauthorized("Account is disabled")
	case err != nil:
		return err
	}

	pair, err := h.issue(c, user)
	if err != nil {
		return err
	}
	redirect := c.Query("redirect", body.Redirect)
	return c.JSON(fiber.Map{"data": loginResponse{TokenPair: *pair, User: user, Redirect: SafeRedirect(redirect)}})
}

// Refresh handles POST /api/auth/refresh. The presented refresh token is
// consumed and a new pair issued.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return apperr.InvalidPayload("Invalid request body")
		}
	}
	token := body.RefreshToken
	if token == "" {
		token = c.Cookies(h.refreshCookie())
	}
	if token == "" {
		return apperr.Unauthorized("Refresh token is required")
	}

	user, err := h.users.ConsumeRefreshToken(c.Context(), token)
	switch {
	case errors.Is(err, ErrInvalidToken):
		return apperr.Unauthorized("Invalid refresh token")
	case errors.Is(err, ErrRefreshExpired):
		h.clearCookies(c)
		return apperr.Unauthorized("Refresh token expired")
	case errors.Is(err, ErrDisabled):
		return apperr.Unauthorized("Account is disabled")
	case err != nil:
		return err
	}

	pair, err := h.issue(c, user)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Logout handles POST /api/auth/logout.
func (h *Handler) Logout(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return apperr.InvalidPayload("Invalid request body")
		}
	}
	token := body.RefreshToken
	if token == "" {
		token = c.Cookies(h.refreshCookie())
	}
	if token != "" {
		if err := h.users.RevokeRefreshToken(c.Context(), token); err != nil {
			return err
		}
	}

	if claims, err := h.tokens.Parse(bearerOrCookie(c, h.cookie)); err == nil {
		h.mu.Lock()
		hooks := append([]func(string){}, h.onLogout...)
		h.mu.Unlock()
		for _, fn := range hooks {
			fn(claims.Subject)
		}
	}

	h.clearCookies(c)
	return c.JSON(fiber.Map{"message": "Logged out"})
}

// Me handles GET /api/auth/me.
func (h *Handler) Me(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": GetUser(c)})
}

// RegisterRoutes registers auth routes on the given Fiber app.
func RegisterRoutes(app *fiber.App, h *Handler) {
	g := app.Group("/api/auth")
	g.Post("/login", h.Login)
	g.Post("/refresh", h.Refresh)
	g.Post("/logout", h.Logout)
	g.Get("/me", Middleware(h.tokens, h.cookie), h.Me)
}

func (h *Handler) issue(c *fiber.Ctx, user *User) (*TokenPair, error) {
	access, expires, err := h.tokens.Issue(user.ID, user.Roles)
	if err != nil {
		return nil, apperr.New("INTERNAL_ERROR", 500, "Failed to generate access token")
	}
	refresh := NewRefreshToken()
	refreshExpires := h.tokens.now().Add(h.tokens.RefreshTTL())
	if err := h.users.SaveRefreshToken(c.Context(), user.ID, refresh, refreshExpires); err != nil {
		h.logger.Error().Err(err).Str("user_id", user.ID).Msg("store refresh token")
		return nil, apperr.New("INTERNAL_ERROR", 500, "Failed to store refresh token")
	}

	h.setCookie(c, h.cookie, access, expires)
	h.setCookie(c, h.refreshCookie(), refresh, refreshExpires)
	return &TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: expires}, nil
}

func (h *Handler) setCookie(c *fiber.Ctx, name, value string, expires time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		Secure:   h.secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (h *Handler) clearCookies(c *fiber.Ctx) {
	for _, name := range []string{h.cookie, h.refreshCookie()} {
		h.setCookie(c, name, "", time.Unix(0, 0))
	}
}

// SafeRedirect returns target when it is a path on this site and the admin
// home otherwise, so a crafted login link cannot bounce users elsewhere.
func SafeRedirect(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, `\`) {
		return defaultRedirect
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return defaultRedirect
	}
	return target
}
