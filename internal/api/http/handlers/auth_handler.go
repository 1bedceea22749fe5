package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/session-gate/internal/api/dto"
	"github.com/spec-kit/session-gate/internal/auth"
	"github.com/spec-kit/session-gate/internal/domain"
	"github.com/spec-kit/session-gate/internal/service"
	apperrors "github.com/spec-kit/session-gate/pkg/util/errorutil"
)

// CookieSettings controls how the session cookie is written.
type CookieSettings struct {
	Name     string
	HTTPOnly bool
	Secure   bool
}

// AuthHandler exposes login, logout and session endpoints.
type AuthHandler struct {
	auth       *service.AuthService
	assertions *auth.AssertionVerifier
	cookie     CookieSettings
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService, assertions *auth.AssertionVerifier, cookie CookieSettings) *AuthHandler {
	return &AuthHandler{auth: authService, assertions: assertions, cookie: cookie}
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if err := dto.Validate(&req); err != nil {
		return err
	}

	issued, err := h.auth.Login(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return err
	}
	return h.respondIssued(c, issued)
}

// Federated handles POST /api/auth/federated, the hand-off after a successful
// third-party code exchange.
func (h *AuthHandler) Federated(c *fiber.Ctx) error {
	var req dto.FederatedLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if err := dto.Validate(&req); err != nil {
		return err
	}

	subjectID, role, err := h.assertions.Verify(req.Assertion)
	if err != nil {
		return apperrors.NewUnauthorized("invalid credentials")
	}
	issued, err := h.auth.IssueFederated(c.UserContext(), subjectID, role)
	if err != nil {
		return err
	}
	return h.respondIssued(c, issued)
}

// Logout handles POST /api/auth/logout. Sessions are stateless, so only the cookie goes.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HTTPOnly: h.cookie.HTTPOnly,
		Secure:   h.cookie.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.JSON(fiber.Map{"data": fiber.Map{"logged_out": true}})
}

// Me handles GET /api/auth/me. Signed-out callers get a null user, not an error status.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	principal, err := h.auth.CurrentSession(c.UserContext(), auth.TokenFromRequest(c, h.cookie.Name))
	if err != nil {
		rej, ok := auth.AsRejection(err)
		if !ok {
			return err
		}
		body := fiber.Map{"user": nil, "error": rej.PublicMessage()}
		if rej.Reason == auth.ReasonBanned {
			body["ban"] = fiber.Map{
				"reason":       rej.BanReason,
				"banned_until": rej.BannedUntil,
				"permanent":    rej.BannedUntil == nil,
			}
		}
		return c.JSON(fiber.Map{"data": body})
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"user": toUserResponse(principal.User),
			"session": dto.SessionInfo{
				ExpiresAt:        principal.Session.ExpiresAt,
				RemainingSeconds: int64(principal.Session.Remaining(time.Now()).Seconds()),
			},
		},
	})
}

func (h *AuthHandler) respondIssued(c *fiber.Ctx, issued *service.IssuedSession) error {
	c.Cookie(&fiber.Cookie{
		Name:     h.cookie.Name,
		Value:    issued.Token,
		Path:     "/",
		MaxAge:   int(h.auth.TokenTTL().Seconds()),
		HTTPOnly: h.cookie.HTTPOnly,
		Secure:   h.cookie.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"user": toUserResponse(issued.User),
			"auth": dto.AuthResponse{Token: issued.Token, ExpiresAt: issued.ExpiresAt},
		},
	})
}

func toUserResponse(user *domain.User) dto.UserResponse {
	return dto.UserResponse{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		Role:        string(user.Role),
		IsBanned:    user.Ban.IsBanned,
		BanReason:   user.Ban.Reason,
		BannedUntil: user.Ban.BannedUntil,
	}
}
