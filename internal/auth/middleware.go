package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/session-gate/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// TokenFromRequest returns the session token from the cookie or, for non-browser
// clients, from an Authorization bearer header.
func TokenFromRequest(c *fiber.Ctx, cookieName string) string {
	if token := c.Cookies(cookieName); token != "" {
		return token
	}
	authHeader := c.Get(fiber.HeaderAuthorization)
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// AuthMiddleware loads the principal for JSON endpoints and answers with an
// error body instead of a redirect.
type AuthMiddleware struct {
	validator  *SessionValidator
	cookieName string
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(validator *SessionValidator, cookieName string) *AuthMiddleware {
	return &AuthMiddleware{validator: validator, cookieName: cookieName}
}

// Handle enforces authentication unless the gate already resolved a principal.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	if _, ok := PrincipalFromContext(c); ok {
		return c.Next()
	}

	principal, err := m.validator.Validate(c.UserContext(), TokenFromRequest(c, m.cookieName))
	if err != nil {
		rej, ok := AsRejection(err)
		if !ok {
			return apperrors.MapError(err)
		}
		if rej.Reason == ReasonBanned {
			return apperrors.NewBanned(rej.PublicMessage(), rej.BanReason, rej.BannedUntil)
		}
		return apperrors.NewUnauthorized(rej.PublicMessage())
	}

	c.Locals(principalKey, principal)
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
