package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/session-gate/internal/domain"
	apperrors "github.com/spec-kit/session-gate/pkg/util/errorutil"
)

// RequireRole ensures the principal has one of the allowed roles.
// Handlers behind the gate use it as a second check on JSON endpoints.
func RequireRole(allowed ...domain.Role) fiber.Handler {
	allowedSet := make(map[domain.Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized(signInAgainMessage)
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[principal.Role]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}

// RequireAuthenticated ensures a principal is present.
func RequireAuthenticated() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return apperrors.NewUnauthorized(signInAgainMessage)
		}
		return c.Next()
	}
}
