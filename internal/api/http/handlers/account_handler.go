package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/session-gate/internal/auth"
	apperrors "github.com/spec-kit/session-gate/pkg/util/errorutil"
)

// AccountHandler serves pages behind the gate.
type AccountHandler struct {
	serviceName string
}

// NewAccountHandler constructs handler.
func NewAccountHandler(serviceName string) *AccountHandler {
	return &AccountHandler{serviceName: serviceName}
}

// Landing handles GET /, where denied requests are sent.
func (h *AccountHandler) Landing(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": fiber.Map{"service": h.serviceName}})
}

// Account handles GET /account. The gate has already resolved the principal.
func (h *AccountHandler) Account(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return apperrors.NewUnauthorized("please sign in again")
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"user": toUserResponse(principal.User)}})
}
