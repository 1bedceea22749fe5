package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/session-gate/internal/api/dto"
	"github.com/spec-kit/session-gate/internal/auth"
	"github.com/spec-kit/session-gate/internal/domain"
	"github.com/spec-kit/session-gate/internal/service"
	apperrors "github.com/spec-kit/session-gate/pkg/util/errorutil"
)

// AdminUsersHandler exposes ban and role administration.
type AdminUsersHandler struct {
	bans     *service.BanService
	accounts *service.AccountService
}

// NewAdminUsersHandler constructs handler.
func NewAdminUsersHandler(bans *service.BanService, accounts *service.AccountService) *AdminUsersHandler {
	return &AdminUsersHandler{bans: bans, accounts: accounts}
}

// Ban handles POST /api/admin/users/:id/ban.
func (h *AdminUsersHandler) Ban(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return err
	}
	var req dto.BanRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if err := dto.Validate(&req); err != nil {
		return err
	}

	state, err := h.bans.Ban(c.UserContext(), service.BanCommand{
		SubjectID:    id,
		Actor:        actorName(c),
		Reason:       req.Reason,
		DurationDays: req.DurationDays,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": toBanStateResponse(state)})
}

// Unban handles POST /api/admin/users/:id/unban.
func (h *AdminUsersHandler) Unban(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return err
	}
	if err := h.bans.Unban(c.UserContext(), id, actorName(c)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": toBanStateResponse(domain.Active())})
}

// BanHistory handles GET /api/admin/users/:id/bans.
func (h *AdminUsersHandler) BanHistory(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return err
	}
	entries, err := h.bans.History(c.UserContext(), id)
	if err != nil {
		return err
	}
	out := make([]dto.BanHistoryEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, dto.BanHistoryEntryResponse{
			ID:           e.ID.String(),
			Action:       string(e.Action),
			Description:  e.Describe(),
			Actor:        e.Actor,
			Reason:       e.Reason,
			DurationDays: e.DurationDays,
			BannedUntil:  e.BannedUntil,
			CreatedAt:    e.CreatedAt,
			ClosedAt:     e.ClosedAt,
			ClosedBy:     e.ClosedBy,
		})
	}
	return c.JSON(fiber.Map{"data": out})
}

// ChangeRole handles PUT /api/admin/users/:id/role.
func (h *AdminUsersHandler) ChangeRole(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return err
	}
	var req dto.RoleChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if err := dto.Validate(&req); err != nil {
		return err
	}

	user, err := h.accounts.ChangeRole(c.UserContext(), id, domain.Role(req.Role), actorName(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": toUserResponse(user)})
}

func userIDParam(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("invalid user id", map[string]any{"id": c.Params("id")})
	}
	return id, nil
}

func actorName(c *fiber.Ctx) string {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return "unknown"
	}
	if principal.User != nil && principal.User.Username != "" {
		return principal.User.Username
	}
	return strconv.FormatInt(principal.SubjectID, 10)
}

func toBanStateResponse(state domain.BanState) dto.BanStateResponse {
	return dto.BanStateResponse{
		IsBanned:    state.IsBanned,
		Reason:      state.Reason,
		BannedUntil: state.BannedUntil,
		Permanent:   state.Permanent(),
	}
}
