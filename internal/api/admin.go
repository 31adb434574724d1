package api

import (
	"wayleave/internal/model"
	"wayleave/internal/util"

	"github.com/gofiber/fiber/v2"
)

type roleRequest struct {
	// Role is null to clear the assignment.
	Role *string `json:"role"`
}

func (s *Server) ListUsers(c *fiber.Ctx) error {
	if !s.signedIn(c) {
		return unauthorized(c)
	}
	if err := s.admin.LoadUsers(c.UserContext()); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"users":   s.admin.Users(),
		"pending": s.admin.PendingCount(),
	})
}

func (s *Server) UpdateUserRole(c *fiber.Ctx) error {
	if !s.signedIn(c) {
		return unauthorized(c)
	}

	var req roleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	role := util.None[model.Role]()
	if req.Role != nil && *req.Role != "" {
		role = util.Some(model.Role(*req.Role))
	}

	id := c.Params("id")
	if err := s.admin.UpdateUserRole(c.UserContext(), id, role); err != nil {
		return fail(c, err)
	}

	for _, u := range s.admin.Users() {
		if u.ID == id {
			return c.JSON(u)
		}
	}
	return c.SendStatus(fiber.StatusNoContent)
}
