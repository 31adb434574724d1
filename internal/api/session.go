package api

import (
	"strconv"

	"wayleave/internal/access"
	"wayleave/internal/model"
	"wayleave/internal/records"
	"wayleave/internal/util"

	"github.com/gofiber/fiber/v2"
)

type loginRequest struct {
	CPR      string `json:"cpr" form:"cpr"`
	Password string `json:"password" form:"password"`
}

func (s *Server) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	result := s.auth.Login(c.UserContext(), req.CPR, req.Password)
	if !result.Success {
		return c.Status(fiber.StatusUnauthorized).JSON(result)
	}

	s.logger.Info("Signed in over API", "ip", c.IP())
	return c.JSON(fiber.Map{
		"success": true,
		"state":   s.auth.State().String(),
		"session": s.auth.Current(),
	})
}

func (s *Server) CurrentSession(c *fiber.Ctx) error {
	state := s.auth.State()
	return c.JSON(fiber.Map{
		"authenticated": state.Authenticated(),
		"state":         state.String(),
		"session":       s.auth.Current(),
	})
}

func (s *Server) Logout(c *fiber.Ctx) error {
	s.auth.Logout(c.UserContext())

	state := s.auth.State()
	return c.JSON(fiber.Map{
		"authenticated": state.Authenticated(),
		"state":         state.String(),
	})
}

// Permissions evaluates the access policy for the current user. The query
// parameter existing=true asks about the form of an existing record.
func (s *Server) Permissions(c *fiber.Ctx) error {
	existing, _ := strconv.ParseBool(c.Query("existing", "false"))

	role := s.role()
	d := access.Evaluate(role, existing)

	fields := make(map[string]bool)
	for _, f := range records.EditableFields() {
		fields[f] = d.CanEditField(f)
	}

	return c.JSON(fiber.Map{
		"existing":       existing,
		"canCreate":      d.CanCreate(),
		"canEdit":        d.CanEdit(),
		"canDelete":      d.CanDelete(),
		"canEditField":   fields,
		"canManageUsers": access.CanManageUsers(role),
	})
}

func (s *Server) role() util.Optional[model.Role] {
	if session, ok := s.auth.Current().Get(); ok {
		return session.Role
	}
	return util.None[model.Role]()
}
