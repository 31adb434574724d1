package api

import "github.com/gofiber/fiber/v2"

func (s *Server) Toasts(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"toasts": s.bus.Toasts()})
}

func (s *Server) Notifications(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"notifications": s.bus.Notifications(),
		"unread":        s.bus.UnreadCount(),
	})
}

func (s *Server) MarkNotificationsRead(c *fiber.Ctx) error {
	s.bus.MarkAllRead(c.UserContext())
	return c.JSON(fiber.Map{"unread": s.bus.UnreadCount()})
}
