package api

import (
	"errors"
	"strings"

	"wayleave/internal/access"
	"wayleave/internal/model"
	"wayleave/internal/records"
	"wayleave/internal/storage"

	"github.com/gofiber/fiber/v2"
)

const maxUploadSize = 10 * 1024 * 1024

const (
	msgCannotCreate = "Your role cannot create records."
	msgCannotEdit   = "Your role cannot edit records."
	msgCannotDelete = "Your role cannot delete records."
)

func (s *Server) signedIn(c *fiber.Ctx) bool {
	_, ok := s.auth.Current().Get()
	return ok
}

func (s *Server) ListRecords(c *fiber.Ctx) error {
	if !s.signedIn(c) {
		return unauthorized(c)
	}
	if c.QueryBool("refresh") || len(s.records.Records()) == 0 {
		if err := s.records.Load(c.UserContext()); err != nil {
			return fail(c, err)
		}
	}

	recs := s.records.Records()
	if q := strings.ToLower(strings.TrimSpace(c.Query("q"))); q != "" {
		filtered := recs[:0]
		for _, r := range recs {
			if strings.Contains(strings.ToLower(r.WayleaveNumber), q) {
				filtered = append(filtered, r)
			}
		}
		recs = filtered
	}
	return c.JSON(fiber.Map{"records": recs})
}

func (s *Server) GetRecord(c *fiber.Ctx) error {
	if !s.signedIn(c) {
		return unauthorized(c)
	}
	rec, ok := s.records.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": records.MsgRecordNotFound})
	}
	return c.JSON(rec)
}

func (s *Server) CreateRecord(c *fiber.Ctx) error {
	if !s.signedIn(c) {
		return unauthorized(c)
	}
	if !access.Evaluate(s.role(), false).CanCreate() {
		return forbidden(c, msgCannotCreate)
	}

	var draft model.Record
	if err := c.BodyParser(&draft); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	created, err := s.records.Create(c.UserContext(), draft)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// UpdateRecord saves the record only if the caller may edit every field that
// differs from the cached copy.
func (s *Server) UpdateRecord(c *fiber.Ctx) error {
	if !s.signedIn(c) {
		return unauthorized(c)
	}
	d := access.Evaluate(s.role(), true)
	if !d.CanEdit() {
		return forbidden(c, msgCannotEdit)
	}

	id := c.Params("id")
	original, ok := s.records.Get(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": records.MsgRecordNotFound})
	}

	var rec model.Record
	if err := c.BodyParser(&rec); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	rec.ID = id
	rec.CreatedAt = original.CreatedAt
	rec.OwnerUserID = original.OwnerUserID

	for _, field := range records.ChangedFields(original, rec) {
		if !d.CanEditField(field) {
			return forbidden(c, "Your role cannot edit "+field+".")
		}
	}

	updated, err := s.records.Update(c.UserContext(), rec)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(updated)
}

func (s *Server) DeleteRecord(c *fiber.Ctx) error {
	if !s.signedIn(c) {
		return unauthorized(c)
	}
	if !access.Evaluate(s.role(), true).CanDelete() {
		return forbidden(c, msgCannotDelete)
	}

	if err := s.records.Delete(c.UserContext(), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UploadAttachment stores the multipart "file" field and returns its URI.
// The record itself is not changed; the client saves the URI with a PUT.
func (s *Server) UploadAttachment(c *fiber.Ctx) error {
	if !s.signedIn(c) {
		return unauthorized(c)
	}
	role := s.role()
	if !access.Evaluate(role, false).CanCreate() && !access.Evaluate(role, true).CanEdit() {
		return forbidden(c, msgCannotEdit)
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "No file uploaded"})
	}
	if file.Size > maxUploadSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "File exceeds the 10MB limit"})
	}

	src, err := file.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to read upload")
	}
	defer src.Close()

	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	uri, err := s.records.UploadAttachment(c.UserContext(), c.Params("id"), file.Filename, src, contentType)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"uri": uri})
}

// ServeFile streams an attachment from the configured store.
func (s *Server) ServeFile(c *fiber.Ctx) error {
	if s.files == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "File not found"})
	}
	path := c.Params("*")
	if path == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "File not found"})
	}

	rc, err := s.files.Retrieve(c.UserContext(), path)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidPath) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid path"})
		}
		s.logger.Debug("Attachment not served", "path", path, "error", err)
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "File not found"})
	}

	c.Set(fiber.HeaderContentDisposition, "inline")
	return c.SendStream(rc)
}
