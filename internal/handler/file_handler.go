package handler

import (
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/secura/vault/internal/models"
	"github.com/secura/vault/internal/service"
	"github.com/secura/vault/pkg/response"
	"github.com/secura/vault/pkg/sanitize"
)

type FileHandler struct {
	fileSvc *service.FileService
}

func NewFileHandler(fileSvc *service.FileService) *FileHandler {
	return &FileHandler{fileSvc: fileSvc}
}

// Upload handles POST /files. The multipart field "file" carries the content;
// an optional "name" field overrides the client file name.
func (h *FileHandler) Upload(c *fiber.Ctx) error {
	id, ok := identity(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return response.BadRequest(c, "file is required")
	}
	name := c.FormValue("name", fileHeader.Filename)

	file, err := fileHeader.Open()
	if err != nil {
		return response.BadRequest(c, "failed to read file")
	}
	defer file.Close()

	plaintext, err := io.ReadAll(file)
	if err != nil {
		return response.BadRequest(c, "failed to read file")
	}

	record, err := h.fileSvc.Upload(c.UserContext(), id.UserID, name, plaintext, c.IP())
	if err != nil {
		return respondError(c, err)
	}

	RecordFileUpload(record.SizeBytes)
	return response.Created(c, record)
}

// List handles GET /files.
func (h *FileHandler) List(c *fiber.Ctx) error {
	id, ok := identity(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	files, err := h.fileSvc.List(c.UserContext(), id.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, files)
}

// Get handles GET /files/:id and returns metadata only.
func (h *FileHandler) Get(c *fiber.Ctx) error {
	id, ok := identity(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	record, err := h.fileSvc.Get(c.UserContext(), id.UserID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, record)
}

// Versions handles GET /files/:id/versions: the history of the logical file
// that the given version belongs to.
func (h *FileHandler) Versions(c *fiber.Ctx) error {
	id, ok := identity(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	record, err := h.fileSvc.Get(c.UserContext(), id.UserID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	versions, err := h.fileSvc.ListVersions(c.UserContext(), id.UserID, record.LogicalID)
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, versions)
}

// Download handles GET /files/:id/download.
func (h *FileHandler) Download(c *fiber.Ctx) error {
	id, ok := identity(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	record, plaintext, err := h.fileSvc.Download(c.UserContext(), id.UserID, c.Params("id"), c.IP())
	if err != nil {
		return respondError(c, err)
	}

	RecordFileDownload("owner")
	return sendFile(c, record, plaintext)
}

func sendFile(c *fiber.Ctx, record *models.StoredFile, plaintext []byte) error {
	mimeType := record.MimeType
	if mimeType == "" {
		mimeType = fiber.MIMEOctetStream
	}
	c.Set(fiber.HeaderContentDisposition, sanitize.ContentDisposition(record.OriginalName))
	c.Set(fiber.HeaderContentType, mimeType)
	c.Set("X-File-Version", strconv.Itoa(record.Version))
	if record.Checksum != "" {
		c.Set("X-Checksum-Sha256", record.Checksum)
	}
	return c.Send(plaintext)
}
