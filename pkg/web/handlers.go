package web

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/dukex/tryon/pkg/archive"
	"github.com/dukex/tryon/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const downloadBufferSize = 1 << 20

type APIHandlers struct {
	generation *services.Generation
	archive    *services.Archive
	validator  *validator.Validate
	logger     *slog.Logger
}

func NewAPIHandlers(
	generation *services.Generation,
	archiveService *services.Archive,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		generation: generation,
		archive:    archiveService,
		validator:  validator,
		logger:     logger,
	}
}

// Register mounts the API routes on app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get("/healthz", h.Healthz)
	app.Get("/health", h.HealthCheck)

	api := app.Group("/api")
	api.Post("/generate", h.Generate)
	api.Get("/archive/list", h.ListArchive)
	api.Get("/archive/:archiveId/download", h.DownloadArchive)
}

// Generate handles POST /api/generate (multipart: userImage, productOption, seed, fixedSeed).
func (h *APIHandlers) Generate(c fiber.Ctx) error {
	header, err := c.FormFile("userImage")
	if err != nil {
		return badRequest(c, services.ErrMissingImage)
	}

	image, err := readUpload(header)
	if err != nil {
		return h.serviceError(c, err)
	}

	fixedSeed, _ := strconv.ParseBool(strings.TrimSpace(c.FormValue("fixedSeed")))

	result, err := h.generation.Generate(c.Context(), services.GenerateRequest{
		Image:         image,
		Filename:      header.Filename,
		ContentType:   header.Header.Get(fiber.HeaderContentType),
		ProductOption: c.FormValue("productOption"),
		Seed:          c.FormValue("seed"),
		FixedSeed:     fixedSeed,
	})
	if err != nil {
		return h.serviceError(c, err)
	}

	return c.JSON(result)
}

// ListArchive handles GET /api/archive/list?token=&since=&limit=.
func (h *APIHandlers) ListArchive(c fiber.Ctx) error {
	if err := h.archive.Authorize(c.Query("token")); err != nil {
		return h.serviceError(c, err)
	}

	query, err := h.parseListArchiveQuery(c)
	if err != nil {
		return badRequest(c, err)
	}

	records, err := h.archive.List(c.Context(), query.Token, query.Since, query.Limit)
	if err != nil {
		return h.serviceError(c, err)
	}

	return c.JSON(ListArchiveResponse{Items: records})
}

func (h *APIHandlers) parseListArchiveQuery(c fiber.Ctx) (*ListArchiveQuery, error) {
	query := &ListArchiveQuery{
		Token: c.Query("token"),
		Since: c.Query("since"),
		Limit: archive.DefaultListLimit,
	}

	if limitStr := strings.TrimSpace(c.Query("limit")); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, fmt.Errorf("%w: limit must be an integer", archive.ErrInvalidLimit)
		}

		query.Limit = limit
	}

	if err := h.validator.Struct(query); err != nil {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", archive.ErrInvalidLimit, archive.MaxListLimit)
	}

	return query, nil
}

// DownloadArchive handles GET /api/archive/:archiveId/download?token=&kind=.
func (h *APIHandlers) DownloadArchive(c fiber.Ctx) error {
	blob, err := h.archive.Download(c.Context(), c.Params("archiveId"), c.Query("token"), c.Query("kind"))
	if err != nil {
		return h.serviceError(c, err)
	}

	c.Set(fiber.HeaderContentType, blob.MIME)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, blob.Name))

	// The response writer closes the body once it is drained.
	body := struct {
		io.Reader
		io.Closer
	}{bufio.NewReaderSize(blob.Body, downloadBufferSize), blob.Body}

	return c.SendStream(body, int(blob.Size))
}

// Healthz handles GET /healthz.
func (h *APIHandlers) Healthz(c fiber.Ctx) error {
	return c.SendString("ok")
}

// HealthCheck handles GET /health with one entry per storage backend.
func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	response := HealthResponse{
		Status:   "healthy",
		Message:  "tryon API is healthy",
		Checkers: map[string]string{},
	}
	httpStatus := http.StatusOK

	for name, err := range h.archive.HealthCheck(c.Context()) {
		if err != nil {
			response.Checkers[name] = err.Error()
			response.Status = "unhealthy"
			response.Message = "tryon API is unhealthy"
			httpStatus = http.StatusServiceUnavailable

			continue
		}

		response.Checkers[name] = "ok"
	}

	return c.Status(httpStatus).JSON(response)
}

func (h *APIHandlers) serviceError(c fiber.Ctx, err error) error {
	if status, _ := Classify(err); status >= http.StatusInternalServerError {
		h.logger.ErrorContext(c.Context(), "Request failed", "path", c.Path(), "status", status, "error", err)
	}

	return handleServiceError(c, err)
}

// readUpload returns the upload bytes. Emptiness is judged by the pipeline.
func readUpload(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	return data, nil
}

