package handler

import (
	"errors"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// EssayHandler exposes essay scoring endpoints.
type EssayHandler struct {
	service   service.EssayService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewEssayHandler constructs an essay handler.
func NewEssayHandler(service service.EssayService, validator *validator.Validate, logger zerolog.Logger) *EssayHandler {
	return &EssayHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "essay_handler").Logger(),
	}
}

// Register wires essay routes.
func (h *EssayHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Post("/score", h.score)
	router.Post("/scan", middleware.Throttle(middleware.ScanQuota), h.scan)
	router.Get("/:id", h.get)
}

func (h *EssayHandler) score(c *fiber.Ctx) error {
	var payload dto.EssayScoreRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.service.Score(middleware.RequestContext(c), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendCreated(c, "essay scored", result)
}

func (h *EssayHandler) scan(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file is required")
	}

	opened, err := file.Open()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "unable to read file")
	}
	defer opened.Close()

	data, err := io.ReadAll(opened)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "unable to read file")
	}

	payload := dto.EssayScanRequest{
		Title:       c.FormValue("title"),
		StudentName: c.FormValue("student_name"),
	}

	result, err := h.service.Scan(middleware.RequestContext(c), payload, dto.EssayScan{Filename: file.Filename, Data: data})
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendCreated(c, "essay scan scored", result)
}

func (h *EssayHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.Get(middleware.RequestContext(c), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "essay retrieved", result)
}

func (h *EssayHandler) list(c *fiber.Ctx) error {
	limit, err := parseQueryInt(c, "limit")
	if err != nil || limit < 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	results, err := h.service.List(middleware.RequestContext(c), limit)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "essays retrieved", results)
}

func (h *EssayHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, validationMessage(err))
	case errors.Is(err, service.ErrEssayNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "essay not found")
	case errors.Is(err, service.ErrScanTooLarge):
		return utils.SendError(c, fiber.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, service.ErrScanTypeNotAllowed):
		return utils.SendError(c, fiber.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, service.ErrEmptyRecognition):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrOCRUnavailable):
		return utils.SendError(c, fiber.StatusServiceUnavailable, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("essay request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "essay request failed")
	}
}
