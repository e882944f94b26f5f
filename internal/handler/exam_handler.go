package handler

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/exam"
	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// ExamHandler exposes answer keys and tolerance-banded exam grading.
type ExamHandler struct {
	service   service.ExamService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewExamHandler constructs an exam handler.
func NewExamHandler(service service.ExamService, validator *validator.Validate, logger zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "exam_handler").Logger(),
	}
}

// Register wires exam routes. Creating answer keys is limited to staff.
func (h *ExamHandler) Register(router fiber.Router) {
	router.Post("/keys", middleware.RequireStaff(), h.createKey)
	router.Get("/keys/:id", h.getKey)
	router.Post("/keys/:id/grade", h.grade)
	router.Get("/keys/:id/gradings", middleware.RequireStaff(), h.listGradings)
	router.Get("/gradings/:id", h.getGrading)
}

func (h *ExamHandler) createKey(c *fiber.Ctx) error {
	var payload dto.ExamKeyRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	key, err := h.service.CreateKey(middleware.RequestContext(c), middleware.UserID(c), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	requestLogger(h.logger, c).Info().Uint("exam_key_id", key.ID).Msg("answer key created")
	return utils.SendCreated(c, "answer key created", key)
}

func (h *ExamHandler) getKey(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	key, err := h.service.GetKey(middleware.RequestContext(c), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "answer key retrieved", key)
}

func (h *ExamHandler) grade(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ExamGradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	grading, err := h.service.Grade(middleware.RequestContext(c), id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendCreated(c, "submission graded", grading)
}

func (h *ExamHandler) listGradings(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	limit, err := parseQueryInt(c, "limit")
	if err != nil || limit < 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	gradings, err := h.service.ListGradings(middleware.RequestContext(c), id, limit)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "gradings retrieved", gradings)
}

func (h *ExamHandler) getGrading(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	ctx := middleware.RequestContext(c)
	if utils.WantsText(c) {
		report, err := h.service.Report(ctx, id)
		if err != nil {
			return h.handleError(c, err)
		}
		var b strings.Builder
		if err := exam.WriteReport(&b, report); err != nil {
			return h.handleError(c, err)
		}
		return utils.SendText(c, b.String())
	}

	grading, err := h.service.GetGrading(ctx, id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "grading retrieved", grading)
}

func (h *ExamHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, validationMessage(err))
	case errors.Is(err, exam.ErrDuplicateCriterion),
		errors.Is(err, exam.ErrInvalidTolerance),
		errors.Is(err, exam.ErrNegativeMaxScore),
		errors.Is(err, service.ErrInvalidItemName):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrExamKeyNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "answer key not found")
	case errors.Is(err, service.ErrExamGradingNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "grading not found")
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("exam request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "exam request failed")
	}
}
