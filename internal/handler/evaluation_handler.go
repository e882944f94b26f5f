package handler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/evaluation"
	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/internal/utils"
)

const evaluationWriteTimeout = 5 * time.Second

// EvaluationHandler exposes evaluation sessions, their metrics and the live metrics stream.
type EvaluationHandler struct {
	service   service.EvaluationService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewEvaluationHandler constructs an evaluation handler.
func NewEvaluationHandler(service service.EvaluationService, validator *validator.Validate, logger zerolog.Logger) *EvaluationHandler {
	return &EvaluationHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "evaluation_handler").Logger(),
	}
}

// Register wires evaluation routes.
func (h *EvaluationHandler) Register(router fiber.Router) {
	router.Post("", middleware.RequireStaff(), h.create)
	router.Get("/:id", h.get)
	router.Post("/:id/results", h.addResult)
	router.Post("/:id/label", middleware.Throttle(middleware.LabelQuota), h.label)
	router.Get("/:id/metrics", h.metrics)
	router.Get("/:id/ws", h.upgrade, websocket.New(h.stream))
}

func (h *EvaluationHandler) create(c *fiber.Ctx) error {
	var payload dto.EvaluationSessionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	session, err := h.service.Create(middleware.RequestContext(c), middleware.UserID(c), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendCreated(c, "evaluation session created", session)
}

func (h *EvaluationHandler) get(c *fiber.Ctx) error {
	session, err := h.service.Get(middleware.RequestContext(c), c.Params("id"))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "evaluation session retrieved", session)
}

func (h *EvaluationHandler) addResult(c *fiber.Ctx) error {
	var payload dto.EvaluationResultRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	pair, err := h.service.AddResult(middleware.RequestContext(c), c.Params("id"), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendCreated(c, "result recorded", pair)
}

func (h *EvaluationHandler) label(c *fiber.Ctx) error {
	var payload dto.EvaluationLabelRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	pair, err := h.service.Label(middleware.RequestContext(c), c.Params("id"), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendCreated(c, "text labeled", pair)
}

func (h *EvaluationHandler) metrics(c *fiber.Ctx) error {
	snapshot, err := h.service.Metrics(middleware.RequestContext(c), c.Params("id"))
	if err != nil {
		return h.handleError(c, err)
	}

	if utils.WantsText(c) {
		var b strings.Builder
		if err := evaluation.WriteSummary(&b, snapshot.Report); err != nil {
			return h.handleError(c, err)
		}
		return utils.SendText(c, b.String())
	}

	return utils.SendSuccess(c, "evaluation metrics", snapshot)
}

func (h *EvaluationHandler) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	ctx := middleware.RequestContext(c)
	if _, err := h.service.Get(ctx, c.Params("id")); err != nil {
		return h.handleError(c, err)
	}

	c.Locals("request_ctx", ctx)
	return c.Next()
}

func (h *EvaluationHandler) stream(conn *websocket.Conn) {
	id := conn.Params("id")
	ctx, _ := conn.Locals("request_ctx").(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}
	logger := h.logger.With().Str("session_id", id).Str("correlation_id", middleware.CorrelationIDFromContext(ctx)).Logger()

	updates, cleanup := h.service.Subscribe(id)
	defer cleanup()

	initial, err := h.service.Metrics(ctx, id)
	if err != nil {
		logger.Warn().Err(err).Msg("initial metrics snapshot failed")
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "metrics unavailable"))
		return
	}
	if err := h.write(conn, initial); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger.Info().Msg("metrics stream connected")
	defer logger.Info().Msg("metrics stream disconnected")

	for {
		select {
		case <-closed:
			return
		case snapshot, ok := <-updates:
			if !ok {
				return
			}
			if err := h.write(conn, snapshot); err != nil {
				logger.Debug().Err(err).Msg("metrics stream write failed")
				return
			}
		}
	}
}

func (h *EvaluationHandler) write(conn *websocket.Conn, snapshot dto.EvaluationMetricsResponse) error {
	if err := conn.SetWriteDeadline(time.Now().Add(evaluationWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(snapshot)
}

func (h *EvaluationHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, validationMessage(err))
	case errors.Is(err, service.ErrEvaluationNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "evaluation session not found")
	case errors.Is(err, service.ErrLabelNotInSet),
		errors.Is(err, service.ErrInvalidLabelSet):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrLabelerUnavailable):
		return utils.SendError(c, fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, service.ErrLabelerFailed):
		return utils.SendError(c, fiber.StatusBadGateway, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("evaluation request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "evaluation request failed")
	}
}
