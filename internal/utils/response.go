package utils

import "github.com/gofiber/fiber/v2"

// APIResponse is the JSON envelope shared by every grading endpoint. Failures echo the
// request's correlation id so a client report can be matched to the server log line.
type APIResponse struct {
	Success       bool        `json:"success"`
	Data          interface{} `json:"data,omitempty"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

const headerCorrelationID = "X-Correlation-ID"

// SendSuccess sends a 200 envelope.
func SendSuccess(c *fiber.Ctx, message string, data interface{}) error {
	return send(c, fiber.StatusOK, APIResponse{Success: true, Data: data, Message: orDefault(message, "success")})
}

// SendCreated sends a 201 envelope for a newly stored grading artefact.
func SendCreated(c *fiber.Ctx, message string, data interface{}) error {
	return send(c, fiber.StatusCreated, APIResponse{Success: true, Data: data, Message: orDefault(message, "created")})
}

// SendError sends a failure envelope with the given status code.
func SendError(c *fiber.Ctx, status int, message string) error {
	if status < fiber.StatusBadRequest {
		status = fiber.StatusInternalServerError
	}
	return send(c, status, APIResponse{
		Message:       orDefault(message, "error"),
		CorrelationID: c.GetRespHeader(headerCorrelationID),
	})
}

// SendText writes a plain-text report body.
func SendText(c *fiber.Ctx, body string) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(fiber.StatusOK).SendString(body)
}

// WantsText reports whether the caller asked for the plain-text rendering of a report.
func WantsText(c *fiber.Ctx) bool {
	return c.Query("format") == "text"
}

func send(c *fiber.Ctx, status int, body APIResponse) error {
	return c.Status(status).JSON(body)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
