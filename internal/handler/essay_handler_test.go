package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/essay"
	"github.com/noah-isme/gema-grading-api/internal/handler"
	"github.com/noah-isme/gema-grading-api/internal/service"
)

type stubEssayService struct {
	response  dto.EssayResponse
	list      []dto.EssayResponse
	err       error
	lastScan  dto.EssayScan
	lastForm  dto.EssayScanRequest
	lastLimit int
}

func (s *stubEssayService) Score(_ context.Context, payload dto.EssayScoreRequest) (dto.EssayResponse, error) {
	if err := validator.New().Struct(payload); err != nil {
		return dto.EssayResponse{}, err
	}
	return s.response, s.err
}

func (s *stubEssayService) Scan(_ context.Context, payload dto.EssayScanRequest, scan dto.EssayScan) (dto.EssayResponse, error) {
	s.lastForm = payload
	s.lastScan = scan
	return s.response, s.err
}

func (s *stubEssayService) Get(context.Context, uint) (dto.EssayResponse, error) {
	return s.response, s.err
}

func (s *stubEssayService) List(_ context.Context, limit int) ([]dto.EssayResponse, error) {
	s.lastLimit = limit
	return s.list, s.err
}

func essayApp(svc service.EssayService) *fiber.App {
	app := fiber.New()
	group := app.Group("/api/v2/essays", asUser(3, "student"))
	handler.NewEssayHandler(svc, validator.New(), zerolog.Nop()).Register(group)
	return app
}

func sampleEssay() dto.EssayResponse {
	scorer := essay.NewScorer(essay.DefaultRubric())
	features, breakdown := scorer.Evaluate("今天天氣很好。我們去公園散步，看到許多花。")
	return dto.EssayResponse{
		ID:          11,
		Title:       "週末",
		StudentName: "Lin",
		Source:      "text",
		Features:    features,
		Scores:      breakdown,
	}
}

func scanRequest(t *testing.T, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("title", "My hometown"))
	require.NoError(t, writer.WriteField("student_name", "Chen"))
	part, err := writer.CreateFormFile("file", "page.png")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v2/essays/scan", body)
	req.Header.Set(fiber.HeaderContentType, writer.FormDataContentType())
	return req
}

func TestEssayHandlerScore(t *testing.T) {
	svc := &stubEssayService{response: sampleEssay()}
	app := essayApp(svc)

	status, body := doRequest(t, app, jsonRequest(t, http.MethodPost, "/api/v2/essays/score", dto.EssayScoreRequest{
		Title: "週末",
		Text:  "今天天氣很好。",
	}))

	require.Equal(t, fiber.StatusCreated, status)
	require.True(t, body.Success)
	require.Equal(t, "essay scored", body.Message)

	var result dto.EssayResponse
	require.NoError(t, json.Unmarshal(body.Data, &result))
	require.Equal(t, svc.response.Scores.Grade, result.Scores.Grade)
	require.Equal(t, svc.response.Features.SentenceCount, result.Features.SentenceCount)
}

func TestEssayHandlerScoreValidation(t *testing.T) {
	app := essayApp(&stubEssayService{})

	status, body := doRequest(t, app, jsonRequest(t, http.MethodPost, "/api/v2/essays/score", dto.EssayScoreRequest{Title: "empty"}))

	require.Equal(t, fiber.StatusBadRequest, status)
	require.False(t, body.Success)
	require.Contains(t, body.Message, "text failed required")
}

func TestEssayHandlerScoreRejectsMalformedBody(t *testing.T) {
	app := essayApp(&stubEssayService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v2/essays/score", bytes.NewBufferString("{"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	status, body := doRequest(t, app, req)

	require.Equal(t, fiber.StatusBadRequest, status)
	require.Equal(t, "invalid payload", body.Message)
}

func TestEssayHandlerScan(t *testing.T) {
	svc := &stubEssayService{response: sampleEssay()}
	app := essayApp(svc)

	status, body := doRequest(t, app, scanRequest(t, []byte("fake image bytes")))

	require.Equal(t, fiber.StatusCreated, status)
	require.True(t, body.Success)
	require.Equal(t, "page.png", svc.lastScan.Filename)
	require.Equal(t, []byte("fake image bytes"), svc.lastScan.Data)
	require.Equal(t, "My hometown", svc.lastForm.Title)
	require.Equal(t, "Chen", svc.lastForm.StudentName)
}

func TestEssayHandlerScanRequiresFile(t *testing.T) {
	app := essayApp(&stubEssayService{})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("title", "no file"))
	require.NoError(t, writer.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v2/essays/scan", body)
	req.Header.Set(fiber.HeaderContentType, writer.FormDataContentType())

	status, out := doRequest(t, app, req)
	require.Equal(t, fiber.StatusBadRequest, status)
	require.Equal(t, "file is required", out.Message)
}

func TestEssayHandlerScanErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "too large", err: service.ErrScanTooLarge, status: fiber.StatusRequestEntityTooLarge},
		{name: "wrong type", err: service.ErrScanTypeNotAllowed, status: fiber.StatusUnsupportedMediaType},
		{name: "no text", err: service.ErrEmptyRecognition, status: fiber.StatusUnprocessableEntity},
		{name: "ocr offline", err: service.ErrOCRUnavailable, status: fiber.StatusServiceUnavailable},
		{name: "unexpected", err: context.DeadlineExceeded, status: fiber.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := essayApp(&stubEssayService{err: tc.err})
			status, body := doRequest(t, app, scanRequest(t, []byte("x")))
			require.Equal(t, tc.status, status)
			require.False(t, body.Success)
		})
	}
}

func TestEssayHandlerGet(t *testing.T) {
	app := essayApp(&stubEssayService{response: sampleEssay()})

	status, _ := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/api/v2/essays/11", nil))
	require.Equal(t, fiber.StatusOK, status)

	status, body := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/api/v2/essays/abc", nil))
	require.Equal(t, fiber.StatusBadRequest, status)
	require.Equal(t, "invalid identifier", body.Message)

	missing := essayApp(&stubEssayService{err: service.ErrEssayNotFound})
	status, body = doRequest(t, missing, httptest.NewRequest(http.MethodGet, "/api/v2/essays/99", nil))
	require.Equal(t, fiber.StatusNotFound, status)
	require.Equal(t, "essay not found", body.Message)
}

func TestEssayHandlerList(t *testing.T) {
	svc := &stubEssayService{list: []dto.EssayResponse{sampleEssay()}}
	app := essayApp(svc)

	status, body := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/api/v2/essays?limit=5", nil))
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, 5, svc.lastLimit)

	var results []dto.EssayResponse
	require.NoError(t, json.Unmarshal(body.Data, &results))
	require.Len(t, results, 1)

	status, _ = doRequest(t, app, httptest.NewRequest(http.MethodGet, "/api/v2/essays?limit=-1", nil))
	require.Equal(t, fiber.StatusBadRequest, status)
}
