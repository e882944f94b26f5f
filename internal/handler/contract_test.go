package handler_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/database"
	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/essay"
	"github.com/noah-isme/gema-grading-api/internal/exam"
	"github.com/noah-isme/gema-grading-api/internal/handler"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/internal/service"
)

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("testdata", name))
	require.NoError(t, err)

	schema, err := jsonschema.NewCompiler().Compile("file://" + filepath.ToSlash(path))
	require.NoError(t, err)
	return schema
}

func contractDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func contractApp(t *testing.T) *fiber.App {
	t.Helper()
	db := contractDB(t)
	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.Nop()
	events := service.NewLocalEvents()
	scorer := essay.NewScorer(essay.DefaultRubric())

	essays := service.NewEssayService(repository.NewEssayRepository(db), scorer, nil, nil, events, validate, logger, service.EssayServiceConfig{})
	exams := service.NewExamService(repository.NewExamRepository(db), exam.DefaultPolicy(), events, validate, logger)
	evaluations := service.NewEvaluationService(repository.NewEvaluationRepository(db), scorer, nil, nil, events, events, validate, logger, service.EvaluationServiceConfig{})

	app := fiber.New()
	api := app.Group("/api/v2", asUser(2, "teacher"))
	handler.NewEssayHandler(essays, validate, logger).Register(api.Group("/essays"))
	handler.NewExamHandler(exams, validate, logger).Register(api.Group("/exams"))
	handler.NewEvaluationHandler(evaluations, validate, logger).Register(api.Group("/evaluations"))
	return app
}

func validateBody(t *testing.T, schema *jsonschema.Schema, resp *http.Response) json.RawMessage {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	var payload interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.NoError(t, schema.Validate(payload))

	var out envelope
	require.NoError(t, json.Unmarshal(body, &out))
	return out.Data
}

func TestEssayScoreContract(t *testing.T) {
	app := contractApp(t)
	schema := compileSchema(t, "essay_response.schema.json")

	text := "我的家鄉在台灣南部，那裡有美麗的海岸。\n每年夏天，我們都會去海邊玩水，看夕陽。\n家鄉的人很熱情，食物也很好吃。"
	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/v2/essays/score", dto.EssayScoreRequest{
		Title:       "我的家鄉",
		StudentName: "王小明",
		Text:        text,
	}), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	data := validateBody(t, schema, resp)
	var result dto.EssayResponse
	require.NoError(t, json.Unmarshal(data, &result))
	require.Equal(t, 3, result.Features.ParagraphCount)
	require.InDelta(t, result.Scores.Content+result.Scores.Structure+result.Scores.Grammar+result.Scores.Vocabulary, result.Scores.Total, 1e-9)
}

func TestExamGradingContract(t *testing.T) {
	app := contractApp(t)
	schema := compileSchema(t, "exam_grading.schema.json")

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/v2/exams/keys", dto.ExamKeyRequest{
		Title:          "RLC circuit",
		StandardAnswer: map[string]float64{"voltage": 100, "current": 2, "offset": 0},
		Criteria: []dto.ExamCriterionRequest{
			{Item: "voltage", MaxScore: 10, Tolerance: 0.02},
			{Item: "current", MaxScore: 5, Tolerance: 0.05},
			{Item: "offset", MaxScore: 5, Tolerance: 0.05},
		},
	}), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created envelope
	decodeResponse(t, resp, &created)
	var key dto.ExamKeyResponse
	require.NoError(t, json.Unmarshal(created.Data, &key))

	resp, err = app.Test(jsonRequest(t, http.MethodPost, fmt.Sprintf("/api/v2/exams/keys/%d/grade", key.ID), dto.ExamGradeRequest{
		StudentID:  "s-042",
		Answers:    map[string]float64{"voltage": 105, "offset": 0.5},
		HasDiagram: true,
	}), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	data := validateBody(t, schema, resp)
	var grading dto.ExamGradingResponse
	require.NoError(t, json.Unmarshal(data, &grading))
	require.Len(t, grading.Items, 4)
	require.True(t, grading.Items[1].Unanswered)
	require.Nil(t, grading.Items[2].ErrorRate)
	require.True(t, grading.Items[2].ErrorRateInfinite)
	require.InDelta(t, 9.0, grading.Total, 1e-9)
	require.InDelta(t, 22.0, grading.MaxPossible, 1e-9)
}

func TestEvaluationMetricsContract(t *testing.T) {
	app := contractApp(t)
	schema := compileSchema(t, "evaluation_metrics.schema.json")

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/v2/evaluations", dto.EvaluationSessionRequest{Name: "pilot", Labels: []string{"A", "B", "C"}}), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created envelope
	decodeResponse(t, resp, &created)
	var session dto.EvaluationSessionResponse
	require.NoError(t, json.Unmarshal(created.Data, &session))

	for _, pair := range []dto.EvaluationResultRequest{
		{Predicted: "A", Actual: "A"},
		{Predicted: "B", Actual: "A"},
		{Predicted: "B", Actual: "B"},
		{Predicted: "C", Actual: "C"},
	} {
		status, _ := doRequest(t, app, jsonRequest(t, http.MethodPost, "/api/v2/evaluations/"+session.ID+"/results", pair))
		require.Equal(t, fiber.StatusCreated, status)
	}

	status, body := doRequest(t, app, jsonRequest(t, http.MethodPost, "/api/v2/evaluations/"+session.ID+"/results", dto.EvaluationResultRequest{Predicted: "Z", Actual: "A"}))
	require.Equal(t, fiber.StatusBadRequest, status)
	require.False(t, body.Success)

	resp, err = app.Test(jsonRequest(t, http.MethodGet, "/api/v2/evaluations/"+session.ID+"/metrics", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	data := validateBody(t, schema, resp)
	var snapshot dto.EvaluationMetricsResponse
	require.NoError(t, json.Unmarshal(data, &snapshot))
	require.Equal(t, 4, snapshot.Report.Total)
	require.InDelta(t, 0.75, snapshot.Report.Accuracy, 1e-9)
}
