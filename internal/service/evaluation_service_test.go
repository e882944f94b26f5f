package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/essay"
	"github.com/noah-isme/gema-grading-api/internal/evaluation"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
)

type fakeLabeler struct {
	grade string
	err   error
}

func (f *fakeLabeler) Label(context.Context, string, []string) (ai.LabelResult, error) {
	return ai.LabelResult{Grade: f.grade, Rationale: "test"}, f.err
}

type evaluationFixture struct {
	db     *gorm.DB
	svc    EvaluationService
	events *LocalEvents
	redis  *redis.Client
}

func newEvaluationFixture(t *testing.T, labeler ai.Labeler) evaluationFixture {
	t.Helper()
	db := setupGradingDB(t)

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	events := NewRecordingLocalEvents()
	svc := newEvaluationServiceOn(db, labeler, redisClient, events)
	require.NoError(t, svc.Start(context.Background()))

	return evaluationFixture{db: db, svc: svc, events: events, redis: redisClient}
}

func newEvaluationServiceOn(db *gorm.DB, labeler ai.Labeler, redisClient *redis.Client, events *LocalEvents) EvaluationService {
	return NewEvaluationService(
		repository.NewEvaluationRepository(db),
		essay.NewScorer(essay.DefaultRubric()),
		labeler,
		redisClient,
		events,
		events,
		testValidator(),
		testLogger(),
		EvaluationServiceConfig{MetricsCacheTTL: time.Minute},
	)
}

func addPairs(t *testing.T, svc EvaluationService, id string, pairs ...[2]string) {
	t.Helper()
	for _, pair := range pairs {
		_, err := svc.AddResult(context.Background(), id, dto.EvaluationResultRequest{Predicted: pair[0], Actual: pair[1]})
		require.NoError(t, err)
	}
}

func TestEvaluationServiceCreateDefaultsLabels(t *testing.T) {
	fx := newEvaluationFixture(t, nil)

	session, err := fx.svc.Create(context.Background(), 3, dto.EvaluationSessionRequest{Name: "rubric v1"})
	require.NoError(t, err)
	require.Len(t, session.ID, 36)
	require.Equal(t, evaluation.DefaultLabels, session.Labels)
	require.Zero(t, session.Results)

	_, err = fx.svc.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrEvaluationNotFound)
}

func TestEvaluationServiceCreateRejectsPaddedDuplicateLabels(t *testing.T) {
	fx := newEvaluationFixture(t, nil)
	ctx := context.Background()

	for _, labels := range [][]string{{"A", "A ", "B"}, {"A", "  ", "B"}} {
		_, err := fx.svc.Create(ctx, 1, dto.EvaluationSessionRequest{Name: "padded", Labels: labels})
		require.ErrorIs(t, err, ErrInvalidLabelSet, "%q", labels)
	}

	session, err := fx.svc.Create(ctx, 1, dto.EvaluationSessionRequest{Name: "trimmed", Labels: []string{" A", "B "}})
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, session.Labels)

	addPairs(t, fx.svc, session.ID, [2]string{"A", "A"}, [2]string{"B", "B"})
	snapshot, err := fx.svc.Metrics(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, 1.0, snapshot.Report.Accuracy)
	require.Equal(t, 1.0, snapshot.Report.MacroF1)
}

func TestEvaluationServiceMetrics(t *testing.T) {
	fx := newEvaluationFixture(t, nil)
	ctx := context.Background()

	session, err := fx.svc.Create(ctx, 1, dto.EvaluationSessionRequest{Name: "abc", Labels: []string{"A", "B", "C"}})
	require.NoError(t, err)

	empty, err := fx.svc.Metrics(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, empty.Report.NoData)

	addPairs(t, fx.svc, session.ID, [2]string{"A", "A"}, [2]string{"B", "A"}, [2]string{"C", "C"}, [2]string{"B", "B"})

	first, err := fx.svc.Metrics(ctx, session.ID)
	require.NoError(t, err)
	require.False(t, first.CacheHit)
	require.Equal(t, 4, first.Report.Total)
	require.InDelta(t, 0.75, first.Report.Accuracy, 1e-9)
	require.Equal(t, [][]int{{1, 1, 0}, {0, 1, 0}, {0, 0, 1}}, first.Report.ConfusionMatrix)

	cached, err := fx.svc.Metrics(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, cached.CacheHit)
	require.Equal(t, first.Report, cached.Report)

	addPairs(t, fx.svc, session.ID, [2]string{"C", "B"})
	fresh, err := fx.svc.Metrics(ctx, session.ID)
	require.NoError(t, err)
	require.False(t, fresh.CacheHit)
	require.Equal(t, 5, fresh.Report.Total)

	sent := fx.events.Sent()
	require.Len(t, sent, 5)
	require.Equal(t, EventEvaluationResultAdded, sent[0].Type)
}

func TestEvaluationServiceRejectsLabelsOutsideSet(t *testing.T) {
	fx := newEvaluationFixture(t, nil)
	ctx := context.Background()

	session, err := fx.svc.Create(ctx, 1, dto.EvaluationSessionRequest{Name: "pass/fail", Labels: []string{"pass", "fail"}})
	require.NoError(t, err)

	_, err = fx.svc.AddResult(ctx, session.ID, dto.EvaluationResultRequest{Predicted: "A", Actual: "pass"})
	require.ErrorIs(t, err, ErrLabelNotInSet)

	_, err = fx.svc.AddResult(ctx, "missing", dto.EvaluationResultRequest{Predicted: "pass", Actual: "pass"})
	require.ErrorIs(t, err, ErrEvaluationNotFound)

	got, err := fx.svc.Get(ctx, session.ID)
	require.NoError(t, err)
	require.Zero(t, got.Results)
}

func TestEvaluationServiceHydratesFromRepository(t *testing.T) {
	fx := newEvaluationFixture(t, nil)
	ctx := context.Background()

	session, err := fx.svc.Create(ctx, 1, dto.EvaluationSessionRequest{Name: "restart"})
	require.NoError(t, err)
	addPairs(t, fx.svc, session.ID, [2]string{"A", "A"}, [2]string{"B", "C"})

	restarted := newEvaluationServiceOn(fx.db, nil, nil, NewLocalEvents())
	metrics, err := restarted.Metrics(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, 2, metrics.Report.Total)
	require.InDelta(t, 0.5, metrics.Report.Accuracy, 1e-9)

	pair, err := restarted.AddResult(ctx, session.ID, dto.EvaluationResultRequest{Predicted: "C", Actual: "C"})
	require.NoError(t, err)
	require.Equal(t, 3, pair.Sequence)
}

func TestEvaluationServiceLabel(t *testing.T) {
	fx := newEvaluationFixture(t, &fakeLabeler{grade: "B"})
	ctx := context.Background()

	session, err := fx.svc.Create(ctx, 1, dto.EvaluationSessionRequest{Name: "labelers"})
	require.NoError(t, err)

	text := "我的家鄉很美。\nIt is nice."
	_, breakdown := essay.NewScorer(essay.DefaultRubric()).Evaluate(text)

	rubricPair, err := fx.svc.Label(ctx, session.ID, dto.EvaluationLabelRequest{Text: text, Actual: "A", Labeler: dto.LabelerRubric})
	require.NoError(t, err)
	require.Equal(t, breakdown.Grade, rubricPair.Predicted)
	require.Equal(t, models.PairSourceRubric, rubricPair.Source)

	aiPair, err := fx.svc.Label(ctx, session.ID, dto.EvaluationLabelRequest{Text: text, Actual: "A", Labeler: dto.LabelerAI})
	require.NoError(t, err)
	require.Equal(t, "B", aiPair.Predicted)
	require.Equal(t, models.PairSourceAI, aiPair.Source)

	_, err = fx.svc.Label(ctx, session.ID, dto.EvaluationLabelRequest{Text: text, Actual: "A", Labeler: "oracle"})
	require.Error(t, err)
}

func TestEvaluationServiceLabelWithoutAI(t *testing.T) {
	fx := newEvaluationFixture(t, nil)
	ctx := context.Background()

	session, err := fx.svc.Create(ctx, 1, dto.EvaluationSessionRequest{Name: "no ai"})
	require.NoError(t, err)

	_, err = fx.svc.Label(ctx, session.ID, dto.EvaluationLabelRequest{Text: "text", Actual: "A", Labeler: dto.LabelerAI})
	require.ErrorIs(t, err, ErrLabelerUnavailable)
}

func TestEvaluationServiceAppliesRemoteEvents(t *testing.T) {
	fx := newEvaluationFixture(t, nil)
	ctx := context.Background()

	session, err := fx.svc.Create(ctx, 1, dto.EvaluationSessionRequest{Name: "cluster"})
	require.NoError(t, err)
	addPairs(t, fx.svc, session.ID, [2]string{"A", "A"})

	payload, err := json.Marshal(evaluationResultEvent{SessionID: session.ID, PairID: 500, Sequence: 2, Predicted: "F", Actual: "A"})
	require.NoError(t, err)
	remote := Event{Source: "other-node", Type: EventEvaluationResultAdded, Payload: payload, SentAt: time.Now()}

	fx.events.Deliver(remote)
	fx.events.Deliver(remote)

	metrics, err := fx.svc.Metrics(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, 2, metrics.Report.Total)
	require.InDelta(t, 0.5, metrics.Report.Accuracy, 1e-9)
}

func TestEvaluationServiceStreamsSnapshots(t *testing.T) {
	fx := newEvaluationFixture(t, nil)
	ctx := context.Background()

	session, err := fx.svc.Create(ctx, 1, dto.EvaluationSessionRequest{Name: "stream"})
	require.NoError(t, err)

	updates, cleanup := fx.svc.Subscribe(session.ID)
	defer cleanup()

	addPairs(t, fx.svc, session.ID, [2]string{"B", "B"})

	select {
	case snapshot := <-updates:
		require.Equal(t, session.ID, snapshot.SessionID)
		require.Equal(t, 1, snapshot.Report.Total)
		require.Equal(t, 1.0, snapshot.Report.Accuracy)
	case <-time.After(time.Second):
		t.Fatal("expected a metrics snapshot")
	}

	cleanup()
	_, open := <-updates
	require.False(t, open)
}

func TestEvaluationServiceConcurrentResults(t *testing.T) {
	fx := newEvaluationFixture(t, nil)
	ctx := context.Background()

	session, err := fx.svc.Create(ctx, 1, dto.EvaluationSessionRequest{Name: "load"})
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			label := evaluation.DefaultLabels[i%len(evaluation.DefaultLabels)]
			if _, err := fx.svc.AddResult(ctx, session.ID, dto.EvaluationResultRequest{Predicted: label, Actual: label}); err != nil {
				errs <- fmt.Errorf("worker %d: %w", i, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	metrics, err := fx.svc.Metrics(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, workers, metrics.Report.Total)
	require.Equal(t, 1.0, metrics.Report.Accuracy)

	pairs, err := repository.NewEvaluationRepository(fx.db).ListPairs(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, pairs, workers)
	for i, pair := range pairs {
		require.Equal(t, i+1, pair.Sequence)
	}
}
