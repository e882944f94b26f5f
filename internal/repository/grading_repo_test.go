package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

func setupGradingTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.EssaySubmission{},
		&models.ExamKey{},
		&models.ExamGrading{},
		&models.EvaluationSession{},
		&models.EvaluationPair{},
	))
	return db
}

func TestEssayRepositoryListRecent(t *testing.T) {
	db := setupGradingTestDB(t)
	repo := NewEssayRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, &models.EssaySubmission{Title: fmt.Sprintf("essay-%d", i), Source: models.EssaySourceText}))
	}

	recent, err := repo.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "essay-2", recent[0].Title)

	_, err = repo.GetByID(ctx, 999)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestExamRepositoryRoundTrip(t *testing.T) {
	db := setupGradingTestDB(t)
	repo := NewExamRepository(db)
	ctx := context.Background()

	key := models.ExamKey{
		Title:          "AC circuits",
		StandardAnswer: datatypes.JSON(`{"voltage":100}`),
		Criteria:       datatypes.JSON(`[{"item":"voltage","max_score":10,"tolerance":0.02}]`),
	}
	require.NoError(t, repo.CreateKey(ctx, &key))
	require.NotZero(t, key.ID)

	stored, err := repo.GetKey(ctx, key.ID)
	require.NoError(t, err)
	require.JSONEq(t, `{"voltage":100}`, string(stored.StandardAnswer))

	grading := models.ExamGrading{ExamKeyID: key.ID, StudentID: "s-1", Total: 7, MaxPossible: 10, LineItems: datatypes.JSON(`[]`)}
	require.NoError(t, repo.CreateGrading(ctx, &grading))

	list, err := repo.ListGradings(ctx, key.ID, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "s-1", list[0].StudentID)
}

func TestEvaluationRepositoryListsPairsInSequence(t *testing.T) {
	db := setupGradingTestDB(t)
	repo := NewEvaluationRepository(db)
	ctx := context.Background()

	session := models.EvaluationSession{ID: "11111111-2222-3333-4444-555555555555", Name: "trial", Labels: datatypes.JSON(`["A","B"]`)}
	require.NoError(t, repo.CreateSession(ctx, &session))

	require.NoError(t, repo.AppendPair(ctx, &models.EvaluationPair{SessionID: session.ID, Sequence: 2, Predicted: "B", Actual: "A", Source: models.PairSourceManual}))
	require.NoError(t, repo.AppendPair(ctx, &models.EvaluationPair{SessionID: session.ID, Sequence: 1, Predicted: "A", Actual: "A", Source: models.PairSourceManual}))
	require.NoError(t, repo.AppendPair(ctx, &models.EvaluationPair{SessionID: "other", Sequence: 1, Predicted: "A", Actual: "A", Source: models.PairSourceManual}))

	pairs, err := repo.ListPairs(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	require.Equal(t, 1, pairs[0].Sequence)
	require.Equal(t, 2, pairs[1].Sequence)

	_, err = repo.GetSession(ctx, "missing")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
