package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// EvaluationRepository persists evaluation sessions and their label pairs.
type EvaluationRepository interface {
	CreateSession(ctx context.Context, session *models.EvaluationSession) error
	GetSession(ctx context.Context, id string) (models.EvaluationSession, error)
	AppendPair(ctx context.Context, pair *models.EvaluationPair) error
	ListPairs(ctx context.Context, sessionID string) ([]models.EvaluationPair, error)
}

type evaluationRepository struct {
	db *gorm.DB
}

// NewEvaluationRepository constructs an evaluation repository.
func NewEvaluationRepository(db *gorm.DB) EvaluationRepository {
	return &evaluationRepository{db: db}
}

func (r *evaluationRepository) CreateSession(ctx context.Context, session *models.EvaluationSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *evaluationRepository) GetSession(ctx context.Context, id string) (models.EvaluationSession, error) {
	var session models.EvaluationSession
	if err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		return models.EvaluationSession{}, err
	}
	return session, nil
}

func (r *evaluationRepository) AppendPair(ctx context.Context, pair *models.EvaluationPair) error {
	return r.db.WithContext(ctx).Create(pair).Error
}

// ListPairs returns the pairs of a session in submission order.
func (r *evaluationRepository) ListPairs(ctx context.Context, sessionID string) ([]models.EvaluationPair, error) {
	var pairs []models.EvaluationPair
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sequence ASC").
		Order("id ASC").
		Find(&pairs).Error
	if err != nil {
		return nil, err
	}
	return pairs, nil
}
