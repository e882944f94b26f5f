package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// EssayRepository persists scored essays.
type EssayRepository interface {
	Create(ctx context.Context, submission *models.EssaySubmission) error
	GetByID(ctx context.Context, id uint) (models.EssaySubmission, error)
	ListRecent(ctx context.Context, limit int) ([]models.EssaySubmission, error)
}

type essayRepository struct {
	db *gorm.DB
}

// NewEssayRepository constructs an essay repository.
func NewEssayRepository(db *gorm.DB) EssayRepository {
	return &essayRepository{db: db}
}

func (r *essayRepository) Create(ctx context.Context, submission *models.EssaySubmission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

func (r *essayRepository) GetByID(ctx context.Context, id uint) (models.EssaySubmission, error) {
	var submission models.EssaySubmission
	if err := r.db.WithContext(ctx).First(&submission, id).Error; err != nil {
		return models.EssaySubmission{}, err
	}
	return submission, nil
}

func (r *essayRepository) ListRecent(ctx context.Context, limit int) ([]models.EssaySubmission, error) {
	var submissions []models.EssaySubmission
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(clampLimit(limit)).
		Find(&submissions).Error
	if err != nil {
		return nil, err
	}
	return submissions, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
