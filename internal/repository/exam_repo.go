package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// ExamRepository persists answer keys and graded submissions.
type ExamRepository interface {
	CreateKey(ctx context.Context, key *models.ExamKey) error
	GetKey(ctx context.Context, id uint) (models.ExamKey, error)
	CreateGrading(ctx context.Context, grading *models.ExamGrading) error
	GetGrading(ctx context.Context, id uint) (models.ExamGrading, error)
	ListGradings(ctx context.Context, keyID uint, limit int) ([]models.ExamGrading, error)
}

type examRepository struct {
	db *gorm.DB
}

// NewExamRepository constructs an exam repository.
func NewExamRepository(db *gorm.DB) ExamRepository {
	return &examRepository{db: db}
}

func (r *examRepository) CreateKey(ctx context.Context, key *models.ExamKey) error {
	return r.db.WithContext(ctx).Create(key).Error
}

func (r *examRepository) GetKey(ctx context.Context, id uint) (models.ExamKey, error) {
	var key models.ExamKey
	if err := r.db.WithContext(ctx).First(&key, id).Error; err != nil {
		return models.ExamKey{}, err
	}
	return key, nil
}

func (r *examRepository) CreateGrading(ctx context.Context, grading *models.ExamGrading) error {
	return r.db.WithContext(ctx).Create(grading).Error
}

func (r *examRepository) GetGrading(ctx context.Context, id uint) (models.ExamGrading, error) {
	var grading models.ExamGrading
	if err := r.db.WithContext(ctx).First(&grading, id).Error; err != nil {
		return models.ExamGrading{}, err
	}
	return grading, nil
}

func (r *examRepository) ListGradings(ctx context.Context, keyID uint, limit int) ([]models.ExamGrading, error) {
	var gradings []models.ExamGrading
	err := r.db.WithContext(ctx).
		Where("exam_key_id = ?", keyID).
		Order("id DESC").
		Limit(clampLimit(limit)).
		Find(&gradings).Error
	if err != nil {
		return nil, err
	}
	return gradings, nil
}
