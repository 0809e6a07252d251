package repository

import (
	"context"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"

	"gorm.io/gorm"
)

type DeadLetterGormRepository struct {
	db *gorm.DB
}

func NewDeadLetterGormRepository(db *gorm.DB) *DeadLetterGormRepository {
	return &DeadLetterGormRepository{db: db}
}

func (r *DeadLetterGormRepository) Create(ctx context.Context, dl model.DeadLetter) error {
	return r.db.WithContext(ctx).Create(&dl).Error
}

// 新しい順
func (r *DeadLetterGormRepository) List(ctx context.Context, limit int) ([]model.DeadLetter, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []model.DeadLetter
	if err := r.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&out).Error; err != nil {
		return []model.DeadLetter{}, err
	}
	return out, nil
}
