package repository

import (
	"context"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
)

type DeadLetterRepository interface {
	Create(ctx context.Context, dl model.DeadLetter) error
	List(ctx context.Context, limit int) ([]model.DeadLetter, error)
}
