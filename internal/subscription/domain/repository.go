package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, records []Record) error
	List(ctx context.Context, db *gorm.DB) ([]Record, error)
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Record, error)
	Count(ctx context.Context, db *gorm.DB) (int64, error)
}
