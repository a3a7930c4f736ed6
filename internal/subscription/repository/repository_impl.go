package repository

import (
	"context"

	subscriptiondomain "github.com/smallbiznis/revlens/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, records []subscriptiondomain.Record) error {
	if len(records) == 0 {
		return nil
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"customer_id", "customer_email", "customer_name", "status",
			"monthly_value", "canceled_at", "trial_end", "discount_percent",
			"is_counted", "is_trial_counted", "source", "metadata", "updated_at",
		}),
	}).Create(&records).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]subscriptiondomain.Record, error) {
	var records []subscriptiondomain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT id, customer_id, customer_email, customer_name, status, monthly_value,
		 created_at, canceled_at, trial_end, discount_percent, is_counted,
		 is_trial_counted, source, metadata, updated_at
		 FROM subscription_records ORDER BY created_at ASC`,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*subscriptiondomain.Record, error) {
	var record subscriptiondomain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT id, customer_id, customer_email, customer_name, status, monthly_value,
		 created_at, canceled_at, trial_end, discount_percent, is_counted,
		 is_trial_counted, source, metadata, updated_at
		 FROM subscription_records WHERE id = ?`,
		id,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == "" {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) Count(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(`SELECT COUNT(1) FROM subscription_records`).Scan(&count).Error
	return count, err
}
