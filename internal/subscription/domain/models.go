// Package domain contains persistence models for subscription records.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/revlens/internal/classify"
	"gorm.io/datatypes"
)

// RecordSource identifies where a subscription record came from.
type RecordSource string

const (
	SourceStripe  RecordSource = "stripe"
	SourceCurated RecordSource = "curated"
)

// Record is the canonical live state of one billing subscription. Rows are
// upserted on every resync and never deleted; cancellation is a status
// transition so history survives.
type Record struct {
	ID              string          `gorm:"primaryKey;type:text"`
	CustomerID      string          `gorm:"not null;index;type:text"`
	CustomerEmail   string          `gorm:"type:text"`
	CustomerName    string          `gorm:"type:text"`
	Status          classify.Status `gorm:"type:text;not null"`
	MonthlyValue    decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	CreatedAt       time.Time       `gorm:"not null"`
	CanceledAt      *time.Time      `gorm:""`
	TrialEnd        *time.Time      `gorm:""`
	DiscountPercent int64           `gorm:"not null;default:0"`
	IsCounted       bool            `gorm:"not null;default:false"`
	IsTrialCounted  bool            `gorm:"not null;default:false"`
	Source          RecordSource    `gorm:"type:text;not null;default:'stripe'"`
	Metadata        datatypes.JSONMap `gorm:"type:jsonb"`
	UpdatedAt       time.Time       `gorm:"not null"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "subscription_records" }
