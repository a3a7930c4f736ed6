// Package domain contains persistence models for daily subscription snapshots.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/revlens/internal/classify"
	subscriptiondomain "github.com/smallbiznis/revlens/internal/subscription/domain"
)

// Snapshot is the state of one subscription frozen at one snapshot date.
// The composite key on (snapshot_date, subscription_id) makes re-runs for a
// date replace rows instead of duplicating them.
type Snapshot struct {
	SnapshotDate   time.Time       `gorm:"primaryKey;type:date;uniqueIndex:ux_snapshot_date_subscription"`
	SubscriptionID string          `gorm:"primaryKey;type:text;uniqueIndex:ux_snapshot_date_subscription"`
	CustomerID     string          `gorm:"not null;index;type:text"`
	Status         classify.Status `gorm:"type:text;not null"`
	MonthlyValue   decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	IsActive       bool            `gorm:"not null;default:false"`
	IsCounted      bool            `gorm:"not null;default:false"`
	IsTrialCounted bool            `gorm:"not null;default:false"`
	DiscountPercent int64          `gorm:"not null;default:0"`
	Source         subscriptiondomain.RecordSource `gorm:"type:text;not null;default:'stripe'"`
	CreatedAt      time.Time       `gorm:"not null"`
}

// TableName sets the database table name.
func (Snapshot) TableName() string { return "subscription_snapshots" }

// RunStatus is the lifecycle state of one scheduled snapshot run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is the ledger row that guards each snapshot date against double
// execution across scheduler restarts.
type Run struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	RunDate     time.Time    `gorm:"type:date;not null;uniqueIndex:ux_snapshot_runs_date"`
	Status      RunStatus    `gorm:"type:text;not null"`
	RowsWritten int64        `gorm:"not null;default:0"`
	PagesFailed int          `gorm:"not null;default:0"`
	Error       string       `gorm:"type:text"`
	StartedAt   time.Time    `gorm:"not null"`
	CompletedAt *time.Time   `gorm:""`
}

// TableName sets the database table name.
func (Run) TableName() string { return "snapshot_runs" }
