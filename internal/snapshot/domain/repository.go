package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TrialOccurrence is the earliest trial-counted appearance of one
// subscription inside a query window.
type TrialOccurrence struct {
	CustomerID     string
	SubscriptionID string
	MonthlyValue   decimal.Decimal
	FirstTrialDate time.Time
}

// Aggregate summarizes one snapshot date for the analytics endpoint.
type Aggregate struct {
	MRR              decimal.Decimal
	CountedCustomers int64
	TrialPipeline    decimal.Decimal
	TrialCustomers   int64
}

type Repository interface {
	DeleteByDate(ctx context.Context, db *gorm.DB, date time.Time) error
	InsertBatch(ctx context.Context, db *gorm.DB, rows []Snapshot) error

	// CountedRowsByDate returns the rows flagged counted on the date.
	CountedRowsByDate(ctx context.Context, db *gorm.DB, date time.Time) ([]Snapshot, error)
	// TrialingSubscriptionsByDate returns the subscription ids whose status
	// is trialing on the date.
	TrialingSubscriptionsByDate(ctx context.Context, db *gorm.DB, date time.Time) ([]string, error)
	// TrialOccurrencesBetween returns, per subscription, the earliest
	// trial-counted appearance inside [from, to] inclusive.
	TrialOccurrencesBetween(ctx context.Context, db *gorm.DB, from, to time.Time) ([]TrialOccurrence, error)
	// FirstCountedOnOrAfter returns the earliest date on or after from where
	// the customer appears counted, or nil when none exists.
	FirstCountedOnOrAfter(ctx context.Context, db *gorm.DB, customerID string, from time.Time) (*time.Time, error)

	LatestDate(ctx context.Context, db *gorm.DB) (*time.Time, error)
	CountByDate(ctx context.Context, db *gorm.DB, date time.Time) (int64, error)
	AggregateByDate(ctx context.Context, db *gorm.DB, date time.Time) (Aggregate, error)
	ListByDate(ctx context.Context, db *gorm.DB, date time.Time) ([]Snapshot, error)
}

// RunRepository persists the snapshot run ledger.
type RunRepository interface {
	// Claim inserts a running ledger row for the date. It returns false
	// without error when another run already claimed the date.
	Claim(ctx context.Context, db *gorm.DB, run *Run) (bool, error)
	Complete(ctx context.Context, db *gorm.DB, id snowflake.ID, rows int64, pagesFailed int) error
	Fail(ctx context.Context, db *gorm.DB, id snowflake.ID, cause string) error
	FindByDate(ctx context.Context, db *gorm.DB, date time.Time) (*Run, error)
}
