// Package domain defines the point-in-time analytics summary.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/revlens/internal/classify"
)

type LineItem struct {
	SubscriptionID string          `json:"subscription_id"`
	CustomerID     string          `json:"customer_id"`
	Status         classify.Status `json:"status"`
	MonthlyValue   decimal.Decimal `json:"monthly_value"`
	IsCounted      bool            `json:"is_counted"`
	IsTrialCounted bool            `json:"is_trial_counted"`
}

// Result summarizes the latest snapshot date. A nil SnapshotDate means no
// snapshot has ever been recorded.
type Result struct {
	SnapshotDate     *time.Time      `json:"snapshot_date"`
	MRR              decimal.Decimal `json:"mrr"`
	CountedCustomers int64           `json:"counted_customers"`
	TrialPipeline    decimal.Decimal `json:"trial_pipeline"`
	TrialCustomers   int64           `json:"trial_customers"`
	LineItems        []LineItem      `json:"line_items"`
}
