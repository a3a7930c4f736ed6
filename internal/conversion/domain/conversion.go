// Package domain defines the trial conversion results.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Metrics carries the conversion counts. Still-pending trials are excluded
// from every number here. Field names are a stability contract with
// downstream consumers.
type Metrics struct {
	TotalTrials       int `json:"total_trials"`
	ConvertedTrials   int `json:"converted_trials"`
	UnconvertedTrials int `json:"unconverted_trials"`
}

type TrialDetail struct {
	SubscriptionID string          `json:"subscription_id"`
	CustomerID     string          `json:"customer_id"`
	MonthlyValue   decimal.Decimal `json:"monthly_value"`
	Converted      bool            `json:"converted"`
	ConversionDate *time.Time      `json:"conversion_date"`
}

// Result is the verified outcome of one trial cohort window.
type Result struct {
	ConversionRate float64       `json:"conversion_rate"`
	Metrics        Metrics       `json:"metrics"`
	TrialDetails   []TrialDetail `json:"trial_details"`
}
