// Package domain defines the retention cohort windows and results.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Window selects how far back the baseline snapshot lies.
type Window string

const (
	Window7d    Window = "7d"
	Window30d   Window = "30d"
	Window90d   Window = "90d"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
)

// ParseWindow validates a window token from the API.
func ParseWindow(raw string) (Window, error) {
	switch w := Window(strings.ToLower(strings.TrimSpace(raw))); w {
	case Window7d, Window30d, Window90d, WindowWeek, WindowMonth:
		return w, nil
	case "":
		return Window30d, nil
	default:
		return "", fmt.Errorf("unknown window %q", raw)
	}
}

// Baseline resolves the baseline date for a target date. Fixed windows step
// back a day count; calendar windows snap to the enclosing week or month
// boundary, stepping to the previous boundary when the target already sits
// on one.
func (w Window) Baseline(target time.Time) time.Time {
	switch w {
	case Window7d:
		return target.AddDate(0, 0, -7)
	case Window90d:
		return target.AddDate(0, 0, -90)
	case WindowWeek:
		offset := (int(target.Weekday()) + 6) % 7 // days since Monday
		if offset == 0 {
			offset = 7
		}
		return target.AddDate(0, 0, -offset)
	case WindowMonth:
		first := time.Date(target.Year(), target.Month(), 1, 0, 0, 0, 0, target.Location())
		if first.Equal(target) {
			return first.AddDate(0, -1, 0)
		}
		return first
	default:
		return target.AddDate(0, 0, -30)
	}
}

// DetailStatus labels one subscription inside the comparison details.
type DetailStatus string

const (
	DetailRetained DetailStatus = "retained"
	DetailChurned  DetailStatus = "churned"
)

// Metrics carries the cohort counts. Field names are a stability contract
// with downstream consumers.
type Metrics struct {
	PreviousPeriodCustomers int `json:"previous_period_customers"`
	CurrentPeriodCustomers  int `json:"current_period_customers"`
	RetainedCustomers       int `json:"retained_customers"`
	ChurnedCustomers        int `json:"churned_customers"`
	NewCustomers            int `json:"new_customers"`
}

type SubscriptionDetail struct {
	SubscriptionID string          `json:"subscription_id"`
	CustomerID     string          `json:"customer_id"`
	MonthlyValue   decimal.Decimal `json:"monthly_value"`
	Status         DetailStatus    `json:"status"`
}

// Result is the retention comparison between the baseline and target dates.
type Result struct {
	RetentionRate       float64              `json:"retention_rate"`
	Metrics             Metrics              `json:"metrics"`
	SubscriptionDetails []SubscriptionDetail `json:"subscription_details"`

	// InsufficientData distinguishes "no baseline snapshot exists" from a
	// genuine 0% retention.
	InsufficientData bool `json:"insufficient_data,omitempty"`
}
