// Package domain defines the billing-provider facing models and interfaces.
package domain

import (
	"errors"
	"time"

	"github.com/smallbiznis/revlens/internal/classify"
)

var (
	// ErrUnavailable indicates the billing provider could not be reached.
	ErrUnavailable = errors.New("billing_provider_unavailable")
)

// Subscription is the provider-neutral view of a billing subscription,
// expanded with its customer and price data.
type Subscription struct {
	ID            string
	CustomerID    string
	CustomerEmail string
	CustomerName  string
	Status        classify.Status

	// AmountCents is the recurring amount of the primary line item;
	// BaseAmountCents sums all line items and anchors amount-off discounts.
	AmountCents     int64
	BaseAmountCents int64
	Interval        string

	CreatedAt  time.Time
	CanceledAt *time.Time
	TrialEnd   *time.Time

	Discount *classify.Discount

	Metadata map[string]string
}

// Charge is a settled payment attempt on a customer.
type Charge struct {
	ID        string
	Amount    int64
	Captured  bool
	Refunded  bool
	Blocked   bool
	CreatedAt time.Time
}

// Settled reports whether the charge represents real collected revenue.
func (c Charge) Settled() bool {
	return c.Captured && !c.Refunded && !c.Blocked
}
