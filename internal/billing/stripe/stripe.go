// Package stripe adapts the Stripe API to the billing source interface.
package stripe

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/revlens/internal/classify"
	stripe "github.com/stripe/stripe-go/v82"
	stripeclient "github.com/stripe/stripe-go/v82/client"

	"github.com/smallbiznis/revlens/internal/billing/domain"
)

// Source lists subscriptions and charges through an injected Stripe client.
type Source struct {
	api *stripeclient.API
}

// New builds a Source for the given API key.
func New(apiKey string) *Source {
	api := &stripeclient.API{}
	api.Init(apiKey, nil)
	return &Source{api: api}
}

func (s *Source) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Status: stripe.String("all"),
	}
	params.Context = ctx
	params.AddExpand("data.customer")
	params.AddExpand("data.discounts")
	params.AddExpand("data.items.data.price")

	var out []domain.Subscription
	iter := s.api.Subscriptions.List(params)
	for iter.Next() {
		out = append(out, mapSubscription(iter.Subscription()))
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Join(domain.ErrUnavailable, err)
	}
	return out, nil
}

func (s *Source) ListCharges(ctx context.Context, customerID string) ([]domain.Charge, error) {
	params := &stripe.ChargeListParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx

	var out []domain.Charge
	iter := s.api.Charges.List(params)
	for iter.Next() {
		out = append(out, mapCharge(iter.Charge()))
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Join(domain.ErrUnavailable, err)
	}
	return out, nil
}

func mapSubscription(sub *stripe.Subscription) domain.Subscription {
	mapped := domain.Subscription{
		ID:        sub.ID,
		Status:    classify.Status(sub.Status),
		CreatedAt: time.Unix(sub.Created, 0).UTC(),
		Metadata:  sub.Metadata,
	}
	if sub.Customer != nil {
		mapped.CustomerID = sub.Customer.ID
		mapped.CustomerEmail = sub.Customer.Email
		mapped.CustomerName = sub.Customer.Name
	}
	if sub.CanceledAt > 0 {
		t := time.Unix(sub.CanceledAt, 0).UTC()
		mapped.CanceledAt = &t
	}
	if sub.TrialEnd > 0 {
		t := time.Unix(sub.TrialEnd, 0).UTC()
		mapped.TrialEnd = &t
	}

	if sub.Items != nil {
		for i, item := range sub.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			qty := item.Quantity
			if qty <= 0 {
				qty = 1
			}
			line := item.Price.UnitAmount * qty
			mapped.BaseAmountCents += line
			if i == 0 {
				mapped.AmountCents = line
				if item.Price.Recurring != nil {
					mapped.Interval = string(item.Price.Recurring.Interval)
				}
			}
		}
	}

	if d := firstCoupon(sub.Discounts); d != nil {
		mapped.Discount = &classify.Discount{
			PercentOff: d.PercentOff,
			AmountOff:  d.AmountOff,
		}
	}
	return mapped
}

func firstCoupon(discounts []*stripe.Discount) *stripe.Coupon {
	for _, d := range discounts {
		if d != nil && d.Coupon != nil {
			return d.Coupon
		}
	}
	return nil
}

func mapCharge(ch *stripe.Charge) domain.Charge {
	blocked := ch.Outcome != nil && ch.Outcome.Type == "blocked"
	return domain.Charge{
		ID:        ch.ID,
		Amount:    ch.Amount,
		Captured:  ch.Captured,
		Refunded:  ch.Refunded,
		Blocked:   blocked,
		CreatedAt: time.Unix(ch.Created, 0).UTC(),
	}
}
