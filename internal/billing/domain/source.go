package domain

import "context"

// Source is the inbound billing-provider dependency. Implementations must be
// safe for concurrent use; the conversion verifier fans out charge lookups.
type Source interface {
	// ListSubscriptions returns every subscription regardless of status,
	// with customer, price and discount data expanded.
	ListSubscriptions(ctx context.Context) ([]Subscription, error)

	// ListCharges returns the customer's payment history, newest first.
	ListCharges(ctx context.Context, customerID string) ([]Charge, error)
}
