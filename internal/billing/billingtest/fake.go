// Package billingtest provides an in-memory billing source for tests.
package billingtest

import (
	"context"
	"sync"

	"github.com/smallbiznis/revlens/internal/billing/domain"
)

// FakeSource implements domain.Source against in-memory fixtures.
type FakeSource struct {
	mu sync.Mutex

	Subscriptions []domain.Subscription
	Charges       map[string][]domain.Charge

	// ListErr fails ListSubscriptions when set.
	ListErr error
	// ChargeErrs fails ListCharges for specific customers.
	ChargeErrs map[string]error

	ChargeCalls map[string]int
}

func NewFakeSource() *FakeSource {
	return &FakeSource{
		Charges:     map[string][]domain.Charge{},
		ChargeErrs:  map[string]error{},
		ChargeCalls: map[string]int{},
	}
}

func (f *FakeSource) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := make([]domain.Subscription, len(f.Subscriptions))
	copy(out, f.Subscriptions)
	return out, nil
}

func (f *FakeSource) ListCharges(ctx context.Context, customerID string) ([]domain.Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ChargeCalls[customerID]++
	if err, ok := f.ChargeErrs[customerID]; ok {
		return nil, err
	}
	out := make([]domain.Charge, len(f.Charges[customerID]))
	copy(out, f.Charges[customerID])
	return out, nil
}

var _ domain.Source = (*FakeSource)(nil)
