package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/revlens/internal/billing/billingtest"
	billingdomain "github.com/smallbiznis/revlens/internal/billing/domain"
	"github.com/smallbiznis/revlens/internal/classify"
	"github.com/smallbiznis/revlens/internal/clock"
	"github.com/smallbiznis/revlens/internal/config"
	"github.com/smallbiznis/revlens/internal/subscription/repository"

	subscriptiondomain "github.com/smallbiznis/revlens/internal/subscription/domain"
	"github.com/smallbiznis/revlens/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, source billingdomain.Source) (*Service, *gorm.DB) {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(&subscriptiondomain.Record{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	svc := NewService(Params{
		DB:     conn,
		Log:    zap.NewNop(),
		Source: source,
		Repo:   repository.Provide(),
		Clock:  clock.NewFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)),
		Config: config.Config{ExclusionDomains: []string{"internal.example.com"}},
	}).(*Service)
	return svc, conn
}

func TestResyncClassifiesAndUpserts(t *testing.T) {
	created := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	canceled := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	source := billingtest.NewFakeSource()
	source.Subscriptions = []billingdomain.Subscription{
		{
			ID:              "sub_paid",
			CustomerID:      "cus_1",
			CustomerEmail:   "anna@customer.example",
			Status:          classify.StatusActive,
			AmountCents:     120000,
			BaseAmountCents: 120000,
			Interval:        "year",
			CreatedAt:       created,
		},
		{
			ID:              "sub_full_discount",
			CustomerID:      "cus_2",
			CustomerEmail:   "ben@customer.example",
			Status:          classify.StatusActive,
			AmountCents:     5000,
			BaseAmountCents: 5000,
			Interval:        "month",
			CreatedAt:       created,
			Discount:        &classify.Discount{PercentOff: 100},
		},
		{
			ID:              "sub_internal",
			CustomerID:      "cus_3",
			CustomerEmail:   "ops@internal.example.com",
			Status:          classify.StatusTrialing,
			AmountCents:     5000,
			BaseAmountCents: 5000,
			Interval:        "month",
			CreatedAt:       created,
		},
		{
			ID:              "sub_canceled",
			CustomerID:      "cus_4",
			CustomerEmail:   "carol@customer.example",
			Status:          classify.StatusCanceled,
			AmountCents:     5000,
			BaseAmountCents: 5000,
			Interval:        "month",
			CreatedAt:       created,
			CanceledAt:      &canceled,
		},
	}

	svc, conn := newTestService(t, source)
	summary, err := svc.Resync(context.Background())
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if summary.Fetched != 4 || summary.Upserted != 4 {
		t.Fatalf("summary = %+v, want 4 fetched / 4 upserted", summary)
	}

	repo := repository.Provide()
	paid, err := repo.FindByID(context.Background(), conn, "sub_paid")
	if err != nil || paid == nil {
		t.Fatalf("find sub_paid: %v, %v", paid, err)
	}
	if !paid.IsCounted || paid.IsTrialCounted {
		t.Fatalf("sub_paid flags = counted=%v trial=%v, want counted only", paid.IsCounted, paid.IsTrialCounted)
	}
	if got := paid.MonthlyValue.StringFixed(2); got != "100.00" {
		t.Fatalf("sub_paid monthly value = %s, want 100.00", got)
	}

	discounted, _ := repo.FindByID(context.Background(), conn, "sub_full_discount")
	if discounted.IsCounted {
		t.Fatal("fully discounted subscription must not be counted")
	}
	if discounted.DiscountPercent != 100 {
		t.Fatalf("discount percent = %d, want 100", discounted.DiscountPercent)
	}

	internal, _ := repo.FindByID(context.Background(), conn, "sub_internal")
	if internal.IsCounted || internal.IsTrialCounted {
		t.Fatal("excluded-domain subscription must carry no flags")
	}

	cancl, _ := repo.FindByID(context.Background(), conn, "sub_canceled")
	if cancl.IsCounted || cancl.IsTrialCounted {
		t.Fatal("canceled subscription must carry no flags")
	}
	if cancl.CanceledAt == nil {
		t.Fatal("canceled_at must persist")
	}
}

func TestResyncIsIdempotentOnStatusChange(t *testing.T) {
	created := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	source := billingtest.NewFakeSource()
	source.Subscriptions = []billingdomain.Subscription{{
		ID:              "sub_1",
		CustomerID:      "cus_1",
		CustomerEmail:   "anna@customer.example",
		Status:          classify.StatusTrialing,
		AmountCents:     7000,
		BaseAmountCents: 7000,
		Interval:        "week",
		CreatedAt:       created,
	}}

	svc, conn := newTestService(t, source)
	if _, err := svc.Resync(context.Background()); err != nil {
		t.Fatalf("first resync: %v", err)
	}

	canceled := created.AddDate(0, 1, 0)
	source.Subscriptions[0].Status = classify.StatusCanceled
	source.Subscriptions[0].CanceledAt = &canceled
	if _, err := svc.Resync(context.Background()); err != nil {
		t.Fatalf("second resync: %v", err)
	}

	repo := repository.Provide()
	count, err := repo.Count(context.Background(), conn)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("record count = %d, want 1 (upsert, not insert)", count)
	}

	rec, _ := repo.FindByID(context.Background(), conn, "sub_1")
	if rec.Status != classify.StatusCanceled {
		t.Fatalf("status = %s, want canceled", rec.Status)
	}
	if rec.IsTrialCounted {
		t.Fatal("canceled trial must lose its trial flag")
	}
}

func TestResyncAbortsOnSourceFailure(t *testing.T) {
	source := billingtest.NewFakeSource()
	source.ListErr = errors.Join(billingdomain.ErrUnavailable, errors.New("rate limited"))

	svc, conn := newTestService(t, source)
	if _, err := svc.Resync(context.Background()); !errors.Is(err, billingdomain.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}

	count, err := repository.Provide().Count(context.Background(), conn)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("record count = %d, want 0 after aborted run", count)
	}
}
