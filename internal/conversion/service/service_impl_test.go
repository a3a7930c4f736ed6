package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/revlens/internal/billing/billingtest"
	billingdomain "github.com/smallbiznis/revlens/internal/billing/domain"
	"github.com/smallbiznis/revlens/internal/classify"
	cohortdomain "github.com/smallbiznis/revlens/internal/cohort/domain"
	"github.com/smallbiznis/revlens/internal/config"
	conversiondomain "github.com/smallbiznis/revlens/internal/conversion/domain"
	snapshotdomain "github.com/smallbiznis/revlens/internal/snapshot/domain"
	snapshotrepo "github.com/smallbiznis/revlens/internal/snapshot/repository"
	"github.com/smallbiznis/revlens/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var target = time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

func day(d int) time.Time {
	return time.Date(2025, 6, d, 0, 0, 0, 0, time.UTC)
}

func newTestService(t *testing.T, source billingdomain.Source) (*Service, *gorm.DB) {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(&snapshotdomain.Snapshot{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc := NewService(Params{
		DB:     conn,
		Log:    zap.NewNop(),
		Repo:   snapshotrepo.Provide(),
		Source: source,
		Config: config.Config{ConversionConcurrency: 2, ConversionCacheTTL: time.Minute},
	})
	return svc, conn
}

func seed(t *testing.T, conn *gorm.DB, rows []snapshotdomain.Snapshot) {
	t.Helper()
	if err := snapshotrepo.Provide().InsertBatch(context.Background(), conn, rows); err != nil {
		t.Fatalf("seed snapshots: %v", err)
	}
}

func trialRow(date time.Time, subID, custID string) snapshotdomain.Snapshot {
	return snapshotdomain.Snapshot{
		SnapshotDate:   date,
		SubscriptionID: subID,
		CustomerID:     custID,
		Status:         classify.StatusTrialing,
		MonthlyValue:   decimal.RequireFromString("50.00"),
		IsActive:       true,
		IsTrialCounted: true,
	}
}

func countedRow(date time.Time, subID, custID string) snapshotdomain.Snapshot {
	return snapshotdomain.Snapshot{
		SnapshotDate:   date,
		SubscriptionID: subID,
		CustomerID:     custID,
		Status:         classify.StatusActive,
		MonthlyValue:   decimal.RequireFromString("50.00"),
		IsActive:       true,
		IsCounted:      true,
	}
}

func canceledRow(date time.Time, subID, custID string) snapshotdomain.Snapshot {
	return snapshotdomain.Snapshot{
		SnapshotDate:   date,
		SubscriptionID: subID,
		CustomerID:     custID,
		Status:         classify.StatusCanceled,
		MonthlyValue:   decimal.RequireFromString("50.00"),
	}
}

func TestVerifyLedgerTier(t *testing.T) {
	source := billingtest.NewFakeSource()
	svc, conn := newTestService(t, source)
	seed(t, conn, []snapshotdomain.Snapshot{
		// Converted: trial on the 1st, counted from the 10th.
		trialRow(day(1), "sub_conv", "cus_conv"),
		countedRow(day(10), "sub_conv", "cus_conv"),
		// Lost: trial on the 1st, canceled by the 5th, never counted.
		trialRow(day(1), "sub_lost", "cus_lost"),
		canceledRow(day(5), "sub_lost", "cus_lost"),
	})

	result, err := svc.Verify(context.Background(), target, cohortdomain.Window30d)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	want := conversionMetrics(2, 1, 1)
	if result.Metrics != want {
		t.Fatalf("metrics = %+v, want %+v", result.Metrics, want)
	}
	if result.ConversionRate != 50 {
		t.Fatalf("rate = %v, want 50", result.ConversionRate)
	}

	byID := detailsByID(result.TrialDetails)
	conv := byID["sub_conv"]
	if !conv.Converted || conv.ConversionDate == nil || !conv.ConversionDate.Equal(day(10)) {
		t.Fatalf("sub_conv = %+v, want converted on the 10th", conv)
	}
	if byID["sub_lost"].Converted {
		t.Fatal("sub_lost must stay unconverted")
	}

	// The ledger settled the converted trial without touching the provider;
	// only the unresolved one fell through to the charge scan.
	if calls := source.ChargeCalls["cus_conv"]; calls != 0 {
		t.Fatalf("cus_conv charge calls = %d, want 0", calls)
	}
	if calls := source.ChargeCalls["cus_lost"]; calls != 1 {
		t.Fatalf("cus_lost charge calls = %d, want 1", calls)
	}
}

func TestVerifyExcludesPending(t *testing.T) {
	source := billingtest.NewFakeSource()
	svc, conn := newTestService(t, source)
	seed(t, conn, []snapshotdomain.Snapshot{
		trialRow(day(1), "sub_conv", "cus_conv"),
		countedRow(day(10), "sub_conv", "cus_conv"),
		// Still trialing at the target date: pending, out of the math.
		trialRow(day(20), "sub_pending", "cus_pending"),
		trialRow(target, "sub_pending", "cus_pending"),
	})

	result, err := svc.Verify(context.Background(), target, cohortdomain.Window30d)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Metrics.TotalTrials != 1 {
		t.Fatalf("total trials = %d, want 1 (pending excluded)", result.Metrics.TotalTrials)
	}
	if result.ConversionRate != 100 {
		t.Fatalf("rate = %v, want 100", result.ConversionRate)
	}
	if _, ok := detailsByID(result.TrialDetails)["sub_pending"]; ok {
		t.Fatal("pending trial must not appear in details")
	}
}

func TestVerifyChargeFallback(t *testing.T) {
	source := billingtest.NewFakeSource()
	source.Charges["cus_charge"] = []billingdomain.Charge{
		{ID: "ch_old", Amount: 5000, Captured: true, CreatedAt: day(1).Add(-time.Hour)},
		{ID: "ch_refunded", Amount: 5000, Captured: true, Refunded: true, CreatedAt: day(12)},
		{ID: "ch_good", Amount: 5000, Captured: true, CreatedAt: day(14).Add(9 * time.Hour)},
	}
	svc, conn := newTestService(t, source)
	seed(t, conn, []snapshotdomain.Snapshot{
		// No counted snapshot ever; only the payment history knows.
		trialRow(day(2), "sub_charge", "cus_charge"),
		canceledRow(day(20), "sub_charge", "cus_charge"),
	})

	result, err := svc.Verify(context.Background(), target, cohortdomain.Window30d)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	detail := detailsByID(result.TrialDetails)["sub_charge"]
	if !detail.Converted {
		t.Fatal("settled charge after trial start must mean converted")
	}
	if detail.ConversionDate == nil || !detail.ConversionDate.Equal(day(14)) {
		t.Fatalf("conversion date = %v, want the 14th", detail.ConversionDate)
	}

	// Second read hits the memoized verdict, not the provider.
	if _, err := svc.Verify(context.Background(), target, cohortdomain.Window30d); err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if calls := source.ChargeCalls["cus_charge"]; calls != 1 {
		t.Fatalf("charge calls = %d, want 1 (memoized)", calls)
	}
}

func TestVerifyLookupFailureIsConservative(t *testing.T) {
	source := billingtest.NewFakeSource()
	source.ChargeErrs["cus_broken"] = errors.Join(billingdomain.ErrUnavailable, errors.New("timeout"))
	source.Charges["cus_ok"] = []billingdomain.Charge{
		{ID: "ch_ok", Amount: 5000, Captured: true, CreatedAt: day(15)},
	}
	svc, conn := newTestService(t, source)
	seed(t, conn, []snapshotdomain.Snapshot{
		trialRow(day(2), "sub_broken", "cus_broken"),
		canceledRow(day(20), "sub_broken", "cus_broken"),
		trialRow(day(2), "sub_ok", "cus_ok"),
		canceledRow(day(20), "sub_ok", "cus_ok"),
	})

	result, err := svc.Verify(context.Background(), target, cohortdomain.Window30d)
	if err != nil {
		t.Fatalf("verify must tolerate per-customer failures: %v", err)
	}

	byID := detailsByID(result.TrialDetails)
	if byID["sub_broken"].Converted {
		t.Fatal("failed lookup must default to not converted")
	}
	if !byID["sub_ok"].Converted {
		t.Fatal("healthy customer in the same batch must still verify")
	}
	if result.ConversionRate != 50 {
		t.Fatalf("rate = %v, want 50", result.ConversionRate)
	}
}

func TestVerifyTracksEachTrialSubscriptionPerCustomer(t *testing.T) {
	source := billingtest.NewFakeSource()
	svc, conn := newTestService(t, source)
	seed(t, conn, []snapshotdomain.Snapshot{
		// First trial, converted by the 3rd.
		trialRow(day(1), "sub_first", "cus_multi"),
		countedRow(day(3), "sub_first", "cus_multi"),
		// Second trial of the same customer, decided lost.
		trialRow(day(10), "sub_second", "cus_multi"),
		canceledRow(day(20), "sub_second", "cus_multi"),
		// Third trial still open at the target: pending and excluded, but it
		// must not drag the customer's decided trials out of the cohort.
		trialRow(day(12), "sub_open", "cus_multi"),
		trialRow(target, "sub_open", "cus_multi"),
	})

	result, err := svc.Verify(context.Background(), target, cohortdomain.Window30d)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	want := conversionMetrics(2, 1, 1)
	if result.Metrics != want {
		t.Fatalf("metrics = %+v, want %+v", result.Metrics, want)
	}
	if result.ConversionRate != 50 {
		t.Fatalf("rate = %v, want 50", result.ConversionRate)
	}

	byID := detailsByID(result.TrialDetails)
	first := byID["sub_first"]
	if !first.Converted || first.ConversionDate == nil || !first.ConversionDate.Equal(day(3)) {
		t.Fatalf("sub_first = %+v, want converted on the 3rd", first)
	}
	if byID["sub_second"].Converted {
		t.Fatal("sub_second must stay unconverted")
	}
	if _, ok := byID["sub_open"]; ok {
		t.Fatal("pending sub_open must not appear in details")
	}
}

func TestVerifyEmptyWindow(t *testing.T) {
	svc, _ := newTestService(t, billingtest.NewFakeSource())
	result, err := svc.Verify(context.Background(), target, cohortdomain.Window30d)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.ConversionRate != 0 || result.Metrics.TotalTrials != 0 {
		t.Fatalf("empty window result = %+v, want zeroes", result)
	}
}

func detailsByID(details []conversiondomain.TrialDetail) map[string]conversiondomain.TrialDetail {
	out := make(map[string]conversiondomain.TrialDetail, len(details))
	for _, d := range details {
		out[d.SubscriptionID] = d
	}
	return out
}

func conversionMetrics(total, converted, lost int) conversiondomain.Metrics {
	return conversiondomain.Metrics{
		TotalTrials:       total,
		ConvertedTrials:   converted,
		UnconvertedTrials: lost,
	}
}
