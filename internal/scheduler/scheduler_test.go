package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/revlens/internal/billing/billingtest"
	billingdomain "github.com/smallbiznis/revlens/internal/billing/domain"
	"github.com/smallbiznis/revlens/internal/classify"
	"github.com/smallbiznis/revlens/internal/clock"
	"github.com/smallbiznis/revlens/internal/config"
	snapshotdomain "github.com/smallbiznis/revlens/internal/snapshot/domain"
	"github.com/smallbiznis/revlens/internal/snapshot/recorder"
	snapshotrepo "github.com/smallbiznis/revlens/internal/snapshot/repository"
	subscriptiondomain "github.com/smallbiznis/revlens/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/revlens/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/revlens/internal/subscription/service"
	"github.com/smallbiznis/revlens/pkg/db"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type emptyCurated struct{}

func (emptyCurated) Records() []subscriptiondomain.Record { return nil }

func newTestScheduler(t *testing.T, source billingdomain.Source, fc *clock.FakeClock, log *zap.Logger) (*Scheduler, *gorm.DB) {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(
		&subscriptiondomain.Record{},
		&snapshotdomain.Snapshot{},
		&snapshotdomain.Run{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	cfg := config.Config{ReportingTimezone: "UTC", SchedulerInterval: time.Hour}
	subSvc := subscriptionservice.NewService(subscriptionservice.Params{
		DB:     conn,
		Log:    log,
		Source: source,
		Repo:   subscriptionrepo.Provide(),
		Clock:  fc,
		Config: cfg,
	})
	rec := recorder.New(recorder.Params{
		DB:      conn,
		Log:     log,
		Repo:    snapshotrepo.Provide(),
		SubRepo: subscriptionrepo.Provide(),
		Curated: emptyCurated{},
		Config:  cfg,
	})

	sched, err := New(Params{
		DB:              conn,
		Log:             log,
		Clock:           fc,
		Config:          cfg,
		GenID:           node,
		SubscriptionSvc: subSvc,
		Recorder:        rec,
		Runs:            snapshotrepo.ProvideRuns(),
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return sched, conn
}

func oneSubscription() []billingdomain.Subscription {
	return []billingdomain.Subscription{{
		ID:              "sub_1",
		CustomerID:      "cus_1",
		CustomerEmail:   "anna@customer.example",
		Status:          classify.StatusActive,
		AmountCents:     10000,
		BaseAmountCents: 10000,
		Interval:        "month",
		CreatedAt:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
}

func TestRunOncePipelineAndLedger(t *testing.T) {
	source := billingtest.NewFakeSource()
	source.Subscriptions = oneSubscription()
	fc := clock.NewFakeClock(time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC))
	sched, conn := newTestScheduler(t, source, fc, zap.NewNop())

	result, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}

	wantDate := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	if !result.Date.Equal(wantDate) {
		t.Fatalf("date = %v, want %v", result.Date, wantDate)
	}
	if result.Skipped || result.Fetched != 1 || result.Total != 1 || result.Counted != 1 {
		t.Fatalf("result = %+v", result)
	}

	run, err := snapshotrepo.ProvideRuns().FindByDate(context.Background(), conn, wantDate)
	if err != nil || run == nil {
		t.Fatalf("find run: %v, %v", run, err)
	}
	if run.Status != snapshotdomain.RunCompleted || run.RowsWritten != 1 {
		t.Fatalf("run = %+v, want completed with 1 row", run)
	}
}

func TestRunOnceSkipsClaimedDate(t *testing.T) {
	source := billingtest.NewFakeSource()
	source.Subscriptions = oneSubscription()
	fc := clock.NewFakeClock(time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC))
	sched, _ := newTestScheduler(t, source, fc, zap.NewNop())

	if _, err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Later the same day: the ledger already owns the date.
	fc.Advance(6 * time.Hour)
	result, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !result.Skipped {
		t.Fatal("same-day re-run must be skipped")
	}

	// Next day gets a fresh claim.
	fc.Advance(24 * time.Hour)
	result, err = sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("next day run: %v", err)
	}
	if result.Skipped {
		t.Fatal("new date must run")
	}
}

func TestRebuildForcesClaimedDate(t *testing.T) {
	source := billingtest.NewFakeSource()
	source.Subscriptions = oneSubscription()
	fc := clock.NewFakeClock(time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC))
	sched, conn := newTestScheduler(t, source, fc, zap.NewNop())

	if _, err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	source.Subscriptions = append(oneSubscription(), billingdomain.Subscription{
		ID:              "sub_2",
		CustomerID:      "cus_2",
		CustomerEmail:   "ben@customer.example",
		Status:          classify.StatusActive,
		AmountCents:     5000,
		BaseAmountCents: 5000,
		Interval:        "month",
		CreatedAt:       time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	})

	result, err := sched.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if result.Skipped || result.Total != 2 {
		t.Fatalf("rebuild result = %+v, want 2 rows", result)
	}

	date := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	count, err := snapshotrepo.Provide().CountByDate(context.Background(), conn, date)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("snapshot rows = %d, want 2 after rebuild", count)
	}
}

func TestRunOnceFailsRunOnSourceError(t *testing.T) {
	source := billingtest.NewFakeSource()
	source.ListErr = errors.Join(billingdomain.ErrUnavailable, errors.New("boom"))
	fc := clock.NewFakeClock(time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC))
	sched, conn := newTestScheduler(t, source, fc, zap.NewNop())

	if _, err := sched.RunOnce(context.Background()); !errors.Is(err, billingdomain.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}

	date := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	run, err := snapshotrepo.ProvideRuns().FindByDate(context.Background(), conn, date)
	if err != nil || run == nil {
		t.Fatalf("find run: %v, %v", run, err)
	}
	if run.Status != snapshotdomain.RunFailed || run.Error == "" {
		t.Fatalf("run = %+v, want failed with cause", run)
	}
}

func TestRunOnceStampsCorrelationID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	source := billingtest.NewFakeSource()
	source.Subscriptions = oneSubscription()
	fc := clock.NewFakeClock(time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC))
	sched, _ := newTestScheduler(t, source, fc, zap.New(core))

	if _, err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	entries := logs.FilterMessage("snapshot run completed").All()
	if len(entries) != 1 {
		t.Fatalf("completion logs = %d, want 1", len(entries))
	}
	cid, _ := entries[0].ContextMap()["correlation_id"].(string)
	if len(cid) != 26 {
		t.Fatalf("correlation_id = %q, want a ulid", cid)
	}
}
