package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/revlens/internal/classify"
	"github.com/smallbiznis/revlens/internal/config"
	snapshotdomain "github.com/smallbiznis/revlens/internal/snapshot/domain"
	snapshotrepo "github.com/smallbiznis/revlens/internal/snapshot/repository"
	subscriptiondomain "github.com/smallbiznis/revlens/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/revlens/internal/subscription/repository"
	"github.com/smallbiznis/revlens/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type staticCurated struct {
	records []subscriptiondomain.Record
}

func (s staticCurated) Records() []subscriptiondomain.Record { return s.records }

func newTestRecorder(t *testing.T, curated CuratedSource) (*Recorder, *gorm.DB) {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(&subscriptiondomain.Record{}, &snapshotdomain.Snapshot{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if curated == nil {
		curated = staticCurated{}
	}
	rec := New(Params{
		DB:      conn,
		Log:     zap.NewNop(),
		Repo:    snapshotrepo.Provide(),
		SubRepo: subscriptionrepo.Provide(),
		Curated: curated,
		Config:  config.Config{SnapshotPageSize: 2, ExclusionDomains: []string{"internal.example.com"}},
	})
	return rec, conn
}

func seedRecords(t *testing.T, conn *gorm.DB, records []subscriptiondomain.Record) {
	t.Helper()
	if err := subscriptionrepo.Provide().Upsert(context.Background(), conn, records); err != nil {
		t.Fatalf("seed records: %v", err)
	}
}

func record(id, customer string, status classify.Status, monthly string) subscriptiondomain.Record {
	return subscriptiondomain.Record{
		ID:            id,
		CustomerID:    customer,
		CustomerEmail: customer + "@customer.example",
		Status:        status,
		MonthlyValue:  decimal.RequireFromString(monthly),
		CreatedAt:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRunRecordsAndReclassifies(t *testing.T) {
	rec, conn := newTestRecorder(t, nil)

	stale := record("sub_1", "cus_1", classify.StatusActive, "100.00")
	// Stored flags are stale on purpose; the recorder must not trust them.
	stale.IsCounted = false
	stale.IsTrialCounted = true
	trial := record("sub_2", "cus_2", classify.StatusTrialing, "50.00")
	canceled := record("sub_3", "cus_3", classify.StatusCanceled, "30.00")
	seedRecords(t, conn, []subscriptiondomain.Record{stale, trial, canceled})

	date := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	summary, err := rec.Run(context.Background(), date)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Total != 3 || summary.Counted != 1 || summary.TrialCounted != 1 {
		t.Fatalf("summary = %+v, want total 3 / counted 1 / trial 1", summary)
	}
	if summary.PagesFailed != 0 {
		t.Fatalf("pages failed = %d, want 0", summary.PagesFailed)
	}

	rows, err := snapshotrepo.Provide().ListByDate(context.Background(), conn, date)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}

	byID := map[string]snapshotdomain.Snapshot{}
	for _, row := range rows {
		byID[row.SubscriptionID] = row
	}
	if !byID["sub_1"].IsCounted || byID["sub_1"].IsTrialCounted {
		t.Fatal("active subscription must be reclassified as counted only")
	}
	if !byID["sub_2"].IsTrialCounted {
		t.Fatal("trialing subscription must be trial counted")
	}
	if byID["sub_3"].IsCounted || byID["sub_3"].IsTrialCounted || byID["sub_3"].IsActive {
		t.Fatal("canceled subscription must carry no flags")
	}
}

func TestRunIsIdempotentPerDate(t *testing.T) {
	rec, conn := newTestRecorder(t, nil)
	seedRecords(t, conn, []subscriptiondomain.Record{
		record("sub_1", "cus_1", classify.StatusActive, "100.00"),
		record("sub_2", "cus_2", classify.StatusActive, "40.00"),
		record("sub_3", "cus_3", classify.StatusTrialing, "20.00"),
	})

	date := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	if _, err := rec.Run(context.Background(), date); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := rec.Run(context.Background(), date); err != nil {
		t.Fatalf("second run: %v", err)
	}

	count, err := snapshotrepo.Provide().CountByDate(context.Background(), conn, date)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("rows after re-run = %d, want 3", count)
	}
}

func TestRunMergesCuratedWithOverride(t *testing.T) {
	curatedRec := record("sub_1", "cus_1", classify.StatusActive, "75.00")
	curatedRec.Source = subscriptiondomain.SourceCurated
	extra := record("cur_9", "cus_9", classify.StatusActive, "10.00")
	extra.Source = subscriptiondomain.SourceCurated

	rec, conn := newTestRecorder(t, staticCurated{records: []subscriptiondomain.Record{curatedRec, extra}})
	seedRecords(t, conn, []subscriptiondomain.Record{
		record("sub_1", "cus_1", classify.StatusCanceled, "100.00"),
	})

	date := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	summary, err := rec.Run(context.Background(), date)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Total != 2 {
		t.Fatalf("total = %d, want 2 (curated overrides provider)", summary.Total)
	}

	rows, _ := snapshotrepo.Provide().ListByDate(context.Background(), conn, date)
	byID := map[string]snapshotdomain.Snapshot{}
	for _, row := range rows {
		byID[row.SubscriptionID] = row
	}
	if byID["sub_1"].Source != subscriptiondomain.SourceCurated {
		t.Fatal("curated row must replace the provider row with the same id")
	}
	if got := byID["sub_1"].MonthlyValue.StringFixed(2); got != "75.00" {
		t.Fatalf("sub_1 monthly value = %s, want curated 75.00", got)
	}
	if _, ok := byID["cur_9"]; !ok {
		t.Fatal("curated-only row must be snapshotted")
	}
}

func TestRunEmptyTableWritesNothing(t *testing.T) {
	rec, conn := newTestRecorder(t, nil)
	date := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	summary, err := rec.Run(context.Background(), date)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Total != 0 {
		t.Fatalf("total = %d, want 0", summary.Total)
	}
	count, _ := snapshotrepo.Provide().CountByDate(context.Background(), conn, date)
	if count != 0 {
		t.Fatalf("rows = %d, want 0", count)
	}
}
