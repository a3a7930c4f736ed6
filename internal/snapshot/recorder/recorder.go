// Package recorder freezes the live subscription table into the daily
// snapshot history.
package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/revlens/internal/classify"
	"github.com/smallbiznis/revlens/internal/config"
	obsmetrics "github.com/smallbiznis/revlens/internal/observability/metrics"
	snapshotdomain "github.com/smallbiznis/revlens/internal/snapshot/domain"
	subscriptiondomain "github.com/smallbiznis/revlens/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultPageSize = 500

// CuratedSource supplies the manually maintained records merged into every
// snapshot run.
type CuratedSource interface {
	Records() []subscriptiondomain.Record
}

// Summary reports one snapshot run.
type Summary struct {
	Date         time.Time
	Total        int
	Counted      int
	TrialCounted int
	PagesFailed  int
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     snapshotdomain.Repository
	SubRepo  subscriptiondomain.Repository
	Curated  CuratedSource
	Config   config.Config
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Recorder struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     snapshotdomain.Repository
	subRepo  subscriptiondomain.Repository
	curated  CuratedSource
	ruleset  classify.Ruleset
	pageSize int
	metrics  *obsmetrics.Metrics
}

func New(p Params) *Recorder {
	pageSize := p.Config.SnapshotPageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Recorder{
		db:       p.DB,
		log:      p.Log.Named("snapshot.recorder"),
		repo:     p.Repo,
		subRepo:  p.SubRepo,
		curated:  p.Curated,
		ruleset:  classify.NewRuleset(p.Config.ExclusionDomains),
		pageSize: pageSize,
		metrics:  p.Metrics,
	}
}

// Run records the state of every subscription as of date. The date must
// already be normalized to UTC midnight. Re-running for a date replaces its
// rows and yields an identical set.
func (r *Recorder) Run(ctx context.Context, date time.Time) (Summary, error) {
	records, err := r.subRepo.List(ctx, r.db)
	if err != nil {
		// No snapshot is safer than a wrong one.
		return Summary{}, fmt.Errorf("load subscription records: %w", err)
	}
	records = mergeCurated(records, r.curated.Records())

	rows := make([]snapshotdomain.Snapshot, 0, len(records))
	summary := Summary{Date: date, Total: len(records)}
	for _, rec := range records {
		row := r.toSnapshot(rec, date)
		if row.IsCounted {
			summary.Counted++
		}
		if row.IsTrialCounted {
			summary.TrialCounted++
		}
		rows = append(rows, row)
	}

	if err := r.repo.DeleteByDate(ctx, r.db, date); err != nil {
		// The unique key plus per-page upsert keeps the replace idempotent
		// even when the stale-row delete fails.
		r.log.Warn("stale snapshot delete failed, relying on upsert",
			zap.Time("snapshot_date", date), zap.Error(err))
	}

	written := 0
	for start := 0; start < len(rows); start += r.pageSize {
		end := start + r.pageSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := r.repo.InsertBatch(ctx, r.db, rows[start:end]); err != nil {
			summary.PagesFailed++
			r.metrics.RecordSnapshotPageFailure(ctx)
			r.log.Error("snapshot page insert failed",
				zap.Time("snapshot_date", date),
				zap.Int("page_start", start),
				zap.Error(err))
			continue
		}
		written += end - start
	}

	r.metrics.RecordSnapshotRows(ctx, int64(written))
	r.log.Info("snapshot recorded",
		zap.Time("snapshot_date", date),
		zap.Int("total", summary.Total),
		zap.Int("counted", summary.Counted),
		zap.Int("trial_counted", summary.TrialCounted),
		zap.Int("pages_failed", summary.PagesFailed),
	)
	return summary, nil
}

// toSnapshot recomputes the revenue flags instead of trusting the stored
// ones, so stale rows and curated entries classify identically.
func (r *Recorder) toSnapshot(rec subscriptiondomain.Record, date time.Time) snapshotdomain.Snapshot {
	input := classify.Input{
		Status:          rec.Status,
		CanceledAt:      rec.CanceledAt,
		DiscountPercent: rec.DiscountPercent,
		CustomerEmail:   rec.CustomerEmail,
	}
	return snapshotdomain.Snapshot{
		SnapshotDate:    date,
		SubscriptionID:  rec.ID,
		CustomerID:      rec.CustomerID,
		Status:          rec.Status,
		MonthlyValue:    rec.MonthlyValue,
		IsActive:        classify.IsActiveStatus(rec.Status),
		IsCounted:       classify.Counted(input, r.ruleset),
		IsTrialCounted:  classify.TrialCounted(input, r.ruleset),
		DiscountPercent: rec.DiscountPercent,
		Source:          rec.Source,
	}
}

// mergeCurated unions the two sets by subscription id. A curated row wins a
// conflict; the file exists to correct provider data.
func mergeCurated(provider, curated []subscriptiondomain.Record) []subscriptiondomain.Record {
	if len(curated) == 0 {
		return provider
	}
	overridden := make(map[string]struct{}, len(curated))
	for _, rec := range curated {
		overridden[rec.ID] = struct{}{}
	}

	merged := make([]subscriptiondomain.Record, 0, len(provider)+len(curated))
	for _, rec := range provider {
		if _, ok := overridden[rec.ID]; ok {
			continue
		}
		merged = append(merged, rec)
	}
	return append(merged, curated...)
}
