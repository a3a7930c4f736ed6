// Package scheduler drives the daily resync-then-snapshot pipeline.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/revlens/internal/clock"
	"github.com/smallbiznis/revlens/internal/config"
	snapshotdomain "github.com/smallbiznis/revlens/internal/snapshot/domain"
	"github.com/smallbiznis/revlens/internal/snapshot/recorder"
	subscriptiondomain "github.com/smallbiznis/revlens/internal/subscription/domain"
	"github.com/smallbiznis/revlens/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	Clock           clock.Clock
	Config          config.Config
	GenID           *snowflake.Node
	SubscriptionSvc subscriptiondomain.Service
	Recorder        *recorder.Recorder
	Runs            snapshotdomain.RunRepository
}

type Scheduler struct {
	db              *gorm.DB
	log             *zap.Logger
	clock           clock.Clock
	genID           *snowflake.Node
	interval        time.Duration
	reportingLoc    *time.Location
	subscriptionSvc subscriptiondomain.Service
	recorder        *recorder.Recorder
	runs            snapshotdomain.RunRepository
}

// RunResult reports one pipeline execution.
type RunResult struct {
	Date        time.Time `json:"snapshot_date"`
	Skipped     bool      `json:"skipped"`
	Fetched     int       `json:"fetched"`
	Total       int       `json:"total"`
	Counted     int       `json:"counted"`
	TrialCount  int       `json:"trial_counted"`
	PagesFailed int       `json:"pages_failed"`
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.GenID == nil || p.SubscriptionSvc == nil || p.Recorder == nil || p.Runs == nil {
		return nil, ErrInvalidConfig
	}
	loc, err := clock.LoadLocation(p.Config.ReportingTimezone)
	if err != nil {
		return nil, err
	}
	interval := p.Config.SchedulerInterval
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		db:              p.DB,
		log:             p.Log.Named("scheduler"),
		clock:           p.Clock,
		genID:           p.GenID,
		interval:        interval,
		reportingLoc:    loc,
		subscriptionSvc: p.SubscriptionSvc,
		recorder:        p.Recorder,
		runs:            p.Runs,
	}, nil
}

// RunOnce executes the pipeline for the current reference date. The run
// ledger makes it a no-op when the date was already claimed, so restarts
// and overlapping ticks never double-run a day.
func (s *Scheduler) RunOnce(ctx context.Context) (RunResult, error) {
	date := clock.ReferenceDate(s.clock, s.reportingLoc)
	return s.runDate(ctx, date, false)
}

// Rebuild re-runs the pipeline for the current reference date even when the
// ledger already has a row for it. Snapshot replacement is idempotent, so a
// forced rebuild converges on the same row set.
func (s *Scheduler) Rebuild(ctx context.Context) (RunResult, error) {
	date := clock.ReferenceDate(s.clock, s.reportingLoc)
	return s.runDate(ctx, date, true)
}

func (s *Scheduler) runDate(ctx context.Context, date time.Time, force bool) (RunResult, error) {
	// Every log line and downstream call of one pipeline execution shares
	// a correlation id, same as an HTTP request does.
	ctx, cid := correlation.EnsureCorrelationID(ctx)
	log := s.log.With(zap.String("correlation_id", cid))

	run := &snapshotdomain.Run{
		ID:        s.genID.Generate(),
		RunDate:   date,
		Status:    snapshotdomain.RunRunning,
		StartedAt: s.clock.Now().UTC(),
	}
	claimed, err := s.runs.Claim(ctx, s.db, run)
	if err != nil {
		return RunResult{}, fmt.Errorf("claim snapshot run: %w", err)
	}
	if !claimed {
		if !force {
			log.Debug("snapshot run already claimed", zap.Time("snapshot_date", date))
			return RunResult{Date: date, Skipped: true}, nil
		}
		existing, err := s.runs.FindByDate(ctx, s.db, date)
		if err != nil {
			return RunResult{}, fmt.Errorf("find snapshot run: %w", err)
		}
		if existing == nil {
			return RunResult{}, fmt.Errorf("snapshot run for %s vanished after claim conflict", date.Format("2006-01-02"))
		}
		run = existing
		log.Info("rebuilding already-claimed snapshot date", zap.Time("snapshot_date", date))
	}

	result, err := s.execute(ctx, date)
	if err != nil {
		if failErr := s.runs.Fail(ctx, s.db, run.ID, err.Error()); failErr != nil {
			log.Error("mark snapshot run failed", zap.Error(failErr))
		}
		return RunResult{}, err
	}

	if err := s.runs.Complete(ctx, s.db, run.ID, int64(result.Total), result.PagesFailed); err != nil {
		log.Error("mark snapshot run completed", zap.Error(err))
	}
	log.Info("snapshot run completed",
		zap.Time("snapshot_date", date),
		zap.Int("rows", result.Total),
		zap.Int("pages_failed", result.PagesFailed))
	return result, nil
}

func (s *Scheduler) execute(ctx context.Context, date time.Time) (RunResult, error) {
	resync, err := s.subscriptionSvc.Resync(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("resync subscriptions: %w", err)
	}

	summary, err := s.recorder.Run(ctx, date)
	if err != nil {
		return RunResult{}, fmt.Errorf("record snapshot: %w", err)
	}

	return RunResult{
		Date:        date,
		Fetched:     resync.Fetched,
		Total:       summary.Total,
		Counted:     summary.Counted,
		TrialCount:  summary.TrialCounted,
		PagesFailed: summary.PagesFailed,
	}, nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
