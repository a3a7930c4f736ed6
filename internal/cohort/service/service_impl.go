package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/revlens/internal/classify"
	cohortdomain "github.com/smallbiznis/revlens/internal/cohort/domain"
	snapshotdomain "github.com/smallbiznis/revlens/internal/snapshot/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo snapshotdomain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo snapshotdomain.Repository
}

func NewService(p Params) *Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("cohort"),
		repo: p.Repo,
	}
}

// Compare partitions the counted subscription sets at the baseline and
// target dates into retained, churned and new.
func (s *Service) Compare(ctx context.Context, target time.Time, window cohortdomain.Window) (cohortdomain.Result, error) {
	baseline := window.Baseline(target)

	baselineCount, err := s.repo.CountByDate(ctx, s.db, baseline)
	if err != nil {
		return cohortdomain.Result{}, fmt.Errorf("count baseline snapshot: %w", err)
	}
	if baselineCount == 0 {
		s.log.Info("no baseline snapshot, reporting insufficient data",
			zap.Time("baseline", baseline), zap.Time("target", target))
		return cohortdomain.Result{InsufficientData: true, SubscriptionDetails: []cohortdomain.SubscriptionDetail{}}, nil
	}

	baselineRows, err := s.repo.CountedRowsByDate(ctx, s.db, baseline)
	if err != nil {
		return cohortdomain.Result{}, fmt.Errorf("load baseline rows: %w", err)
	}
	targetRows, err := s.repo.ListByDate(ctx, s.db, target)
	if err != nil {
		return cohortdomain.Result{}, fmt.Errorf("load target rows: %w", err)
	}

	// A subscription still mid-trial at the target never entered the paid
	// cohort, so its absence from the baseline set must not read as churn.
	stillTrialing := lo.SliceToMap(
		lo.Filter(targetRows, func(row snapshotdomain.Snapshot, _ int) bool {
			return row.Status == classify.StatusTrialing
		}),
		func(row snapshotdomain.Snapshot) (string, struct{}) {
			return row.SubscriptionID, struct{}{}
		},
	)
	baselineRows = lo.Filter(baselineRows, func(row snapshotdomain.Snapshot, _ int) bool {
		_, trialing := stillTrialing[row.SubscriptionID]
		return !trialing
	})

	countedTarget := lo.Filter(targetRows, func(row snapshotdomain.Snapshot, _ int) bool {
		return row.IsCounted
	})

	baselineIDs := lo.Map(baselineRows, func(row snapshotdomain.Snapshot, _ int) string {
		return row.SubscriptionID
	})
	targetIDs := lo.Map(countedTarget, func(row snapshotdomain.Snapshot, _ int) string {
		return row.SubscriptionID
	})

	retained := lo.Intersect(baselineIDs, targetIDs)
	churned, _ := lo.Difference(baselineIDs, targetIDs)
	added, _ := lo.Difference(targetIDs, baselineIDs)

	result := cohortdomain.Result{
		RetentionRate: retentionRate(len(retained), len(baselineIDs)),
		Metrics: cohortdomain.Metrics{
			PreviousPeriodCustomers: len(baselineIDs),
			CurrentPeriodCustomers:  len(targetIDs),
			RetainedCustomers:       len(retained),
			ChurnedCustomers:        len(churned),
			NewCustomers:            len(added),
		},
		SubscriptionDetails: buildDetails(baselineRows, countedTarget, retained, churned),
	}
	return result, nil
}

// retentionRate is |retained|/|baseline|*100 rounded to two decimals, and
// exactly 0 for an empty baseline.
func retentionRate(retained, baseline int) float64 {
	if baseline == 0 {
		return 0
	}
	rate := decimal.NewFromInt(int64(retained)).
		Div(decimal.NewFromInt(int64(baseline))).
		Mul(decimal.NewFromInt(100))
	return rate.Round(2).InexactFloat64()
}

// buildDetails lists churned entries before retained ones, each group
// sorted by monthly value descending. Churned rows carry their baseline
// value since they no longer exist at the target.
func buildDetails(baselineRows, targetRows []snapshotdomain.Snapshot, retained, churned []string) []cohortdomain.SubscriptionDetail {
	baselineByID := lo.KeyBy(baselineRows, func(row snapshotdomain.Snapshot) string {
		return row.SubscriptionID
	})
	targetByID := lo.KeyBy(targetRows, func(row snapshotdomain.Snapshot) string {
		return row.SubscriptionID
	})

	details := make([]cohortdomain.SubscriptionDetail, 0, len(churned)+len(retained))
	for _, id := range churned {
		row := baselineByID[id]
		details = append(details, cohortdomain.SubscriptionDetail{
			SubscriptionID: row.SubscriptionID,
			CustomerID:     row.CustomerID,
			MonthlyValue:   row.MonthlyValue,
			Status:         cohortdomain.DetailChurned,
		})
	}
	churnedLen := len(details)
	for _, id := range retained {
		row := targetByID[id]
		details = append(details, cohortdomain.SubscriptionDetail{
			SubscriptionID: row.SubscriptionID,
			CustomerID:     row.CustomerID,
			MonthlyValue:   row.MonthlyValue,
			Status:         cohortdomain.DetailRetained,
		})
	}

	byValueDesc := func(group []cohortdomain.SubscriptionDetail) {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].MonthlyValue.GreaterThan(group[j].MonthlyValue)
		})
	}
	byValueDesc(details[:churnedLen])
	byValueDesc(details[churnedLen:])
	return details
}
