package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	analyticsdomain "github.com/smallbiznis/revlens/internal/analytics/domain"
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
		log:  p.Log.Named("analytics"),
		repo: p.Repo,
	}
}

// Summary aggregates the latest snapshot date into the MRR and trial
// pipeline view, with flagged rows as line items sorted by value.
func (s *Service) Summary(ctx context.Context) (analyticsdomain.Result, error) {
	empty := analyticsdomain.Result{
		MRR:           decimal.Zero,
		TrialPipeline: decimal.Zero,
		LineItems:     []analyticsdomain.LineItem{},
	}

	latest, err := s.repo.LatestDate(ctx, s.db)
	if err != nil {
		return analyticsdomain.Result{}, fmt.Errorf("find latest snapshot: %w", err)
	}
	if latest == nil {
		s.log.Info("no snapshots recorded yet, returning empty summary")
		return empty, nil
	}

	agg, err := s.repo.AggregateByDate(ctx, s.db, *latest)
	if err != nil {
		return analyticsdomain.Result{}, fmt.Errorf("aggregate snapshot: %w", err)
	}
	rows, err := s.repo.ListByDate(ctx, s.db, *latest)
	if err != nil {
		return analyticsdomain.Result{}, fmt.Errorf("list snapshot rows: %w", err)
	}

	items := make([]analyticsdomain.LineItem, 0, len(rows))
	for _, row := range rows {
		if !row.IsCounted && !row.IsTrialCounted {
			continue
		}
		items = append(items, analyticsdomain.LineItem{
			SubscriptionID: row.SubscriptionID,
			CustomerID:     row.CustomerID,
			Status:         row.Status,
			MonthlyValue:   row.MonthlyValue,
			IsCounted:      row.IsCounted,
			IsTrialCounted: row.IsTrialCounted,
		})
	}

	return analyticsdomain.Result{
		SnapshotDate:     latest,
		MRR:              agg.MRR,
		CountedCustomers: agg.CountedCustomers,
		TrialPipeline:    agg.TrialPipeline,
		TrialCustomers:   agg.TrialCustomers,
		LineItems:        items,
	}, nil
}
