package service

import (
	"context"
	"fmt"
	"time"

	billingdomain "github.com/smallbiznis/revlens/internal/billing/domain"
	"github.com/smallbiznis/revlens/internal/classify"
	"github.com/smallbiznis/revlens/internal/clock"
	"github.com/smallbiznis/revlens/internal/config"
	obsmetrics "github.com/smallbiznis/revlens/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/revlens/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const upsertBatchSize = 200

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Source  billingdomain.Source
	Repo    subscriptiondomain.Repository
	Clock   clock.Clock
	Config  config.Config
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	source  billingdomain.Source
	repo    subscriptiondomain.Repository
	clock   clock.Clock
	ruleset classify.Ruleset
	metrics *obsmetrics.Metrics
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("subscription"),
		source:  p.Source,
		repo:    p.Repo,
		clock:   p.Clock,
		ruleset: classify.NewRuleset(p.Config.ExclusionDomains),
		metrics: p.Metrics,
	}
}

func (s *Service) Resync(ctx context.Context) (subscriptiondomain.ResyncSummary, error) {
	subs, err := s.source.ListSubscriptions(ctx)
	if err != nil {
		return subscriptiondomain.ResyncSummary{}, fmt.Errorf("list subscriptions: %w", err)
	}

	now := s.clock.Now().UTC()
	records := make([]subscriptiondomain.Record, 0, len(subs))
	for _, sub := range subs {
		records = append(records, s.toRecord(sub, now))
	}

	for start := 0; start < len(records); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.repo.Upsert(ctx, s.db, records[start:end]); err != nil {
			return subscriptiondomain.ResyncSummary{}, fmt.Errorf("upsert records: %w", err)
		}
	}

	s.metrics.RecordResync(ctx, int64(len(records)), string(subscriptiondomain.SourceStripe))
	s.log.Info("subscription resync completed",
		zap.Int("fetched", len(subs)),
		zap.Int("upserted", len(records)),
	)

	return subscriptiondomain.ResyncSummary{Fetched: len(subs), Upserted: len(records)}, nil
}

func (s *Service) toRecord(sub billingdomain.Subscription, now time.Time) subscriptiondomain.Record {
	discountPct := classify.DiscountPercent(sub.Discount, sub.BaseAmountCents)
	input := classify.Input{
		Status:          sub.Status,
		CanceledAt:      sub.CanceledAt,
		DiscountPercent: discountPct,
		CustomerEmail:   sub.CustomerEmail,
	}

	return subscriptiondomain.Record{
		ID:              sub.ID,
		CustomerID:      sub.CustomerID,
		CustomerEmail:   sub.CustomerEmail,
		CustomerName:    sub.CustomerName,
		Status:          sub.Status,
		MonthlyValue:    classify.NormalizeMonthly(sub.AmountCents, sub.Interval),
		CreatedAt:       sub.CreatedAt,
		CanceledAt:      sub.CanceledAt,
		TrialEnd:        sub.TrialEnd,
		DiscountPercent: discountPct,
		IsCounted:       classify.Counted(input, s.ruleset),
		IsTrialCounted:  classify.TrialCounted(input, s.ruleset),
		Source:          subscriptiondomain.SourceStripe,
		UpdatedAt:       now,
	}
}
