package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/revlens/internal/billing/domain"
	"github.com/smallbiznis/revlens/internal/clock"
	cohortdomain "github.com/smallbiznis/revlens/internal/cohort/domain"
	"github.com/smallbiznis/revlens/internal/config"
	conversiondomain "github.com/smallbiznis/revlens/internal/conversion/domain"
	obsmetrics "github.com/smallbiznis/revlens/internal/observability/metrics"
	snapshotdomain "github.com/smallbiznis/revlens/internal/snapshot/domain"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultConcurrency = 8

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    snapshotdomain.Repository
	Source  billingdomain.Source
	Config  config.Config
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	repo        snapshotdomain.Repository
	source      billingdomain.Source
	concurrency int
	// verdicts memoizes charge-scan outcomes per (customer, first trial
	// date) so repeated reads don't hammer the billing provider.
	verdicts *gocache.Cache
	metrics  *obsmetrics.Metrics
}

type verdict struct {
	converted bool
	date      *time.Time
}

func NewService(p Params) *Service {
	ttl := p.Config.ConversionCacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	concurrency := p.Config.ConversionConcurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("conversion"),
		repo:        p.Repo,
		source:      p.Source,
		concurrency: concurrency,
		verdicts:    gocache.New(ttl, 2*ttl),
		metrics:     p.Metrics,
	}
}

// Verify classifies every trial subscription that appeared inside the
// window ending at target as converted or lost. Subscriptions still
// trialing at the target are pending and excluded entirely; a customer's
// other trials stay in the cohort.
func (s *Service) Verify(ctx context.Context, target time.Time, window cohortdomain.Window) (conversiondomain.Result, error) {
	from := window.Baseline(target)

	occurrences, err := s.repo.TrialOccurrencesBetween(ctx, s.db, from, target)
	if err != nil {
		return conversiondomain.Result{}, fmt.Errorf("load trial occurrences: %w", err)
	}

	trialingToday, err := s.repo.TrialingSubscriptionsByDate(ctx, s.db, target)
	if err != nil {
		return conversiondomain.Result{}, fmt.Errorf("load pending trials: %w", err)
	}
	pending := lo.SliceToMap(trialingToday, func(id string) (string, struct{}) {
		return id, struct{}{}
	})
	occurrences = lo.Filter(occurrences, func(occ snapshotdomain.TrialOccurrence, _ int) bool {
		_, still := pending[occ.SubscriptionID]
		return !still
	})

	details := make([]conversiondomain.TrialDetail, len(occurrences))
	unresolved := make([]int, 0, len(occurrences))
	for i, occ := range occurrences {
		details[i] = conversiondomain.TrialDetail{
			SubscriptionID: occ.SubscriptionID,
			CustomerID:     occ.CustomerID,
			MonthlyValue:   occ.MonthlyValue,
		}

		// Tier one: the snapshot history itself is the ledger. Any counted
		// appearance strictly after the first trial date settles it.
		firstCounted, err := s.repo.FirstCountedOnOrAfter(ctx, s.db, occ.CustomerID, occ.FirstTrialDate.AddDate(0, 0, 1))
		if err != nil {
			return conversiondomain.Result{}, fmt.Errorf("scan ledger for %s: %w", occ.CustomerID, err)
		}
		if firstCounted != nil {
			details[i].Converted = true
			details[i].ConversionDate = firstCounted
			s.metrics.RecordConversionCheck(ctx, "ledger", "converted")
			continue
		}
		unresolved = append(unresolved, i)
	}

	// Tier two: ground-truth payment scan for everything the ledger could
	// not settle, fanned out under a bounded pool.
	p := pool.New().WithMaxGoroutines(s.concurrency)
	for _, idx := range unresolved {
		idx := idx
		occ := occurrences[idx]
		p.Go(func() {
			v := s.verifyByCharges(ctx, occ)
			details[idx].Converted = v.converted
			details[idx].ConversionDate = v.date
		})
	}
	p.Wait()

	converted := lo.CountBy(details, func(d conversiondomain.TrialDetail) bool { return d.Converted })
	lost := len(details) - converted

	sort.SliceStable(details, func(i, j int) bool {
		return details[i].MonthlyValue.GreaterThan(details[j].MonthlyValue)
	})

	return conversiondomain.Result{
		ConversionRate: conversionRate(converted, lost),
		Metrics: conversiondomain.Metrics{
			TotalTrials:       len(details),
			ConvertedTrials:   converted,
			UnconvertedTrials: lost,
		},
		TrialDetails: details,
	}, nil
}

// verifyByCharges scans the customer's payment history for a settled charge
// after the first trial date. A lookup failure is a conservative "not
// converted"; one broken customer never fails the batch.
func (s *Service) verifyByCharges(ctx context.Context, occ snapshotdomain.TrialOccurrence) verdict {
	key := occ.CustomerID + "|" + occ.FirstTrialDate.Format("2006-01-02")
	if cached, ok := s.verdicts.Get(key); ok {
		return cached.(verdict)
	}

	charges, err := s.source.ListCharges(ctx, occ.CustomerID)
	if err != nil {
		s.metrics.RecordConversionCheck(ctx, "charges", "error")
		s.log.Warn("payment history lookup failed, treating as not converted",
			zap.String("customer_id", occ.CustomerID), zap.Error(err))
		return verdict{}
	}

	v := verdict{}
	for _, charge := range charges {
		if !charge.Settled() || !charge.CreatedAt.After(occ.FirstTrialDate) {
			continue
		}
		day := clock.Day(charge.CreatedAt)
		if v.date == nil || day.Before(*v.date) {
			d := day
			v = verdict{converted: true, date: &d}
		}
	}

	outcome := "lost"
	if v.converted {
		outcome = "converted"
	}
	s.metrics.RecordConversionCheck(ctx, "charges", outcome)
	s.verdicts.Set(key, v, gocache.DefaultExpiration)
	return v
}

// conversionRate is converted/(converted+lost)*100 rounded to two decimals,
// and exactly 0 for an empty denominator.
func conversionRate(converted, lost int) float64 {
	total := converted + lost
	if total == 0 {
		return 0
	}
	rate := decimal.NewFromInt(int64(converted)).
		Div(decimal.NewFromInt(int64(total))).
		Mul(decimal.NewFromInt(100))
	return rate.Round(2).InexactFloat64()
}
