// Package curated loads manually maintained subscription records that are
// merged into every snapshot run alongside the billing provider's data.
package curated

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/revlens/internal/classify"
	"github.com/smallbiznis/revlens/internal/config"
	subscriptiondomain "github.com/smallbiznis/revlens/internal/subscription/domain"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Entry is one curated subscription as written in the records file.
// Timestamps are RFC3339 strings so the file stays hand-editable.
type Entry struct {
	ID              string `mapstructure:"id"`
	CustomerID      string `mapstructure:"customer_id"`
	CustomerEmail   string `mapstructure:"customer_email"`
	CustomerName    string `mapstructure:"customer_name"`
	Status          string `mapstructure:"status"`
	AmountCents     int64  `mapstructure:"amount_cents"`
	Interval        string `mapstructure:"interval"`
	CreatedAt       string `mapstructure:"created_at"`
	CanceledAt      string `mapstructure:"canceled_at"`
	TrialEnd        string `mapstructure:"trial_end"`
	DiscountPercent int64  `mapstructure:"discount_percent"`
}

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
}

// Holder keeps the current curated record set and hot-reloads it when the
// file changes. An invalid reload keeps the previous set.
type Holder struct {
	current atomic.Value // holds []subscriptiondomain.Record
	log     *zap.Logger
	ruleset classify.Ruleset
}

func NewHolder(p Params) (*Holder, error) {
	h := &Holder{
		log:     p.Log.Named("curated"),
		ruleset: classify.NewRuleset(p.Config.ExclusionDomains),
	}
	h.current.Store([]subscriptiondomain.Record{})

	path := strings.TrimSpace(p.Config.CuratedRecordsFile)
	if path == "" {
		h.log.Info("curated records disabled, no file configured")
		return h, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		// A missing file means an empty curated set, never a failed boot.
		h.log.Warn("curated records file unreadable, starting empty",
			zap.String("path", path), zap.Error(err))
		return h, nil
	}

	if err := h.load(v); err != nil {
		return nil, err
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := h.load(v); err != nil {
			h.log.Warn("curated records reload failed, keeping previous set",
				zap.String("path", e.Name), zap.Error(err))
			return
		}
		h.log.Info("curated records reloaded",
			zap.String("path", e.Name), zap.Int("records", len(h.Records())))
	})

	return h, nil
}

// Records returns the current curated set, classified under the same rules
// as provider records.
func (h *Holder) Records() []subscriptiondomain.Record {
	stored := h.current.Load().([]subscriptiondomain.Record)
	out := make([]subscriptiondomain.Record, len(stored))
	copy(out, stored)
	return out
}

func (h *Holder) load(v *viper.Viper) error {
	var entries []Entry
	if err := v.UnmarshalKey("records", &entries); err != nil {
		return err
	}

	records := make([]subscriptiondomain.Record, 0, len(entries))
	for _, e := range entries {
		rec, ok := h.toRecord(e)
		if !ok {
			continue
		}
		records = append(records, rec)
	}

	h.current.Store(records)
	return nil
}

func (h *Holder) toRecord(e Entry) (subscriptiondomain.Record, bool) {
	if strings.TrimSpace(e.ID) == "" {
		h.log.Warn("skipping curated entry without id")
		return subscriptiondomain.Record{}, false
	}

	createdAt, err := time.Parse(time.RFC3339, e.CreatedAt)
	if err != nil {
		h.log.Warn("skipping curated entry with bad created_at",
			zap.String("id", e.ID), zap.Error(err))
		return subscriptiondomain.Record{}, false
	}

	canceledAt, err := parseOptionalTime(e.CanceledAt)
	if err != nil {
		h.log.Warn("skipping curated entry with bad canceled_at",
			zap.String("id", e.ID), zap.Error(err))
		return subscriptiondomain.Record{}, false
	}
	trialEnd, err := parseOptionalTime(e.TrialEnd)
	if err != nil {
		h.log.Warn("skipping curated entry with bad trial_end",
			zap.String("id", e.ID), zap.Error(err))
		return subscriptiondomain.Record{}, false
	}

	status := classify.Status(strings.ToLower(strings.TrimSpace(e.Status)))
	input := classify.Input{
		Status:          status,
		CanceledAt:      canceledAt,
		DiscountPercent: e.DiscountPercent,
		CustomerEmail:   e.CustomerEmail,
	}

	return subscriptiondomain.Record{
		ID:              e.ID,
		CustomerID:      e.CustomerID,
		CustomerEmail:   e.CustomerEmail,
		CustomerName:    e.CustomerName,
		Status:          status,
		MonthlyValue:    classify.NormalizeMonthly(e.AmountCents, e.Interval),
		CreatedAt:       createdAt,
		CanceledAt:      canceledAt,
		TrialEnd:        trialEnd,
		DiscountPercent: e.DiscountPercent,
		IsCounted:       classify.Counted(input, h.ruleset),
		IsTrialCounted:  classify.TrialCounted(input, h.ruleset),
		Source:          subscriptiondomain.SourceCurated,
	}, true
}

func parseOptionalTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
