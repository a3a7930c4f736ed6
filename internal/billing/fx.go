package billing

import (
	"github.com/smallbiznis/revlens/internal/billing/domain"
	"github.com/smallbiznis/revlens/internal/billing/stripe"
	"github.com/smallbiznis/revlens/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("billing",
	fx.Provide(func(cfg config.Config) domain.Source {
		return stripe.New(cfg.StripeAPIKey)
	}),
)
