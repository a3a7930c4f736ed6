// Package classify decides whether a subscription is officially counted
// toward recurring revenue. Everything here is pure; malformed input degrades
// to the excluded branch instead of failing.
package classify

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the provider-reported subscription lifecycle state.
type Status string

const (
	StatusActive            Status = "active"
	StatusTrialing          Status = "trialing"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusUnpaid            Status = "unpaid"
)

var (
	weeksPerMonth = decimal.NewFromFloat(4.33)
	daysPerMonth  = decimal.NewFromInt(30)
	monthsPerYear = decimal.NewFromInt(12)
	centsPerUnit  = decimal.NewFromInt(100)
)

// NormalizeMonthly converts a billing amount in cents at the given recurring
// interval into a monthly value in currency units, rounded to 2 places.
// Unknown intervals are treated as already-monthly.
func NormalizeMonthly(amountCents int64, interval string) decimal.Decimal {
	amount := decimal.NewFromInt(amountCents).Div(centsPerUnit)

	switch strings.ToLower(strings.TrimSpace(interval)) {
	case "year":
		return amount.Div(monthsPerYear).Round(2)
	case "week":
		return amount.Mul(weeksPerMonth).Round(2)
	case "day":
		return amount.Mul(daysPerMonth).Round(2)
	default:
		// "month" and anything unrecognized.
		return amount.Round(2)
	}
}

// Discount is the provider coupon applied to a subscription, if any.
type Discount struct {
	PercentOff float64
	AmountOff  int64
}

// DiscountPercent resolves a discount into a whole percentage of the
// subscription's base amount. Missing or malformed discounts resolve to 0.
func DiscountPercent(d *Discount, baseAmountCents int64) int64 {
	if d == nil {
		return 0
	}
	if d.PercentOff > 0 {
		pct := int64(math.Round(d.PercentOff))
		if pct < 0 {
			return 0
		}
		if pct > 100 {
			return 100
		}
		return pct
	}
	if d.AmountOff > 0 {
		if baseAmountCents <= 0 {
			return 0
		}
		pct := int64(math.Round(float64(d.AmountOff) / float64(baseAmountCents) * 100))
		if pct > 100 {
			return 100
		}
		return pct
	}
	return 0
}

// IsActiveStatus reports whether the status represents a live subscription.
func IsActiveStatus(s Status) bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	default:
		return false
	}
}

// Ruleset carries the configured eligibility rules.
type Ruleset struct {
	excludedDomains map[string]struct{}
}

// NewRuleset builds a Ruleset from configured exclusion domains.
func NewRuleset(exclusionDomains []string) Ruleset {
	set := make(map[string]struct{}, len(exclusionDomains))
	for _, d := range exclusionDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		set[d] = struct{}{}
	}
	return Ruleset{excludedDomains: set}
}

// ExcludedEmail reports whether the customer email belongs to an excluded domain.
func (r Ruleset) ExcludedEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}
	_, ok := r.excludedDomains[email[at+1:]]
	return ok
}

// Input is the minimal view of a subscription the eligibility rules need.
type Input struct {
	Status          Status
	CanceledAt      *time.Time
	DiscountPercent int64
	CustomerEmail   string
}

// Counted reports whether the subscription counts toward official recurring
// revenue. All four conjuncts are required.
func Counted(in Input, rs Ruleset) bool {
	return in.Status == StatusActive &&
		in.CanceledAt == nil &&
		in.DiscountPercent < 100 &&
		!rs.ExcludedEmail(in.CustomerEmail)
}

// TrialCounted reports whether the subscription counts toward the trial
// pipeline. Same rules as Counted with the trialing status, so the two flags
// are disjoint by construction.
func TrialCounted(in Input, rs Ruleset) bool {
	return in.Status == StatusTrialing &&
		in.CanceledAt == nil &&
		in.DiscountPercent < 100 &&
		!rs.ExcludedEmail(in.CustomerEmail)
}
