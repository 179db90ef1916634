package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Plan describes what a subscription is charged and how often.
// The ID field should be set to the payment provider's price ID for paid plans
// to enable direct mapping when charging through provider catalogs.
type Plan struct {
	ID        string          `yaml:"id"` // provider's price ID (e.g., price_starter_monthly)
	Name      string          `yaml:"name"`
	Price     Money           `yaml:"price"`
	Interval  BillingInterval `yaml:"interval"`
	TrialDays int             `yaml:"trial_days"`
}

// PlansListSource defines how plans are loaded.
type PlansListSource interface {
	Load(ctx context.Context) (map[string]Plan, error)
}

// IsFree reports whether the plan never charges.
func (p Plan) IsFree() bool {
	return p.Interval == BillingIntervalNone || p.Price.IsZero()
}

// NextPeriodEnd returns the end of a billing period that starts at start.
// Monthly and annual periods land on anchorDay, capped at the last day of
// the target month, so a subscription anchored on the 31st renews on
// Jan 31, Feb 28 and Mar 31. A non-positive anchorDay uses start's day.
func (p Plan) NextPeriodEnd(start time.Time, anchorDay int) time.Time {
	switch p.Interval {
	case BillingIntervalWeekly:
		return start.AddDate(0, 0, 7)
	case BillingIntervalMonthly:
		return addMonths(start, 1, anchorDay)
	case BillingIntervalAnnual:
		return addMonths(start, 12, anchorDay)
	default:
		return start
	}
}

func addMonths(start time.Time, months, anchorDay int) time.Time {
	if anchorDay <= 0 {
		anchorDay = start.Day()
	}
	// Day 1 never overflows, so the target month is exact.
	first := time.Date(start.Year(), start.Month()+time.Month(months), 1,
		start.Hour(), start.Minute(), start.Second(), start.Nanosecond(), start.Location())
	return first.AddDate(0, 0, min(anchorDay, DaysIn(first.Year(), first.Month()))-1)
}

// DaysIn returns the number of days in the month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// TrialEndsAt calculates when the trial period ends.
// Returns startedAt unchanged if no trial is available.
func (p Plan) TrialEndsAt(startedAt time.Time) time.Time {
	if p.TrialDays <= 0 {
		return startedAt
	}
	return startedAt.AddDate(0, 0, p.TrialDays).UTC()
}

// ValidatePlans ensures plan configurations are internally consistent.
// Catches common configuration errors early to prevent runtime issues.
func ValidatePlans(plans map[string]Plan) error {
	if len(plans) == 0 {
		return errors.Join(ErrInvalidPlanConfiguration, errors.New("no plans configured"))
	}

	for planID, plan := range plans {
		if plan.ID != planID {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan ID mismatch: map key %s != plan.ID %s", planID, plan.ID))
		}

		if plan.TrialDays < 0 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has negative trial days: %d", planID, plan.TrialDays))
		}

		if !plan.Interval.Valid() {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has unknown billing interval: %q", planID, plan.Interval))
		}

		if plan.Price.Amount < 0 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has a negative price: %d", planID, plan.Price.Amount))
		}
		// Zero-priced plans with an interval are free tiers that still roll periods.
		if plan.Price.Amount > 0 && plan.Price.Currency == "" {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("paid plan %s has no currency", planID))
		}
	}
	return nil
}

// LoadPlans loads and validates plans from src.
func LoadPlans(ctx context.Context, src PlansListSource) (map[string]Plan, error) {
	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	if err := ValidatePlans(plans); err != nil {
		return nil, err
	}
	return plans, nil
}
