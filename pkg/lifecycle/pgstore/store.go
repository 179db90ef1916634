package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// DB is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store keeps subscriptions in PostgreSQL.
type Store struct {
	db DB
}

var _ lifecycle.Store = (*Store)(nil)

// New creates a store on db. The schema comes from Migrations.
func New(db DB) *Store {
	return &Store{db: db}
}

const columns = `id, customer_id, plan_id, status, current_period_start, current_period_end,
	trial_end, cancel_at_period_end, default_payment_method_id, past_due_since,
	retry_count, next_retry_at, canceled_at, created_at, updated_at, billing_anchor_day`

const (
	queryRenewals = `SELECT ` + columns + ` FROM subscriptions
	WHERE status = 'active' AND current_period_end <= $1
	ORDER BY current_period_end, id`

	queryTrials = `SELECT ` + columns + ` FROM subscriptions
	WHERE status = 'trialing' AND trial_end IS NOT NULL AND trial_end <= $1
	ORDER BY trial_end, id`

	queryRetries = `SELECT ` + columns + ` FROM subscriptions
	WHERE status = 'past_due' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
	ORDER BY next_retry_at, id`

	queryGrace = `SELECT ` + columns + ` FROM subscriptions
	WHERE status IN ('past_due', 'unpaid') AND past_due_since IS NOT NULL
		AND past_due_since <= $1 AND next_retry_at IS NULL
	ORDER BY past_due_since, id`

	queryGet = `SELECT ` + columns + ` FROM subscriptions WHERE id = $1`

	queryStatus = `SELECT status FROM subscriptions WHERE id = $1`

	// $12 is the expected status; an empty value skips the check.
	queryUpdate = `UPDATE subscriptions SET
		status = $2,
		current_period_start = COALESCE($3, current_period_start),
		current_period_end = COALESCE($4, current_period_end),
		past_due_since = CASE WHEN $5::boolean THEN NULL ELSE COALESCE($6, past_due_since) END,
		retry_count = COALESCE($7, retry_count),
		next_retry_at = CASE WHEN $8::boolean THEN NULL ELSE COALESCE($9, next_retry_at) END,
		canceled_at = COALESCE($10, canceled_at),
		updated_at = COALESCE($11, updated_at),
		billing_anchor_day = COALESCE($13, billing_anchor_day)
	WHERE id = $1 AND ($12::text = '' OR status = $12::text)
	RETURNING ` + columns

	querySave = `INSERT INTO subscriptions (` + columns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (id) DO UPDATE SET
		customer_id = EXCLUDED.customer_id,
		plan_id = EXCLUDED.plan_id,
		status = EXCLUDED.status,
		current_period_start = EXCLUDED.current_period_start,
		current_period_end = EXCLUDED.current_period_end,
		trial_end = EXCLUDED.trial_end,
		cancel_at_period_end = EXCLUDED.cancel_at_period_end,
		default_payment_method_id = EXCLUDED.default_payment_method_id,
		past_due_since = EXCLUDED.past_due_since,
		retry_count = EXCLUDED.retry_count,
		next_retry_at = EXCLUDED.next_retry_at,
		canceled_at = EXCLUDED.canceled_at,
		updated_at = EXCLUDED.updated_at,
		billing_anchor_day = EXCLUDED.billing_anchor_day`
)

func (s *Store) FindSubscriptionsNeedingRenewal(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	return s.list(ctx, queryRenewals, now)
}

func (s *Store) FindTrialsNeedingConversion(ctx context.Context, cutoff time.Time) ([]*subscription.Subscription, error) {
	return s.list(ctx, queryTrials, cutoff)
}

func (s *Store) FindPastDueNeedingRetry(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	return s.list(ctx, queryRetries, now)
}

func (s *Store) FindPastDueExceedingGracePeriod(ctx context.Context, cutoff time.Time) ([]*subscription.Subscription, error) {
	return s.list(ctx, queryGrace, cutoff)
}

// UpdateSubscriptionStatus applies the write in one statement. The status
// check in the WHERE clause makes it a compare-and-set.
func (s *Store) UpdateSubscriptionStatus(ctx context.Context, id string, status subscription.SubscriptionStatus, f lifecycle.UpdateFields) (*subscription.Subscription, error) {
	var updatedAt *time.Time
	if !f.UpdatedAt.IsZero() {
		updatedAt = &f.UpdatedAt
	}

	row := s.db.QueryRow(ctx, queryUpdate,
		id,
		string(status),
		f.CurrentPeriodStart,
		f.CurrentPeriodEnd,
		f.ClearPastDueSince,
		f.PastDueSince,
		f.RetryCount,
		f.ClearNextRetryAt,
		f.NextRetryAt,
		f.CanceledAt,
		updatedAt,
		string(f.ExpectedStatus),
		f.BillingAnchorDay,
	)
	sub, err := scan(row)
	if err == nil {
		return sub, nil
	}
	if !pg.IsNotFoundError(err) {
		return nil, fmt.Errorf("pgstore: update %s: %w", id, err)
	}

	var current string
	if err := s.db.QueryRow(ctx, queryStatus, id).Scan(&current); err != nil {
		if pg.IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", subscription.ErrSubscriptionNotFound, id)
		}
		return nil, fmt.Errorf("pgstore: read status of %s: %w", id, err)
	}
	return nil, fmt.Errorf("%w: %s is %s, expected %s", lifecycle.ErrStaleSubscription, id, current, f.ExpectedStatus)
}

// Get loads one subscription.
func (s *Store) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	sub, err := scan(s.db.QueryRow(ctx, queryGet, id))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", subscription.ErrSubscriptionNotFound, id)
		}
		return nil, fmt.Errorf("pgstore: get %s: %w", id, err)
	}
	return sub, nil
}

// Save inserts or fully replaces a subscription.
func (s *Store) Save(ctx context.Context, sub *subscription.Subscription) error {
	if sub == nil {
		return errors.New("pgstore: nil subscription")
	}
	_, err := s.db.Exec(ctx, querySave,
		sub.ID,
		sub.CustomerID,
		sub.PlanID,
		string(sub.Status),
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.TrialEnd,
		sub.CancelAtPeriodEnd,
		sub.DefaultPaymentMethodID,
		sub.PastDueSince,
		sub.RetryCount,
		sub.NextRetryAt,
		sub.CanceledAt,
		sub.CreatedAt,
		sub.UpdatedAt,
		sub.BillingAnchorDay,
	)
	if err != nil {
		return fmt.Errorf("pgstore: save %s: %w", sub.ID, err)
	}
	return nil
}

func (s *Store) list(ctx context.Context, query string, at time.Time) ([]*subscription.Subscription, error) {
	rows, err := s.db.Query(ctx, query, at)
	if err != nil {
		return nil, fmt.Errorf("pgstore: query: %w", err)
	}
	defer rows.Close()

	out := make([]*subscription.Subscription, 0)
	for rows.Next() {
		sub, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("pgstore: scan: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: rows: %w", err)
	}
	return out, nil
}

func scan(row pgx.Row) (*subscription.Subscription, error) {
	var (
		sub    subscription.Subscription
		status string
	)
	err := row.Scan(
		&sub.ID,
		&sub.CustomerID,
		&sub.PlanID,
		&status,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.TrialEnd,
		&sub.CancelAtPeriodEnd,
		&sub.DefaultPaymentMethodID,
		&sub.PastDueSince,
		&sub.RetryCount,
		&sub.NextRetryAt,
		&sub.CanceledAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
		&sub.BillingAnchorDay,
	)
	if err != nil {
		return nil, err
	}
	sub.Status = subscription.SubscriptionStatus(status)
	normalizeTimes(&sub)
	return &sub, nil
}

// normalizeTimes converts driver timestamps to UTC.
func normalizeTimes(sub *subscription.Subscription) {
	sub.CurrentPeriodStart = sub.CurrentPeriodStart.UTC()
	sub.CurrentPeriodEnd = sub.CurrentPeriodEnd.UTC()
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	for _, t := range []*time.Time{sub.TrialEnd, sub.PastDueSince, sub.NextRetryAt, sub.CanceledAt} {
		if t != nil {
			*t = t.UTC()
		}
	}
}
