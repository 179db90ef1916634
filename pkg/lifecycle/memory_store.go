package lifecycle

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// MemoryStore is a Store kept in process memory.
// It is meant for tests and single-process development setups.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]*subscription.Subscription
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store seeded with copies of subs.
func NewMemoryStore(subs ...*subscription.Subscription) *MemoryStore {
	s := &MemoryStore{subs: make(map[string]*subscription.Subscription, len(subs))}
	for _, sub := range subs {
		s.Put(sub)
	}
	return s
}

// Put inserts or replaces a subscription.
func (s *MemoryStore) Put(sub *subscription.Subscription) {
	if sub == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = sub.Clone()
}

// Get returns a copy of the stored subscription.
func (s *MemoryStore) Get(_ context.Context, id string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", subscription.ErrSubscriptionNotFound, id)
	}
	return sub.Clone(), nil
}

func (s *MemoryStore) FindSubscriptionsNeedingRenewal(_ context.Context, now time.Time) ([]*subscription.Subscription, error) {
	return s.find(func(sub *subscription.Subscription) bool {
		return sub.Status == subscription.StatusActive && !sub.CurrentPeriodEnd.After(now)
	}, func(sub *subscription.Subscription) time.Time {
		return sub.CurrentPeriodEnd
	}), nil
}

func (s *MemoryStore) FindTrialsNeedingConversion(_ context.Context, cutoff time.Time) ([]*subscription.Subscription, error) {
	return s.find(func(sub *subscription.Subscription) bool {
		return sub.Status == subscription.StatusTrialing && sub.TrialEnd != nil && !sub.TrialEnd.After(cutoff)
	}, func(sub *subscription.Subscription) time.Time {
		return *sub.TrialEnd
	}), nil
}

func (s *MemoryStore) FindPastDueNeedingRetry(_ context.Context, now time.Time) ([]*subscription.Subscription, error) {
	return s.find(func(sub *subscription.Subscription) bool {
		return sub.Status == subscription.StatusPastDue && sub.NextRetryAt != nil && !sub.NextRetryAt.After(now)
	}, func(sub *subscription.Subscription) time.Time {
		return *sub.NextRetryAt
	}), nil
}

func (s *MemoryStore) FindPastDueExceedingGracePeriod(_ context.Context, cutoff time.Time) ([]*subscription.Subscription, error) {
	return s.find(func(sub *subscription.Subscription) bool {
		switch sub.Status {
		case subscription.StatusPastDue, subscription.StatusUnpaid:
		default:
			return false
		}
		return sub.PastDueSince != nil && !sub.PastDueSince.After(cutoff) && sub.NextRetryAt == nil
	}, func(sub *subscription.Subscription) time.Time {
		return *sub.PastDueSince
	}), nil
}

func (s *MemoryStore) UpdateSubscriptionStatus(_ context.Context, id string, status subscription.SubscriptionStatus, fields UpdateFields) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", subscription.ErrSubscriptionNotFound, id)
	}
	if fields.ExpectedStatus != "" && sub.Status != fields.ExpectedStatus {
		return nil, fmt.Errorf("%w: %s is %s, expected %s", ErrStaleSubscription, id, sub.Status, fields.ExpectedStatus)
	}

	ApplyUpdate(sub, status, fields)
	return sub.Clone(), nil
}

// find returns copies of matching subscriptions ordered by key, then ID.
func (s *MemoryStore) find(match func(*subscription.Subscription) bool, key func(*subscription.Subscription) time.Time) []*subscription.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*subscription.Subscription, 0)
	for _, sub := range s.subs {
		if match(sub) {
			out = append(out, sub.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *subscription.Subscription) int {
		if c := key(a).Compare(key(b)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
