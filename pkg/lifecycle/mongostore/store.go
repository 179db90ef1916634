package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// DefaultCollection is the collection used when none is given.
const DefaultCollection = "subscriptions"

// Store keeps subscriptions in a MongoDB collection, one document per subscription.
type Store struct {
	coll *mongo.Collection
}

var _ lifecycle.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	collection string
}

// WithCollection sets the collection name.
func WithCollection(name string) Option {
	return func(o *storeOptions) {
		if name != "" {
			o.collection = name
		}
	}
}

// New creates a store on db.
func New(db *mongo.Database, opts ...Option) *Store {
	o := &storeOptions{collection: DefaultCollection}
	for _, opt := range opts {
		opt(o)
	}
	return &Store{coll: db.Collection(o.collection)}
}

// EnsureIndexes creates the indexes backing the engine scans.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "current_period_end", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "trial_end", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_retry_at", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "past_due_since", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongostore: create indexes: %w", err)
	}
	return nil
}

func (s *Store) FindSubscriptionsNeedingRenewal(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	return s.find(ctx, bson.D{
		{Key: "status", Value: string(subscription.StatusActive)},
		{Key: "current_period_end", Value: bson.D{{Key: "$lte", Value: now}}},
	}, "current_period_end")
}

func (s *Store) FindTrialsNeedingConversion(ctx context.Context, cutoff time.Time) ([]*subscription.Subscription, error) {
	return s.find(ctx, bson.D{
		{Key: "status", Value: string(subscription.StatusTrialing)},
		{Key: "trial_end", Value: bson.D{{Key: "$lte", Value: cutoff}}},
	}, "trial_end")
}

func (s *Store) FindPastDueNeedingRetry(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	return s.find(ctx, bson.D{
		{Key: "status", Value: string(subscription.StatusPastDue)},
		{Key: "next_retry_at", Value: bson.D{{Key: "$lte", Value: now}}},
	}, "next_retry_at")
}

func (s *Store) FindPastDueExceedingGracePeriod(ctx context.Context, cutoff time.Time) ([]*subscription.Subscription, error) {
	return s.find(ctx, bson.D{
		{Key: "status", Value: bson.D{{Key: "$in", Value: bson.A{
			string(subscription.StatusPastDue),
			string(subscription.StatusUnpaid),
		}}}},
		{Key: "past_due_since", Value: bson.D{{Key: "$lte", Value: cutoff}}},
		{Key: "next_retry_at", Value: nil},
	}, "past_due_since")
}

// UpdateSubscriptionStatus applies the write with FindOneAndUpdate. The
// expected status is part of the filter, which makes the write a compare-and-set.
func (s *Store) UpdateSubscriptionStatus(ctx context.Context, id string, status subscription.SubscriptionStatus, f lifecycle.UpdateFields) (*subscription.Subscription, error) {
	filter := bson.D{{Key: "_id", Value: id}}
	if f.ExpectedStatus != "" {
		filter = append(filter, bson.E{Key: "status", Value: string(f.ExpectedStatus)})
	}

	res := s.coll.FindOneAndUpdate(ctx, filter, updateDoc(status, f),
		options.FindOneAndUpdate().SetReturnDocument(options.After))

	var doc document
	err := res.Decode(&doc)
	if err == nil {
		return doc.subscription(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("mongostore: update %s: %w", id, err)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s is %s, expected %s", lifecycle.ErrStaleSubscription, id, current.Status, f.ExpectedStatus)
}

// Get loads one subscription.
func (s *Store) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	var doc document
	if err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", subscription.ErrSubscriptionNotFound, id)
		}
		return nil, fmt.Errorf("mongostore: get %s: %w", id, err)
	}
	return doc.subscription(), nil
}

// Save inserts or fully replaces a subscription.
func (s *Store) Save(ctx context.Context, sub *subscription.Subscription) error {
	if sub == nil {
		return errors.New("mongostore: nil subscription")
	}
	doc := fromSubscription(sub)
	_, err := s.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: sub.ID}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongostore: save %s: %w", sub.ID, err)
	}
	return nil
}

func (s *Store) find(ctx context.Context, filter bson.D, sortKey string) ([]*subscription.Subscription, error) {
	cur, err := s.coll.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: sortKey, Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongostore: find: %w", err)
	}

	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongostore: decode: %w", err)
	}

	out := make([]*subscription.Subscription, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].subscription())
	}
	return out, nil
}

func updateDoc(status subscription.SubscriptionStatus, f lifecycle.UpdateFields) bson.D {
	set := bson.D{{Key: "status", Value: string(status)}}
	unset := bson.D{}

	if f.CurrentPeriodStart != nil {
		set = append(set, bson.E{Key: "current_period_start", Value: *f.CurrentPeriodStart})
	}
	if f.CurrentPeriodEnd != nil {
		set = append(set, bson.E{Key: "current_period_end", Value: *f.CurrentPeriodEnd})
	}
	if f.BillingAnchorDay != nil {
		set = append(set, bson.E{Key: "billing_anchor_day", Value: *f.BillingAnchorDay})
	}
	switch {
	case f.ClearPastDueSince:
		unset = append(unset, bson.E{Key: "past_due_since", Value: ""})
	case f.PastDueSince != nil:
		set = append(set, bson.E{Key: "past_due_since", Value: *f.PastDueSince})
	}
	if f.RetryCount != nil {
		set = append(set, bson.E{Key: "retry_count", Value: *f.RetryCount})
	}
	switch {
	case f.ClearNextRetryAt:
		unset = append(unset, bson.E{Key: "next_retry_at", Value: ""})
	case f.NextRetryAt != nil:
		set = append(set, bson.E{Key: "next_retry_at", Value: *f.NextRetryAt})
	}
	if f.CanceledAt != nil {
		set = append(set, bson.E{Key: "canceled_at", Value: *f.CanceledAt})
	}
	if !f.UpdatedAt.IsZero() {
		set = append(set, bson.E{Key: "updated_at", Value: f.UpdatedAt})
	}

	update := bson.D{{Key: "$set", Value: set}}
	if len(unset) > 0 {
		update = append(update, bson.E{Key: "$unset", Value: unset})
	}
	return update
}
