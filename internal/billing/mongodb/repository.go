// Package mongodb implements the billing repository on MongoDB.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytescrape/steward/internal/billing"
	"github.com/bytescrape/steward/internal/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const collectionName = "subscriptions"

// Repository implements billing.Repository. The subscriber id doubles as the
// document id, so uniqueness needs no extra index.
type Repository struct {
	coll *mongo.Collection
}

// NewRepository creates a new subscription repository.
func NewRepository(db *mongo.Database) *Repository {
	return &Repository{coll: db.Collection(collectionName)}
}

type subscriptionDoc struct {
	SubscriberID   int64     `bson:"_id"`
	Price          float64   `bson:"price"`
	IntervalMonths int       `bson:"interval"`
	LastPaid       time.Time `bson:"last_paid"`
	NextPaymentAt  time.Time `bson:"next_payment"`
	Email          string    `bson:"email,omitempty"`
	Suspended      bool      `bson:"suspended"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

func toDoc(sub *domain.Subscription) subscriptionDoc {
	return subscriptionDoc{
		SubscriberID:   sub.SubscriberID,
		Price:          sub.Price,
		IntervalMonths: sub.IntervalMonths,
		LastPaid:       sub.LastPaid,
		NextPaymentAt:  sub.NextPaymentAt,
		Email:          sub.Email,
		Suspended:      sub.Suspended,
		CreatedAt:      sub.CreatedAt,
		UpdatedAt:      sub.UpdatedAt,
	}
}

func fromDoc(doc subscriptionDoc) domain.Subscription {
	return domain.Subscription{
		SubscriberID:   doc.SubscriberID,
		Price:          doc.Price,
		IntervalMonths: doc.IntervalMonths,
		LastPaid:       doc.LastPaid,
		NextPaymentAt:  doc.NextPaymentAt,
		Email:          doc.Email,
		Suspended:      doc.Suspended,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}

// Insert stores a new record, refusing to overwrite an existing one.
func (r *Repository) Insert(ctx context.Context, sub *domain.Subscription) error {
	_, err := r.coll.InsertOne(ctx, toDoc(sub))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return billing.ErrAlreadyExists
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// Get returns the record for a subscriber.
func (r *Repository) Get(ctx context.Context, subscriberID int64) (*domain.Subscription, error) {
	var doc subscriptionDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": subscriberID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, billing.ErrNotFound
		}
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	sub := fromDoc(doc)
	return &sub, nil
}

// Update replaces an existing record.
func (r *Repository) Update(ctx context.Context, sub *domain.Subscription) error {
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": sub.SubscriberID}, toDoc(sub))
	if err != nil {
		return fmt.Errorf("replace subscription: %w", err)
	}
	if res.MatchedCount == 0 {
		return billing.ErrNotFound
	}
	return nil
}

// Delete removes a record.
func (r *Repository) Delete(ctx context.Context, subscriberID int64) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": subscriberID})
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if res.DeletedCount == 0 {
		return billing.ErrNotFound
	}
	return nil
}

// List returns all records ordered by next payment date.
func (r *Repository) List(ctx context.Context) ([]domain.Subscription, error) {
	return r.find(ctx, bson.M{})
}

// FindDue returns all records with next_payment <= now.
func (r *Repository) FindDue(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	return r.find(ctx, bson.M{"next_payment": bson.M{"$lte": now}})
}

func (r *Repository) find(ctx context.Context, filter bson.M) ([]domain.Subscription, error) {
	opts := options.Find().SetSort(bson.D{{Key: "next_payment", Value: 1}})

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find subscriptions: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []subscriptionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode subscriptions: %w", err)
	}

	subs := make([]domain.Subscription, 0, len(docs))
	for _, doc := range docs {
		subs = append(subs, fromDoc(doc))
	}
	return subs, nil
}
