// Package billing implements the subscription lifecycle: record
// administration, the periodic payment scan and the two-phase payment
// confirmation protocol.
package billing

import (
	"context"
	"time"

	"github.com/bytescrape/steward/internal/domain"
	"github.com/bytescrape/steward/internal/notify"
)

// Repository defines billing store access. All mutations are single-record
// updates scoped by subscriber id.
type Repository interface {
	// Insert stores a new record. Returns ErrAlreadyExists if a record for
	// the subscriber is already present; it never overwrites.
	Insert(ctx context.Context, sub *domain.Subscription) error
	// Get returns the record for a subscriber, or ErrNotFound.
	Get(ctx context.Context, subscriberID int64) (*domain.Subscription, error)
	// Update replaces an existing record, or returns ErrNotFound.
	Update(ctx context.Context, sub *domain.Subscription) error
	// Delete removes a record, or returns ErrNotFound.
	Delete(ctx context.Context, subscriberID int64) error
	// List returns all records ordered by next payment date.
	List(ctx context.Context) ([]domain.Subscription, error)
	// FindDue returns all records with next_payment_at <= now.
	FindDue(ctx context.Context, now time.Time) ([]domain.Subscription, error)
}

// Notifier delivers structured messages to subscribers and administrators.
// Both primitives are fallible and callers treat them as best-effort.
type Notifier interface {
	// Ready blocks until the transport can deliver, or the context ends.
	Ready(ctx context.Context) error
	DirectMessage(ctx context.Context, recipientID int64, msg notify.Message) error
	PostAdmin(ctx context.Context, msg notify.Message) error
}

// Panel controls hosted services, matched to subscribers by billing email.
type Panel interface {
	SuspendAllByEmail(ctx context.Context, email string) error
	UnsuspendAllByEmail(ctx context.Context, email string) error
}
