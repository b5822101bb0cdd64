package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bytescrape/steward/internal/domain"
)

// Config contains billing behavior configuration.
type Config struct {
	// DefaultIntervalMonths applies when a stored record carries a
	// non-positive interval.
	DefaultIntervalMonths int
	// UnsuspendRetryDelay is the wait before the single unsuspend retry.
	UnsuspendRetryDelay time.Duration
}

// Service implements subscription record administration and the payment
// confirmation protocol.
type Service struct {
	config   Config
	repo     Repository
	notifier Notifier
	panel    Panel

	now func() time.Time
}

// NewService creates a new billing service. A nil panel disables service
// suspension automation.
func NewService(config Config, repo Repository, notifier Notifier, panel Panel) *Service {
	if config.DefaultIntervalMonths <= 0 {
		config.DefaultIntervalMonths = 1
	}
	return &Service{
		config:   config,
		repo:     repo,
		notifier: notifier,
		panel:    panel,
		now:      time.Now,
	}
}

// AddInput holds data for creating a subscription record.
type AddInput struct {
	SubscriberID   int64
	Price          float64
	IntervalMonths int
	Email          string
}

// Add creates a subscription record. The first payment counts as made now,
// so the next payment falls one interval ahead.
func (s *Service) Add(ctx context.Context, input AddInput) (*domain.Subscription, error) {
	if input.Price <= 0 {
		return nil, ErrInvalidPrice
	}
	if input.IntervalMonths <= 0 {
		return nil, ErrInvalidInterval
	}

	now := s.now()
	sub := &domain.Subscription{
		SubscriberID:   input.SubscriberID,
		Price:          input.Price,
		IntervalMonths: input.IntervalMonths,
		LastPaid:       now,
		NextPaymentAt:  AddMonths(now, input.IntervalMonths),
		Email:          input.Email,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Insert(ctx, sub); err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}

	return sub, nil
}

// SetLastPaid overrides the last paid date of an existing record. The date
// must be in DD-MM-YYYY form; the next payment date is recalculated from it
// and any suspension state is cleared.
func (s *Service) SetLastPaid(ctx context.Context, subscriberID int64, lastPaid string) (*domain.Subscription, error) {
	date, err := time.Parse("02-01-2006", lastPaid)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, lastPaid)
	}

	sub, err := s.repo.Get(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}

	sub.LastPaid = date
	sub.NextPaymentAt = AddMonths(date, s.interval(sub))
	sub.Suspended = false
	sub.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}

	return sub, nil
}

// Remove deletes a subscription record.
func (s *Service) Remove(ctx context.Context, subscriberID int64) error {
	if err := s.repo.Delete(ctx, subscriberID); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// Get returns a single subscription record.
func (s *Service) Get(ctx context.Context, subscriberID int64) (*domain.Subscription, error) {
	return s.repo.Get(ctx, subscriberID)
}

// List returns all subscription records.
func (s *Service) List(ctx context.Context) ([]domain.Subscription, error) {
	return s.repo.List(ctx)
}

// SubmitPaymentClaim posts a payment claim to the admin channel with a
// confirm action carrying the subscriber id. The claim itself mutates
// nothing; only confirmation does.
func (s *Service) SubmitPaymentClaim(ctx context.Context, subscriberID int64) error {
	if err := s.notifier.PostAdmin(ctx, paymentClaimMessage(subscriberID)); err != nil {
		return fmt.Errorf("post payment claim: %w", err)
	}
	return nil
}

// SubmitCancellationRequest posts a cancellation request to the admin
// channel with a confirm action carrying the subscriber id.
func (s *Service) SubmitCancellationRequest(ctx context.Context, subscriberID int64) error {
	if err := s.notifier.PostAdmin(ctx, cancellationRequestMessage(subscriberID)); err != nil {
		return fmt.Errorf("post cancellation request: %w", err)
	}
	return nil
}

// ConfirmPayment settles a claimed payment: the record advances one interval
// from now, the suspension flag clears, and the subscriber's services are
// unsuspended on the panel. Notification and panel failures are logged, not
// returned; the persisted record is the source of truth.
//
// The panel unsuspend runs in the background once the record is persisted,
// so the interaction response never waits out the retry delay.
func (s *Service) ConfirmPayment(ctx context.Context, subscriberID int64) (*domain.Subscription, error) {
	sub, err := s.repo.Get(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}

	now := s.now()
	sub.LastPaid = now
	sub.NextPaymentAt = AddMonths(now, s.interval(sub))
	sub.Suspended = false
	sub.UpdatedAt = now

	if err := s.repo.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	confirmationsTotal.WithLabelValues("payment").Inc()

	logger := slog.With("subscriber_id", subscriberID)

	msg := paymentConfirmedMessage(sub)
	if err := s.notifier.PostAdmin(ctx, msg); err != nil {
		logger.Error("failed to post payment confirmation", "error", err)
	}
	if err := s.notifier.DirectMessage(ctx, subscriberID, msg); err != nil {
		logger.Error("failed to send payment confirmation", "error", err)
	}

	if !sub.HasEmail() {
		logger.Error("no email found for subscription, skipping unsuspend")
		return sub, nil
	}

	go func() {
		// The record is already persisted; the panel call must survive the
		// interaction request ending.
		s.unsuspendServices(context.WithoutCancel(ctx), sub.Email, logger)
	}()

	return sub, nil
}

// ConfirmCancellation settles a cancellation request by deleting the record.
func (s *Service) ConfirmCancellation(ctx context.Context, subscriberID int64) error {
	if err := s.repo.Delete(ctx, subscriberID); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	confirmationsTotal.WithLabelValues("cancellation").Inc()
	return nil
}

// interval returns the record's payment interval, falling back to the
// configured default for records stored without one.
func (s *Service) interval(sub *domain.Subscription) int {
	if sub.IntervalMonths > 0 {
		return sub.IntervalMonths
	}
	return s.config.DefaultIntervalMonths
}

// unsuspendServices lifts the panel suspension for all services on the
// billing email. One retry after a fixed delay, then give up with a log.
func (s *Service) unsuspendServices(ctx context.Context, email string, logger *slog.Logger) {
	if s.panel == nil {
		logger.Warn("panel automation disabled, skipping unsuspend")
		return
	}

	err := s.panel.UnsuspendAllByEmail(ctx, email)
	recordPanelCall("unsuspend", err)
	if err == nil {
		return
	}

	logger.Error("failed to unsuspend services, retrying",
		"retry_delay", s.config.UnsuspendRetryDelay,
		"error", err,
	)
	if !sleep(ctx, s.config.UnsuspendRetryDelay) {
		return
	}

	err = s.panel.UnsuspendAllByEmail(ctx, email)
	recordPanelCall("unsuspend", err)
	if err != nil {
		logger.Error("failed to unsuspend services after retry", "error", err)
	}
}

// sleep waits for duration or context cancellation. Returns false if cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
