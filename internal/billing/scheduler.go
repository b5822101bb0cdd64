package billing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bytescrape/steward/internal/domain"
	"github.com/bytescrape/steward/internal/pkg/ctxlog"
)

// Overdue stages. Suspension happens the day after the final reminder.
const suspendAfterDays = 7

// SchedulerConfig contains scheduler configuration.
type SchedulerConfig struct {
	ScanInterval   time.Duration
	PaymentLinkURL string
}

// Scheduler periodically scans due subscriptions and drives reminders and
// suspensions. A single goroutine processes records sequentially within one
// tick; records are independent, so one failure never blocks the rest.
type Scheduler struct {
	config   SchedulerConfig
	repo     Repository
	notifier Notifier
	panel    Panel

	now    func() time.Time
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a new subscription scheduler. A nil panel disables
// suspension automation.
func NewScheduler(config SchedulerConfig, repo Repository, notifier Notifier, panel Panel) *Scheduler {
	return &Scheduler{
		config:   config,
		repo:     repo,
		notifier: notifier,
		panel:    panel,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the scan loop. The first scan waits for the notification
// transport to become ready, then runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("starting subscription scheduler", "scan_interval", s.config.ScanInterval)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	slog.Info("subscription scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	if err := s.notifier.Ready(ctx); err != nil {
		slog.Error("notification transport never became ready, scheduler not running", "error", err)
		return
	}
	slog.Debug("subscription check task starting")

	s.scan(ctx)

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

func (s *Scheduler) scan(ctx context.Context) {
	start := time.Now()
	now := s.now()

	subs, err := s.repo.FindDue(ctx, now)
	if err != nil {
		slog.Error("failed to scan due subscriptions", "error", err)
		return
	}

	for i := range subs {
		s.process(ctxlog.With(ctx, "subscriber_id", subs[i].SubscriberID), &subs[i], now)
	}

	scanDuration.Observe(time.Since(start).Seconds())
	if len(subs) > 0 {
		slog.Debug("subscription scan complete", "due", len(subs), "duration", time.Since(start))
	}
}

// process classifies a single record by whole days overdue and sends the
// matching reminder. Exactly one branch fires per record per tick.
func (s *Scheduler) process(ctx context.Context, sub *domain.Subscription, now time.Time) {
	days := sub.DaysOverdue(now)

	var (
		stage string
		body  string
	)
	switch {
	case days == suspendAfterDays:
		stage = "final_notice"
		body = "Please renew your subscription to continue enjoying our services, " +
			"your service will be **suspended tomorrow** if you do not pay."
	case days > suspendAfterDays:
		stage = "suspension"
		body = "Please renew your subscription to continue enjoying our services, " +
			"your service will **now** be **suspended**."
		s.suspendServices(ctx, sub)
	case days > 0:
		stage = "reminder"
		body = fmt.Sprintf("Please renew your subscription to continue enjoying our services, "+
			"your service will be **suspended** in **%d days**.", suspendAfterDays+1-days)
	default:
		// Matched the range scan but not a whole day overdue yet.
		return
	}

	msg := reminderMessage(sub, body, sub.Suspended, s.config.PaymentLinkURL)
	if err := s.notifier.DirectMessage(ctx, sub.SubscriberID, msg); err != nil {
		ctxlog.FromContext(ctx).Error("failed to send subscription expired message",
			"stage", stage,
			"error", err,
		)
		return
	}
	remindersSentTotal.WithLabelValues(stage).Inc()
}

// suspendServices suspends all of the subscriber's hosted services once per
// overdue cycle. The persisted flag keeps later ticks from re-suspending;
// it is cleared again when a payment is confirmed.
func (s *Scheduler) suspendServices(ctx context.Context, sub *domain.Subscription) {
	if sub.Suspended {
		return
	}

	logger := ctxlog.FromContext(ctx)

	if !sub.HasEmail() {
		logger.Error("no email found for overdue subscription, skipping suspend")
		return
	}
	if s.panel == nil {
		logger.Warn("panel automation disabled, skipping suspend")
		return
	}

	err := s.panel.SuspendAllByEmail(ctx, sub.Email)
	recordPanelCall("suspend", err)
	if err != nil {
		logger.Error("failed to suspend services", "error", err)
		return
	}

	sub.Suspended = true
	sub.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, sub); err != nil {
		logger.Error("failed to persist suspension flag", "error", err)
	}
}
