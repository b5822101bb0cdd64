package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bytescrape/steward/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(repo *mockRepository, notifier *mockNotifier, panel *mockPanel, at time.Time) *Scheduler {
	sched := NewScheduler(SchedulerConfig{
		ScanInterval:   time.Hour,
		PaymentLinkURL: "https://pay.example.com",
	}, repo, notifier, panel)
	sched.now = func() time.Time { return at }
	return sched
}

func overdueBy(now time.Time, days int) *domain.Subscription {
	return &domain.Subscription{
		SubscriberID:   42,
		Price:          9.99,
		IntervalMonths: 1,
		Email:          "user@example.com",
		NextPaymentAt:  now.AddDate(0, 0, -days),
	}
}

func TestProcess_Classification(t *testing.T) {
	now := date(2024, time.June, 1)

	tests := []struct {
		name        string
		daysOverdue int
		wantMessage bool
		wantBody    string
		wantSuspend bool
	}{
		{
			name:        "due today is skipped",
			daysOverdue: 0,
			wantMessage: false,
		},
		{
			name:        "three days overdue",
			daysOverdue: 3,
			wantMessage: true,
			wantBody:    "**suspended** in **5 days**",
		},
		{
			name:        "seven days overdue is the final notice",
			daysOverdue: 7,
			wantMessage: true,
			wantBody:    "**suspended tomorrow**",
		},
		{
			name:        "past seven days suspends",
			daysOverdue: 8,
			wantMessage: true,
			wantBody:    "will **now** be **suspended**",
			wantSuspend: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepository()
			notifier := &mockNotifier{}
			panel := newMockPanel()
			sched := newTestScheduler(repo, notifier, panel, now)

			sub := overdueBy(now, tt.daysOverdue)
			repo.subs[sub.SubscriberID] = sub

			sched.process(context.Background(), sub, now)

			if !tt.wantMessage {
				assert.Empty(t, notifier.dms)
				return
			}
			require.Len(t, notifier.dms, 1)
			assert.Equal(t, int64(42), notifier.dms[0].recipientID)
			assert.Contains(t, notifier.dms[0].msg.Body, tt.wantBody)

			if tt.wantSuspend {
				assert.Equal(t, []string{"user@example.com"}, panel.suspended)
				stored, err := repo.Get(context.Background(), 42)
				require.NoError(t, err)
				assert.True(t, stored.Suspended, "suspension flag persisted")
			} else {
				assert.Empty(t, panel.suspended)
			}
		})
	}
}

func TestProcess_ReminderCarriesActions(t *testing.T) {
	now := date(2024, time.June, 1)
	notifier := &mockNotifier{}
	sched := newTestScheduler(newMockRepository(), notifier, newMockPanel(), now)

	sched.process(context.Background(), overdueBy(now, 3), now)

	require.Len(t, notifier.dms, 1)
	actions := notifier.dms[0].msg.Actions
	require.Len(t, actions, 3)
	assert.Equal(t, "paid", actions[0].CustomID)
	assert.Equal(t, "cancel", actions[1].CustomID)
	assert.Equal(t, "https://pay.example.com", actions[2].URL)
}

func TestProcess_SuspendsOncePerCycle(t *testing.T) {
	now := date(2024, time.June, 1)
	repo := newMockRepository()
	notifier := &mockNotifier{}
	panel := newMockPanel()
	sched := newTestScheduler(repo, notifier, panel, now)

	sub := overdueBy(now, 9)
	sub.Suspended = true
	repo.subs[sub.SubscriberID] = sub

	sched.process(context.Background(), sub, now)

	assert.Len(t, notifier.dms, 1, "notice still goes out")
	assert.Empty(t, panel.suspended, "already suspended this cycle")
}

func TestProcess_NoEmailSkipsSuspend(t *testing.T) {
	now := date(2024, time.June, 1)
	panel := newMockPanel()
	sched := newTestScheduler(newMockRepository(), &mockNotifier{}, panel, now)

	sub := overdueBy(now, 8)
	sub.Email = ""

	sched.process(context.Background(), sub, now)

	assert.Empty(t, panel.suspended)
}

func TestProcess_SuspendFailureLeavesFlagClear(t *testing.T) {
	now := date(2024, time.June, 1)
	repo := newMockRepository()
	panel := newMockPanel()
	panel.suspendErr = errors.New("panel unavailable")
	sched := newTestScheduler(repo, &mockNotifier{}, panel, now)

	sub := overdueBy(now, 8)
	repo.subs[sub.SubscriberID] = sub

	sched.process(context.Background(), sub, now)

	stored, err := repo.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, stored.Suspended, "next tick retries the suspend")
}

func TestScan_FailureIsolation(t *testing.T) {
	now := date(2024, time.June, 1)
	repo := newMockRepository()
	repo.subs[1] = &domain.Subscription{
		SubscriberID:  1,
		NextPaymentAt: now.AddDate(0, 0, -3),
	}
	repo.subs[2] = &domain.Subscription{
		SubscriberID:  2,
		NextPaymentAt: now.AddDate(0, 0, -3),
	}
	notifier := &mockNotifier{
		dmErr: func(recipientID int64) error {
			if recipientID == 1 {
				return errors.New("cannot message this user")
			}
			return nil
		},
	}
	sched := newTestScheduler(repo, notifier, newMockPanel(), now)

	sched.scan(context.Background())

	require.Len(t, notifier.dms, 1, "one failed delivery must not block the rest")
	assert.Equal(t, int64(2), notifier.dms[0].recipientID)
}

func TestScan_NotDueYetUntouched(t *testing.T) {
	now := date(2024, time.June, 1)
	repo := newMockRepository()
	repo.subs[1] = &domain.Subscription{
		SubscriberID:  1,
		NextPaymentAt: now.AddDate(0, 0, 10),
	}
	notifier := &mockNotifier{}
	sched := newTestScheduler(repo, notifier, newMockPanel(), now)

	sched.scan(context.Background())

	assert.Empty(t, notifier.dms)
}

func TestRun_ReadinessGate(t *testing.T) {
	repo := newMockRepository()
	repo.findDueErr = errors.New("scan should not run")
	notifier := &mockNotifier{readyErr: errors.New("transport down")}
	sched := newTestScheduler(repo, notifier, newMockPanel(), time.Now())

	sched.Start(context.Background())
	sched.Stop()

	assert.Empty(t, notifier.dms)
}
