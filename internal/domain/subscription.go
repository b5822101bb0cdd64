package domain

import "time"

// Subscription is one subscriber's billing record. SubscriberID is the chat
// platform user id and the primary key in the billing store.
type Subscription struct {
	SubscriberID   int64
	Price          float64
	IntervalMonths int
	LastPaid       time.Time
	NextPaymentAt  time.Time
	Email          string
	Suspended      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DaysOverdue returns the number of whole days the subscription is past its
// due date at the given time. Negative when the due date is in the future.
func (s *Subscription) DaysOverdue(now time.Time) int {
	return int(now.Sub(s.NextPaymentAt).Hours() / 24)
}

// IsOverdue reports whether the subscription is past due at the given time.
func (s *Subscription) IsOverdue(now time.Time) bool {
	return now.After(s.NextPaymentAt)
}

// HasEmail reports whether the record can be matched to a panel account.
// Without an email, service suspension cannot be automated.
func (s *Subscription) HasEmail() bool {
	return s.Email != ""
}
