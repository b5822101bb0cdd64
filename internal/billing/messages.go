package billing

import (
	"fmt"
	"time"

	"github.com/bytescrape/steward/internal/domain"
	"github.com/bytescrape/steward/internal/notify"
)

// Message colors.
const (
	colorWarning = 0xE67E22
	colorSuccess = 0x2ECC71
	colorDanger  = 0xE74C3C
)

const dateLayout = "2006-01-02"

// reminderMessage builds the direct message sent by the payment scan. The
// body varies by overdue stage, the fields and actions do not.
func reminderMessage(sub *domain.Subscription, body string, suspended bool, paymentLinkURL string) notify.Message {
	msg := notify.Message{
		Title: "Subscription Expired",
		Body:  body,
		Color: colorWarning,
		Fields: []notify.Field{
			{Name: "Expiry Date:", Value: fmt.Sprintf("<t:%d:D>", sub.NextPaymentAt.Unix()), Inline: true},
			{Name: "Price:", Value: fmt.Sprintf("%.2f€", sub.Price), Inline: true},
			{Name: "Payment Method:", Value: "PayPal", Inline: true},
			{Name: "Service Suspended:", Value: fmt.Sprintf("%t", suspended), Inline: true},
		},
		Actions: []notify.Action{
			{Label: "Confirm Payment", CustomID: domain.Action{Kind: domain.ActionPaid}.CustomID(), Style: notify.StyleSuccess},
			{Label: "Cancel Payment", CustomID: domain.Action{Kind: domain.ActionCancelRequest}.CustomID(), Style: notify.StyleDanger},
		},
	}
	if paymentLinkURL != "" {
		msg.Actions = append(msg.Actions, notify.Action{
			Label: "PayPal",
			URL:   paymentLinkURL,
			Style: notify.StyleLink,
		})
	}
	return msg
}

// paymentClaimMessage is posted to the admin channel when a subscriber
// reports a payment. The confirm action carries the subscriber id.
func paymentClaimMessage(subscriberID int64) notify.Message {
	return notify.Message{
		Title: "Payment Confirmation",
		Body:  fmt.Sprintf("User <@%d> claims to have paid. Please confirm.", subscriberID),
		Color: colorWarning,
		Actions: []notify.Action{
			{
				Label:    "Confirm",
				CustomID: domain.Action{Kind: domain.ActionConfirmPayment, SubscriberID: subscriberID}.CustomID(),
				Style:    notify.StyleSuccess,
			},
		},
	}
}

// cancellationRequestMessage is posted to the admin channel when a
// subscriber asks to cancel.
func cancellationRequestMessage(subscriberID int64) notify.Message {
	return notify.Message{
		Title: "Cancellation Request",
		Body:  fmt.Sprintf("User <@%d> wants to cancel their product. Please confirm cancellation.", subscriberID),
		Color: colorDanger,
		Actions: []notify.Action{
			{
				Label:    "Confirm Cancellation",
				CustomID: domain.Action{Kind: domain.ActionConfirmCancel, SubscriberID: subscriberID}.CustomID(),
				Style:    notify.StyleDanger,
			},
		},
	}
}

// paymentConfirmedMessage announces a confirmed payment. It is posted to the
// admin channel and sent to the subscriber as a direct message.
func paymentConfirmedMessage(sub *domain.Subscription) notify.Message {
	return notify.Message{
		Title: "Payment Confirmation",
		Color: colorSuccess,
		Body: fmt.Sprintf("Payment confirmed for <@%d>.\nLast paid: %s\nNext payment: %s",
			sub.SubscriberID,
			sub.LastPaid.Format(dateLayout),
			sub.NextPaymentAt.Format(dateLayout),
		),
	}
}

// CancellationConfirmedMessage announces a completed cancellation. The
// interaction layer renders it in place of the original request.
func CancellationConfirmedMessage(subscriberID int64, now time.Time) notify.Message {
	return notify.Message{
		Title: "Subscription Cancellation",
		Color: colorDanger,
		Body: fmt.Sprintf("Subscription for <@%d> has been cancelled on %s.",
			subscriberID, now.Format(dateLayout)),
	}
}
