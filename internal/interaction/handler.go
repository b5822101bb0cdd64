// Package interaction implements the signed webhook endpoint for
// chat-platform callbacks: slash commands, buttons and select menus.
package interaction

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytescrape/steward/internal/billing"
	"github.com/bytescrape/steward/internal/domain"
	"github.com/bytescrape/steward/internal/notify"
	"github.com/bytescrape/steward/internal/pkg/ctxlog"
	"github.com/bytescrape/steward/internal/pkg/httputil"
	"github.com/bytescrape/steward/internal/ticket"
	"github.com/go-chi/chi/v5"
)

const maxBodySize = 1 << 20 // 1MB

// Billing is the subscription surface the handler drives.
type Billing interface {
	Add(ctx context.Context, input billing.AddInput) (*domain.Subscription, error)
	SetLastPaid(ctx context.Context, subscriberID int64, lastPaid string) (*domain.Subscription, error)
	Remove(ctx context.Context, subscriberID int64) error
	List(ctx context.Context) ([]domain.Subscription, error)
	SubmitPaymentClaim(ctx context.Context, subscriberID int64) error
	SubmitCancellationRequest(ctx context.Context, subscriberID int64) error
	ConfirmPayment(ctx context.Context, subscriberID int64) (*domain.Subscription, error)
	ConfirmCancellation(ctx context.Context, subscriberID int64) error
}

// Tickets is the ticket-channel surface the handler drives.
type Tickets interface {
	Open(ctx context.Context, openerID int64, openerName, serviceValue string) (int64, error)
	ClosePrompt() notify.Message
	ConfirmClose(ctx context.Context, channelID int64, deadline time.Time) error
	GrantRole(ctx context.Context, userID int64, roleValue string) error
	ServiceValues() []string
	RoleValues() []string
}

// Vault is the artifact surface the handler drives.
type Vault interface {
	List(ctx context.Context) ([]string, error)
	Pull(ctx context.Context, name string) error
	PullAll(ctx context.Context) (pulled, failed int, err error)
	ListLocal() ([]string, error)
	Remove(name string) error
	Sell(ctx context.Context, channelID int64, name string) error
}

// Handler verifies and dispatches interaction webhooks.
type Handler struct {
	publicKey ed25519.PublicKey
	billing   Billing
	tickets   Tickets
	vault     Vault

	now func() time.Time
}

// NewHandler creates a new interaction handler. The public key is the
// hex-encoded Ed25519 application key used to sign webhook deliveries.
func NewHandler(publicKeyHex string, billingService Billing, tickets Tickets, vault Vault) (*Handler, error) {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("interaction handler: decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("interaction handler: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}

	return &Handler{
		publicKey: ed25519.PublicKey(raw),
		billing:   billingService,
		tickets:   tickets,
		vault:     vault,
		now:       time.Now,
	}, nil
}

// RegisterRoutes registers the webhook endpoint on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/interactions", h.Handle)
}

// Handle processes a single interaction delivery. Every accepted delivery is
// answered with HTTP 200 and an interaction callback; failures surface to the
// invoker as ephemeral error messages, never as HTTP errors.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "cannot read request body")
		return
	}

	if !h.verifySignature(r.Header, body) {
		httputil.Error(w, http.StatusUnauthorized, "invalid request signature")
		return
	}

	var in Interaction
	if err := json.Unmarshal(body, &in); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch in.Type {
	case interactionPing:
		httputil.JSON(w, http.StatusOK, response{Type: callbackPong})
	case interactionComponent:
		httputil.JSON(w, http.StatusOK, h.handleComponent(r.Context(), &in))
	case interactionCommand:
		httputil.JSON(w, http.StatusOK, h.handleCommand(r.Context(), &in))
	default:
		ctxlog.FromContext(r.Context()).Warn("unsupported interaction type", "type", in.Type)
		httputil.Error(w, http.StatusBadRequest, "unsupported interaction type")
	}
}

// verifySignature checks the Ed25519 signature over timestamp+body carried in
// the delivery headers.
func (h *Handler) verifySignature(header http.Header, body []byte) bool {
	sig, err := hex.DecodeString(header.Get("X-Signature-Ed25519"))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}

	timestamp := header.Get("X-Signature-Timestamp")
	if timestamp == "" {
		return false
	}

	payload := make([]byte, 0, len(timestamp)+len(body))
	payload = append(payload, timestamp...)
	payload = append(payload, body...)
	return ed25519.Verify(h.publicKey, payload, sig)
}

func (h *Handler) handleComponent(ctx context.Context, in *Interaction) response {
	if in.Data == nil {
		return ephemeral("Invalid interaction data.")
	}

	action, err := domain.ParseAction(in.Data.CustomID)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("malformed component identifier",
			"custom_id", in.Data.CustomID, "error", err)
		return ephemeral("Invalid confirmation data.")
	}

	userID, err := in.userID()
	if err != nil {
		return ephemeral("Invalid interaction data.")
	}

	logger := ctxlog.FromContext(ctx)

	switch action.Kind {
	case domain.ActionPaid:
		if err := h.billing.SubmitPaymentClaim(ctx, userID); err != nil {
			logger.Error("failed to submit payment claim", "subscriber_id", userID, "error", err)
			return ephemeral("Failed to submit your payment claim. Please try again later.")
		}
		return ephemeral("Your payment claim has been submitted. The Team will confirm it shortly.")

	case domain.ActionCancelRequest:
		if err := h.billing.SubmitCancellationRequest(ctx, userID); err != nil {
			logger.Error("failed to submit cancellation request", "subscriber_id", userID, "error", err)
			return ephemeral("Failed to submit your cancellation request. Please try again later.")
		}
		return ephemeral("Your cancellation request has been submitted. The Team will confirm it shortly.")

	case domain.ActionConfirmPayment:
		if !in.isAdmin() {
			return ephemeral("You are not allowed to confirm payments.")
		}
		if _, err := h.billing.ConfirmPayment(ctx, action.SubscriberID); err != nil {
			if errors.Is(err, billing.ErrNotFound) {
				return ephemeral("Subscription not found for the user.")
			}
			logger.Error("failed to confirm payment", "subscriber_id", action.SubscriberID, "error", err)
			return ephemeral("Failed to update the subscription.")
		}
		return ephemeral("The payment has been confirmed.")

	case domain.ActionConfirmCancel:
		if !in.isAdmin() {
			return ephemeral("You are not allowed to confirm cancellations.")
		}
		if err := h.billing.ConfirmCancellation(ctx, action.SubscriberID); err != nil {
			if errors.Is(err, billing.ErrNotFound) {
				return ephemeral("Subscription not found for the user.")
			}
			logger.Error("failed to confirm cancellation", "subscriber_id", action.SubscriberID, "error", err)
			return ephemeral("Failed to delete the subscription.")
		}
		return updateMessage(billing.CancellationConfirmedMessage(action.SubscriberID, h.now()))

	case domain.ActionTicketOpen:
		if len(in.Data.Values) == 0 {
			return ephemeral("Invalid interaction data.")
		}
		channelID, err := h.tickets.Open(ctx, userID, in.user().Username, in.Data.Values[0])
		if err != nil {
			logger.Error("failed to open ticket", "user_id", userID, "error", err)
			return ephemeral("Failed to create your ticket. Please try again later.")
		}
		return ephemeral(fmt.Sprintf("Your Ticket got created <#%d>", channelID))

	case domain.ActionTicketClose:
		return ephemeralMessage(h.tickets.ClosePrompt())

	case domain.ActionCloseYes:
		channelID, err := in.channelID()
		if err != nil {
			return ephemeral("Invalid interaction data.")
		}
		if err := h.tickets.ConfirmClose(ctx, channelID, action.Deadline); err != nil {
			if errors.Is(err, ticket.ErrPromptExpired) {
				return ephemeral("This confirmation has expired. Press Close again.")
			}
			logger.Error("failed to close ticket", "channel_id", channelID, "error", err)
			return ephemeral("Failed to close the ticket.")
		}
		return ephemeral("This channel gets deleted in 5 sec.")

	case domain.ActionCloseNo:
		return ephemeral("Canceled delete")

	case domain.ActionRoles:
		if len(in.Data.Values) == 0 {
			return ephemeral("Invalid interaction data.")
		}
		if err := h.tickets.GrantRole(ctx, userID, in.Data.Values[0]); err != nil {
			logger.Error("failed to grant role", "user_id", userID, "error", err)
			return ephemeral("Failed to assign the role.")
		}
		return ephemeral("Role assigned.")

	default:
		return ephemeral("Invalid confirmation data.")
	}
}
