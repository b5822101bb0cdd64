package interaction

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytescrape/steward/internal/billing"
	"github.com/bytescrape/steward/internal/domain"
	"github.com/bytescrape/steward/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBilling implements Billing for testing.
type mockBilling struct {
	addInput       billing.AddInput
	addErr         error
	lastPaidID     int64
	lastPaidDate   string
	lastPaidErr    error
	removedID      int64
	removeErr      error
	subs           []domain.Subscription
	claimID        int64
	claimErr       error
	cancelReqID    int64
	confirmedID    int64
	confirmErr     error
	cancellationID int64
	cancelErr      error
}

func (m *mockBilling) Add(_ context.Context, input billing.AddInput) (*domain.Subscription, error) {
	m.addInput = input
	if m.addErr != nil {
		return nil, m.addErr
	}
	return &domain.Subscription{
		SubscriberID:   input.SubscriberID,
		Price:          input.Price,
		IntervalMonths: input.IntervalMonths,
		NextPaymentAt:  time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (m *mockBilling) SetLastPaid(_ context.Context, subscriberID int64, lastPaid string) (*domain.Subscription, error) {
	m.lastPaidID = subscriberID
	m.lastPaidDate = lastPaid
	if m.lastPaidErr != nil {
		return nil, m.lastPaidErr
	}
	return &domain.Subscription{
		SubscriberID:  subscriberID,
		LastPaid:      time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC),
		NextPaymentAt: time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (m *mockBilling) Remove(_ context.Context, subscriberID int64) error {
	m.removedID = subscriberID
	return m.removeErr
}

func (m *mockBilling) List(context.Context) ([]domain.Subscription, error) {
	return m.subs, nil
}

func (m *mockBilling) SubmitPaymentClaim(_ context.Context, subscriberID int64) error {
	m.claimID = subscriberID
	return m.claimErr
}

func (m *mockBilling) SubmitCancellationRequest(_ context.Context, subscriberID int64) error {
	m.cancelReqID = subscriberID
	return nil
}

func (m *mockBilling) ConfirmPayment(_ context.Context, subscriberID int64) (*domain.Subscription, error) {
	m.confirmedID = subscriberID
	if m.confirmErr != nil {
		return nil, m.confirmErr
	}
	return &domain.Subscription{SubscriberID: subscriberID}, nil
}

func (m *mockBilling) ConfirmCancellation(_ context.Context, subscriberID int64) error {
	m.cancellationID = subscriberID
	return m.cancelErr
}

// mockTickets implements Tickets for testing.
type mockTickets struct {
	openedID      int64
	openedName    string
	openedService string
	openErr       error
	closedChannel int64
	closeDeadline time.Time
	closeErr      error
	grantedUserID int64
	grantedRole   string
}

func (m *mockTickets) Open(_ context.Context, openerID int64, openerName, serviceValue string) (int64, error) {
	m.openedID = openerID
	m.openedName = openerName
	m.openedService = serviceValue
	if m.openErr != nil {
		return 0, m.openErr
	}
	return 9000, nil
}

func (m *mockTickets) ClosePrompt() notify.Message {
	return notify.Message{Body: "Are you sure you want to delete this ticket?"}
}

func (m *mockTickets) ConfirmClose(_ context.Context, channelID int64, deadline time.Time) error {
	m.closedChannel = channelID
	m.closeDeadline = deadline
	return m.closeErr
}

func (m *mockTickets) GrantRole(_ context.Context, userID int64, roleValue string) error {
	m.grantedUserID = userID
	m.grantedRole = roleValue
	return nil
}

func (m *mockTickets) ServiceValues() []string { return []string{"discord", "other"} }
func (m *mockTickets) RoleValues() []string    { return []string{"announcements", "polls"} }

// mockVault implements Vault for testing.
type mockVault struct {
	names       []string
	local       []string
	pulledName  string
	pullErr     error
	removedName string
	removeErr   error
	soldChannel int64
	soldName    string
	sellErr     error
}

func (m *mockVault) List(context.Context) ([]string, error) { return m.names, nil }

func (m *mockVault) Pull(_ context.Context, name string) error {
	m.pulledName = name
	return m.pullErr
}

func (m *mockVault) PullAll(context.Context) (int, int, error) { return 2, 1, nil }

func (m *mockVault) ListLocal() ([]string, error) { return m.local, nil }

func (m *mockVault) Remove(name string) error {
	m.removedName = name
	return m.removeErr
}

func (m *mockVault) Sell(_ context.Context, channelID int64, name string) error {
	m.soldChannel = channelID
	m.soldName = name
	return m.sellErr
}

type testEnv struct {
	handler    *Handler
	billing    *mockBilling
	tickets    *mockTickets
	vault      *mockVault
	privateKey ed25519.PrivateKey
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	env := &testEnv{
		billing:    &mockBilling{},
		tickets:    &mockTickets{},
		vault:      &mockVault{},
		privateKey: priv,
	}

	env.handler, err = NewHandler(hex.EncodeToString(pub), env.billing, env.tickets, env.vault)
	require.NoError(t, err)
	env.handler.now = func() time.Time {
		return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	}
	return env
}

// dispatch signs and posts the interaction, returning the recorder.
func (env *testEnv) dispatch(t *testing.T, in Interaction) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(in)
	require.NoError(t, err)

	timestamp := "1718452800"
	sig := ed25519.Sign(env.privateKey, append([]byte(timestamp), body...))

	req := httptest.NewRequest(http.MethodPost, "/interactions", bytes.NewReader(body))
	req.Header.Set("X-Signature-Ed25519", hex.EncodeToString(sig))
	req.Header.Set("X-Signature-Timestamp", timestamp)

	rec := httptest.NewRecorder()
	env.handler.Handle(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func adminMember(userID string) *Member {
	return &Member{
		User:        &User{ID: userID, Username: "admin"},
		Permissions: "8",
	}
}

func plainMember(userID string) *Member {
	return &Member{
		User:        &User{ID: userID, Username: "member"},
		Permissions: "1024",
	}
}

func TestNewHandler_Validation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr string
	}{
		{name: "not hex", key: "zz", wantErr: "decode public key"},
		{name: "wrong length", key: "abcd", wantErr: "32 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHandler(tt.key, &mockBilling{}, &mockTickets{}, &mockVault{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHandle_RejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)

	body, err := json.Marshal(Interaction{Type: interactionPing})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/interactions", bytes.NewReader(body))
	req.Header.Set("X-Signature-Ed25519", hex.EncodeToString(make([]byte, ed25519.SignatureSize)))
	req.Header.Set("X-Signature-Timestamp", "1718452800")

	rec := httptest.NewRecorder()
	env.handler.Handle(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandle_RejectsMissingTimestamp(t *testing.T) {
	env := newTestEnv(t)

	body := []byte(`{"type":1}`)
	sig := ed25519.Sign(env.privateKey, body)

	req := httptest.NewRequest(http.MethodPost, "/interactions", bytes.NewReader(body))
	req.Header.Set("X-Signature-Ed25519", hex.EncodeToString(sig))

	rec := httptest.NewRecorder()
	env.handler.Handle(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandle_Ping(t *testing.T) {
	env := newTestEnv(t)

	resp := decodeResponse(t, env.dispatch(t, Interaction{Type: interactionPing}))
	assert.Equal(t, callbackPong, resp.Type)
	assert.Nil(t, resp.Data)
}

func TestHandle_MalformedCustomID(t *testing.T) {
	env := newTestEnv(t)

	resp := decodeResponse(t, env.dispatch(t, Interaction{
		Type:   interactionComponent,
		Member: plainMember("42"),
		Data:   &Data{CustomID: "confirm,not-a-number"},
	}))

	assert.Equal(t, callbackMessage, resp.Type)
	assert.Equal(t, "Invalid confirmation data.", resp.Data.Content)
	assert.Equal(t, flagEphemeral, resp.Data.Flags)
	assert.Zero(t, env.billing.confirmedID)
}

func TestHandle_PaymentClaim(t *testing.T) {
	env := newTestEnv(t)

	resp := decodeResponse(t, env.dispatch(t, Interaction{
		Type:   interactionComponent,
		Member: plainMember("42"),
		Data:   &Data{CustomID: "paid"},
	}))

	assert.Equal(t, int64(42), env.billing.claimID)
	assert.Contains(t, resp.Data.Content, "payment claim has been submitted")
}

func TestHandle_CancellationRequest(t *testing.T) {
	env := newTestEnv(t)

	resp := decodeResponse(t, env.dispatch(t, Interaction{
		Type:   interactionComponent,
		Member: plainMember("42"),
		Data:   &Data{CustomID: "cancel"},
	}))

	assert.Equal(t, int64(42), env.billing.cancelReqID)
	assert.Contains(t, resp.Data.Content, "cancellation request has been submitted")
}

func TestHandle_ConfirmPayment(t *testing.T) {
	env := newTestEnv(t)

	resp := decodeResponse(t, env.dispatch(t, Interaction{
		Type:   interactionComponent,
		Member: adminMember("1"),
		Data:   &Data{CustomID: "confirm,42"},
	}))

	assert.Equal(t, int64(42), env.billing.confirmedID)
	assert.Equal(t, "The payment has been confirmed.", resp.Data.Content)
}

func TestHandle_ConfirmPayment_NotAdmin(t *testing.T) {
	env := newTestEnv(t)

	resp := decodeResponse(t, env.dispatch(t, Interaction{
		Type:   interactionComponent,
		Member: plainMember("1"),
		Data:   &Data{CustomID: "confirm,42"},
	}))

	assert.Zero(t, env.billing.confirmedID)
	assert.Contains(t, resp.Data.Content, "not allowed")
}

func TestHandle_ConfirmPayment_NotFound(t *testing.T) {
	env := newTestEnv(t)
	env.billing.confirmErr = billing.ErrNotFound

	resp := decodeResponse(t, env.dispatch(t, Interaction{
		Type:   interactionComponent,
		Member: adminMember("1"),
		Data:   &Data{CustomID: "confirm,42"},
	}))

	assert.Equal(t, "Subscription not found for the user.", resp.Data.Content)
}

func TestHandle_ConfirmCancellation(t *testing.T) {
	env := newTestEnv(t)

	resp := decodeResponse(t, env.dispatch(t, Interaction{
		Type:   interactionComponent,
		Member: adminMember("1"),
		Data:   &Data{CustomID: "confirm_cancel,42"},
	}))

	assert.Equal(t, int64(42), env.billing.cancellationID)
	// The prompt message is replaced and its controls stripped.
	assert.Equal(t, callbackUpdateMessage, resp.Type)
	require.Len(t, resp.Data.Embeds, 1)
	assert.Equal(t, "Subscription Cancellation", resp.Data.Embeds[0].Title)
	assert.Empty(t, resp.Data.Components)
}

func TestHandle_TicketOpen(t *testing.T) {
	env := newTestEnv(t)

	resp := decodeResponse(t, env.dispatch(t, Interaction{
		Type:   interactionComponent,
		Member: plainMember("42"),
		Data:   &Data{CustomID: "ticket", Values: []string{"discord"}},
	}))

	assert.Equal(t, int64(42), env.tickets.openedID)
	assert.Equal(t, "member", env.tickets.openedName)
	assert.Equal(t, "discord", env.tickets.openedService)
	assert.Contains(t, resp.Data.Content, "<#9000>")
}

func TestHandle_TicketClosePrompt(t *testing.T) {
	env := newTestEnv(t)

	resp := decodeResponse(t, env.dispatch(t, Interaction{
		Type:   interactionComponent,
		Member: plainMember("42"),
		Data:   &Data{CustomID: "close"},
	}))

	require.Len(t, resp.Data.Embeds, 1)
	assert.Contains(t, resp.Data.Embeds[0].Description, "delete this ticket")
	assert.Equal(t, flagEphemeral, resp.Data.Flags)
}

func TestHandle_TicketCloseConfirm(t *testing.T) {
	env := newTestEnv(t)

	resp := decodeResponse(t, env.dispatch(t, Interaction{
		Type:      interactionComponent,
		ChannelID: "777",
		Member:    plainMember("42"),
		Data:      &Data{CustomID: "yes,1718500000"},
	}))

	assert.Equal(t, int64(777), env.tickets.closedChannel)
	assert.Equal(t, int64(1718500000), env.tickets.closeDeadline.Unix())
	assert.Contains(t, resp.Data.Content, "deleted")
}

func TestHandle_RoleSelect(t *testing.T) {
	env := newTestEnv(t)

	resp := decodeResponse(t, env.dispatch(t, Interaction{
		Type:   interactionComponent,
		Member: plainMember("42"),
		Data:   &Data{CustomID: "roles", Values: []string{"polls"}},
	}))

	assert.Equal(t, int64(42), env.tickets.grantedUserID)
	assert.Equal(t, "polls", env.tickets.grantedRole)
	assert.Equal(t, "Role assigned.", resp.Data.Content)
}

func TestHandle_SubscriptionAdd(t *testing.T) {
	env := newTestEnv(t)

	resp := decodeResponse(t, env.dispatch(t, Interaction{
		Type:   interactionCommand,
		Member: adminMember("1"),
		Data: &Data{
			Name: "subscription",
			Options: []Option{{
				Name: "add",
				Options: []Option{
					{Name: "user", Value: "42"},
					{Name: "price", Value: 9.99},
					{Name: "interval", Value: float64(3)},
					{Name: "email", Value: "sub@example.com"},
				},
			}},
		},
	}))

	assert.Equal(t, billing.AddInput{
		SubscriberID:   42,
		Price:          9.99,
		IntervalMonths: 3,
		Email:          "sub@example.com",
	}, env.billing.addInput)
	assert.Contains(t, resp.Data.Content, "<@42>")
	assert.Contains(t, resp.Data.Content, "9.99€")
}

func TestHandle_SubscriptionSetLastPaid_InvalidDate(t *testing.T) {
	env := newTestEnv(t)
	env.billing.lastPaidErr = billing.ErrInvalidDate

	resp := decodeResponse(t, env.dispatch(t, Interaction{
		Type:   interactionCommand,
		Member: adminMember("1"),
		Data: &Data{
			Name: "subscription",
			Options: []Option{{
				Name: "set-last-paid",
				Options: []Option{
					{Name: "user", Value: "42"},
					{Name: "date", Value: "2024-04-15"},
				},
			}},
		},
	}))

	assert.Equal(t, "2024-04-15", env.billing.lastPaidDate)
	assert.Contains(t, resp.Data.Content, "DD-MM-YYYY")
}

func TestHandle_Command_NotAdmin(t *testing.T) {
	env := newTestEnv(t)

	resp := decodeResponse(t, env.dispatch(t, Interaction{
		Type:   interactionCommand,
		Member: plainMember("42"),
		Data:   &Data{Name: "subscription"},
	}))

	assert.Contains(t, resp.Data.Content, "not allowed")
}

func TestHandle_ServerSetup_TicketPanel(t *testing.T) {
	env := newTestEnv(t)

	resp := decodeResponse(t, env.dispatch(t, Interaction{
		Type:   interactionCommand,
		Member: adminMember("1"),
		Data: &Data{
			Name:    "server-setup",
			Options: []Option{{Name: "option", Value: "ticket"}},
		},
	}))

	// Panels are posted publicly into the channel.
	assert.Zero(t, resp.Data.Flags)
	require.Len(t, resp.Data.Components, 1)
	row := resp.Data.Components[0]
	require.Len(t, row.Components, 1)

	sel := row.Components[0]
	assert.Equal(t, "ticket", sel.CustomID)
	require.Len(t, sel.Options, 2)
	assert.Equal(t, "Discord", sel.Options[0].Label)
	assert.Equal(t, "discord", sel.Options[0].Value)
}

func TestHandle_Sell(t *testing.T) {
	env := newTestEnv(t)

	resp := decodeResponse(t, env.dispatch(t, Interaction{
		Type:      interactionCommand,
		ChannelID: "555",
		Member:    adminMember("1"),
		Data: &Data{
			Name:    "sell",
			Options: []Option{{Name: "repo", Value: "alpha"}},
		},
	}))

	assert.Equal(t, int64(555), env.vault.soldChannel)
	assert.Equal(t, "alpha", env.vault.soldName)
	assert.Contains(t, resp.Data.Content, "`alpha`")
}
