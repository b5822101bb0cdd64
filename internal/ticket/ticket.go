// Package ticket implements the support ticket channel lifecycle and role
// self-service.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bytescrape/steward/internal/domain"
	"github.com/bytescrape/steward/internal/notify"
)

// Lifecycle errors.
var (
	ErrPromptExpired = errors.New("close prompt expired")
	ErrUnknownRole   = errors.New("unknown role option")
)

const (
	defaultClosePromptTTL = 2 * time.Minute
	defaultDeleteDelay    = 5 * time.Second

	welcomeColor = 0x3498DB
)

// Platform is the subset of chat-platform operations the ticket flow needs.
type Platform interface {
	CreateTicketChannel(ctx context.Context, name, topic string, categoryID, openerID int64) (int64, error)
	DeleteChannel(ctx context.Context, channelID int64) error
	PostChannel(ctx context.Context, channelID int64, msg notify.Message) error
	AddMemberRole(ctx context.Context, userID, roleID int64) error
}

// Config holds ticket manager configuration.
type Config struct {
	// Categories maps the ticket select value to the channel category id.
	// Unknown values open the ticket without a category.
	Categories map[string]int64
	// Roles maps the role select value to the grantable role id.
	Roles map[string]int64
	// ClosePromptTTL bounds how long the yes/no close prompt stays usable.
	ClosePromptTTL time.Duration
}

// Manager drives ticket channels on the chat platform. It holds no state of
// its own; the close-prompt deadline travels inside the control's custom id.
type Manager struct {
	config   Config
	platform Platform

	now         func() time.Time
	deleteDelay time.Duration
}

// NewManager creates a new ticket manager.
func NewManager(config Config, platform Platform) *Manager {
	if config.ClosePromptTTL <= 0 {
		config.ClosePromptTTL = defaultClosePromptTTL
	}
	return &Manager{
		config:      config,
		platform:    platform,
		now:         time.Now,
		deleteDelay: defaultDeleteDelay,
	}
}

// Open creates a ticket channel for the opener and posts the welcome message
// with a close control into it.
func (m *Manager) Open(ctx context.Context, openerID int64, openerName, serviceValue string) (int64, error) {
	categoryID := m.config.Categories[serviceValue]

	topic := fmt.Sprintf("Ticket from %s", openerName)
	channelID, err := m.platform.CreateTicketChannel(ctx, openerName, topic, categoryID, openerID)
	if err != nil {
		return 0, fmt.Errorf("create ticket channel: %w", err)
	}

	welcome := notify.Message{
		Title: "Welcome to the Ticket area!",
		Body:  fmt.Sprintf("<@%d>\nThe Team will get back to you as soon as possible.", openerID),
		Color: welcomeColor,
		Actions: []notify.Action{
			{
				Label:    "Close \U0001F512",
				CustomID: domain.Action{Kind: domain.ActionTicketClose}.CustomID(),
				Style:    notify.StylePrimary,
			},
		},
	}
	if err := m.platform.PostChannel(ctx, channelID, welcome); err != nil {
		slog.Error("failed to post ticket welcome message",
			"channel_id", channelID,
			"error", err,
		)
	}

	return channelID, nil
}

// ClosePrompt builds the yes/no confirmation shown when someone presses the
// close control. The yes control embeds its own deadline, so the prompt
// needs no server-side state to expire.
func (m *Manager) ClosePrompt() notify.Message {
	deadline := m.now().Add(m.config.ClosePromptTTL)

	return notify.Message{
		Body: "Are you sure you want to delete this ticket?",
		Actions: []notify.Action{
			{
				Label:    "Yes",
				CustomID: domain.Action{Kind: domain.ActionCloseYes, Deadline: deadline}.CustomID(),
				Style:    notify.StyleSuccess,
			},
			{
				Label:    "No",
				CustomID: domain.Action{Kind: domain.ActionCloseNo}.CustomID(),
				Style:    notify.StyleDanger,
			},
		},
	}
}

// ConfirmClose deletes the ticket channel after a short grace period,
// provided the prompt deadline has not passed. Expired controls are inert.
func (m *Manager) ConfirmClose(ctx context.Context, channelID int64, deadline time.Time) error {
	if m.now().After(deadline) {
		return ErrPromptExpired
	}

	go func() {
		// The grace period lets the confirmation response land before the
		// channel disappears.
		ctx := context.WithoutCancel(ctx)
		time.Sleep(m.deleteDelay)
		if err := m.platform.DeleteChannel(ctx, channelID); err != nil {
			slog.Error("failed to delete ticket channel",
				"channel_id", channelID,
				"error", err,
			)
		}
	}()

	return nil
}

// ServiceValues returns the configured ticket service values, sorted. The
// setup panel builds its select options from them.
func (m *Manager) ServiceValues() []string {
	return sortedKeys(m.config.Categories)
}

// RoleValues returns the configured self-service role values, sorted.
func (m *Manager) RoleValues() []string {
	return sortedKeys(m.config.Roles)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GrantRole grants the member the role mapped from the select value.
func (m *Manager) GrantRole(ctx context.Context, userID int64, roleValue string) error {
	roleID, ok := m.config.Roles[roleValue]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRole, roleValue)
	}

	if err := m.platform.AddMemberRole(ctx, userID, roleID); err != nil {
		return fmt.Errorf("grant role %d: %w", roleID, err)
	}

	slog.Info("role granted", "user_id", userID, "role_id", roleID)
	return nil
}
