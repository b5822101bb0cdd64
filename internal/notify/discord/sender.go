// Package discord implements the notifier on the Discord REST API.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bytescrape/steward/internal/notify"
	"golang.org/x/time/rate"
)

const (
	defaultAPIBaseURL = "https://discord.com/api/v10"
	defaultRateLimit  = 25.0
	defaultTimeout    = 10 * time.Second

	readyPollInterval = 2 * time.Second
)

// Config holds discord sender configuration.
type Config struct {
	BotToken       string
	APIBaseURL     string
	GuildID        int64
	AdminChannelID int64
	TeamRoleID     int64
	RateLimit      float64 // requests per second across all endpoints
	Timeout        time.Duration
}

// Sender delivers messages over the Discord REST API. Direct messages go
// through a per-recipient DM channel which is created once and cached.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter

	mu         sync.Mutex
	dmChannels map[int64]string
}

// NewSender creates a new discord sender.
// Returns error if required config is missing.
func NewSender(config Config) (*Sender, error) {
	if config.BotToken == "" {
		return nil, errors.New("discord sender: bot token is required")
	}
	if config.AdminChannelID == 0 {
		return nil, errors.New("discord sender: admin channel id is required")
	}
	if config.APIBaseURL == "" {
		config.APIBaseURL = defaultAPIBaseURL
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	slog.Info("discord sender configured",
		"admin_channel_id", config.AdminChannelID,
		"rate_limit", config.RateLimit,
	)

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		dmChannels: make(map[int64]string),
	}, nil
}

// Ready blocks until the API accepts the bot credential, polling until the
// context ends. Auth rejections are permanent and returned immediately.
func (s *Sender) Ready(ctx context.Context) error {
	for {
		err := s.do(ctx, http.MethodGet, "/users/@me", nil, nil)
		if err == nil {
			slog.Info("discord API ready")
			return nil
		}

		var permErr *PermanentError
		if errors.As(err, &permErr) {
			return err
		}

		slog.Warn("discord API not ready, retrying", "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for discord API: %w", ctx.Err())
		case <-time.After(readyPollInterval):
		}
	}
}

// DirectMessage sends a message to the recipient's DM channel.
func (s *Sender) DirectMessage(ctx context.Context, recipientID int64, msg notify.Message) error {
	channelID, err := s.dmChannel(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("open dm channel: %w", err)
	}
	return s.createMessage(ctx, channelID, msg)
}

// PostAdmin posts a message to the configured admin channel.
func (s *Sender) PostAdmin(ctx context.Context, msg notify.Message) error {
	return s.createMessage(ctx, strconv.FormatInt(s.config.AdminChannelID, 10), msg)
}

type dmChannelRequest struct {
	RecipientID string `json:"recipient_id"`
}

type dmChannelResponse struct {
	ID string `json:"id"`
}

func (s *Sender) dmChannel(ctx context.Context, recipientID int64) (string, error) {
	s.mu.Lock()
	channelID, ok := s.dmChannels[recipientID]
	s.mu.Unlock()
	if ok {
		return channelID, nil
	}

	var out dmChannelResponse
	req := dmChannelRequest{RecipientID: strconv.FormatInt(recipientID, 10)}
	if err := s.do(ctx, http.MethodPost, "/users/@me/channels", req, &out); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.dmChannels[recipientID] = out.ID
	s.mu.Unlock()
	return out.ID, nil
}

func (s *Sender) createMessage(ctx context.Context, channelID string, msg notify.Message) error {
	payload := BuildPayload(msg)
	if err := s.do(ctx, http.MethodPost, "/channels/"+channelID+"/messages", payload, nil); err != nil {
		return err
	}

	slog.Debug("discord message sent", "channel_id", channelID, "title", msg.Title)
	return nil
}

// EmbedField is the wire form of a message field.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Embed is the wire form of a structured message body.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

// Component is a message component: an action row, a button or a select menu.
type Component struct {
	Type        int            `json:"type"`
	Style       int            `json:"style,omitempty"`
	Label       string         `json:"label,omitempty"`
	CustomID    string         `json:"custom_id,omitempty"`
	URL         string         `json:"url,omitempty"`
	Placeholder string         `json:"placeholder,omitempty"`
	Options     []SelectOption `json:"options,omitempty"`
	Components  []Component    `json:"components,omitempty"`
}

// SelectOption is an entry of a select menu component.
type SelectOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// MessagePayload is the wire form of an outbound message. The interaction
// callback encoder reuses it, so it lives here rather than inline.
type MessagePayload struct {
	Embeds     []Embed     `json:"embeds,omitempty"`
	Components []Component `json:"components,omitempty"`
}

// Component type constants from the Discord message component model.
const (
	ComponentActionRow = 1
	ComponentButton    = 2
	ComponentSelect    = 3
)

// BuildPayload converts a platform-neutral message to its wire form.
func BuildPayload(msg notify.Message) MessagePayload {
	e := Embed{
		Title:       msg.Title,
		Description: msg.Body,
		Color:       msg.Color,
	}
	for _, f := range msg.Fields {
		e.Fields = append(e.Fields, EmbedField(f))
	}

	payload := MessagePayload{Embeds: []Embed{e}}
	if len(msg.Actions) == 0 {
		return payload
	}

	row := Component{Type: ComponentActionRow}
	for _, a := range msg.Actions {
		row.Components = append(row.Components, Component{
			Type:     ComponentButton,
			Style:    styleValue(a.Style),
			Label:    a.Label,
			CustomID: a.CustomID,
			URL:      a.URL,
		})
	}
	payload.Components = []Component{row}
	return payload
}

func styleValue(style notify.Style) int {
	switch style {
	case notify.StyleSuccess:
		return 3
	case notify.StyleDanger:
		return 4
	case notify.StyleLink:
		return 5
	default:
		return 1
	}
}

func (s *Sender) do(ctx context.Context, method, path string, in, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var body *bytes.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+s.config.BotToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil

	case resp.StatusCode == http.StatusUnauthorized:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: "invalid bot token",
		}

	case resp.StatusCode == http.StatusForbidden:
		// Typically the recipient blocks DMs from the bot.
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: "missing access",
		}

	case resp.StatusCode == http.StatusNotFound:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: "unknown channel or recipient",
		}

	case resp.StatusCode == http.StatusTooManyRequests:
		return &RetryableError{
			Code:    resp.StatusCode,
			Message: "rate limited",
		}

	case resp.StatusCode >= 500:
		return &RetryableError{
			Code:    resp.StatusCode,
			Message: "server error",
		}

	default:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: "unexpected status",
		}
	}
}

// PermanentError indicates a permanent error that should not be retried.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("discord error %d: %s", e.Code, e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary error that can be retried.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("discord error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("discord error: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }
