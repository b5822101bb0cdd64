package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/bytescrape/steward/internal/notify"
)

// Channel permission bits.
const (
	permViewChannel        = 1 << 10
	permSendMessages       = 1 << 11
	permEmbedLinks         = 1 << 14
	permAttachFiles        = 1 << 15
	permReadMessageHistory = 1 << 16

	ticketMemberPerms = permViewChannel | permSendMessages | permEmbedLinks |
		permAttachFiles | permReadMessageHistory
)

// Permission overwrite target types.
const (
	overwriteRole   = 0
	overwriteMember = 1
)

const channelTypeGuildText = 0

type permissionOverwrite struct {
	ID    string `json:"id"`
	Type  int    `json:"type"`
	Allow string `json:"allow,omitempty"`
	Deny  string `json:"deny,omitempty"`
}

type createChannelRequest struct {
	Name                 string                `json:"name"`
	Type                 int                   `json:"type"`
	Topic                string                `json:"topic,omitempty"`
	ParentID             string                `json:"parent_id,omitempty"`
	PermissionOverwrites []permissionOverwrite `json:"permission_overwrites,omitempty"`
}

type createChannelResponse struct {
	ID string `json:"id"`
}

// CreateTicketChannel creates a private text channel under the category:
// hidden from the default role, visible to the team role and the opener.
func (s *Sender) CreateTicketChannel(ctx context.Context, name, topic string, categoryID, openerID int64) (int64, error) {
	req := createChannelRequest{
		Name:  name,
		Type:  channelTypeGuildText,
		Topic: topic,
		PermissionOverwrites: []permissionOverwrite{
			{
				// The @everyone role shares the guild id.
				ID:   strconv.FormatInt(s.config.GuildID, 10),
				Type: overwriteRole,
				Deny: strconv.Itoa(permViewChannel),
			},
			{
				ID:    strconv.FormatInt(s.config.TeamRoleID, 10),
				Type:  overwriteRole,
				Allow: strconv.Itoa(ticketMemberPerms),
			},
			{
				ID:    strconv.FormatInt(openerID, 10),
				Type:  overwriteMember,
				Allow: strconv.Itoa(ticketMemberPerms),
			},
		},
	}
	if categoryID != 0 {
		req.ParentID = strconv.FormatInt(categoryID, 10)
	}

	var out createChannelResponse
	path := fmt.Sprintf("/guilds/%d/channels", s.config.GuildID)
	if err := s.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return 0, err
	}

	channelID, err := strconv.ParseInt(out.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse channel id %q: %w", out.ID, err)
	}

	slog.Info("ticket channel created", "channel_id", channelID, "opener_id", openerID)
	return channelID, nil
}

// DeleteChannel deletes a channel.
func (s *Sender) DeleteChannel(ctx context.Context, channelID int64) error {
	return s.do(ctx, http.MethodDelete, fmt.Sprintf("/channels/%d", channelID), nil, nil)
}

// AddMemberRole grants a role to a guild member.
func (s *Sender) AddMemberRole(ctx context.Context, userID, roleID int64) error {
	path := fmt.Sprintf("/guilds/%d/members/%d/roles/%d", s.config.GuildID, userID, roleID)
	return s.do(ctx, http.MethodPut, path, nil, nil)
}

// PostChannel posts a message to an arbitrary channel.
func (s *Sender) PostChannel(ctx context.Context, channelID int64, msg notify.Message) error {
	return s.createMessage(ctx, strconv.FormatInt(channelID, 10), msg)
}

// PostFile uploads a file attachment to a channel with an optional comment.
func (s *Sender) PostFile(ctx context.Context, channelID int64, filename string, content io.Reader, comment string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	meta, err := json.Marshal(struct {
		Content string `json:"content,omitempty"`
	}{Content: comment})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := writer.WriteField("payload_json", string(meta)); err != nil {
		return fmt.Errorf("write payload field: %w", err)
	}

	part, err := writer.CreateFormFile("files[0]", filename)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("copy file content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize multipart body: %w", err)
	}

	url := fmt.Sprintf("%s/channels/%d/messages", s.config.APIBaseURL, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+s.config.BotToken)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return err
	}

	slog.Debug("discord file sent", "channel_id", channelID, "filename", filename)
	return nil
}
