package interaction

import (
	"fmt"
	"strconv"

	"github.com/bytescrape/steward/internal/notify"
	"github.com/bytescrape/steward/internal/notify/discord"
)

// Inbound interaction types.
const (
	interactionPing      = 1
	interactionCommand   = 2
	interactionComponent = 3
)

// Callback types.
const (
	callbackPong          = 1
	callbackMessage       = 4
	callbackUpdateMessage = 7
)

const flagEphemeral = 1 << 6

// adminPermission is the administrator bit of the member permission set.
const adminPermission = 1 << 3

// Interaction is the decoded webhook payload.
type Interaction struct {
	Type      int     `json:"type"`
	ChannelID string  `json:"channel_id,omitempty"`
	Member    *Member `json:"member,omitempty"`
	User      *User   `json:"user,omitempty"`
	Data      *Data   `json:"data,omitempty"`
}

// Member is the invoking guild member.
type Member struct {
	User        *User  `json:"user,omitempty"`
	Permissions string `json:"permissions,omitempty"`
}

// User identifies the invoking user.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
}

// Data carries the command or component payload.
type Data struct {
	Name     string   `json:"name,omitempty"`
	CustomID string   `json:"custom_id,omitempty"`
	Values   []string `json:"values,omitempty"`
	Options  []Option `json:"options,omitempty"`
}

// Option is a command option or subcommand.
type Option struct {
	Name    string   `json:"name"`
	Value   any      `json:"value,omitempty"`
	Options []Option `json:"options,omitempty"`
}

// user returns the invoking user, wherever the platform put it.
func (in *Interaction) user() *User {
	if in.Member != nil && in.Member.User != nil {
		return in.Member.User
	}
	return in.User
}

func (in *Interaction) userID() (int64, error) {
	user := in.user()
	if user == nil {
		return 0, fmt.Errorf("interaction carries no user")
	}
	id, err := strconv.ParseInt(user.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse user id %q: %w", user.ID, err)
	}
	return id, nil
}

func (in *Interaction) channelID() (int64, error) {
	id, err := strconv.ParseInt(in.ChannelID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse channel id %q: %w", in.ChannelID, err)
	}
	return id, nil
}

// isAdmin reports whether the member permission set carries the
// administrator bit.
func (in *Interaction) isAdmin() bool {
	if in.Member == nil {
		return false
	}
	perms, err := strconv.ParseUint(in.Member.Permissions, 10, 64)
	if err != nil {
		return false
	}
	return perms&adminPermission != 0
}

// subcommand returns the invoked subcommand name and its options.
func (d *Data) subcommand() (string, []Option) {
	if len(d.Options) == 0 {
		return "", nil
	}
	return d.Options[0].Name, d.Options[0].Options
}

func findOption(opts []Option, name string) (Option, bool) {
	for _, o := range opts {
		if o.Name == name {
			return o, true
		}
	}
	return Option{}, false
}

func (o Option) asString() string {
	s, _ := o.Value.(string)
	return s
}

// asInt64 decodes a numeric option. Snowflake-valued options arrive as JSON
// strings, plain integers as JSON numbers.
func (o Option) asInt64() (int64, error) {
	switch v := o.Value.(type) {
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("option %q is not numeric", o.Name)
	}
}

func (o Option) asFloat64() (float64, error) {
	switch v := o.Value.(type) {
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("option %q is not numeric", o.Name)
	}
}

// response is the interaction callback envelope.
type response struct {
	Type int           `json:"type"`
	Data *callbackData `json:"data,omitempty"`
}

type callbackData struct {
	Content    string              `json:"content,omitempty"`
	Flags      int                 `json:"flags,omitempty"`
	Embeds     []discord.Embed     `json:"embeds,omitempty"`
	Components []discord.Component `json:"components"`
}

// ephemeral builds a private plain-text reply to the invoker.
func ephemeral(content string) response {
	return response{
		Type: callbackMessage,
		Data: &callbackData{Content: content, Flags: flagEphemeral},
	}
}

// ephemeralMessage builds a private structured reply.
func ephemeralMessage(msg notify.Message) response {
	payload := discord.BuildPayload(msg)
	return response{
		Type: callbackMessage,
		Data: &callbackData{
			Flags:      flagEphemeral,
			Embeds:     payload.Embeds,
			Components: payload.Components,
		},
	}
}

// channelMessage builds a public structured reply posted into the channel.
func channelMessage(msg notify.Message) response {
	payload := discord.BuildPayload(msg)
	return response{
		Type: callbackMessage,
		Data: &callbackData{
			Embeds:     payload.Embeds,
			Components: payload.Components,
		},
	}
}

// updateMessage replaces the message the control was attached to, stripping
// its controls.
func updateMessage(msg notify.Message) response {
	payload := discord.BuildPayload(msg)
	return response{
		Type: callbackUpdateMessage,
		Data: &callbackData{
			Embeds:     payload.Embeds,
			Components: []discord.Component{},
		},
	}
}
