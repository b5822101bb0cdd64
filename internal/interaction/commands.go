package interaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/bytescrape/steward/internal/billing"
	"github.com/bytescrape/steward/internal/notify"
	"github.com/bytescrape/steward/internal/notify/discord"
	"github.com/bytescrape/steward/internal/pkg/ctxlog"
	"github.com/bytescrape/steward/internal/vault"
)

const (
	panelColor = 0x3498DB
	listColor  = 0x2ECC71

	dateLayout = "2006-01-02"
)

// All commands are restricted to administrators; the command registrations
// carry the same default permission, this is the server-side backstop.
func (h *Handler) handleCommand(ctx context.Context, in *Interaction) response {
	if in.Data == nil {
		return ephemeral("Invalid interaction data.")
	}
	if !in.isAdmin() {
		return ephemeral("You are not allowed to use this command.")
	}

	switch in.Data.Name {
	case "subscription":
		return h.handleSubscription(ctx, in)
	case "server-setup":
		return h.handleServerSetup(in)
	case "pull-repo":
		return h.handlePullRepo(ctx, in)
	case "pull-all-repos":
		return h.handlePullAll(ctx)
	case "list-repos":
		return h.handleListRepos(ctx)
	case "list-local-repos":
		return h.handleListLocal()
	case "remove-repo":
		return h.handleRemoveRepo(ctx, in)
	case "sell":
		return h.handleSell(ctx, in)
	default:
		return ephemeral("Unknown command.")
	}
}

func (h *Handler) handleSubscription(ctx context.Context, in *Interaction) response {
	name, opts := in.Data.subcommand()

	switch name {
	case "add":
		return h.handleSubscriptionAdd(ctx, opts)
	case "set-last-paid":
		return h.handleSubscriptionSetLastPaid(ctx, opts)
	case "remove":
		return h.handleSubscriptionRemove(ctx, opts)
	case "list":
		return h.handleSubscriptionList(ctx)
	default:
		return ephemeral("Unknown subcommand.")
	}
}

func (h *Handler) handleSubscriptionAdd(ctx context.Context, opts []Option) response {
	subscriberID, ok := snowflakeOption(opts, "user")
	if !ok {
		return ephemeral("Invalid command options.")
	}

	input := billing.AddInput{SubscriberID: subscriberID}
	if o, ok := findOption(opts, "price"); ok {
		input.Price, _ = o.asFloat64()
	}
	if o, ok := findOption(opts, "interval"); ok {
		months, _ := o.asInt64()
		input.IntervalMonths = int(months)
	}
	if o, ok := findOption(opts, "email"); ok {
		input.Email = o.asString()
	}

	sub, err := h.billing.Add(ctx, input)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidPrice):
			return ephemeral("The price must be greater than zero.")
		case errors.Is(err, billing.ErrInvalidInterval):
			return ephemeral("The payment interval must be at least one month.")
		case errors.Is(err, billing.ErrAlreadyExists):
			return ephemeral(fmt.Sprintf("A subscription already exists for <@%d>.", subscriberID))
		}
		ctxlog.FromContext(ctx).Error("failed to add subscription", "subscriber_id", subscriberID, "error", err)
		return ephemeral("Failed to add the subscription. Please try again later.")
	}

	return ephemeral(fmt.Sprintf(
		"Subscription added for <@%d> with a price of %.2f€ every %d months. Next payment is due on %s.",
		sub.SubscriberID, sub.Price, sub.IntervalMonths, sub.NextPaymentAt.Format(dateLayout),
	))
}

func (h *Handler) handleSubscriptionSetLastPaid(ctx context.Context, opts []Option) response {
	subscriberID, ok := snowflakeOption(opts, "user")
	if !ok {
		return ephemeral("Invalid command options.")
	}

	var date string
	if o, ok := findOption(opts, "date"); ok {
		date = o.asString()
	}

	sub, err := h.billing.SetLastPaid(ctx, subscriberID, date)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidDate):
			return ephemeral("Invalid date format. Use DD-MM-YYYY.")
		case errors.Is(err, billing.ErrNotFound):
			return ephemeral(fmt.Sprintf("No subscription found for <@%d>.", subscriberID))
		}
		ctxlog.FromContext(ctx).Error("failed to set last paid date", "subscriber_id", subscriberID, "error", err)
		return ephemeral("Failed to update the subscription. Please try again later.")
	}

	return ephemeral(fmt.Sprintf(
		"Last paid date for <@%d> set to %s. Next payment is due on %s.",
		sub.SubscriberID, sub.LastPaid.Format(dateLayout), sub.NextPaymentAt.Format(dateLayout),
	))
}

func (h *Handler) handleSubscriptionRemove(ctx context.Context, opts []Option) response {
	subscriberID, ok := snowflakeOption(opts, "user")
	if !ok {
		return ephemeral("Invalid command options.")
	}

	if err := h.billing.Remove(ctx, subscriberID); err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			return ephemeral(fmt.Sprintf("No subscription found for <@%d>.", subscriberID))
		}
		ctxlog.FromContext(ctx).Error("failed to remove subscription", "subscriber_id", subscriberID, "error", err)
		return ephemeral("Failed to remove the subscription. Please try again later.")
	}

	return ephemeral(fmt.Sprintf("Subscription removed for <@%d>.", subscriberID))
}

func (h *Handler) handleSubscriptionList(ctx context.Context) response {
	subs, err := h.billing.List(ctx)
	if err != nil {
		ctxlog.FromContext(ctx).Error("failed to list subscriptions", "error", err)
		return ephemeral("Failed to list subscriptions. Please try again later.")
	}
	if len(subs) == 0 {
		return ephemeral("No subscriptions found.")
	}

	var b strings.Builder
	for i, sub := range subs {
		fmt.Fprintf(&b, "**%d)** <@%d>: %.2f€ every %d months, next payment %s",
			i+1, sub.SubscriberID, sub.Price, sub.IntervalMonths, sub.NextPaymentAt.Format(dateLayout))
		if sub.Suspended {
			b.WriteString(" (suspended)")
		}
		b.WriteByte('\n')
	}

	return ephemeralMessage(notify.Message{
		Title: "Subscriptions",
		Body:  b.String(),
		Color: listColor,
	})
}

// handleServerSetup posts one of the standing self-service panels into the
// channel as the command response.
func (h *Handler) handleServerSetup(in *Interaction) response {
	var option string
	if o, ok := findOption(in.Data.Options, "option"); ok {
		option = o.asString()
	}

	switch option {
	case "rules":
		return channelMessage(rulesPanel())
	case "ticket":
		return selectPanel(
			"Create a Ticket",
			"If you want to create a ticket, choose the service you need",
			"ticket", "What Service do you need?",
			h.tickets.ServiceValues(),
		)
	case "roles":
		return selectPanel(
			"Roles",
			"Choose your **roles** to get notified on announcements or polls.",
			"roles", "Select your role",
			h.tickets.RoleValues(),
		)
	default:
		return ephemeral("Unknown setup option.")
	}
}

func rulesPanel() notify.Message {
	return notify.Message{
		Title: "Rules",
		Body: "Please **read** the **rules**; ignorance will **not** protect you from **punishment**.\n" +
			"The team reserves the right to edit the rules at any time without warning.",
		Color: panelColor,
		Fields: []notify.Field{
			{
				Name: "__General rules__",
				Value: ">>> **§1 →** Follow instructions from moderators and admins to avoid a kick or ban.\n" +
					"**§2 →** Ban evasion with an alternative account will be reported.\n" +
					"**§3 →** Avoid excessive special characters or inappropriate content in usernames.\n" +
					"**§4 →** Unauthorized advertising is forbidden.\n" +
					"**§5 →** Senseless ticket creation may result in a warning.",
			},
		},
		Actions: []notify.Action{
			{Label: "Terms of Service", URL: "https://discord.com/terms", Style: notify.StyleLink},
			{Label: "Guidelines", URL: "https://discord.com/guidelines", Style: notify.StyleLink},
		},
	}
}

// selectPanel builds an embed with a single select menu underneath. Select
// menus have no platform-neutral form, so the wire types are used directly.
func selectPanel(title, body, customID, placeholder string, values []string) response {
	options := make([]discord.SelectOption, 0, len(values))
	for _, v := range values {
		options = append(options, discord.SelectOption{Label: capitalize(v), Value: v})
	}

	return response{
		Type: callbackMessage,
		Data: &callbackData{
			Embeds: []discord.Embed{{Title: title, Description: body, Color: panelColor}},
			Components: []discord.Component{{
				Type: discord.ComponentActionRow,
				Components: []discord.Component{{
					Type:        discord.ComponentSelect,
					CustomID:    customID,
					Placeholder: placeholder,
					Options:     options,
				}},
			}},
		},
	}
}

func (h *Handler) handlePullRepo(ctx context.Context, in *Interaction) response {
	name := repoOption(in)
	if err := h.vault.Pull(ctx, name); err != nil {
		if errors.Is(err, vault.ErrInvalidName) {
			return ephemeral("Invalid repository name.")
		}
		ctxlog.FromContext(ctx).Error("failed to pull repository", "repo", name, "error", err)
		return ephemeral(fmt.Sprintf("Error while pulling `%s`.", name))
	}
	return ephemeral(fmt.Sprintf("Repository `%s` pulled successfully.", name))
}

func (h *Handler) handlePullAll(ctx context.Context) response {
	pulled, failed, err := h.vault.PullAll(ctx)
	if err != nil {
		ctxlog.FromContext(ctx).Error("failed to pull repositories", "error", err)
		return ephemeral("Failed to list repositories. Please try again later.")
	}
	if failed > 0 {
		return ephemeral(fmt.Sprintf("Pulled %d repositories, %d failed.", pulled, failed))
	}
	return ephemeral(fmt.Sprintf("Pulled %d repositories successfully.", pulled))
}

func (h *Handler) handleListRepos(ctx context.Context) response {
	names, err := h.vault.List(ctx)
	if err != nil {
		ctxlog.FromContext(ctx).Error("failed to list repositories", "error", err)
		return ephemeral("Failed to list repositories. Please try again later.")
	}
	if len(names) == 0 {
		return ephemeral("No repositories found.")
	}
	return ephemeralMessage(notify.Message{
		Title: "Repositories",
		Body:  numberedList(names),
		Color: listColor,
	})
}

func (h *Handler) handleListLocal() response {
	names, err := h.vault.ListLocal()
	if err != nil {
		return ephemeral("Failed to list local repositories. Please try again later.")
	}
	if len(names) == 0 {
		return ephemeral("No local repositories found.")
	}
	return ephemeralMessage(notify.Message{
		Title: "Local Repositories",
		Body:  numberedList(names),
		Color: listColor,
	})
}

func (h *Handler) handleRemoveRepo(ctx context.Context, in *Interaction) response {
	name := repoOption(in)
	if err := h.vault.Remove(name); err != nil {
		if errors.Is(err, vault.ErrArtifactNotFound) {
			return ephemeral(fmt.Sprintf("Local repository `%s` not found.", name))
		}
		ctxlog.FromContext(ctx).Error("failed to remove local repository", "repo", name, "error", err)
		return ephemeral(fmt.Sprintf("Error while removing `%s`.", name))
	}
	return ephemeral(fmt.Sprintf("Local repository `%s` removed successfully.", name))
}

func (h *Handler) handleSell(ctx context.Context, in *Interaction) response {
	name := repoOption(in)
	channelID, err := in.channelID()
	if err != nil {
		return ephemeral("Invalid interaction data.")
	}

	if err := h.vault.Sell(ctx, channelID, name); err != nil {
		if errors.Is(err, vault.ErrArtifactNotFound) {
			return ephemeral(fmt.Sprintf("Local repository `%s` not found. Pull it first.", name))
		}
		ctxlog.FromContext(ctx).Error("failed to sell repository", "repo", name, "error", err)
		return ephemeral(fmt.Sprintf("Error while sending `%s`.", name))
	}
	return ephemeral(fmt.Sprintf("Product `%s` sent.", name))
}

func repoOption(in *Interaction) string {
	if o, ok := findOption(in.Data.Options, "repo"); ok {
		return o.asString()
	}
	return ""
}

// snowflakeOption decodes a user option, which arrives as a string-encoded id.
func snowflakeOption(opts []Option, name string) (int64, bool) {
	o, ok := findOption(opts, name)
	if !ok {
		return 0, false
	}
	id, err := o.asInt64()
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func numberedList(names []string) string {
	var b strings.Builder
	for i, name := range names {
		fmt.Fprintf(&b, "**%d)** %s\n", i+1, name)
	}
	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
