package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ActionKind identifies the operation behind an interactive control.
type ActionKind string

const (
	ActionPaid           ActionKind = "paid"
	ActionCancelRequest  ActionKind = "cancel"
	ActionConfirmPayment ActionKind = "confirm"
	ActionConfirmCancel  ActionKind = "confirm_cancel"
	ActionTicketOpen     ActionKind = "ticket"
	ActionTicketClose    ActionKind = "close"
	ActionCloseYes       ActionKind = "yes"
	ActionCloseNo        ActionKind = "no"
	ActionRoles          ActionKind = "roles"
)

// ErrInvalidAction marks a custom identifier that cannot be decoded.
var ErrInvalidAction = errors.New("invalid action identifier")

// Action is the typed form of a control's custom identifier. Identifiers are
// comma delimited with the kind first, e.g. "confirm,<subscriber_id>". The
// encoding is shared with controls on already-posted messages and must stay
// stable across releases.
type Action struct {
	Kind         ActionKind
	SubscriberID int64     // confirm, confirm_cancel
	Deadline     time.Time // yes (close prompt expiry)
}

// ParseAction decodes a control's custom identifier. Malformed identifiers
// (wrong arity, non-numeric argument, unknown kind) return ErrInvalidAction.
func ParseAction(customID string) (Action, error) {
	parts := strings.Split(customID, ",")
	kind := ActionKind(parts[0])

	switch kind {
	case ActionPaid, ActionCancelRequest, ActionTicketOpen, ActionTicketClose, ActionCloseNo, ActionRoles:
		if len(parts) != 1 {
			return Action{}, fmt.Errorf("%w: %q takes no argument", ErrInvalidAction, parts[0])
		}
		return Action{Kind: kind}, nil

	case ActionConfirmPayment, ActionConfirmCancel:
		if len(parts) != 2 {
			return Action{}, fmt.Errorf("%w: %q requires a subscriber id", ErrInvalidAction, parts[0])
		}
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return Action{}, fmt.Errorf("%w: subscriber id %q is not numeric", ErrInvalidAction, parts[1])
		}
		return Action{Kind: kind, SubscriberID: id}, nil

	case ActionCloseYes:
		// The close prompt is short-lived; its expiry travels in the control
		// so no server-side state is needed.
		if len(parts) != 2 {
			return Action{}, fmt.Errorf("%w: %q requires a deadline", ErrInvalidAction, parts[0])
		}
		sec, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return Action{}, fmt.Errorf("%w: deadline %q is not numeric", ErrInvalidAction, parts[1])
		}
		return Action{Kind: kind, Deadline: time.Unix(sec, 0)}, nil

	default:
		return Action{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidAction, parts[0])
	}
}

// CustomID encodes the action back into its wire identifier.
func (a Action) CustomID() string {
	switch a.Kind {
	case ActionConfirmPayment, ActionConfirmCancel:
		return fmt.Sprintf("%s,%d", a.Kind, a.SubscriberID)
	case ActionCloseYes:
		return fmt.Sprintf("%s,%d", a.Kind, a.Deadline.Unix())
	default:
		return string(a.Kind)
	}
}
