// Package notify defines the platform-neutral outbound message model.
package notify

// Style selects the visual treatment of an action control.
type Style int

// Action styles.
const (
	StylePrimary Style = iota + 1
	StyleSuccess
	StyleDanger
	StyleLink
)

// Action is an interactive control attached to a message: either a custom
// action (CustomID set) or an external link (URL set).
type Action struct {
	Label    string
	CustomID string
	URL      string
	Style    Style
}

// Field is a short labelled value rendered inside the message body.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Message is a structured outbound notification.
type Message struct {
	Title   string
	Body    string
	Color   int
	Fields  []Field
	Actions []Action
}
