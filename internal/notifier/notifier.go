// Package notifier delivers operator messages to Slack channels.
package notifier

import "context"

// Channel is a logical destination, mapped to a concrete Slack channel by configuration.
type Channel string

const (
	ChannelTrading Channel = "trading"
	ChannelErrors  Channel = "errors"
	ChannelSummary Channel = "summary"
	ChannelDeploy  Channel = "deploy"
)

// Attachment colors understood by Slack.
const (
	ColorGood    = "good"
	ColorWarning = "warning"
	ColorDanger  = "danger"
)

// Field is one short key/value cell of a message.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Message is a titled notification with optional fields.
type Message struct {
	Title  string
	Text   string
	Color  string
	Fields []Field
}

// Notifier sends messages without blocking the caller. Close waits for pending deliveries.
type Notifier interface {
	Notify(ctx context.Context, ch Channel, msg Message)
	Close() error
}

// Noop discards every message. Used when Slack is not configured.
type Noop struct{}

func (Noop) Notify(context.Context, Channel, Message) {}
func (Noop) Close() error                             { return nil }
