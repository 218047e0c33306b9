// Package gateway holds the delivery channel clients. Each channel the
// dispatcher can reach implements Sender.
package gateway

import "context"

// SendOptions carries everything a channel needs to deliver one message.
type SendOptions struct {
	// ChatID is the Telegram chat to address. Channels that route by user
	// profile (sms, voice) may ignore it.
	ChatID int64
	// Text is the message body.
	Text string
	// RequireAck asks the channel to deliver in a form the user must
	// explicitly dismiss, where the channel supports it.
	RequireAck bool
	// Tag deduplicates redeliveries of the same escalation attempt.
	Tag string
}

// Sender delivers a message over one channel.
type Sender interface {
	Send(ctx context.Context, opts SendOptions) error
}
