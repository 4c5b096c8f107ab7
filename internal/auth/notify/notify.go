// Package notify is the outbound email/SMS seam. The engine hands a fully
// rendered message to a Sender and treats delivery failure as non-fatal;
// it never retries on its own.
package notify

import "context"

// Channel selects the delivery transport.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message is one outbound notification. ID is a uuid used to correlate
// delivery logs with auth flows without exposing user identifiers.
type Message struct {
	ID          string
	Channel     Channel
	Destination string // email address or phone number
	Subject     string // unused for SMS
	Body        string
}

// Sender delivers a message. Implementations must not block past ctx.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
