// Package messaging connects the chat transport to the flow engine. It
// defines the narrow transport abstraction, the Twilio WhatsApp adapter, the
// outbound webhook notifier, and the router that turns one inbound user event
// into one engine operation.
package messaging

import "context"

// Sender delivers one outbound message to a recipient. It is the only part of
// the transport the core depends on; delivery semantics stay with the
// transport implementation.
type Sender interface {
	// ValidateAndCanonicalizeRecipient validates a recipient identifier and
	// returns its canonical form.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error
}

// Transcriber converts a voice note to text before routing.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}
