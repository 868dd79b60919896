package events

import "context"

// Queue moves serialized envelopes between the scheduling core and the
// notification dispatcher. Implementations must tolerate concurrent senders.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Message is a received queue entry.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}
