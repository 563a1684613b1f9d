// Package bus provides the job transport over NATS JetStream.
//
// Delivery is at-least-once: a message stays in flight until the consumer
// acks it, and is redelivered after a nak or an ack timeout. Workers that
// share a durable consumer on the same subject act as competing consumers.
package bus

import "context"

// Delivery is a single in-flight job message.
type Delivery interface {
	// Data returns the raw JSON payload.
	Data() []byte

	// Ack marks the message as processed.
	Ack() error

	// Nak rejects the message so the bus redelivers it.
	Nak() error
}

// Subscription yields deliveries for one subject.
type Subscription interface {
	// Next blocks until a delivery arrives, ctx is cancelled, or the
	// transport fails.
	Next(ctx context.Context) (Delivery, error)

	// Close drains the subscription.
	Close() error
}

// Bus publishes job payloads and opens subscriptions.
type Bus interface {
	Publish(ctx context.Context, subject string, payload any) error
	Subscribe(subject, queue string) (Subscription, error)
}
