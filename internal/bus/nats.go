package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	streamName     = "JOBS"
	streamSubjects = "jobs.>"

	fetchWait  = 2 * time.Second
	ackWait    = 5 * time.Minute
	maxDeliver = 5
)

// NATSBus is the JetStream-backed Bus implementation.
type NATSBus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// Connect dials the NATS server and provisions the JOBS stream if it does
// not exist yet.
func Connect(url string) (*NATSBus, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open jetstream context: %w", err)
	}

	if err := ensureStream(js); err != nil {
		conn.Close()
		return nil, err
	}

	return &NATSBus{conn: conn, js: js}, nil
}

func ensureStream(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(streamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", streamName, err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{streamSubjects},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", streamName, err)
	}
	return nil
}

// Publish marshals the payload to JSON and publishes it on the subject.
func (b *NATSBus) Publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", subject, err)
	}

	_, err = b.js.Publish(subject, data, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe opens a durable pull subscription on the subject. Subscribers
// that pass the same queue name share one consumer and compete for messages.
func (b *NATSBus) Subscribe(subject, queue string) (Subscription, error) {
	sub, err := b.js.PullSubscribe(subject, queue,
		nats.AckWait(ackWait),
		nats.MaxDeliver(maxDeliver),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return &natsSubscription{sub: sub}, nil
}

// Close drains the underlying connection.
func (b *NATSBus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Next(ctx context.Context) (Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msgs, err := s.sub.Fetch(1, nats.MaxWait(fetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, context.Canceled) {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to fetch message: %w", err)
		}
		if len(msgs) == 0 {
			continue
		}
		return &natsDelivery{msg: msgs[0]}, nil
	}
}

func (s *natsSubscription) Close() error {
	return s.sub.Unsubscribe()
}

type natsDelivery struct {
	msg *nats.Msg
}

func (d *natsDelivery) Data() []byte {
	return d.msg.Data
}

func (d *natsDelivery) Ack() error {
	return d.msg.Ack()
}

func (d *natsDelivery) Nak() error {
	return d.msg.Nak()
}
