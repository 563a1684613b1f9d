package jobs

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/cloo-solutions/docqa/internal/bus"
	"github.com/cloo-solutions/docqa/internal/telemetry"
)

var errHandlerPanic = errors.New("handler panicked")

const (
	// errorBackoff is how long a runner waits before resubscribing after a
	// transport failure.
	errorBackoff = 5 * time.Second
)

// Handler processes one raw job message pulled from the bus.
type Handler interface {
	// Subject is the bus subject the handler consumes.
	Subject() string

	// Queue is the durable queue group name. Runners sharing a queue
	// compete for messages.
	Queue() string

	// Handle processes a single message payload. A nil return acks the
	// message; an error naks it for redelivery.
	Handle(ctx context.Context, data []byte) error
}

// Stats holds message counters for one runner.
type Stats struct {
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
}

// Runner drives a Handler against a bus subscription. It resubscribes
// after transport failures and isolates handler panics so one bad message
// cannot take the worker down.
type Runner struct {
	bus     bus.Bus
	handler Handler

	processed atomic.Uint64
	failed    atomic.Uint64

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewRunner creates a new Runner instance.
func NewRunner(b bus.Bus, handler Handler) *Runner {
	return &Runner{
		bus:      b,
		handler:  handler,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the consume loop. It blocks until ctx is cancelled or Stop
// is called.
func (r *Runner) Start(ctx context.Context) {
	defer close(r.doneChan)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Printf("Worker started for subject %s (queue %s)", r.handler.Subject(), r.handler.Queue())

	for {
		if ctx.Err() != nil {
			log.Printf("Worker stopped for subject %s", r.handler.Subject())
			return
		}

		sub, err := r.bus.Subscribe(r.handler.Subject(), r.handler.Queue())
		if err != nil {
			log.Printf("Error subscribing to %s: %v", r.handler.Subject(), err)
			r.sleep(ctx, errorBackoff)
			continue
		}

		r.consume(ctx, sub)

		if err := sub.Close(); err != nil {
			log.Printf("Error closing subscription for %s: %v", r.handler.Subject(), err)
		}

		if ctx.Err() == nil {
			r.sleep(ctx, errorBackoff)
		}
	}
}

// consume pulls deliveries until the context ends or the subscription
// fails.
func (r *Runner) consume(ctx context.Context, sub bus.Subscription) {
	for {
		delivery, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Error receiving from %s: %v", r.handler.Subject(), err)
			return
		}
		r.process(ctx, delivery)
	}
}

// process runs the handler for one delivery and acks or naks it.
func (r *Runner) process(ctx context.Context, delivery bus.Delivery) {
	spanCtx, span := telemetry.StartTransaction(ctx, r.handler.Subject(), "queue.process")
	defer span.End()

	var handlerErr error

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("Panic handling message on %s: %v", r.handler.Subject(), rec)
				handlerErr = errHandlerPanic
			}
		}()
		handlerErr = r.handler.Handle(spanCtx, delivery.Data())
	}()

	if handlerErr != nil {
		span.SetError(handlerErr)
	}

	if handlerErr != nil {
		r.failed.Add(1)
		if err := delivery.Nak(); err != nil {
			log.Printf("Error nacking message on %s: %v", r.handler.Subject(), err)
		}
		return
	}

	r.processed.Add(1)
	if err := delivery.Ack(); err != nil {
		log.Printf("Error acking message on %s: %v", r.handler.Subject(), err)
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Stop gracefully stops the runner.
func (r *Runner) Stop() {
	close(r.stopChan)
	<-r.doneChan
	log.Printf("Worker shutdown complete for subject %s", r.handler.Subject())
}

// Stats returns a snapshot of the runner's counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Processed: r.processed.Load(),
		Failed:    r.failed.Load(),
	}
}
