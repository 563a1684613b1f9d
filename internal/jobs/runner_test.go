package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloo-solutions/docqa/internal/bus"
	"github.com/cloo-solutions/docqa/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// fakeBus feeds canned deliveries to a runner through an in-memory channel.
type fakeBus struct {
	deliveries chan bus.Delivery
}

func newFakeBus(buffer int) *fakeBus {
	return &fakeBus{deliveries: make(chan bus.Delivery, buffer)}
}

func (b *fakeBus) Publish(ctx context.Context, subject string, payload any) error {
	return nil
}

func (b *fakeBus) Subscribe(subject, queue string) (bus.Subscription, error) {
	return &fakeSubscription{deliveries: b.deliveries}, nil
}

type fakeSubscription struct {
	deliveries chan bus.Delivery
}

func (s *fakeSubscription) Next(ctx context.Context) (bus.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d := <-s.deliveries:
		return d, nil
	}
}

func (s *fakeSubscription) Close() error {
	return nil
}

type fakeDelivery struct {
	data  []byte
	acked chan struct{}
	naked chan struct{}
}

func newFakeDelivery(data []byte) *fakeDelivery {
	return &fakeDelivery{
		data:  data,
		acked: make(chan struct{}),
		naked: make(chan struct{}),
	}
}

func (d *fakeDelivery) Data() []byte { return d.data }

func (d *fakeDelivery) Ack() error {
	close(d.acked)
	return nil
}

func (d *fakeDelivery) Nak() error {
	close(d.naked)
	return nil
}

// funcHandler adapts a function to the Handler interface for tests.
type funcHandler struct {
	handle func(ctx context.Context, data []byte) error
}

func (h *funcHandler) Subject() string { return "jobs.test" }
func (h *funcHandler) Queue() string   { return "test-workers" }
func (h *funcHandler) Handle(ctx context.Context, data []byte) error {
	return h.handle(ctx, data)
}

func awaitClosed(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestRunner_AcksOnSuccess(t *testing.T) {
	fb := newFakeBus(1)
	handler := &funcHandler{handle: func(ctx context.Context, data []byte) error {
		return nil
	}}

	runner := NewRunner(fb, handler)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runner.Start(ctx)
	}()

	delivery := newFakeDelivery([]byte(`{}`))
	fb.deliveries <- delivery

	awaitClosed(t, delivery.acked, "ack")

	runner.Stop()
	wg.Wait()

	stats := runner.Stats()
	assert.Equal(t, uint64(1), stats.Processed)
	assert.Equal(t, uint64(0), stats.Failed)
}

func TestRunner_NaksOnHandlerError(t *testing.T) {
	fb := newFakeBus(1)
	handler := &funcHandler{handle: func(ctx context.Context, data []byte) error {
		return errors.New("boom")
	}}

	runner := NewRunner(fb, handler)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runner.Start(ctx)
	}()

	delivery := newFakeDelivery([]byte(`{}`))
	fb.deliveries <- delivery

	awaitClosed(t, delivery.naked, "nak")

	runner.Stop()
	wg.Wait()

	stats := runner.Stats()
	assert.Equal(t, uint64(0), stats.Processed)
	assert.Equal(t, uint64(1), stats.Failed)
}

func TestRunner_NaksOnHandlerPanic(t *testing.T) {
	fb := newFakeBus(1)
	handler := &funcHandler{handle: func(ctx context.Context, data []byte) error {
		panic("bad message")
	}}

	runner := NewRunner(fb, handler)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runner.Start(ctx)
	}()

	delivery := newFakeDelivery([]byte(`{}`))
	fb.deliveries <- delivery

	awaitClosed(t, delivery.naked, "nak after panic")

	runner.Stop()
	wg.Wait()

	assert.Equal(t, uint64(1), runner.Stats().Failed)
}

func TestRunner_NaksFatalIngestFailure(t *testing.T) {
	mockService := new(MockIngestService)
	mockService.On("IngestDocument", mock.Anything, mock.Anything).Return(domain.ErrVirusDetected)

	fb := newFakeBus(1)
	runner := NewRunner(fb, NewIngestWorker(mockService))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runner.Start(ctx)
	}()

	delivery := newFakeDelivery(mustMarshal(t, domain.IngestJob{
		DocumentID: "doc-1",
		FilePath:   "uploads/doc-1.pdf",
	}))
	fb.deliveries <- delivery

	awaitClosed(t, delivery.naked, "nak of fatal failure")

	runner.Stop()
	wg.Wait()

	assert.Equal(t, uint64(1), runner.Stats().Failed)
	mockService.AssertExpectations(t)
}

func TestRunner_ContextCancellation(t *testing.T) {
	fb := newFakeBus(1)
	handler := &funcHandler{handle: func(ctx context.Context, data []byte) error {
		return nil
	}}

	runner := NewRunner(fb, handler)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.Start(ctx)
	}()

	cancel()
	awaitClosed(t, done, "runner exit")
}
