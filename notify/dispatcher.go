/*
dispatcher.go - Post-commit notification fan-out

PURPOSE:
  Takes committed ledger events from the engine and hands them to the
  configured sinks on a background goroutine. The engine never waits on a
  sink.

DELIVERY:
  Notify enqueues without blocking. A full queue drops the event and counts
  it; notifications are best effort and the ledger entry is the record of
  truth. Each sink gets its own timeout and a failing sink does not stop
  the others.

SHUTDOWN:
  Close stops accepting events and drains the queue until the context
  expires.
*/
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hypehub/task-escrow/escrow"
	"github.com/hypehub/task-escrow/metrics"
)

const (
	DefaultQueueSize       = 1024
	DefaultDeliveryTimeout = 5 * time.Second
)

// Sink delivers one event somewhere.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev escrow.Event) error
}

// Options configures a Dispatcher. Zero values get defaults.
type Options struct {
	QueueSize       int
	DeliveryTimeout time.Duration
	Logger          *slog.Logger
}

// Dispatcher implements escrow.Notifier.
type Dispatcher struct {
	sinks   []Sink
	queue   chan escrow.Event
	timeout time.Duration
	log     *slog.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	done    chan struct{}
}

var _ escrow.Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher. Call Start to begin delivery.
func NewDispatcher(opts Options, sinks ...Sink) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan escrow.Event, opts.QueueSize),
		timeout: opts.DeliveryTimeout,
		log:     opts.Logger.With("component", "notify"),
		done:    make(chan struct{}),
	}
}

// Start launches the delivery goroutine. Calling it twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	go d.run()
}

// Notify enqueues ev. It never blocks.
func (d *Dispatcher) Notify(_ context.Context, ev escrow.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- ev:
	default:
		metrics.NotificationsDropped.Inc()
		d.log.Warn("notification dropped: queue full",
			"type", ev.Kind, "recipient", ev.Recipient)
	}
}

// Close stops accepting events and waits for queued ones to be delivered
// or for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev escrow.Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := s.Deliver(ctx, ev)
		cancel()
		if err != nil {
			metrics.NotificationFailures.WithLabelValues(s.Name()).Inc()
			d.log.Error("notification delivery failed",
				"sink", s.Name(), "type", ev.Kind, "recipient", ev.Recipient, "error", err)
		}
	}
}
