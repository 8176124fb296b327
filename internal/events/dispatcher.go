package events

import (
	"context"
	"hash/fnv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HandlerFunc handles one envelope. Handlers must be idempotent: delivery is
// at-least-once and the relay re-delivers unacknowledged records.
type HandlerFunc func(ctx context.Context, env Envelope) error

type delivery struct {
	env  Envelope
	done chan error
}

// Dispatcher routes envelopes to registered handlers on a fixed pool of
// workers. Envelopes are sharded by key, so concurrent deliveries for the
// same order are handled sequentially while different orders proceed in
// parallel.
type Dispatcher struct {
	handlers map[string][]HandlerFunc
	queues   []chan delivery
	lg       *zap.Logger
}

// NewDispatcher creates a dispatcher with the given worker count.
func NewDispatcher(workers int, lg *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	queues := make([]chan delivery, workers)
	for i := range queues {
		queues[i] = make(chan delivery, 64)
	}
	return &Dispatcher{
		handlers: make(map[string][]HandlerFunc),
		queues:   queues,
		lg:       lg,
	}
}

// On registers a handler for an event kind. Not safe to call after Start.
func (d *Dispatcher) On(kind string, h HandlerFunc) {
	d.handlers[kind] = append(d.handlers[kind], h)
}

// Start runs the workers until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, queue := range d.queues {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case dl := <-queue:
					dl.done <- d.deliver(ctx, dl.env)
				}
			}
		})
	}
	return g.Wait()
}

// Deliver hands the envelope to the worker owning its key and waits until
// every registered handler has run. The first handler error is returned so
// the caller can withhold its acknowledgement and retry later.
func (d *Dispatcher) Deliver(ctx context.Context, env Envelope) error {
	h := fnv.New32a()
	h.Write([]byte(env.Key))
	queue := d.queues[h.Sum32()%uint32(len(d.queues))]
	dl := delivery{env: env, done: make(chan error, 1)}
	select {
	case queue <- dl:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-dl.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver invokes every handler registered for the envelope's kind and
// reports the first failure. Later handlers still run: each reacts to the
// event independently.
func (d *Dispatcher) deliver(ctx context.Context, env Envelope) error {
	var first error
	for _, h := range d.handlers[env.Type] {
		if err := h(ctx, env); err != nil {
			d.lg.Error("event handler failed",
				zap.String("type", env.Type),
				zap.String("key", env.Key),
				zap.String("event_id", env.EventID.String()),
				zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}
