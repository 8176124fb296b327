package outbox

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/oakmart/fulfillment/internal/events"
)

// Backlog is the slice of Store the relay drains.
type Backlog interface {
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, id int64) error
}

// Deliverer runs the in-process handlers for one envelope and reports their
// combined outcome.
type Deliverer interface {
	Deliver(ctx context.Context, env events.Envelope) error
}

// Relay drains pending outbox records in append order: each record is
// published to the broker, delivered through the in-process dispatcher, and
// only then marked sent. A failure at any step, handler errors included,
// leaves the record pending and stops the pass, so the next tick retries
// from the failed record and handlers see at-least-once delivery.
type Relay struct {
	store      Backlog
	publisher  events.Publisher
	dispatcher Deliverer
	lg         *zap.Logger

	interval time.Duration
	batch    int

	tracer  trace.Tracer
	relayed metric.Int64Counter
}

// NewRelay wires a relay. Pass a nil meter-derived counter via Instrument if
// telemetry is not configured.
func NewRelay(store Backlog, publisher events.Publisher, dispatcher Deliverer, lg *zap.Logger, interval time.Duration, batch int) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Relay{
		store:      store,
		publisher:  publisher,
		dispatcher: dispatcher,
		lg:         lg,
		interval:   interval,
		batch:      batch,
	}
}

// Instrument attaches tracing and the relayed-records counter.
func (r *Relay) Instrument(tracer trace.Tracer, meter metric.Meter) error {
	r.tracer = tracer
	relayed, err := meter.Int64Counter("fulfillment.outbox.relayed",
		metric.WithDescription("Outbox records relayed to transport"))
	if err != nil {
		return err
	}
	r.relayed = relayed
	return nil
}

// Run drains the outbox until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.drainOnce(ctx); err != nil && ctx.Err() == nil {
				r.lg.Error("outbox drain failed", zap.Error(err))
			}
		}
	}
}

func (r *Relay) drainOnce(ctx context.Context) error {
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, "outbox.drain")
		defer span.End()
	}

	pending, err := r.store.FetchPending(ctx, r.batch)
	if err != nil {
		return err
	}
	for _, rec := range pending {
		if err := r.publisher.Publish(ctx, rec.Envelope); err != nil {
			return err
		}
		// MarkSent must wait for the handlers: acknowledging first would
		// drop the record on a handler failure or a crash mid-delivery.
		if err := r.dispatcher.Deliver(ctx, rec.Envelope); err != nil {
			return err
		}
		if err := r.store.MarkSent(ctx, rec.ID); err != nil {
			return err
		}
		if r.relayed != nil {
			r.relayed.Add(ctx, 1, metric.WithAttributes(
				attribute.String("type", rec.Envelope.Type)))
		}
	}
	return nil
}
