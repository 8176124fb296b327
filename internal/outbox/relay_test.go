package outbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oakmart/fulfillment/internal/events"
)

// --- Fakes ---

type fakeBacklog struct {
	pending []Record
	sent    []int64
}

func (b *fakeBacklog) FetchPending(_ context.Context, limit int) ([]Record, error) {
	var out []Record
	for _, rec := range b.pending {
		if rec.SentAt == nil && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (b *fakeBacklog) MarkSent(_ context.Context, id int64) error {
	for i := range b.pending {
		if b.pending[i].ID == id {
			now := b.pending[i].Envelope.CreatedAt
			b.pending[i].SentAt = &now
		}
	}
	b.sent = append(b.sent, id)
	return nil
}

type fakePublisher struct {
	published []events.Envelope
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, env events.Envelope) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, env)
	return nil
}

type fakeDeliverer struct {
	delivered []events.Envelope
	failType  string
}

func (d *fakeDeliverer) Deliver(_ context.Context, env events.Envelope) error {
	if d.failType != "" && env.Type == d.failType {
		return assert.AnError
	}
	d.delivered = append(d.delivered, env)
	return nil
}

func record(t *testing.T, id int64, key string) Record {
	t.Helper()
	env, err := events.Wrap(stubEvent{kind: "order.placed", key: key})
	require.NoError(t, err)
	return Record{ID: id, Topic: events.TopicFor(env.Type), Envelope: env}
}

type stubEvent struct {
	kind string
	key  string
}

func (e stubEvent) Kind() string { return e.kind }
func (e stubEvent) Key() string  { return e.key }

// --- Drain ---

func TestDrain_MarksSentAfterDelivery(t *testing.T) {
	backlog := &fakeBacklog{pending: []Record{
		record(t, 1, "order-a"),
		record(t, 2, "order-b"),
	}}
	pub := &fakePublisher{}
	del := &fakeDeliverer{}
	relay := NewRelay(backlog, pub, del, zap.NewNop(), 0, 0)

	require.NoError(t, relay.drainOnce(context.Background()))

	assert.Len(t, pub.published, 2)
	assert.Len(t, del.delivered, 2)
	assert.Equal(t, []int64{1, 2}, backlog.sent)

	// A second pass finds nothing: each record is drained exactly once.
	require.NoError(t, relay.drainOnce(context.Background()))
	assert.Equal(t, []int64{1, 2}, backlog.sent)
}

func TestDrain_HandlerFailureLeavesRecordPending(t *testing.T) {
	backlog := &fakeBacklog{pending: []Record{record(t, 1, "order-a")}}
	pub := &fakePublisher{}
	del := &fakeDeliverer{failType: "order.placed"}
	relay := NewRelay(backlog, pub, del, zap.NewNop(), 0, 0)

	require.Error(t, relay.drainOnce(context.Background()))
	assert.Empty(t, backlog.sent, "a record whose handlers failed must stay pending")

	// Once the handlers recover, the next tick drains the same record.
	del.failType = ""
	require.NoError(t, relay.drainOnce(context.Background()))
	assert.Equal(t, []int64{1}, backlog.sent)
	require.Len(t, del.delivered, 1)
	assert.Equal(t, "order-a", del.delivered[0].Key)
}

func TestDrain_PublishFailureLeavesRecordPending(t *testing.T) {
	backlog := &fakeBacklog{pending: []Record{record(t, 1, "order-a")}}
	pub := &fakePublisher{err: assert.AnError}
	del := &fakeDeliverer{}
	relay := NewRelay(backlog, pub, del, zap.NewNop(), 0, 0)

	require.Error(t, relay.drainOnce(context.Background()))
	assert.Empty(t, del.delivered)
	assert.Empty(t, backlog.sent)
}

func TestDrain_StopsAtFirstFailure(t *testing.T) {
	backlog := &fakeBacklog{pending: []Record{
		record(t, 1, "order-a"),
		record(t, 2, "order-a"),
	}}
	pub := &fakePublisher{}
	del := &fakeDeliverer{failType: "order.placed"}
	relay := NewRelay(backlog, pub, del, zap.NewNop(), 0, 0)

	// Neither record may be acknowledged: marking the second sent while the
	// first stays pending would replay them out of order next tick.
	require.Error(t, relay.drainOnce(context.Background()))
	assert.Empty(t, backlog.sent)
}
