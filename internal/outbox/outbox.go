// Package outbox persists domain events in the same transaction as the
// aggregate save and relays them afterwards. The outbox is the durable
// "where was I" marker of the saga: unsent rows survive a crash and are
// re-published on restart.
package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmart/fulfillment/internal/events"
)

// Record is one stored envelope plus relay bookkeeping.
type Record struct {
	ID       int64
	Topic    string
	Envelope events.Envelope
	SentAt   *time.Time
}

// Store reads and writes the outbox table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store over the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InsertTx appends an envelope within the caller's transaction. The event-id
// uniqueness constraint absorbs redundant inserts from retried saves.
func InsertTx(ctx context.Context, tx pgx.Tx, env events.Envelope) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO outbox (event_id, topic, key, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (event_id) DO NOTHING`,
		env.EventID, events.TopicFor(env.Type), env.Key, env, env.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert outbox record")
	}
	return nil
}

// FetchPending returns up to limit unsent records in append order.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, topic, payload, sent_at
		 FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query pending outbox records")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Topic, &rec.Envelope, &rec.SentAt); err != nil {
			return nil, errors.Wrap(err, "scan outbox record")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkSent stamps a record as relayed.
func (s *Store) MarkSent(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET sent_at = now() WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "mark outbox record sent")
	}
	return nil
}
