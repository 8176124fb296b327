// Package audit exports the append-only inventory movement ledger as
// gzip-compressed NDJSON, one movement per line.
package audit

import (
	"context"
	"io"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"

	"github.com/oakmart/fulfillment/internal/domain/inventory"
)

// MovementSource streams ledger rows in append order.
type MovementSource interface {
	ForEachMovement(ctx context.Context, fn func(itemID uuid.UUID, mv inventory.Movement) error) error
}

// Exporter writes the movement ledger to an io.Writer.
type Exporter struct {
	src MovementSource
}

// NewExporter creates an Exporter over the given source.
func NewExporter(src MovementSource) *Exporter {
	return &Exporter{src: src}
}

// Export streams the full ledger as gzip NDJSON and returns the number of
// rows written.
func (e *Exporter) Export(ctx context.Context, w io.Writer) (int64, error) {
	gz := pgzip.NewWriter(w)

	var (
		enc   jx.Encoder
		count int64
	)
	err := e.src.ForEachMovement(ctx, func(itemID uuid.UUID, mv inventory.Movement) error {
		enc.Reset()
		enc.ObjStart()
		enc.FieldStart("item_id")
		enc.Str(itemID.String())
		enc.FieldStart("kind")
		enc.Str(string(mv.Kind))
		enc.FieldStart("quantity_before")
		enc.Int64(mv.QuantityBefore)
		enc.FieldStart("delta")
		enc.Int64(mv.Delta)
		if mv.Reference != "" {
			enc.FieldStart("reference")
			enc.Str(mv.Reference)
		}
		enc.FieldStart("occurred_at")
		enc.Str(mv.OccurredAt.UTC().Format(time.RFC3339Nano))
		enc.ObjEnd()

		if _, err := gz.Write(append(enc.Bytes(), '\n')); err != nil {
			return errors.Wrap(err, "write movement")
		}
		count++
		return nil
	})
	if err != nil {
		_ = gz.Close()
		return count, err
	}
	if err := gz.Close(); err != nil {
		return count, errors.Wrap(err, "flush gzip stream")
	}
	return count, nil
}
