package saga

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/oakmart/fulfillment/internal/domain/order"
)

func placedLines(items []order.Item) []order.Line {
	lines := make([]order.Line, len(items))
	for i, item := range items {
		lines[i] = order.Line{
			VariantID:   item.VariantID,
			WarehouseID: item.WarehouseID,
			Quantity:    item.Quantity,
		}
	}
	return lines
}

// RecoverPending re-drives orders stuck in Pending, e.g. after a crash
// between reserving line 1 and line 2. Reserve is an upsert and the
// follow-up transitions are guarded, so re-running the whole set is safe.
func (c *Coordinator) RecoverPending(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-c.cfg.PendingAge)
	stuck, err := c.orders.ListPendingBefore(ctx, cutoff, c.cfg.SweepLimit)
	if err != nil {
		return errors.Wrap(err, "list stuck pending orders")
	}
	for _, o := range stuck {
		c.lg.Info("re-driving stuck pending order",
			zap.String("order_id", o.ID.String()),
			zap.String("order_number", o.OrderNumber))
		if err := c.driveReservation(ctx, o.ID, placedLines(o.Items)); err != nil {
			c.lg.Error("re-drive failed",
				zap.String("order_id", o.ID.String()), zap.Error(err))
		}
	}
	return nil
}

// SweepPayments expires overdue transactions; their failure events feed the
// normal compensation path.
func (c *Coordinator) SweepPayments(ctx context.Context) error {
	expired, err := c.payments.ExpireDue(ctx, time.Now().UTC(), c.cfg.SweepLimit)
	if err != nil {
		return errors.Wrap(err, "expire due payments")
	}
	if expired > 0 {
		c.lg.Info("expired overdue payments", zap.Int("count", expired))
	}
	return nil
}

// RunSweeps runs both recovery sweeps on a fixed interval until ctx is
// cancelled.
func (c *Coordinator) RunSweeps(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.RecoverPending(ctx); err != nil && ctx.Err() == nil {
				c.lg.Error("pending recovery sweep failed", zap.Error(err))
			}
			if err := c.SweepPayments(ctx); err != nil && ctx.Err() == nil {
				c.lg.Error("payment expiry sweep failed", zap.Error(err))
			}
		}
	}
}
