package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmart/fulfillment/internal/domain/inventory"
)

type staticSource struct {
	itemID uuid.UUID
	rows   []inventory.Movement
}

func (s staticSource) ForEachMovement(_ context.Context, fn func(uuid.UUID, inventory.Movement) error) error {
	for _, mv := range s.rows {
		if err := fn(s.itemID, mv); err != nil {
			return err
		}
	}
	return nil
}

func TestExport(t *testing.T) {
	itemID := uuid.New()
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	src := staticSource{
		itemID: itemID,
		rows: []inventory.Movement{
			{Kind: inventory.MovementReceive, QuantityBefore: 0, Delta: 10, Reference: "PO-1", OccurredAt: at},
			{Kind: inventory.MovementReserve, QuantityBefore: 10, Delta: 4, Reference: "order-1", OccurredAt: at},
			{Kind: inventory.MovementConfirm, QuantityBefore: 10, Delta: -4, OccurredAt: at},
		},
	}

	var buf bytes.Buffer
	count, err := NewExporter(src).Export(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	gz, err := pgzip.NewReader(&buf)
	require.NoError(t, err)
	defer gz.Close()

	type row struct {
		ItemID         string `json:"item_id"`
		Kind           string `json:"kind"`
		QuantityBefore int64  `json:"quantity_before"`
		Delta          int64  `json:"delta"`
		Reference      string `json:"reference"`
		OccurredAt     string `json:"occurred_at"`
	}

	var rows []row
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		var r row
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		rows = append(rows, r)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, rows, 3)

	assert.Equal(t, itemID.String(), rows[0].ItemID)
	assert.Equal(t, "receive", rows[0].Kind)
	assert.Equal(t, int64(10), rows[0].Delta)
	assert.Equal(t, "PO-1", rows[0].Reference)
	assert.Equal(t, "2026-08-30T12:00:00Z", rows[0].OccurredAt)

	assert.Equal(t, int64(-4), rows[2].Delta)
	assert.Empty(t, rows[2].Reference, "empty reference is omitted")
}

func TestExport_EmptyLedger(t *testing.T) {
	var buf bytes.Buffer
	count, err := NewExporter(staticSource{}).Export(context.Background(), &buf)
	require.NoError(t, err)
	assert.Zero(t, count)

	gz, err := pgzip.NewReader(&buf)
	require.NoError(t, err)
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	assert.False(t, scanner.Scan())
}
