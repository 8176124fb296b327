package events

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDeliver_PerKeyOrdering(t *testing.T) {
	d := NewDispatcher(4, zap.NewNop())

	var (
		mu    sync.Mutex
		byKey = make(map[string][]int)
	)
	d.On("test.event", func(_ context.Context, env Envelope) error {
		var payload struct {
			N int `json:"n"`
		}
		if err := env.Decode(&payload); err != nil {
			return err
		}
		mu.Lock()
		byKey[env.Key] = append(byKey[env.Key], payload.N)
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Start(ctx) }()

	keys := []string{"order-a", "order-b", "order-c"}
	const perKey = 20
	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range perKey {
				env, err := Wrap(stubEvent{kind: "test.event", key: key, N: n})
				if !assert.NoError(t, err) {
					return
				}
				assert.NoError(t, d.Deliver(ctx, env))
			}
		}()
	}
	wg.Wait()

	// Events sharing a key must be handled in delivery order.
	for _, key := range keys {
		require.Len(t, byKey[key], perKey)
		for n := range perKey {
			assert.Equal(t, n, byKey[key][n], "key %s out of order", key)
		}
	}
}

func TestDeliver_ReturnsHandlerError(t *testing.T) {
	d := NewDispatcher(1, zap.NewNop())

	ran := 0
	d.On("test.event", func(context.Context, Envelope) error {
		ran++
		return assert.AnError
	})
	d.On("test.event", func(context.Context, Envelope) error {
		ran++
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Start(ctx) }()

	env, err := Wrap(stubEvent{kind: "test.event", key: "k"})
	require.NoError(t, err)
	assert.ErrorIs(t, d.Deliver(ctx, env), assert.AnError)
	assert.Equal(t, 2, ran, "a failing handler must not starve the others")
}

func TestDeliver_FailedEnvelopeCanBeRetried(t *testing.T) {
	d := NewDispatcher(1, zap.NewNop())

	calls := 0
	d.On("test.event", func(context.Context, Envelope) error {
		calls++
		if calls == 1 {
			return assert.AnError
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Start(ctx) }()

	env, err := Wrap(stubEvent{kind: "test.event", key: "k"})
	require.NoError(t, err)
	require.Error(t, d.Deliver(ctx, env))
	require.NoError(t, d.Deliver(ctx, env))
	assert.Equal(t, 2, calls)
}

func TestDeliver_UnregisteredKindIsNoop(t *testing.T) {
	d := NewDispatcher(1, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Start(ctx) }()

	env, err := Wrap(stubEvent{kind: "nobody.listens", key: "k"})
	require.NoError(t, err)
	assert.NoError(t, d.Deliver(ctx, env))
}
