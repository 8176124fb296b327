package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmart/fulfillment/pkg/entity"
)

// --- Mock implementations ---

type mockOrderRepo struct {
	byID map[uuid.UUID]*Order

	createErr error
	// conflictsLeft makes the next N Update calls fail with a version
	// conflict before succeeding.
	conflictsLeft int
	updateCalls   int
	getCalls      int
}

func newMockOrderRepo(orders ...*Order) *mockOrderRepo {
	byID := make(map[uuid.UUID]*Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}
	return &mockOrderRepo{byID: byID}
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.byID[o.ID] = o
	return nil
}

func (m *mockOrderRepo) Get(_ context.Context, id uuid.UUID) (*Order, error) {
	m.getCalls++
	o, ok := m.byID[id]
	if !ok {
		return nil, errors.New("order not found")
	}
	return o, nil
}

func (m *mockOrderRepo) GetByNumber(_ context.Context, number string) (*Order, error) {
	for _, o := range m.byID {
		if o.OrderNumber == number {
			return o, nil
		}
	}
	return nil, errors.New("order not found")
}

func (m *mockOrderRepo) ListByStatus(context.Context, Status, int) ([]*Order, error) {
	return nil, nil
}

func (m *mockOrderRepo) ListPendingBefore(context.Context, time.Time, int) ([]*Order, error) {
	return nil, nil
}

func (m *mockOrderRepo) Update(_ context.Context, o *Order) error {
	m.updateCalls++
	if m.conflictsLeft > 0 {
		m.conflictsLeft--
		return entity.ErrVersionConflict
	}
	o.DrainEvents()
	m.byID[o.ID] = o
	return nil
}

// --- Tests ---

func TestCreateDraft(t *testing.T) {
	repo := newMockOrderRepo()
	svc := NewService(repo)

	o, err := svc.CreateDraft(context.Background(), "cust-1", "VND", testAddress(), PaymentCOD)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, o.Status)
	assert.Contains(t, repo.byID, o.ID)
}

func TestCreateDraft_RepoError(t *testing.T) {
	repo := newMockOrderRepo()
	repo.createErr = errors.New("db write failed")
	svc := NewService(repo)

	_, err := svc.CreateDraft(context.Background(), "cust-1", "VND", testAddress(), PaymentCOD)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create order")
}

func TestUpdate_RetriesOnVersionConflict(t *testing.T) {
	o := newDraft(t)
	repo := newMockOrderRepo(o)
	repo.conflictsLeft = 2
	svc := NewService(repo)

	got, err := svc.AddItem(context.Background(), o.ID, testItem("v1", 100000, 1))
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)
	assert.Equal(t, 3, repo.updateCalls)
	assert.Equal(t, 3, repo.getCalls, "each retry must reload fresh state")
}

func TestUpdate_GivesUpAfterBoundedAttempts(t *testing.T) {
	o := newDraft(t)
	repo := newMockOrderRepo(o)
	repo.conflictsLeft = saveAttempts
	svc := NewService(repo)

	_, err := svc.AddItem(context.Background(), o.ID, testItem("v1", 100000, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrVersionConflict)
	assert.Equal(t, saveAttempts, repo.updateCalls)
}

func TestUpdate_MutationErrorSkipsSave(t *testing.T) {
	o := placedOrder(t)
	o.DrainEvents()
	repo := newMockOrderRepo(o)
	svc := NewService(repo)

	// AddItem on a placed order fails the status guard; no save happens.
	_, err := svc.AddItem(context.Background(), o.ID, testItem("v1", 100000, 1))
	require.Error(t, err)
	assert.Zero(t, repo.updateCalls)
}

func TestPlace_ThroughService(t *testing.T) {
	o := newDraft(t)
	require.NoError(t, o.AddItem(testItem("v1", 100000, 1)))
	repo := newMockOrderRepo(o)
	svc := NewService(repo)

	got, err := svc.Place(context.Background(), o.ID, "customer")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}
