package lifecycle

import (
	"context"
	"sort"
	"sync"

	"Gin_postgres_redis_lending_portal/models"
)

// memStore is an in-memory Store. Each call locks on its own, so two
// transactions can interleave between reads and writes the way two
// database sessions at READ COMMITTED do. Writes keep an undo log that is
// replayed when the transaction function fails.
type memStore struct {
	mu     sync.Mutex
	items  map[string]*models.Item
	loans  map[string]*models.Loan
	events []models.LoanEvent

	afterItemRead func()
	afterLoanRead func()
	appendErr     error
}

func newMemStore(items ...models.Item) *memStore {
	m := &memStore{items: map[string]*models.Item{}, loans: map[string]*models.Loan{}}
	for i := range items {
		it := items[i]
		m.items[it.ID] = &it
	}
	return m
}

func (m *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{m: m}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (m *memStore) item(id string) models.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.items[id]
}

func (m *memStore) loansFor(itemID string) []models.Loan {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Loan
	for _, l := range m.loans {
		if l.ItemID == itemID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

func (m *memStore) eventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type memTx struct {
	m    *memStore
	undo []func()
}

func (t *memTx) rollback() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

func (t *memTx) GetItem(ctx context.Context, id string) (*models.Item, error) {
	t.m.mu.Lock()
	it, ok := t.m.items[id]
	var cp models.Item
	if ok {
		cp = *it
	}
	t.m.mu.Unlock()
	if !ok {
		return nil, ErrItemNotFound
	}
	if t.m.afterItemRead != nil {
		t.m.afterItemRead()
	}
	return &cp, nil
}

func (t *memTx) FindLoanByItem(ctx context.Context, itemID string, status models.LoanStatus) (*models.Loan, error) {
	t.m.mu.Lock()
	var found *models.Loan
	for _, l := range t.m.loans {
		if l.ItemID == itemID && l.Status == status {
			cp := *l
			found = &cp
			break
		}
	}
	t.m.mu.Unlock()
	if t.m.afterLoanRead != nil {
		t.m.afterLoanRead()
	}
	return found, nil
}

func (t *memTx) CreateLoan(ctx context.Context, l *models.Loan) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for _, other := range t.m.loans {
		if other.ItemID == l.ItemID && other.Status.Active() {
			return ErrConflict
		}
	}
	cp := *l
	t.m.loans[l.ID] = &cp
	t.undo = append(t.undo, func() { delete(t.m.loans, l.ID) })
	return nil
}

func (t *memTx) TransitionItem(ctx context.Context, id string, from, to models.ItemStatus, borrowedBy *string) (bool, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	it, ok := t.m.items[id]
	if !ok || it.Status != from {
		return false, nil
	}
	prev := *it
	it.Status, it.BorrowedBy = to, borrowedBy
	t.undo = append(t.undo, func() { *it = prev })
	return true, nil
}

func (t *memTx) TransitionLoan(ctx context.Context, id string, from models.LoanStatus, ch LoanChange) (bool, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	l, ok := t.m.loans[id]
	if !ok || l.Status != from {
		return false, nil
	}
	prev := *l
	ch.ApplyTo(l)
	t.undo = append(t.undo, func() { *l = prev })
	return true, nil
}

func (t *memTx) AppendEvent(ctx context.Context, ev *models.LoanEvent) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.m.appendErr != nil {
		return t.m.appendErr
	}
	t.m.events = append(t.m.events, *ev)
	n := len(t.m.events)
	t.undo = append(t.undo, func() { t.m.events = t.m.events[:n-1] })
	return nil
}

// barrier releases every waiter once n goroutines have arrived.
type barrier struct {
	mu sync.Mutex
	n  int
	ch chan struct{}
}

func newBarrier(n int) *barrier { return &barrier{n: n, ch: make(chan struct{})} }

func (b *barrier) wait() {
	b.mu.Lock()
	b.n--
	if b.n == 0 {
		close(b.ch)
	}
	b.mu.Unlock()
	<-b.ch
}
