// Package memory implements ports.OrderStore in process memory.
// It is used for local runs with STORE_DRIVER=memory and in service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumiere/lumiere-payments/internal/core/domain"
	"github.com/lumiere/lumiere-payments/internal/core/ports"
)

// Store keeps orders in a map and enforces the same constraints as the
// Postgres schema: one pending order per item and unique preference ids.
type Store struct {
	mu     sync.RWMutex
	orders map[string]domain.Order

	locksMu sync.Mutex
	locks   map[string]*itemLock

	now func() time.Time
}

var _ ports.OrderStore = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		orders: make(map[string]domain.Order),
		locks:  make(map[string]*itemLock),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) FindPendingOrder(_ context.Context, itemType domain.ItemType, itemID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.orders {
		if o.ItemType == itemType && o.ItemID == itemID && o.Status == domain.StatusPending {
			return clone(o), nil
		}
	}
	return nil, nil
}

func (s *Store) FindByPreferenceID(_ context.Context, preferenceID string) (*domain.Order, error) {
	if preferenceID == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.orders {
		if o.ExternalPreferenceID == preferenceID {
			return clone(o), nil
		}
	}
	return nil, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.NewServiceError(domain.ErrNotFound, "order "+id, "ORDER_NOT_FOUND")
	}
	return clone(o), nil
}

func (s *Store) CreateOrder(_ context.Context, order *domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := *clone(*order)
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.Status == "" {
		o.Status = domain.StatusPending
	}
	now := s.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	if _, exists := s.orders[o.ID]; exists {
		return nil, domain.NewServiceError(domain.ErrPersistence, "duplicate order id "+o.ID, "DUPLICATE_ORDER")
	}
	if err := s.checkConstraints(o); err != nil {
		return nil, err
	}

	s.orders[o.ID] = o
	return clone(o), nil
}

func (s *Store) UpdateOrder(_ context.Context, id string, upd domain.OrderUpdate) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[id]
	if !ok {
		return nil, domain.NewServiceError(domain.ErrNotFound, "order "+id, "ORDER_NOT_FOUND")
	}
	if upd.IfPreferenceID != "" && current.ExternalPreferenceID != upd.IfPreferenceID {
		return nil, domain.NewServiceError(domain.ErrNotFound,
			"order "+id+" no longer carries preference "+upd.IfPreferenceID, "PREFERENCE_CHANGED")
	}

	o := *clone(current)
	if upd.ItemName != nil {
		o.ItemName = *upd.ItemName
	}
	if upd.Price != nil {
		o.Price = *upd.Price
	}
	if upd.Payer != nil {
		p := *upd.Payer
		o.Payer = &p
	}
	if upd.Preference != nil {
		o.ExternalPreferenceID = upd.Preference.PreferenceID
		o.CheckoutLink = upd.Preference.CheckoutLink
		o.ExternalReference = upd.Preference.ExternalReference
	}
	if upd.ExternalPaymentID != nil {
		o.ExternalPaymentID = *upd.ExternalPaymentID
	}
	if upd.Status != nil {
		o.Status = *upd.Status
	}
	o.UpdatedAt = s.now()

	if err := s.checkConstraints(o); err != nil {
		return nil, err
	}

	s.orders[id] = o
	return clone(o), nil
}

// WithItemLock serialises fn per (itemType, itemID). Waiting honours ctx.
func (s *Store) WithItemLock(ctx context.Context, itemType domain.ItemType, itemID string, fn func(ctx context.Context, store ports.OrderStore) error) error {
	key := string(itemType) + ":" + itemID
	l := s.acquireLock(key)
	defer s.releaseLock(key, l)

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.sem }()

	return fn(ctx, s)
}

// Snapshot returns a copy of every stored order ordered by creation time.
func (s *Store) Snapshot() []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *clone(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// itemLock is a per-item semaphore. refs counts holders and waiters so the
// entry can be dropped once nobody uses it.
type itemLock struct {
	sem  chan struct{}
	refs int
}

func (s *Store) acquireLock(key string) *itemLock {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[key]
	if !ok {
		l = &itemLock{sem: make(chan struct{}, 1)}
		s.locks[key] = l
	}
	l.refs++
	return l
}

func (s *Store) releaseLock(key string, l *itemLock) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
}

// checkConstraints must be called with s.mu held.
func (s *Store) checkConstraints(o domain.Order) error {
	for id, other := range s.orders {
		if id == o.ID {
			continue
		}
		if o.ExternalPreferenceID != "" && other.ExternalPreferenceID == o.ExternalPreferenceID {
			return domain.NewServiceError(domain.ErrPersistence,
				"duplicate preference id "+o.ExternalPreferenceID, "DUPLICATE_PREFERENCE")
		}
		if o.Status == domain.StatusPending && other.Status == domain.StatusPending &&
			other.ItemType == o.ItemType && other.ItemID == o.ItemID {
			return domain.NewServiceError(domain.ErrPersistence,
				"item already has a pending order", "DUPLICATE_PENDING_ORDER")
		}
	}
	return nil
}

func clone(o domain.Order) *domain.Order {
	if o.Payer != nil {
		p := *o.Payer
		o.Payer = &p
	}
	return &o
}
