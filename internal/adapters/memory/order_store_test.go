package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lumiere/lumiere-payments/internal/core/domain"
	"github.com/lumiere/lumiere-payments/internal/core/ports"
)

func newOrder(itemID, prefID string) *domain.Order {
	return &domain.Order{
		ItemType:             domain.ItemTypeService,
		ItemID:               itemID,
		ItemName:             "Facial",
		Price:                decimal.RequireFromString("150.00"),
		ExternalPreferenceID: prefID,
		CheckoutLink:         "https://mp.test/" + prefID,
		Status:               domain.StatusPending,
	}
}

func TestCreateAndFind(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	created, err := s.CreateOrder(ctx, newOrder("42", "pref-1"))
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.False(t, created.CreatedAt.IsZero())

	pending, err := s.FindPendingOrder(ctx, domain.ItemTypeService, "42")
	require.NoError(t, err)
	require.Equal(t, created.ID, pending.ID)

	byPref, err := s.FindByPreferenceID(ctx, "pref-1")
	require.NoError(t, err)
	require.Equal(t, created.ID, byPref.ID)

	none, err := s.FindPendingOrder(ctx, domain.ItemTypeSubscriptionPlan, "42")
	require.NoError(t, err)
	require.Nil(t, none)

	none, err = s.FindByPreferenceID(ctx, "unknown")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestCreateConstraintViolations(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.CreateOrder(ctx, newOrder("42", "pref-1"))
	require.NoError(t, err)

	_, err = s.CreateOrder(ctx, newOrder("42", "pref-2"))
	require.ErrorIs(t, err, domain.ErrPersistence)

	_, err = s.CreateOrder(ctx, newOrder("43", "pref-1"))
	require.ErrorIs(t, err, domain.ErrPersistence)

	require.Len(t, s.Snapshot(), 1)
}

func TestUpdateOrder(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	created, err := s.CreateOrder(ctx, newOrder("42", "pref-1"))
	require.NoError(t, err)

	price := decimal.RequireFromString("180")
	updated, err := s.UpdateOrder(ctx, created.ID, domain.OrderUpdate{
		Price: &price,
		Preference: &domain.PreferenceRef{
			PreferenceID:      "pref-2",
			CheckoutLink:      "https://mp.test/pref-2",
			ExternalReference: "service_42_1700000000",
		},
	})
	require.NoError(t, err)
	require.Equal(t, created.ID, updated.ID)
	require.True(t, price.Equal(updated.Price))
	require.Equal(t, "pref-2", updated.ExternalPreferenceID)
	require.Equal(t, "https://mp.test/pref-2", updated.CheckoutLink)
	require.Equal(t, "service_42_1700000000", updated.ExternalReference)
	require.Equal(t, "Facial", updated.ItemName)

	_, err = s.UpdateOrder(ctx, "missing", domain.OrderUpdate{})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReturnedOrdersAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	o := newOrder("42", "pref-1")
	o.Payer = &domain.Payer{Email: "ana@example.com"}
	created, err := s.CreateOrder(ctx, o)
	require.NoError(t, err)

	created.Payer.Email = "changed@example.com"
	created.Status = domain.StatusApproved

	got, err := s.GetOrder(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "ana@example.com", got.Payer.Email)
	require.Equal(t, domain.StatusPending, got.Status)
}

func TestWithItemLockSerialisesPerItem(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithItemLock(ctx, domain.ItemTypeService, "42", func(ctx context.Context, _ ports.OrderStore) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxInside)
	require.Zero(t, lockEntries(s))
}

func TestWithItemLockHonoursContext(t *testing.T) {
	s := NewStore()
	held := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = s.WithItemLock(context.Background(), domain.ItemTypeService, "42", func(context.Context, ports.OrderStore) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.WithItemLock(ctx, domain.ItemTypeService, "42", func(context.Context, ports.OrderStore) error {
		t.Fatal("must not run while the lock is held")
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// other items are not blocked
	err = s.WithItemLock(context.Background(), domain.ItemTypeService, "43", func(context.Context, ports.OrderStore) error {
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, lockEntries(s), "only the held item keeps an entry")
	close(release)
}

func lockEntries(s *Store) int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.locks)
}

func TestWithItemLockDropsIdleEntries(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	for i := 0; i < 100; i++ {
		err := s.WithItemLock(ctx, domain.ItemTypeService, fmt.Sprintf("item-%d", i), func(context.Context, ports.OrderStore) error {
			require.Equal(t, 1, lockEntries(s))
			return nil
		})
		require.NoError(t, err)
	}
	require.Zero(t, lockEntries(s))
}

func TestUpdateOrderPreferenceGuard(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	created, err := s.CreateOrder(ctx, newOrder("42", "pref-1"))
	require.NoError(t, err)

	status := domain.StatusApproved
	_, err = s.UpdateOrder(ctx, created.ID, domain.OrderUpdate{Status: &status, IfPreferenceID: "pref-0"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	got, err := s.GetOrder(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, got.Status)

	updated, err := s.UpdateOrder(ctx, created.ID, domain.OrderUpdate{Status: &status, IfPreferenceID: "pref-1"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusApproved, updated.Status)
}
