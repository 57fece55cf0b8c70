package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lumiere/lumiere-payments/internal/core/domain"
	"github.com/lumiere/lumiere-payments/internal/core/ports"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OrderStore keeps payment orders in the payment_orders table.
type OrderStore struct {
	pool   *pgxpool.Pool
	db     querier
	logger *zap.Logger
}

var _ ports.OrderStore = (*OrderStore)(nil)

// NewOrderStore creates a store on pool.
func NewOrderStore(pool *pgxpool.Pool, logger *zap.Logger) *OrderStore {
	return &OrderStore{pool: pool, db: pool, logger: logger}
}

const orderColumns = `id::text, item_type, item_id, item_name, price::text, payer,
	external_preference_id, external_reference, external_payment_id,
	checkout_link, status, created_at, updated_at`

func (s *OrderStore) FindPendingOrder(ctx context.Context, itemType domain.ItemType, itemID string) (*domain.Order, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM payment_orders
		WHERE item_type = $1 AND item_id = $2 AND status = 'pending'
	`, string(itemType), itemID)

	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap("find pending order", err)
	}
	return o, nil
}

func (s *OrderStore) FindByPreferenceID(ctx context.Context, preferenceID string) (*domain.Order, error) {
	if preferenceID == "" {
		return nil, nil
	}
	row := s.db.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM payment_orders
		WHERE external_preference_id = $1
	`, preferenceID)

	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap("find order by preference", err)
	}
	return o, nil
}

func (s *OrderStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.NewServiceError(domain.ErrNotFound, "order "+id, "ORDER_NOT_FOUND")
	}
	row := s.db.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM payment_orders
		WHERE id = $1
	`, id)

	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewServiceError(domain.ErrNotFound, "order "+id, "ORDER_NOT_FOUND")
	}
	if err != nil {
		return nil, s.wrap("get order", err)
	}
	return o, nil
}

func (s *OrderStore) CreateOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	id := order.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := order.Status
	if status == "" {
		status = domain.StatusPending
	}
	payer, err := payerParam(order.Payer)
	if err != nil {
		return nil, domain.NewServiceError(domain.ErrPersistence, "encode payer", "ENCODE_ERROR")
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO payment_orders (id, item_type, item_id, item_name, price, payer,
		  external_preference_id, external_reference, external_payment_id, checkout_link, status)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::jsonb, $7, $8, $9, $10, $11)
		RETURNING `+orderColumns,
		id, string(order.ItemType), order.ItemID, order.ItemName, order.Price.String(), payer,
		order.ExternalPreferenceID, order.ExternalReference, order.ExternalPaymentID,
		order.CheckoutLink, string(status),
	)

	created, err := scanOrder(row)
	if err != nil {
		return nil, s.wrap("create order", err)
	}
	return created, nil
}

func (s *OrderStore) UpdateOrder(ctx context.Context, id string, upd domain.OrderUpdate) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.NewServiceError(domain.ErrNotFound, "order "+id, "ORDER_NOT_FOUND")
	}

	var price any
	if upd.Price != nil {
		price = upd.Price.String()
	}
	payer, err := payerParam(upd.Payer)
	if err != nil {
		return nil, domain.NewServiceError(domain.ErrPersistence, "encode payer", "ENCODE_ERROR")
	}
	var prefID, link, extRef *string
	if upd.Preference != nil {
		prefID = &upd.Preference.PreferenceID
		link = &upd.Preference.CheckoutLink
		extRef = &upd.Preference.ExternalReference
	}
	var status *string
	if upd.Status != nil {
		st := string(*upd.Status)
		status = &st
	}
	var ifPrefID *string
	if upd.IfPreferenceID != "" {
		ifPrefID = &upd.IfPreferenceID
	}

	row := s.db.QueryRow(ctx, `
		UPDATE payment_orders SET
		  item_name              = COALESCE($2, item_name),
		  price                  = COALESCE($3::numeric, price),
		  payer                  = COALESCE($4::jsonb, payer),
		  external_preference_id = COALESCE($5, external_preference_id),
		  checkout_link          = COALESCE($6, checkout_link),
		  external_reference     = COALESCE($7, external_reference),
		  external_payment_id    = COALESCE($8, external_payment_id),
		  status                 = COALESCE($9, status),
		  updated_at             = now()
		WHERE id = $1
		  AND ($10::text IS NULL OR external_preference_id = $10)
		RETURNING `+orderColumns,
		id, upd.ItemName, price, payer, prefID, link, extRef, upd.ExternalPaymentID, status, ifPrefID,
	)

	updated, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if ifPrefID != nil {
			return nil, domain.NewServiceError(domain.ErrNotFound,
				"order "+id+" with preference "+*ifPrefID, "PREFERENCE_CHANGED")
		}
		return nil, domain.NewServiceError(domain.ErrNotFound, "order "+id, "ORDER_NOT_FOUND")
	}
	if err != nil {
		return nil, s.wrap("update order", err)
	}
	return updated, nil
}

// WithItemLock runs fn inside a transaction holding a transaction-scoped
// advisory lock for the item. fn's writes commit only if it returns nil.
func (s *OrderStore) WithItemLock(ctx context.Context, itemType domain.ItemType, itemID string, fn func(ctx context.Context, store ports.OrderStore) error) error {
	if s.pool == nil {
		// already inside a locked transaction
		return fn(ctx, s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return s.wrap("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	key := string(itemType) + ":" + itemID
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return s.wrap("acquire item lock", err)
	}

	if err := fn(ctx, &OrderStore{db: tx, logger: s.logger}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return s.wrap("commit transaction", err)
	}
	return nil
}

func (s *OrderStore) wrap(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := "DB_ERROR"
		switch pgErr.Code {
		case "23505":
			code = "UNIQUE_VIOLATION"
		case "23514":
			code = "CHECK_VIOLATION"
		}
		s.logger.Warn("order store constraint error",
			zap.String("op", op),
			zap.String("pg_code", pgErr.Code),
			zap.String("constraint", pgErr.ConstraintName),
		)
		return domain.NewServiceError(domain.ErrPersistence,
			fmt.Sprintf("%s: %s", op, pgErr.Message), code)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Error("order store error", zap.String("op", op), zap.Error(err))
	return domain.NewServiceError(domain.ErrPersistence, op+": "+err.Error(), "DB_ERROR")
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o        domain.Order
		itemType string
		status   string
		price    string
		payer    []byte
	)
	err := row.Scan(
		&o.ID, &itemType, &o.ItemID, &o.ItemName, &price, &payer,
		&o.ExternalPreferenceID, &o.ExternalReference, &o.ExternalPaymentID,
		&o.CheckoutLink, &status, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.ItemType = domain.ItemType(itemType)
	o.Status = domain.Status(status)
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("decode price %q: %w", price, err)
	}
	if len(payer) > 0 {
		var p domain.Payer
		if err := json.Unmarshal(payer, &p); err != nil {
			return nil, fmt.Errorf("decode payer: %w", err)
		}
		o.Payer = &p
	}
	return &o, nil
}

func payerParam(p *domain.Payer) (any, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
