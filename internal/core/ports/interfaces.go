// Package ports defines the interfaces (ports) for the payment service.
// These are contracts that adapters must implement.
package ports

import (
	"context"

	"github.com/lumiere/lumiere-payments/internal/core/domain"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_ports.go -package=mocks

// OrderStore persists payment intents.
type OrderStore interface {
	// FindPendingOrder returns the pending order for an item, or nil if there is none.
	FindPendingOrder(ctx context.Context, itemType domain.ItemType, itemID string) (*domain.Order, error)

	// FindByPreferenceID returns the order created for a preference, or nil if there is none.
	FindByPreferenceID(ctx context.Context, preferenceID string) (*domain.Order, error)

	// GetOrder returns domain.ErrNotFound when id does not exist.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// CreateOrder assigns id and timestamps when empty.
	CreateOrder(ctx context.Context, order *domain.Order) (*domain.Order, error)

	// UpdateOrder applies the non-nil fields of upd and refreshes updated_at.
	// It returns domain.ErrNotFound when upd.IfPreferenceID no longer matches.
	UpdateOrder(ctx context.Context, id string, upd domain.OrderUpdate) (*domain.Order, error)

	// WithItemLock runs fn while holding the exclusive scope for one item.
	// The store passed to fn must be used for every read and write inside it.
	WithItemLock(ctx context.Context, itemType domain.ItemType, itemID string, fn func(ctx context.Context, store OrderStore) error) error
}

// PaymentGateway defines the interface for interacting with Mercado Pago.
// Every error returned is a *domain.GatewayError.
type PaymentGateway interface {
	// CreatePreference creates a Checkout Pro preference.
	CreatePreference(ctx context.Context, req domain.PreferenceRequest) (*domain.Preference, error)

	// FetchPayment retrieves the authoritative payment state by id.
	FetchPayment(ctx context.Context, paymentID string) (*domain.PaymentInfo, error)
}

// StatusNotifier tells the rest of the platform about order status transitions.
type StatusNotifier interface {
	NotifyStatusChange(ctx context.Context, change domain.StatusChange) error
}

// WebhookValidator validates Mercado Pago webhook signatures.
type WebhookValidator interface {
	ValidateSignature(xSignature, xRequestID, dataID, secret string) bool
}
