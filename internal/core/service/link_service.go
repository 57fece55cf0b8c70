// Package service implements the core business logic.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lumiere/lumiere-payments/internal/core/domain"
	"github.com/lumiere/lumiere-payments/internal/core/ports"
)

// CheckoutURLs are passed to every preference the service creates.
type CheckoutURLs struct {
	Back            domain.BackURLs
	NotificationURL string
}

// LinkService issues checkout links and reuses them while the price is unchanged.
type LinkService struct {
	store   ports.OrderStore
	gateway ports.PaymentGateway
	urls    CheckoutURLs
	logger  *zap.Logger
	now     func() time.Time
}

// NewLinkService creates a new link issuance service.
func NewLinkService(store ports.OrderStore, gateway ports.PaymentGateway, urls CheckoutURLs, logger *zap.Logger) *LinkService {
	return &LinkService{
		store:   store,
		gateway: gateway,
		urls:    urls,
		logger:  logger,
		now:     time.Now,
	}
}

// GetOrCreateLink returns the checkout link for an item at the given price.
// A pending order at the same price is returned as is. Otherwise a new
// preference is created and the pending order is updated in place, or a
// new one is created. Nothing is written when the gateway fails.
func (s *LinkService) GetOrCreateLink(ctx context.Context, req domain.LinkRequest) (*domain.Link, error) {
	if err := validateLinkRequest(req); err != nil {
		return nil, err
	}

	var link *domain.Link
	err := s.store.WithItemLock(ctx, req.ItemType, req.ItemID, func(ctx context.Context, store ports.OrderStore) error {
		pending, err := store.FindPendingOrder(ctx, req.ItemType, req.ItemID)
		if err != nil {
			return err
		}

		if pending != nil && pending.Price.Equal(req.Price) && pending.CheckoutLink != "" {
			link = &domain.Link{
				CheckoutLink: pending.CheckoutLink,
				PreferenceID: pending.ExternalPreferenceID,
				OrderID:      pending.ID,
				Reused:       true,
			}
			return nil
		}

		ref := externalReference(req.ItemType, req.ItemID, s.now())
		pref, err := s.gateway.CreatePreference(ctx, domain.PreferenceRequest{
			ItemName:          req.ItemName,
			Price:             req.Price,
			BackURLs:          s.urls.Back,
			NotificationURL:   s.urls.NotificationURL,
			ExternalReference: ref,
			Payer:             req.Payer,
		})
		if err != nil {
			return err
		}
		prefRef := &domain.PreferenceRef{
			PreferenceID:      pref.ID,
			CheckoutLink:      pref.CheckoutLink,
			ExternalReference: ref,
		}

		var order *domain.Order
		if pending != nil {
			status := domain.StatusPending
			price := req.Price
			name := req.ItemName
			order, err = store.UpdateOrder(ctx, pending.ID, domain.OrderUpdate{
				ItemName:   &name,
				Price:      &price,
				Payer:      req.Payer,
				Preference: prefRef,
				Status:     &status,
			})
		} else {
			order, err = store.CreateOrder(ctx, &domain.Order{
				ItemType:             req.ItemType,
				ItemID:               req.ItemID,
				ItemName:             req.ItemName,
				Price:                req.Price,
				Payer:                req.Payer,
				ExternalPreferenceID: prefRef.PreferenceID,
				ExternalReference:    prefRef.ExternalReference,
				CheckoutLink:         prefRef.CheckoutLink,
				Status:               domain.StatusPending,
			})
		}
		if err != nil {
			return err
		}

		link = &domain.Link{
			CheckoutLink: order.CheckoutLink,
			PreferenceID: order.ExternalPreferenceID,
			OrderID:      order.ID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if link.Reused {
		s.logger.Debug("reused checkout link",
			zap.String("item_type", string(req.ItemType)),
			zap.String("item_id", req.ItemID),
			zap.String("order_id", link.OrderID),
		)
	} else {
		s.logger.Info("issued checkout link",
			zap.String("item_type", string(req.ItemType)),
			zap.String("item_id", req.ItemID),
			zap.String("order_id", link.OrderID),
			zap.String("preference_id", link.PreferenceID),
			zap.String("price", req.Price.String()),
		)
	}
	return link, nil
}

// ExistingLink returns the link of the pending order for an item when it was
// issued at exactly price. It never calls the gateway.
func (s *LinkService) ExistingLink(ctx context.Context, itemType domain.ItemType, itemID string, price string) (*domain.Link, error) {
	if !itemType.Valid() || strings.TrimSpace(itemID) == "" {
		return nil, domain.NewServiceError(domain.ErrValidation, "item_type and item_id are required", "VALIDATION_ERROR")
	}
	p, err := parsePrice(price)
	if err != nil {
		return nil, err
	}

	pending, err := s.store.FindPendingOrder(ctx, itemType, itemID)
	if err != nil {
		return nil, err
	}
	if pending == nil || !pending.Price.Equal(p) || pending.CheckoutLink == "" {
		return nil, domain.NewServiceError(domain.ErrNotFound,
			fmt.Sprintf("no pending link for %s %s at %s", itemType, itemID, p), "LINK_NOT_FOUND")
	}

	return &domain.Link{
		CheckoutLink: pending.CheckoutLink,
		PreferenceID: pending.ExternalPreferenceID,
		OrderID:      pending.ID,
		Reused:       true,
	}, nil
}

// AttachLink is GetOrCreateLink for catalog write paths: failures are logged
// and reported as a nil link so the caller's own write is never affected.
func (s *LinkService) AttachLink(ctx context.Context, req domain.LinkRequest) *domain.Link {
	link, err := s.GetOrCreateLink(ctx, req)
	if err != nil {
		s.logger.Warn("checkout link not attached",
			zap.String("item_type", string(req.ItemType)),
			zap.String("item_id", req.ItemID),
			zap.Error(err),
		)
		return nil
	}
	return link
}

// GetOrder returns a stored order by id.
func (s *LinkService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.NewServiceError(domain.ErrValidation, "order id is required", "VALIDATION_ERROR")
	}
	return s.store.GetOrder(ctx, id)
}

func validateLinkRequest(req domain.LinkRequest) error {
	var missing []string
	if !req.ItemType.Valid() {
		missing = append(missing, "item_type")
	}
	if strings.TrimSpace(req.ItemID) == "" {
		missing = append(missing, "item_id")
	}
	if strings.TrimSpace(req.ItemName) == "" {
		missing = append(missing, "item_name")
	}
	if !validPrice(req.Price) {
		missing = append(missing, "price")
	}
	if len(missing) > 0 {
		return domain.NewServiceError(domain.ErrValidation,
			"invalid or missing "+strings.Join(missing, ", "), "VALIDATION_ERROR")
	}
	return nil
}

// externalReference encodes the item and issue time for traceability on the processor side.
func externalReference(itemType domain.ItemType, itemID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%d", itemType, itemID, at.Unix())
}

// maxPrice is the exclusive bound of a numeric(12,2) column.
var maxPrice = decimal.New(1, 10)

// validPrice accepts positive amounts the order table stores without
// rounding: at most two decimal places and below maxPrice.
func validPrice(p decimal.Decimal) bool {
	return p.IsPositive() && p.Equal(p.Round(2)) && p.LessThan(maxPrice)
}

func parsePrice(raw string) (decimal.Decimal, error) {
	p, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !validPrice(p) {
		return decimal.Decimal{}, domain.NewServiceError(domain.ErrValidation,
			fmt.Sprintf("invalid price %q", raw), "VALIDATION_ERROR")
	}
	return p, nil
}
