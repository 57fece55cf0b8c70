package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lumiere/lumiere-payments/config"
	"github.com/lumiere/lumiere-payments/internal/core/domain"
	"github.com/lumiere/lumiere-payments/internal/core/ports"
	"github.com/lumiere/lumiere-payments/internal/pkg/retry"
)

const notificationTypePayment = "payment"

// Outcome describes what HandleNotification did with a notification.
type Outcome int

const (
	// OutcomeIgnored means the notification type is not actionable.
	OutcomeIgnored Outcome = iota
	// OutcomeDiscarded means no local order matched the payment.
	OutcomeDiscarded
	// OutcomeApplied means the order status changed.
	OutcomeApplied
	// OutcomeUnchanged means the order already had the reported status.
	OutcomeUnchanged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeDiscarded:
		return "discarded"
	case OutcomeApplied:
		return "applied"
	case OutcomeUnchanged:
		return "unchanged"
	}
	return "unknown"
}

// ReconcilerOptions configures a Reconciler. Validator and WebhookSecret are
// both required for signature checks to run.
type ReconcilerOptions struct {
	Validator     ports.WebhookValidator
	WebhookSecret string
	Notifiers     []ports.StatusNotifier
	Retry         config.RetryConfig
}

// Reconciler applies processor payment notifications to stored orders.
type Reconciler struct {
	store     ports.OrderStore
	gateway   ports.PaymentGateway
	validator ports.WebhookValidator
	secret    string
	notifiers []ports.StatusNotifier
	retry     config.RetryConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewReconciler creates a new webhook reconciler.
func NewReconciler(store ports.OrderStore, gateway ports.PaymentGateway, opts ReconcilerOptions, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		gateway:   gateway,
		validator: opts.Validator,
		secret:    opts.WebhookSecret,
		notifiers: opts.Notifiers,
		retry:     opts.Retry,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// HandleNotification re-fetches the payment behind n and writes its status to
// the order created for the same preference. Writes are last-write-wins.
func (r *Reconciler) HandleNotification(ctx context.Context, n domain.Notification) (Outcome, error) {
	log := r.logger.With(
		zap.String("notification_id", n.ID),
		zap.String("type", n.Type),
		zap.String("action", n.Action),
		zap.String("data_id", n.DataID),
		zap.Bool("live_mode", n.LiveMode),
		zap.String("request_id", n.RequestID),
	)

	if r.validator != nil && r.secret != "" {
		if !r.validator.ValidateSignature(n.Signature, n.RequestID, n.DataID, r.secret) {
			log.Warn("webhook signature validation failed")
			return OutcomeIgnored, domain.ErrWebhookValidationFailed
		}
	}

	if strings.TrimSpace(n.Type) == "" {
		return OutcomeIgnored, domain.NewServiceError(domain.ErrValidation, "notification type is required", "VALIDATION_ERROR")
	}
	if n.Type != notificationTypePayment {
		log.Debug("ignoring webhook type")
		return OutcomeIgnored, nil
	}
	if strings.TrimSpace(n.DataID) == "" {
		return OutcomeIgnored, domain.NewServiceError(domain.ErrValidation, "notification data id is required", "VALIDATION_ERROR")
	}

	info, err := r.gateway.FetchPayment(ctx, n.DataID)
	if err != nil {
		log.Error("failed to fetch payment", zap.Error(err))
		return OutcomeIgnored, err
	}
	status := domain.MapExternalStatus(info.Status)
	log = log.With(
		zap.String("preference_id", info.PreferenceID),
		zap.String("external_status", info.Status),
	)

	order, err := r.store.FindByPreferenceID(ctx, info.PreferenceID)
	if err != nil {
		log.Error("failed to look up order", zap.Error(err))
		return OutcomeIgnored, err
	}
	if order == nil {
		log.Info("no order for preference, discarding notification")
		return OutcomeDiscarded, nil
	}
	if order.ExternalReference != "" && info.ExternalReference != "" && order.ExternalReference != info.ExternalReference {
		log.Warn("external reference mismatch, discarding notification",
			zap.String("order_id", order.ID),
			zap.String("order_reference", order.ExternalReference),
			zap.String("payment_reference", info.ExternalReference),
		)
		return OutcomeDiscarded, nil
	}

	previous := order.Status
	paymentID := info.PaymentID
	if paymentID == "" {
		paymentID = n.DataID
	}
	updated, err := r.store.UpdateOrder(ctx, order.ID, domain.OrderUpdate{
		ExternalPaymentID: &paymentID,
		Status:            &status,
		IfPreferenceID:    info.PreferenceID,
	})
	if errors.Is(err, domain.ErrNotFound) {
		log.Info("order no longer carries the preference, discarding notification",
			zap.String("order_id", order.ID))
		return OutcomeDiscarded, nil
	}
	if err != nil {
		log.Error("failed to update order", zap.String("order_id", order.ID), zap.Error(err))
		return OutcomeIgnored, err
	}

	if previous == updated.Status {
		log.Debug("order status unchanged", zap.String("order_id", order.ID), zap.String("status", string(previous)))
		return OutcomeUnchanged, nil
	}

	log.Info("order status updated",
		zap.String("order_id", order.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(updated.Status)),
	)
	r.notify(ctx, domain.StatusChange{
		OrderID:           updated.ID,
		ItemType:          updated.ItemType,
		ItemID:            updated.ItemID,
		PreviousStatus:    previous,
		Status:            updated.Status,
		PaymentID:         paymentID,
		PreferenceID:      updated.ExternalPreferenceID,
		ExternalReference: updated.ExternalReference,
		Amount:            info.Amount,
		PayerEmail:        info.PayerEmail,
		OccurredAt:        r.now(),
	})
	return OutcomeApplied, nil
}

// notify delivers change to every notifier. Failures are logged only.
func (r *Reconciler) notify(ctx context.Context, change domain.StatusChange) {
	for _, n := range r.notifiers {
		n := n
		err := retry.Do(ctx, r.retry, func() error {
			return n.NotifyStatusChange(ctx, change)
		})
		if err != nil {
			r.logger.Error("failed to publish status change",
				zap.String("order_id", change.OrderID),
				zap.String("status", string(change.Status)),
				zap.Error(err),
			)
		}
	}
}
