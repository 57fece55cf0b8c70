// Package mercadopago implements the PaymentGateway interface using the official SDK.
package mercadopago

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/merchantorder"
	"github.com/mercadopago/sdk-go/pkg/mperror"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lumiere/lumiere-payments/internal/core/domain"
	"github.com/lumiere/lumiere-payments/internal/core/ports"
	"github.com/lumiere/lumiere-payments/internal/pkg/circuit"
)

const (
	opCreatePreference = "create_preference"
	opFetchPayment     = "fetch_payment"
)

// Narrow views of the SDK clients so tests can substitute them.
type preferenceAPI interface {
	Create(ctx context.Context, request preference.Request) (*preference.Response, error)
}

type paymentAPI interface {
	Get(ctx context.Context, id int) (*payment.Response, error)
}

type merchantOrderAPI interface {
	Get(ctx context.Context, id int) (*merchantorder.Response, error)
}

// Options configures the adapter.
type Options struct {
	AccessToken string
	Currency    string
	Timeout     time.Duration
	// Sandbox makes CreatePreference return the sandbox init point.
	Sandbox bool
	// PreferenceCacheSize bounds the payment id -> preference id memo.
	PreferenceCacheSize int
}

// Adapter implements ports.PaymentGateway using Mercado Pago SDK.
type Adapter struct {
	preferences    preferenceAPI
	payments       paymentAPI
	merchantOrders merchantOrderAPI

	currency string
	timeout  time.Duration
	sandbox  bool

	// A payment never moves to another preference, so the mapping is safe to memoise.
	preferenceByPayment *lru.Cache[string, string]
	breaker             *circuit.Breaker
	logger              *zap.Logger
}

var _ ports.PaymentGateway = (*Adapter)(nil)

// NewAdapter creates a new Mercado Pago adapter for a single access token.
func NewAdapter(opts Options, breaker *circuit.Breaker, logger *zap.Logger) (*Adapter, error) {
	cfg, err := config.New(opts.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create MP config: %w", err)
	}
	return newAdapter(
		preference.NewClient(cfg),
		payment.NewClient(cfg),
		merchantorder.NewClient(cfg),
		opts, breaker, logger,
	)
}

func newAdapter(prefs preferenceAPI, pays paymentAPI, orders merchantOrderAPI, opts Options, breaker *circuit.Breaker, logger *zap.Logger) (*Adapter, error) {
	size := opts.PreferenceCacheSize
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	currency := opts.Currency
	if currency == "" {
		currency = "ARS"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Adapter{
		preferences:         prefs,
		payments:            pays,
		merchantOrders:      orders,
		currency:            currency,
		timeout:             timeout,
		sandbox:             opts.Sandbox,
		preferenceByPayment: cache,
		breaker:             breaker,
		logger:              logger,
	}, nil
}

// CreatePreference creates a Checkout Pro preference for a single item.
func (a *Adapter) CreatePreference(ctx context.Context, req domain.PreferenceRequest) (*domain.Preference, error) {
	done, err := a.allow(opCreatePreference)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	result, err := a.preferences.Create(ctx, a.buildPreferenceRequest(req))
	if err != nil {
		return nil, a.fail(opCreatePreference, done, err)
	}
	done(true)

	link := result.InitPoint
	if a.sandbox && result.SandboxInitPoint != "" {
		link = result.SandboxInitPoint
	}
	if result.ID == "" || link == "" {
		return nil, domain.NewGatewayError(domain.GatewayPermanent, opCreatePreference, 0,
			errors.New("preference response without id or init point"))
	}

	return &domain.Preference{
		ID:           result.ID,
		CheckoutLink: link,
		SandboxLink:  result.SandboxInitPoint,
	}, nil
}

func (a *Adapter) buildPreferenceRequest(req domain.PreferenceRequest) preference.Request {
	request := preference.Request{
		Items: []preference.ItemRequest{
			{
				Title:      req.ItemName,
				Quantity:   1,
				UnitPrice:  req.Price.InexactFloat64(),
				CurrencyID: a.currency,
			},
		},
		ExternalReference: req.ExternalReference,
		BackURLs: &preference.BackURLsRequest{
			Success: req.BackURLs.Success,
			Failure: req.BackURLs.Failure,
			Pending: req.BackURLs.Pending,
		},
		NotificationURL: req.NotificationURL,
	}
	// auto_return is rejected by the API when no success URL is present
	if req.BackURLs.Success != "" {
		request.AutoReturn = "approved"
	}
	if req.Payer != nil {
		request.Payer = &preference.PayerRequest{
			Name:  req.Payer.Name,
			Email: req.Payer.Email,
		}
	}
	return request
}

// FetchPayment retrieves the current payment state and the preference it belongs to.
func (a *Adapter) FetchPayment(ctx context.Context, paymentID string) (*domain.PaymentInfo, error) {
	id, err := strconv.Atoi(paymentID)
	if err != nil {
		return nil, domain.NewGatewayError(domain.GatewayPermanent, opFetchPayment, 0,
			fmt.Errorf("invalid payment ID format %q", paymentID))
	}
	done, err := a.allow(opFetchPayment)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	result, err := a.payments.Get(ctx, id)
	if err != nil {
		return nil, a.fail(opFetchPayment, done, err)
	}

	preferenceID, err := a.resolvePreferenceID(ctx, paymentID, result.Order.ID)
	if err != nil {
		return nil, a.fail(opFetchPayment, done, err)
	}
	done(true)

	return &domain.PaymentInfo{
		PaymentID:         paymentID,
		PreferenceID:      preferenceID,
		ExternalReference: result.ExternalReference,
		Status:            result.Status,
		StatusDetail:      result.StatusDetail,
		Amount:            decimal.NewFromFloat(result.TransactionAmount),
		Currency:          result.CurrencyID,
		PayerEmail:        result.Payer.Email,
		DateApproved:      result.DateApproved,
	}, nil
}

// resolvePreferenceID looks the preference up through the payment's merchant order.
// A payment without a usable merchant order id resolves to no preference.
func (a *Adapter) resolvePreferenceID(ctx context.Context, paymentID, orderID string) (string, error) {
	if prefID, ok := a.preferenceByPayment.Get(paymentID); ok {
		return prefID, nil
	}
	if orderID == "" {
		a.logger.Warn("payment has no merchant order", zap.String("payment_id", paymentID))
		return "", nil
	}
	merchantOrderID, err := strconv.Atoi(orderID)
	if err != nil || merchantOrderID <= 0 {
		a.logger.Warn("payment has an invalid merchant order id",
			zap.String("payment_id", paymentID),
			zap.String("merchant_order_id", orderID),
		)
		return "", nil
	}

	order, err := a.merchantOrders.Get(ctx, merchantOrderID)
	if err != nil {
		return "", err
	}
	if order.PreferenceID != "" {
		a.preferenceByPayment.Add(paymentID, order.PreferenceID)
	}
	return order.PreferenceID, nil
}

// allow asks the breaker for a slot. The returned done func reports the
// call's outcome and must be called exactly once.
func (a *Adapter) allow(op string) (func(success bool), error) {
	if a.breaker == nil {
		return func(bool) {}, nil
	}
	done, err := a.breaker.Allow()
	if err != nil {
		a.logger.Warn("mercado pago circuit open", zap.String("op", op), zap.Error(err))
		return nil, domain.NewGatewayError(domain.GatewayTransient, op, 0, err)
	}
	return done, nil
}

// fail classifies err and feeds transient failures to the breaker.
func (a *Adapter) fail(op string, done func(success bool), err error) *domain.GatewayError {
	gwErr := classify(op, err)
	// a 4xx still proves the API is reachable
	done(!gwErr.Transient())
	a.logger.Warn("mercado pago call failed",
		zap.String("op", op),
		zap.String("kind", gwErr.Kind.String()),
		zap.Int("status_code", gwErr.StatusCode),
		zap.Error(err),
	)
	return gwErr
}

func classify(op string, err error) *domain.GatewayError {
	var respErr *mperror.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.StatusCode
		if code >= http.StatusInternalServerError || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
			return domain.NewGatewayError(domain.GatewayTransient, op, code, err)
		}
		return domain.NewGatewayError(domain.GatewayPermanent, op, code, err)
	}
	// network errors, timeouts and cancellations
	return domain.NewGatewayError(domain.GatewayTransient, op, 0, err)
}
