package mercadopago

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/mercadopago/sdk-go/pkg/merchantorder"
	"github.com/mercadopago/sdk-go/pkg/mperror"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/lumiere/lumiere-payments/config"
	"github.com/lumiere/lumiere-payments/internal/core/domain"
	"github.com/lumiere/lumiere-payments/internal/pkg/circuit"
)

type fakePreferences struct {
	got  preference.Request
	resp *preference.Response
	err  error
}

func (f *fakePreferences) Create(_ context.Context, req preference.Request) (*preference.Response, error) {
	f.got = req
	return f.resp, f.err
}

type fakePayments struct {
	calls int
	resp  *payment.Response
	err   error
}

func (f *fakePayments) Get(_ context.Context, _ int) (*payment.Response, error) {
	f.calls++
	return f.resp, f.err
}

type fakeMerchantOrders struct {
	calls int
	resp  *merchantorder.Response
	err   error
}

func (f *fakeMerchantOrders) Get(_ context.Context, _ int) (*merchantorder.Response, error) {
	f.calls++
	return f.resp, f.err
}

func newTestAdapter(t *testing.T, prefs *fakePreferences, pays *fakePayments, orders *fakeMerchantOrders, opts Options, brk *circuit.Breaker) *Adapter {
	t.Helper()
	a, err := newAdapter(prefs, pays, orders, opts, brk, zap.NewNop())
	require.NoError(t, err)
	return a
}

func preferenceRequest() domain.PreferenceRequest {
	return domain.PreferenceRequest{
		ItemName: "Facial",
		Price:    decimal.RequireFromString("150.00"),
		BackURLs: domain.BackURLs{
			Success: "https://lumiere.beauty/payment/success",
			Failure: "https://lumiere.beauty/payment/failure",
			Pending: "https://lumiere.beauty/payment/pending",
		},
		NotificationURL:   "https://api.lumiere.beauty/webhooks/mercadopago",
		ExternalReference: "service_42_1700000000",
		Payer:             &domain.Payer{Name: "Ana", Email: "ana@example.com"},
	}
}

func TestCreatePreference(t *testing.T) {
	prefs := &fakePreferences{resp: &preference.Response{
		ID:               "pref-1",
		InitPoint:        "https://www.mercadopago.com/checkout?pref_id=pref-1",
		SandboxInitPoint: "https://sandbox.mercadopago.com/checkout?pref_id=pref-1",
	}}
	a := newTestAdapter(t, prefs, &fakePayments{}, &fakeMerchantOrders{}, Options{Currency: "ARS"}, nil)

	pref, err := a.CreatePreference(context.Background(), preferenceRequest())
	require.NoError(t, err)
	require.Equal(t, "pref-1", pref.ID)
	require.Equal(t, "https://www.mercadopago.com/checkout?pref_id=pref-1", pref.CheckoutLink)

	req := prefs.got
	require.Len(t, req.Items, 1)
	require.Equal(t, "Facial", req.Items[0].Title)
	require.Equal(t, 150.0, req.Items[0].UnitPrice)
	require.Equal(t, "ARS", req.Items[0].CurrencyID)
	require.Equal(t, "service_42_1700000000", req.ExternalReference)
	require.Equal(t, "https://api.lumiere.beauty/webhooks/mercadopago", req.NotificationURL)
	require.Equal(t, "approved", req.AutoReturn)
	require.Equal(t, "ana@example.com", req.Payer.Email)
}

func TestCreatePreferenceSandboxLink(t *testing.T) {
	prefs := &fakePreferences{resp: &preference.Response{
		ID:               "pref-1",
		InitPoint:        "https://www.mercadopago.com/checkout?pref_id=pref-1",
		SandboxInitPoint: "https://sandbox.mercadopago.com/checkout?pref_id=pref-1",
	}}
	a := newTestAdapter(t, prefs, &fakePayments{}, &fakeMerchantOrders{}, Options{Sandbox: true}, nil)

	req := preferenceRequest()
	req.Payer = nil
	req.BackURLs = domain.BackURLs{}
	pref, err := a.CreatePreference(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "https://sandbox.mercadopago.com/checkout?pref_id=pref-1", pref.CheckoutLink)
	require.Nil(t, prefs.got.Payer)
	require.Empty(t, prefs.got.AutoReturn)
}

func TestCreatePreferenceErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		resp     *preference.Response
		wantKind domain.GatewayErrorKind
		wantCode int
	}{
		{
			name:     "network failure is transient",
			err:      errors.New("dial tcp: connection refused"),
			wantKind: domain.GatewayTransient,
		},
		{
			name:     "timeout is transient",
			err:      context.DeadlineExceeded,
			wantKind: domain.GatewayTransient,
		},
		{
			name:     "5xx is transient",
			err:      &mperror.ResponseError{StatusCode: http.StatusBadGateway, Message: "bad gateway"},
			wantKind: domain.GatewayTransient,
			wantCode: http.StatusBadGateway,
		},
		{
			name:     "429 is transient",
			err:      &mperror.ResponseError{StatusCode: http.StatusTooManyRequests},
			wantKind: domain.GatewayTransient,
			wantCode: http.StatusTooManyRequests,
		},
		{
			name:     "4xx is permanent",
			err:      &mperror.ResponseError{StatusCode: http.StatusBadRequest, Message: "invalid unit_price"},
			wantKind: domain.GatewayPermanent,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "empty response is permanent",
			resp:     &preference.Response{},
			wantKind: domain.GatewayPermanent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefs := &fakePreferences{resp: tt.resp, err: tt.err}
			a := newTestAdapter(t, prefs, &fakePayments{}, &fakeMerchantOrders{}, Options{}, nil)

			_, err := a.CreatePreference(context.Background(), preferenceRequest())
			var gwErr *domain.GatewayError
			require.True(t, errors.As(err, &gwErr))
			require.Equal(t, tt.wantKind, gwErr.Kind)
			require.Equal(t, tt.wantCode, gwErr.StatusCode)
			require.ErrorIs(t, err, domain.ErrPaymentGatewayError)
		})
	}
}

func TestFetchPayment(t *testing.T) {
	payResp := &payment.Response{
		Status:            "approved",
		StatusDetail:      "accredited",
		ExternalReference: "service_42_1700000000",
		TransactionAmount: 150,
		CurrencyID:        "ARS",
	}
	payResp.Order.ID = "9001"
	payResp.Payer.Email = "ana@example.com"

	pays := &fakePayments{resp: payResp}
	orders := &fakeMerchantOrders{resp: &merchantorder.Response{PreferenceID: "pref-1"}}
	a := newTestAdapter(t, &fakePreferences{}, pays, orders, Options{}, nil)

	info, err := a.FetchPayment(context.Background(), "123456")
	require.NoError(t, err)
	require.Equal(t, "123456", info.PaymentID)
	require.Equal(t, "pref-1", info.PreferenceID)
	require.Equal(t, "approved", info.Status)
	require.Equal(t, "service_42_1700000000", info.ExternalReference)
	require.True(t, decimal.NewFromInt(150).Equal(info.Amount))
	require.Equal(t, "ana@example.com", info.PayerEmail)

	// second fetch re-reads the payment but not the merchant order
	_, err = a.FetchPayment(context.Background(), "123456")
	require.NoError(t, err)
	require.Equal(t, 2, pays.calls)
	require.Equal(t, 1, orders.calls)
}

func TestFetchPaymentInvalidID(t *testing.T) {
	pays := &fakePayments{}
	a := newTestAdapter(t, &fakePreferences{}, pays, &fakeMerchantOrders{}, Options{}, nil)

	_, err := a.FetchPayment(context.Background(), "abc")
	require.ErrorIs(t, err, domain.ErrGatewayPermanent)
	require.Zero(t, pays.calls)
}

func TestFetchPaymentMerchantOrderFailure(t *testing.T) {
	payResp := &payment.Response{Status: "approved"}
	payResp.Order.ID = "9001"
	orders := &fakeMerchantOrders{err: &mperror.ResponseError{StatusCode: http.StatusServiceUnavailable}}
	a := newTestAdapter(t, &fakePreferences{}, &fakePayments{resp: payResp}, orders, Options{}, nil)

	_, err := a.FetchPayment(context.Background(), "123456")
	require.ErrorIs(t, err, domain.ErrGatewayTransient)
}

func TestFetchPaymentWithoutUsableMerchantOrder(t *testing.T) {
	tests := []struct {
		name    string
		orderID string
	}{
		{name: "empty order id", orderID: ""},
		{name: "non numeric order id", orderID: "mo-9001"},
		{name: "zero order id", orderID: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payResp := &payment.Response{Status: "approved", ExternalReference: "service_42_1700000000"}
			payResp.Order.ID = tt.orderID
			orders := &fakeMerchantOrders{resp: &merchantorder.Response{PreferenceID: "pref-1"}}
			a := newTestAdapter(t, &fakePreferences{}, &fakePayments{resp: payResp}, orders, Options{}, nil)

			info, err := a.FetchPayment(context.Background(), "123456")
			require.NoError(t, err)
			require.Empty(t, info.PreferenceID)
			require.Equal(t, "approved", info.Status)
			require.Zero(t, orders.calls)
		})
	}
}

func TestBreakerShortCircuits(t *testing.T) {
	brk := circuit.New("mercadopago", config.BreakerConfig{Threshold: 2, OpenTimeout: time.Hour, MaxHalfOpen: 1}, zaptest.NewLogger(t))
	prefs := &fakePreferences{err: errors.New("connection reset")}
	a := newTestAdapter(t, prefs, &fakePayments{}, &fakeMerchantOrders{}, Options{}, brk)

	for i := 0; i < 2; i++ {
		_, err := a.CreatePreference(context.Background(), preferenceRequest())
		require.ErrorIs(t, err, domain.ErrGatewayTransient)
	}
	require.Equal(t, gobreaker.StateOpen, brk.State())

	prefs.err = nil
	prefs.resp = &preference.Response{ID: "pref-1", InitPoint: "https://mp.test/pref-1"}
	_, err := a.CreatePreference(context.Background(), preferenceRequest())
	require.ErrorIs(t, err, domain.ErrGatewayTransient)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestPermanentErrorsDoNotTripBreaker(t *testing.T) {
	brk := circuit.New("mercadopago", config.BreakerConfig{Threshold: 1, OpenTimeout: time.Hour, MaxHalfOpen: 1}, zaptest.NewLogger(t))
	prefs := &fakePreferences{err: &mperror.ResponseError{StatusCode: http.StatusBadRequest}}
	a := newTestAdapter(t, prefs, &fakePayments{}, &fakeMerchantOrders{}, Options{}, brk)

	_, err := a.CreatePreference(context.Background(), preferenceRequest())
	require.ErrorIs(t, err, domain.ErrGatewayPermanent)
	require.Equal(t, gobreaker.StateClosed, brk.State())
}
