package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapExternalStatus(t *testing.T) {
	tests := []struct {
		external string
		expected Status
	}{
		{"approved", StatusApproved},
		{"pending", StatusPending},
		{"rejected", StatusRejected},
		{"cancelled", StatusCancelled},
		{"refunded", StatusRefunded},
		{"in_process", StatusPending},
		{"charged_back", StatusPending},
		{"", StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.external, func(t *testing.T) {
			require.Equal(t, tt.expected, MapExternalStatus(tt.external))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	require.False(t, StatusPending.Terminal())
	for _, s := range []Status{StatusApproved, StatusRejected, StatusCancelled, StatusRefunded} {
		require.True(t, s.Terminal(), s)
	}
}

func TestItemTypeValid(t *testing.T) {
	require.True(t, ItemTypeService.Valid())
	require.True(t, ItemTypeSubscriptionPlan.Valid())
	require.False(t, ItemType("product").Valid())
	require.False(t, ItemType("").Valid())
}

func TestGatewayErrorMatching(t *testing.T) {
	transient := NewGatewayError(GatewayTransient, "create_preference", 503, errors.New("boom"))
	wrapped := fmt.Errorf("issue link: %w", transient)

	require.ErrorIs(t, wrapped, ErrPaymentGatewayError)
	require.ErrorIs(t, wrapped, ErrGatewayTransient)
	require.NotErrorIs(t, wrapped, ErrGatewayPermanent)

	var gwErr *GatewayError
	require.True(t, errors.As(wrapped, &gwErr))
	require.True(t, gwErr.Transient())
	require.Equal(t, "create_preference transient gateway error (status 503): boom", gwErr.Error())

	permanent := NewGatewayError(GatewayPermanent, "fetch_payment", 400, nil)
	require.ErrorIs(t, permanent, ErrGatewayPermanent)
	require.False(t, permanent.Transient())
	require.Equal(t, "fetch_payment permanent gateway error (status 400)", permanent.Error())
}

func TestServiceError(t *testing.T) {
	err := NewServiceError(ErrNotFound, "order 42", "ORDER_NOT_FOUND")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, "order 42: order not found", err.Error())

	bare := NewServiceError(ErrPersistence, "", "DB_ERROR")
	require.Equal(t, "persistence error", bare.Error())
}
