package mercadopago

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateSignature(t *testing.T) {
	const secret = "whsec"
	v := NewWebhookValidator()

	valid := Sign("id:123456;request-id:req-1;ts:1700000000;", secret)

	tests := []struct {
		name      string
		signature string
		requestID string
		dataID    string
		secret    string
		want      bool
	}{
		{"valid", "ts=1700000000,v1=" + valid, "req-1", "123456", secret, true},
		{"valid with spaces", "ts=1700000000, v1=" + valid, "req-1", "123456", secret, true},
		{"wrong data id", "ts=1700000000,v1=" + valid, "req-1", "999", secret, false},
		{"wrong secret", "ts=1700000000,v1=" + valid, "req-1", "123456", "other", false},
		{"missing v1", "ts=1700000000", "req-1", "123456", secret, false},
		{"empty header", "", "req-1", "123456", secret, false},
		{"empty secret", "ts=1700000000,v1=" + valid, "req-1", "123456", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, v.ValidateSignature(tt.signature, tt.requestID, tt.dataID, tt.secret))
		})
	}
}

func TestValidateSignatureLowercasesDataID(t *testing.T) {
	sig := Sign("id:abc123;ts:1700000000;", "s")
	require.True(t, NewWebhookValidator().ValidateSignature("ts=1700000000,v1="+sig, "", "ABC123", "s"))
}

func TestBuildManifestSkipsEmptyParts(t *testing.T) {
	require.Equal(t, "id:1;ts:2;", buildManifest("1", "", "2"))
	require.Equal(t, "", buildManifest("", "", ""))
}
