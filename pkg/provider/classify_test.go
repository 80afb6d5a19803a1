package provider

import (
	"testing"

	"github.com/shopcompliance/engine/pkg/model"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		wantKind      model.ErrorKind
		wantRetryable bool
	}{
		{"quota rate limit", "429 Too Many Requests", model.ErrorKindQuotaExceeded, false},
		{"quota explicit", "Quota exceeded for this month", model.ErrorKindQuotaExceeded, false},
		{"auth unauthorized", "401 Unauthorized: invalid API key", model.ErrorKindAuthentication, false},
		{"timeout context", "context deadline exceeded", model.ErrorKindTimeout, true},
		{"network refused", "dial tcp: connection refused", model.ErrorKindNetwork, true},
		{"server 503", "503 Service Unavailable", model.ErrorKindServerError, true},
		{"missing data", "resource not found", model.ErrorKindMissingData, false},
		{"unknown", "the goose has escaped", model.ErrorKindUnknown, false},
		{"case insensitive", "TIMEOUT WHILE WAITING", model.ErrorKindTimeout, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.raw)
			require.Equal(t, tt.wantKind, got.Kind)
			require.Equal(t, tt.wantRetryable, got.Retryable)
		})
	}
}

func TestClassification_RegistryReason(t *testing.T) {
	require.Equal(t, FailureReasonServerError, Classification{Kind: model.ErrorKindServerError}.RegistryReason())
	require.Equal(t, FailureReasonQuota, Classification{Kind: model.ErrorKindQuotaExceeded}.RegistryReason())
	require.Equal(t, FailureReasonOther, Classification{Kind: model.ErrorKindMissingData}.RegistryReason())
}
