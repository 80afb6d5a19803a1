package fingerprint

import (
	"testing"

	"github.com/shopcompliance/engine/pkg/model"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "lowercase", input: "Returns WITHIN 30 Days", expected: "returns within 30 days"},
		{name: "collapse whitespace", input: "returns\t\twithin\n\n30 days", expected: "returns within 30 days"},
		{name: "trim", input: "   hello   ", expected: "hello"},
		{name: "empty string", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestIdempotencyKey_Stable(t *testing.T) {
	in := model.SubmissionInput{
		ShopName:           "Acme Electronics",
		ShopSpecialization: "Electronics",
		PolicyType:         model.PolicyTypeReturns,
		PolicyText:         "Returns accepted within 30 days of purchase.",
	}

	k1 := IdempotencyKey(in)
	k2 := IdempotencyKey(in)
	assert.Equal(t, k1, k2, "idempotency key must be stable across calls")
	assert.Len(t, k1, 64, "sha256 hex digest is 64 chars")
}

func TestIdempotencyKey_NormalizationInsensitive(t *testing.T) {
	a := model.SubmissionInput{
		ShopName:           "Acme",
		ShopSpecialization: "Electronics",
		PolicyType:         model.PolicyTypeReturns,
		PolicyText:         "Returns accepted within 30 days.",
	}
	b := model.SubmissionInput{
		ShopName:           "  ACME  ",
		ShopSpecialization: "electronics",
		PolicyType:         model.PolicyTypeReturns,
		PolicyText:         "returns   accepted within   30 days.",
	}

	assert.Equal(t, IdempotencyKey(a), IdempotencyKey(b))
}

func TestIdempotencyKey_DifferentInputsDifferentKeys(t *testing.T) {
	a := model.SubmissionInput{ShopName: "Acme", ShopSpecialization: "Electronics", PolicyType: model.PolicyTypeReturns, PolicyText: "x"}
	b := model.SubmissionInput{ShopName: "Acme", ShopSpecialization: "Electronics", PolicyType: model.PolicyTypeWarranty, PolicyText: "x"}

	assert.NotEqual(t, IdempotencyKey(a), IdempotencyKey(b))
}

func TestContentHash_IndependentOfShop(t *testing.T) {
	text := "Returns accepted within 30 days of purchase."
	h1 := ContentHash(text)
	h2 := ContentHash("  RETURNS accepted   within 30 days of purchase.  ")
	assert.Equal(t, h1, h2)
}
