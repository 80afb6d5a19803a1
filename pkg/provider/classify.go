package provider

import (
	"strings"

	"github.com/shopcompliance/engine/pkg/model"
)

// Classification is the result of classifying a raw provider error against
// the fixed taxonomy shared with model.ErrorKind, so the Job Supervisor can
// surface it verbatim.
type Classification struct {
	Kind      model.ErrorKind
	Retryable bool
}

// classifyRule is one entry of the substring match table, checked in order.
type classifyRule struct {
	kind      model.ErrorKind
	substring string
}

// classifyTable is ordered most-specific first; the first match wins. All
// matching is against a lower-cased, whitespace-trimmed copy of the raw error.
var classifyTable = []classifyRule{
	{model.ErrorKindQuotaExceeded, "rate limit"},
	{model.ErrorKindQuotaExceeded, "quota"},
	{model.ErrorKindQuotaExceeded, "too many requests"},
	{model.ErrorKindQuotaExceeded, "429"},
	{model.ErrorKindAuthentication, "unauthorized"},
	{model.ErrorKindAuthentication, "forbidden"},
	{model.ErrorKindAuthentication, "invalid api key"},
	{model.ErrorKindAuthentication, "401"},
	{model.ErrorKindAuthentication, "403"},
	{model.ErrorKindTimeout, "deadline exceeded"},
	{model.ErrorKindTimeout, "context deadline"},
	{model.ErrorKindTimeout, "timed out"},
	{model.ErrorKindTimeout, "timeout"},
	{model.ErrorKindNetwork, "connection refused"},
	{model.ErrorKindNetwork, "connection reset"},
	{model.ErrorKindNetwork, "no such host"},
	{model.ErrorKindNetwork, "eof"},
	{model.ErrorKindNetwork, "network"},
	{model.ErrorKindServerError, "internal server error"},
	{model.ErrorKindServerError, "bad gateway"},
	{model.ErrorKindServerError, "service unavailable"},
	{model.ErrorKindServerError, "gateway timeout"},
	{model.ErrorKindServerError, "500"},
	{model.ErrorKindServerError, "502"},
	{model.ErrorKindServerError, "503"},
	{model.ErrorKindServerError, "504"},
	{model.ErrorKindMissingData, "missing"},
	{model.ErrorKindMissingData, "not found"},
}

// Classify maps a raw error to the closed taxonomy via an ordered
// substring table over the normalized (lower-cased) error text.
func Classify(raw string) Classification {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	for _, rule := range classifyTable {
		if strings.Contains(normalized, rule.substring) {
			return Classification{Kind: rule.kind, Retryable: rule.kind.Retryable()}
		}
	}
	return Classification{Kind: model.ErrorKindUnknown, Retryable: model.ErrorKindUnknown.Retryable()}
}

// RegistryReason maps a Classification to the FailureReason vocabulary the
// Provider Registry's blacklist logic understands.
func (c Classification) RegistryReason() FailureReason {
	switch c.Kind {
	case model.ErrorKindServerError:
		return FailureReasonServerError
	case model.ErrorKindTimeout:
		return FailureReasonTimeout
	case model.ErrorKindNetwork:
		return FailureReasonNetwork
	case model.ErrorKindQuotaExceeded:
		return FailureReasonQuota
	case model.ErrorKindAuthentication:
		return FailureReasonAuth
	default:
		return FailureReasonOther
	}
}
