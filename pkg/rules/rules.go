// Package rules implements the fixed body of regulatory rules that stage 0
// of the pipeline (rule-based policy match) checks a submission against
// before any LLM call is made.
package rules

import (
	"regexp"
	"strings"

	"github.com/shopcompliance/engine/pkg/model"
)

// Verdict is stage 0's raw output before it is wrapped into a model.MatchVerdict.
type Verdict struct {
	MatchVerdict model.MatchVerdict
	Confidence   float64
	Matched      []string // rule IDs that fired
	Missing      []string // rule IDs expected for this policy type but absent
}

// Rule is one keyword-presence check scoped to a policy type. A policy must
// satisfy at least one rule in its category to be considered on-topic at all.
type Rule struct {
	ID         string
	PolicyType model.PolicyType
	Pattern    *regexp.Regexp
	Weight     float64
}

// catalog is the fixed, versioned rule set. Rule text deliberately stays
// generic (keyword presence, not legal language) — the LLM stages carry the
// substantive compliance judgment; this stage only separates clearly
// off-topic submissions from plausible ones.
var catalog = []Rule{
	{"returns.window", model.PolicyTypeReturns, regexp.MustCompile(`(?i)\b(return|refund)\b.{0,40}\b(day|week|month)s?\b`), 0.4},
	{"returns.condition", model.PolicyTypeReturns, regexp.MustCompile(`(?i)\b(original|unused|unopened|condition)\b`), 0.3},
	{"returns.process", model.PolicyTypeReturns, regexp.MustCompile(`(?i)\b(receipt|proof of purchase|return\s*form)\b`), 0.3},

	{"warranty.duration", model.PolicyTypeWarranty, regexp.MustCompile(`(?i)\bwarrant(y|ies)\b.{0,60}\b(day|week|month|year)s?\b|\b(day|week|month|year)s?\b.{0,60}\bwarrant(y|ies)\b`), 0.5},
	{"warranty.coverage", model.PolicyTypeWarranty, regexp.MustCompile(`(?i)\b(defects?|malfunctions?|covers?|coverage|covered)\b`), 0.5},

	{"privacy.data", model.PolicyTypePrivacy, regexp.MustCompile(`(?i)\b(personal (data|information)|data (we|is) collect)\b`), 0.5},
	{"privacy.rights", model.PolicyTypePrivacy, regexp.MustCompile(`(?i)\b(opt[- ]out|delete your data|access your data|gdpr|ccpa)\b`), 0.5},

	{"shipping.carrier", model.PolicyTypeShipping, regexp.MustCompile(`(?i)\b(ship(ping|ment)?|carrier|delivery)\b`), 0.5},
	{"shipping.timeline", model.PolicyTypeShipping, regexp.MustCompile(`(?i)\b(business day|day|week)s?\b.{0,30}\b(deliver|arrive|ship)`), 0.5},

	{"cancellation.window", model.PolicyTypeCancellation, regexp.MustCompile(`(?i)\bcancel(lation)?\b.{0,40}\b(day|hour|before)\b`), 0.5},
	{"cancellation.fee", model.PolicyTypeCancellation, regexp.MustCompile(`(?i)\b(fee|penalty|charge)\b`), 0.5},

	{"general.policy", model.PolicyTypeGeneral, regexp.MustCompile(`(?i)\b(polic(y|ies)|terms|agreement)\b`), 1.0},
}

// Match runs the fixed rule catalog against policyText for the given
// PolicyType, producing stage 0's verdict and confidence. Confidence is the
// sum of matched rule weights for that policy type, clamped to [0, 1].
func Match(policyType model.PolicyType, policyText string) Verdict {
	normalized := strings.ToLower(policyText)

	var matched, missing []string
	var score float64
	for _, r := range catalog {
		if r.PolicyType != policyType {
			continue
		}
		if r.Pattern.MatchString(normalized) {
			matched = append(matched, r.ID)
			score += r.Weight
		} else {
			missing = append(missing, r.ID)
		}
	}
	if score > 1.0 {
		score = 1.0
	}

	return Verdict{
		MatchVerdict: verdictFromScore(score),
		Confidence:   score,
		Matched:      matched,
		Missing:      missing,
	}
}

// verdictFromScore applies the uncertainty band: scores in (0.30, 0.70)
// are unsure and escalate to stage 1; outside that band the rule-based
// signal alone is considered decisive.
func verdictFromScore(score float64) model.MatchVerdict {
	switch {
	case score >= 0.70:
		return model.MatchVerdictMatch
	case score <= 0.30:
		return model.MatchVerdictMismatch
	default:
		return model.MatchVerdictUnsure
	}
}
