// Package validation implements the Input Validator: the synchronous
// pre-pipeline gate. A failure here terminates the job immediately with
// failure kind "validation" — no stage ever runs.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopcompliance/engine/pkg/model"
)

const (
	minPolicyTextLength = 50
	maxPolicyTextLength = 50000
	minNameLength       = 2
	spamFrequencyCap    = 0.30
)

// Category is the closed enumeration of validation failure categories
//.
type Category string

const (
	CategoryLengthError    Category = "length_error"
	CategoryForbiddenMatch Category = "forbidden_pattern"
	CategorySpam           Category = "spam"
	CategoryMetadataError  Category = "metadata_error"
)

// Error is the structured object returned for every validation failure.
type Error struct {
	Category   Category `json:"category"`
	Message    string   `json:"message"`
	Details    string   `json:"details"`
	UserAction string   `json:"user_action"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Category, e.Message)
}

// forbiddenPatterns flags common injection markers disguised as policy text.
// Matching is case-insensitive against the raw (non-normalized) text.
var forbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)data:text/html`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)\{\{.*system\s*prompt.*\}\}`),
	regexp.MustCompile(`(?i)ignore (all )?(previous|prior) instructions`),
}

var wordSplitter = regexp.MustCompile(`\s+`)

// Validate runs every check in a fixed order and returns the first failure
// encountered. A nil return means the job may proceed to the stage
// pipeline.
func Validate(input model.SubmissionInput) *Error {
	if err := checkLength(input.PolicyText); err != nil {
		return err
	}
	if err := checkForbiddenPatterns(input.PolicyText); err != nil {
		return err
	}
	if err := checkSpam(input.PolicyText); err != nil {
		return err
	}
	if err := checkMetadata(input.ShopName, input.ShopSpecialization); err != nil {
		return err
	}
	return nil
}

func checkLength(text string) *Error {
	n := len(text)
	if n < minPolicyTextLength {
		return &Error{
			Category:   CategoryLengthError,
			Message:    "policy text is too short",
			Details:    fmt.Sprintf("got %d characters, minimum is %d", n, minPolicyTextLength),
			UserAction: "provide a more complete policy document",
		}
	}
	if n > maxPolicyTextLength {
		return &Error{
			Category:   CategoryLengthError,
			Message:    "policy text is too long",
			Details:    fmt.Sprintf("got %d characters, maximum is %d", n, maxPolicyTextLength),
			UserAction: "submit an excerpt or split the policy into sections",
		}
	}
	return nil
}

func checkForbiddenPatterns(text string) *Error {
	for _, pattern := range forbiddenPatterns {
		if pattern.MatchString(text) {
			return &Error{
				Category:   CategoryForbiddenMatch,
				Message:    "policy text contains a forbidden pattern",
				Details:    fmt.Sprintf("matched pattern: %s", pattern.String()),
				UserAction: "remove embedded scripts, links, or instruction-like text",
			}
		}
	}
	return nil
}

// checkSpam rejects text where any single word's share of the total word
// count exceeds spamFrequencyCap.
func checkSpam(text string) *Error {
	words := wordSplitter.Split(strings.TrimSpace(text), -1)
	total := 0
	counts := make(map[string]int)
	for _, w := range words {
		w = strings.ToLower(strings.Trim(w, ".,;:!?\"'()"))
		if w == "" {
			continue
		}
		total++
		counts[w]++
	}
	if total == 0 {
		return nil
	}
	for word, count := range counts {
		ratio := float64(count) / float64(total)
		if ratio > spamFrequencyCap {
			return &Error{
				Category:   CategorySpam,
				Message:    "policy text appears to be spam",
				Details:    fmt.Sprintf("word %q makes up %.0f%% of the text", word, ratio*100),
				UserAction: "submit natural policy prose rather than repeated text",
			}
		}
	}
	return nil
}

func checkMetadata(shopName, specialization string) *Error {
	if len(strings.TrimSpace(shopName)) < minNameLength {
		return &Error{
			Category:   CategoryMetadataError,
			Message:    "shop name is too short",
			Details:    fmt.Sprintf("minimum length after trimming is %d", minNameLength),
			UserAction: "provide the full shop name",
		}
	}
	if len(strings.TrimSpace(specialization)) < minNameLength {
		return &Error{
			Category:   CategoryMetadataError,
			Message:    "specialization is too short",
			Details:    fmt.Sprintf("minimum length after trimming is %d", minNameLength),
			UserAction: "describe the shop's specialization",
		}
	}
	return nil
}
