// Package prompt builds the opaque request payloads sent to LLM providers.
// Prompt authoring — the actual regulatory language, scoring rubric, and
// compliance criteria embedded in these templates — is intentionally kept
// out of this codebase's concern: this package only defines the shape of
// the request (which fields go in, in what order). The built-in templates
// are content-free placeholders; literal instructional text is supplied as
// template source through WithTemplate. This package does not read template
// files itself.
package prompt

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/shopcompliance/engine/pkg/model"
)

// Kind identifies which stage a prompt is being built for, so the Builder
// can select the matching template without the caller naming one.
type Kind string

const (
	KindMatchAssist        Kind = "match_assist"
	KindComplianceAnalysis Kind = "compliance_analysis"
	KindPolicyRegeneration Kind = "policy_regeneration"
)

// matchFields is the data passed to the match-assist template.
type matchFields struct {
	ShopName       string
	Specialization string
	PolicyType     model.PolicyType
	PolicyText     string
	RuleConfidence float64
}

// analysisFields is the data passed to the compliance-analysis template.
type analysisFields struct {
	ShopName       string
	Specialization string
	PolicyType     model.PolicyType
	PolicyText     string
}

// regenerationFields is the data passed to the policy-regeneration template.
type regenerationFields struct {
	PolicyType model.PolicyType
	PolicyText string
	Report     *model.ComplianceReport
}

// Builder renders templates loaded at construction time. A default template
// set ships with the binary; operators may override any of the three with
// their own text/template source via WithTemplate.
type Builder struct {
	templates map[Kind]*template.Template
}

// defaultSources are minimal, content-free placeholders: they establish the
// fields each stage's real prompt must reference, not the compliance
// judgment itself, which stays out of this repository by design.
var defaultSources = map[Kind]string{
	KindMatchAssist: `shop={{.ShopName}} specialization={{.Specialization}} ` +
		`policy_type={{.PolicyType}} rule_confidence={{.RuleConfidence}}
{{.PolicyText}}`,
	KindComplianceAnalysis: `shop={{.ShopName}} specialization={{.Specialization}} ` +
		`policy_type={{.PolicyType}}
{{.PolicyText}}`,
	KindPolicyRegeneration: `policy_type={{.PolicyType}} current_ratio={{.Report.OverallComplianceRatio}}
{{.PolicyText}}`,
}

// NewBuilder constructs a Builder from the default template set.
func NewBuilder() (*Builder, error) {
	b := &Builder{templates: make(map[Kind]*template.Template, len(defaultSources))}
	for kind, src := range defaultSources {
		tmpl, err := template.New(string(kind)).Parse(src)
		if err != nil {
			return nil, fmt.Errorf("prompt: parse default template %q: %w", kind, err)
		}
		b.templates[kind] = tmpl
	}
	return b, nil
}

// WithTemplate overrides the template source for one prompt Kind, e.g. to
// load an operator-maintained file from disk at startup.
func (b *Builder) WithTemplate(kind Kind, source string) error {
	tmpl, err := template.New(string(kind)).Parse(source)
	if err != nil {
		return fmt.Errorf("prompt: parse override template %q: %w", kind, err)
	}
	b.templates[kind] = tmpl
	return nil
}

func (b *Builder) render(kind Kind, data any) (string, error) {
	tmpl, ok := b.templates[kind]
	if !ok {
		return "", fmt.Errorf("prompt: no template registered for %q", kind)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompt: render %q: %w", kind, err)
	}
	return buf.String(), nil
}

// MatchAssist builds the stage-1 LLM-assisted match prompt.
func (b *Builder) MatchAssist(input model.SubmissionInput, ruleConfidence float64) (string, error) {
	return b.render(KindMatchAssist, matchFields{
		ShopName:       input.ShopName,
		Specialization: input.ShopSpecialization,
		PolicyType:     input.PolicyType,
		PolicyText:     input.PolicyText,
		RuleConfidence: ruleConfidence,
	})
}

// ComplianceAnalysis builds the stage-2 compliance analysis prompt.
func (b *Builder) ComplianceAnalysis(input model.SubmissionInput) (string, error) {
	return b.render(KindComplianceAnalysis, analysisFields{
		ShopName:       input.ShopName,
		Specialization: input.ShopSpecialization,
		PolicyType:     input.PolicyType,
		PolicyText:     input.PolicyText,
	})
}

// PolicyRegeneration builds the stage-3 policy regeneration prompt.
func (b *Builder) PolicyRegeneration(input model.SubmissionInput, report *model.ComplianceReport) (string, error) {
	return b.render(KindPolicyRegeneration, regenerationFields{
		PolicyType: input.PolicyType,
		PolicyText: input.PolicyText,
		Report:     report,
	})
}
