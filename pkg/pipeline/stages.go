package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopcompliance/engine/pkg/model"
	"github.com/shopcompliance/engine/pkg/prompt"
	"github.com/shopcompliance/engine/pkg/provider"
	"github.com/shopcompliance/engine/pkg/rules"
)

const (
	stageNameRuleMatch      = "rule_based_match"
	stageNameLLMMatch       = "llm_assisted_match"
	stageNameComplianceScan = "compliance_analysis"
	stageNameRegeneration   = "policy_regeneration"
	stageNameFinalization   = "finalization"
)

// estimatedTokensPerCall is a conservative fixed estimate passed to the
// Quota Tracker ahead of the actual usage figure a provider call reports.
const estimatedTokensPerCall = 2000

// matchAssistResponse is the JSON shape every LLM-assisted-match provider
// adapter is expected to return.
type matchAssistResponse struct {
	MatchVerdict model.MatchVerdict `json:"match_verdict"`
	Confidence   float64            `json:"confidence"`
}

// buildStages assembles the fixed five-stage registry. Each
// stage's shouldRun/execute closure captures only what it needs, keeping the
// pipeline a flat value-based registry rather than a class hierarchy.
func (p *Pipeline) buildStages(manager *provider.Manager, complianceThreshold, uncertaintyLow, uncertaintyHigh float64) []stage {
	builder, err := prompt.NewBuilder()
	if err != nil {
		// The default template set is a package-level constant; a parse
		// failure here means the binary itself is broken, not the request.
		panic(fmt.Sprintf("pipeline: default prompt templates failed to parse: %v", err))
	}

	return []stage{
		{
			name:      stageNameRuleMatch,
			required:  true,
			shouldRun: func(*Context) bool { return true },
			execute:   p.executeRuleMatch,
		},
		{
			name:     stageNameLLMMatch,
			required: false,
			shouldRun: func(c *Context) bool {
				return c.MatchConfidence > uncertaintyLow && c.MatchConfidence < uncertaintyHigh
			},
			execute: p.executeLLMMatch(manager, builder),
		},
		{
			name:      stageNameComplianceScan,
			required:  true,
			shouldRun: func(*Context) bool { return true },
			execute:   p.executeComplianceAnalysis(manager, builder),
		},
		{
			name:     stageNameRegeneration,
			required: false,
			shouldRun: func(c *Context) bool {
				return c.ComplianceReport != nil && c.ComplianceReport.OverallComplianceRatio < complianceThreshold
			},
			execute: p.executePolicyRegeneration(manager, builder),
		},
		{
			name:      stageNameFinalization,
			required:  true,
			shouldRun: func(*Context) bool { return true },
			execute:   func(ctx context.Context, c *Context) error { return p.finalizeAndPersist(ctx, c) },
		},
	}
}

// nonComplianceTerminal builds the terminal result for a confirmed
// rule-based or LLM-assisted mismatch: stages 0-1 set ShouldExit with a
// non-compliance terminal result. A completed job always carries a
// compliance report, so a mismatch is reported as a zero-ratio, grade-F
// report rather than a nil one: the text was never actually scored against
// the policy type, and zero is the floor of the valid ratio range.
func nonComplianceTerminal(verdict model.MatchVerdict, confidence float64) *model.AnalysisResponse {
	return &model.AnalysisResponse{
		Success:         true,
		MatchVerdict:    verdict,
		MatchConfidence: confidence,
		ComplianceReport: &model.ComplianceReport{
			OverallComplianceRatio: 0,
			ComplianceGrade:        model.GradeF,
			Summary:                "submitted text did not match the requested policy type; compliance analysis was not performed",
		},
	}
}

// executeRuleMatch is stage 0: deterministic keyword-based matching against
// the fixed rule catalog, with no LLM call.
func (p *Pipeline) executeRuleMatch(_ context.Context, c *Context) error {
	verdict := rules.Match(c.Input.PolicyType, c.Input.PolicyText)
	c.MatchVerdict = verdict.MatchVerdict
	c.MatchConfidence = verdict.Confidence

	if verdict.MatchVerdict == model.MatchVerdictMismatch {
		c.ExitResult = nonComplianceTerminal(verdict.MatchVerdict, verdict.Confidence)
		c.ShouldExit = true
	}
	return nil
}

// executeLLMMatch is stage 1: only dispatched when stage 0 lands in the
// uncertainty band. Refines the verdict using a single provider call.
func (p *Pipeline) executeLLMMatch(manager *provider.Manager, builder *prompt.Builder) func(context.Context, *Context) error {
	return func(ctx context.Context, c *Context) error {
		req, err := builder.MatchAssist(c.Input, c.MatchConfidence)
		if err != nil {
			return fmt.Errorf("llm match stage: build prompt: %w", err)
		}

		resp, err := manager.Call(ctx, provider.Request{Prompt: req, EstimatedTokens: estimatedTokensPerCall})
		if err != nil {
			return fmt.Errorf("llm match stage: provider call: %w", err)
		}

		var parsed matchAssistResponse
		if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
			return fmt.Errorf("llm match stage: parse provider response: %w", err)
		}

		c.MatchVerdict = parsed.MatchVerdict
		c.MatchConfidence = parsed.Confidence

		if parsed.MatchVerdict == model.MatchVerdictMismatch {
			c.ExitResult = nonComplianceTerminal(parsed.MatchVerdict, parsed.Confidence)
			c.ShouldExit = true
		}
		return nil
	}
}

// executeComplianceAnalysis is stage 2: the primary LLM-driven assessment.
// Required; MUST populate overall_compliance_ratio.
func (p *Pipeline) executeComplianceAnalysis(manager *provider.Manager, builder *prompt.Builder) func(context.Context, *Context) error {
	return func(ctx context.Context, c *Context) error {
		req, err := builder.ComplianceAnalysis(c.Input)
		if err != nil {
			return fmt.Errorf("compliance analysis stage: build prompt: %w", err)
		}

		resp, err := manager.Call(ctx, provider.Request{Prompt: req, EstimatedTokens: estimatedTokensPerCall})
		if err != nil {
			return fmt.Errorf("compliance analysis stage: provider call: %w", err)
		}

		var report model.ComplianceReport
		if err := json.Unmarshal([]byte(resp.Text), &report); err != nil {
			return fmt.Errorf("compliance analysis stage: parse provider response: %w", err)
		}

		if report.OverallComplianceRatio < 0 {
			report.OverallComplianceRatio = 0
		}
		if report.OverallComplianceRatio > 100 {
			report.OverallComplianceRatio = 100
		}

		c.ComplianceReport = &report
		return nil
	}
}

// executePolicyRegeneration is stage 3: only dispatched when the compliance
// ratio falls below the configured threshold.
func (p *Pipeline) executePolicyRegeneration(manager *provider.Manager, builder *prompt.Builder) func(context.Context, *Context) error {
	return func(ctx context.Context, c *Context) error {
		req, err := builder.PolicyRegeneration(c.Input, c.ComplianceReport)
		if err != nil {
			return fmt.Errorf("policy regeneration stage: build prompt: %w", err)
		}

		resp, err := manager.Call(ctx, provider.Request{Prompt: req, EstimatedTokens: estimatedTokensPerCall})
		if err != nil {
			return fmt.Errorf("policy regeneration stage: provider call: %w", err)
		}

		var improved model.ImprovedPolicy
		if err := json.Unmarshal([]byte(resp.Text), &improved); err != nil {
			return fmt.Errorf("policy regeneration stage: parse provider response: %w", err)
		}

		c.ImprovedPolicy = &improved
		return nil
	}
}
