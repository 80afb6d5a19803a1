// Package pipeline implements the Stage Pipeline: the ordered, five-stage
// analysis flow, executed on a shared Context value passed by reference
// between stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopcompliance/engine/pkg/model"
	"github.com/shopcompliance/engine/pkg/provider"
)

// TotalStages is the fixed stage count.
// Every run reports progress against this constant regardless of which
// stages actually execute — conditional skips still advance current.
const TotalStages = 5

// Context is the mutable record threaded through every stage. Stage outputs
// are named fields rather than an opaque map// without hidden coupling".
type Context struct {
	Input       model.SubmissionInput
	ContentHash string

	MatchVerdict    model.MatchVerdict
	MatchConfidence float64

	ComplianceReport *model.ComplianceReport
	ImprovedPolicy   *model.ImprovedPolicy

	ShouldExit bool
	ExitResult *model.AnalysisResponse

	FailedStages    []string
	CompletedStages []model.StageOutcome
}

// ProgressFunc is called once per stage slot (run, skip, or final) with the
// 1-based current index and the fixed total. status is an opaque,
// human-readable label for that slot.
type ProgressFunc func(current, total int, status string)

// DegradationLookup resolves the Degradation Store fallback at finalization
// and on required-stage failure.
type DegradationLookup interface {
	Find(ctx context.Context, policyType, contentHash string, out any) error
	Store(ctx context.Context, policyType, contentHash string, result any, ttl time.Duration) error
}

// IdempotencyWriter is the write side of the Idempotency Store used by
// finalization to persist a completed result under its idempotency key.
type IdempotencyWriter interface {
	Store(ctx context.Context, key string, value any, ttl time.Duration) error
}

// stage is the flat, non-polymorphic registry entry: a value
// with {name, required, guard, execute}, not a class hierarchy.
type stage struct {
	name      string
	required  bool
	shouldRun func(*Context) bool
	execute   func(context.Context, *Context) error
}

// Pipeline holds the fixed stage registry plus the reliability-layer
// collaborators every stage may call through.
type Pipeline struct {
	stages []stage

	degradation    DegradationLookup
	idempotency    IdempotencyWriter
	idempotencyTTL time.Duration
	degradationTTL time.Duration
	idempotencyKey string
	logger         *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithIdempotencyTTL overrides the default 24h idempotency retention.
func WithIdempotencyTTL(d time.Duration) Option {
	return func(p *Pipeline) { p.idempotencyTTL = d }
}

// WithDegradationTTL overrides the default 7d degradation retention.
func WithDegradationTTL(d time.Duration) Option {
	return func(p *Pipeline) { p.degradationTTL = d }
}

const (
	defaultIdempotencyTTL = 24 * time.Hour
	defaultDegradationTTL = 7 * 24 * time.Hour
)

// New builds the five-stage pipeline wired to the given collaborators.
// idempotencyKey is the job's precomputed C1 key, used by finalization's
// write to the Idempotency Store.
func New(manager *provider.Manager, degradation DegradationLookup, idempotency IdempotencyWriter, idempotencyKey string, complianceThreshold, uncertaintyLow, uncertaintyHigh float64, opts ...Option) *Pipeline {
	p := &Pipeline{
		degradation:    degradation,
		idempotency:    idempotency,
		idempotencyKey: idempotencyKey,
		idempotencyTTL: defaultIdempotencyTTL,
		degradationTTL: defaultDegradationTTL,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.stages = p.buildStages(manager, complianceThreshold, uncertaintyLow, uncertaintyHigh)
	return p
}

// Run executes the stage pipeline to completion, emitting one progress call
// per stage slot and returning either a completed result or a classified
// failure. A non-nil error always carries a *model.ErrorRecord.
func (p *Pipeline) Run(ctx context.Context, pctx *Context, onProgress ProgressFunc) (*model.AnalysisResponse, error) {
	for i, s := range p.stages {
		current := i + 1

		if pctx.ShouldExit {
			onProgress(current, TotalStages, "skipped: "+s.name)
			continue
		}

		if err := ctx.Err(); err != nil {
			kind := model.ErrorKindCancelled
			message := "job cancelled before stage " + s.name
			if errors.Is(err, context.DeadlineExceeded) {
				kind = model.ErrorKindTimeout
				message = "hard deadline exceeded before stage " + s.name
				if fallback, ok := p.tryFallback(ctx, pctx); ok {
					pctx.ExitResult = fallback
					pctx.ShouldExit = true
					onProgress(current, TotalStages, "degraded: "+s.name)
					continue
				}
			}
			return nil, &model.ErrorRecord{
				Kind:            kind,
				Message:         message,
				CompletedStages: stageNames(pctx.CompletedStages),
				FailedStage:     s.name,
			}
		}

		if !s.shouldRun(pctx) {
			onProgress(current, TotalStages, "skipped: "+s.name)
			pctx.CompletedStages = append(pctx.CompletedStages, model.StageOutcome{Name: s.name, Outcome: "skipped"})
			continue
		}

		onProgress(current, TotalStages, "running: "+s.name)

		start := time.Now()
		err := s.execute(ctx, pctx)
		duration := time.Since(start)

		if err != nil {
			record, fatal := p.handleStageFailure(ctx, s, err, pctx)
			if fatal {
				return nil, record
			}
			// The error was absorbed: the stage is optional, or a required
			// stage's fallback result set ShouldExit. Continue to the next stage.
			pctx.FailedStages = append(pctx.FailedStages, s.name)
			pctx.CompletedStages = append(pctx.CompletedStages, model.StageOutcome{Name: s.name, Outcome: "failed", Duration: duration})
			continue
		}

		pctx.CompletedStages = append(pctx.CompletedStages, model.StageOutcome{Name: s.name, Outcome: "ok", Duration: duration})
	}

	onProgress(TotalStages, TotalStages, "completed")

	if !pctx.ShouldExit {
		// Finalization is required and always runs; it either sets
		// ShouldExit itself or its failure is handled above. Reaching this
		// with no exit result means the stage registry is misconfigured.
		return nil, &model.ErrorRecord{
			Kind:            model.ErrorKindMissingData,
			Message:         "pipeline completed without a terminal result",
			CompletedStages: stageNames(pctx.CompletedStages),
		}
	}

	return pctx.ExitResult, nil
}

// handleStageFailure classifies a stage error and, for required stages,
// attempts graceful degradation before giving up. A missing_data
// classification always fails the job outright — a missing required
// sub-result at finalization must never be reported as success, including
// via the fallback path. Returns (record, true) when the job must fail;
// (nil, false) when the error was absorbed, either because the stage is
// optional or because a degradation fallback result was found (it is then
// in pctx.ExitResult and pctx.ShouldExit is set).
func (p *Pipeline) handleStageFailure(ctx context.Context, s stage, err error, pctx *Context) (*model.ErrorRecord, bool) {
	classification := provider.Classify(err.Error())
	p.logger.Warn("stage failed", "stage", s.name, "required", s.required, "kind", classification.Kind, "error", err)

	if !s.required {
		return nil, false
	}

	if classification.Kind != model.ErrorKindMissingData {
		if fallback, ok := p.tryFallback(ctx, pctx); ok {
			pctx.ExitResult = fallback
			pctx.ShouldExit = true
			return nil, false
		}
	}

	return &model.ErrorRecord{
		Kind:            classification.Kind,
		Message:         fmt.Sprintf("stage %q failed: %v", s.name, err),
		CompletedStages: stageNames(pctx.CompletedStages),
		FailedStage:     s.name,
	}, true
}

// tryFallback looks up the Degradation Store by (policy_type, content_hash)
// and, on a hit, wraps the cached result as a terminal success annotated
// "served from fallback".
func (p *Pipeline) tryFallback(ctx context.Context, pctx *Context) (*model.AnalysisResponse, bool) {
	if p.degradation == nil {
		return nil, false
	}
	var cached model.AnalysisResponse
	err := p.degradation.Find(ctx, string(pctx.Input.PolicyType), pctx.ContentHash, &cached)
	if err != nil {
		return nil, false
	}
	cached.ServedFromFallback = true
	cached.Success = true
	return &cached, true
}

// finalizeAndPersist is stage 4's execute function: it assembles the
// AnalysisResponse, persists it to both the Idempotency Store and the
// Degradation Store, and sets pctx.ExitResult/ShouldExit on success. A
// missing required sub-result here is reported as a missing_data error
// rather than a silent success — the caller (handleStageFailure) refuses
// to apply the fallback path to that kind.
func (p *Pipeline) finalizeAndPersist(ctx context.Context, pctx *Context) error {
	if pctx.ComplianceReport == nil {
		return &model.ErrorRecord{
			Kind:    model.ErrorKindMissingData,
			Message: "compliance report missing at finalization",
		}
	}

	result := &model.AnalysisResponse{
		Success:          true,
		MatchVerdict:     pctx.MatchVerdict,
		MatchConfidence:  pctx.MatchConfidence,
		ComplianceReport: pctx.ComplianceReport,
		ImprovedPolicy:   pctx.ImprovedPolicy,
		FailedStages:     pctx.FailedStages,
	}

	if p.idempotency != nil {
		if err := p.idempotency.Store(ctx, p.idempotencyKey, result, p.idempotencyTTL); err != nil {
			p.logger.Error("failed to persist idempotency record", "error", err)
		}
	}
	if p.degradation != nil {
		if err := p.degradation.Store(ctx, string(pctx.Input.PolicyType), pctx.ContentHash, result, p.degradationTTL); err != nil {
			p.logger.Error("failed to persist degradation record", "error", err)
		}
	}

	pctx.ExitResult = result
	pctx.ShouldExit = true
	return nil
}

func stageNames(outcomes []model.StageOutcome) []string {
	names := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		names = append(names, o.Name)
	}
	return names
}
