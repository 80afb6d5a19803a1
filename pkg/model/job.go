// Package model holds the shared data types passed between the job
// supervisor, the stage pipeline, the reliability layer, and the HTTP API.
package model

import "time"

// PolicyType enumerates the shop policy categories the engine understands.
type PolicyType string

const (
	PolicyTypeReturns      PolicyType = "returns"
	PolicyTypeWarranty     PolicyType = "warranty"
	PolicyTypePrivacy      PolicyType = "privacy"
	PolicyTypeShipping     PolicyType = "shipping"
	PolicyTypeCancellation PolicyType = "cancellation"
	PolicyTypeGeneral      PolicyType = "general"
)

// ValidPolicyTypes lists every PolicyType the validator and rule matcher accept.
var ValidPolicyTypes = []PolicyType{
	PolicyTypeReturns,
	PolicyTypeWarranty,
	PolicyTypePrivacy,
	PolicyTypeShipping,
	PolicyTypeCancellation,
	PolicyTypeGeneral,
}

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// SubmissionInput is the caller-supplied payload for an analysis request.
type SubmissionInput struct {
	ShopName           string     `json:"shop_name" validate:"required"`
	ShopSpecialization string     `json:"shop_specialization" validate:"required"`
	PolicyType         PolicyType `json:"policy_type" validate:"required"`
	PolicyText         string     `json:"policy_text" validate:"required"`
}

// Job is the mutable record tracked from acceptance through termination.
type Job struct {
	JobID           string
	Inputs          SubmissionInput
	IdempotencyKey  string
	ContentHash     string
	Status          JobStatus
	CurrentStage    int
	TotalStages     int
	ProgressMessage string
	CompletedStages []StageOutcome
	Result          *AnalysisResponse
	Error           *ErrorRecord
	RetryCount      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// StageOutcome records the terminal disposition of a single stage run,
// independent of StageResult which is the richer in-flight bookkeeping.
type StageOutcome struct {
	Name     string        `json:"name"`
	Outcome  string        `json:"outcome"` // ok | skipped | failed
	Duration time.Duration `json:"duration"`
}

// Severity is the bounded enum used by ComplianceReport issue lists.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// IssueEntry is one line item in a ComplianceReport list.
type IssueEntry struct {
	Phrase     string   `json:"phrase"`
	Severity   Severity `json:"severity"`
	Suggestion string   `json:"suggestion,omitempty"`
	Reference  string   `json:"reference,omitempty"`
}

// ComplianceGrade is a coarse letter grade derived from the ratio.
type ComplianceGrade string

const (
	GradeA ComplianceGrade = "A"
	GradeB ComplianceGrade = "B"
	GradeC ComplianceGrade = "C"
	GradeD ComplianceGrade = "D"
	GradeF ComplianceGrade = "F"
)

// ComplianceReport is produced by stage 2.
type ComplianceReport struct {
	OverallComplianceRatio float64         `json:"overall_compliance_ratio"`
	ComplianceGrade        ComplianceGrade `json:"compliance_grade"`
	Summary                string          `json:"summary"`
	CriticalIssues         []IssueEntry    `json:"critical_issues"`
	Weaknesses             []IssueEntry    `json:"weaknesses"`
	Strengths              []IssueEntry    `json:"strengths"`
	Ambiguities            []IssueEntry    `json:"ambiguities"`
	Recommendations        []IssueEntry    `json:"recommendations"`
}

// ImprovedPolicy is produced by stage 3 only when the ratio falls below tau.
type ImprovedPolicy struct {
	ImprovedPolicyText     string   `json:"improved_policy"`
	ImprovementsMade       []string `json:"improvements_made"`
	EstimatedNewCompliance float64  `json:"estimated_new_compliance"`
}

// MatchVerdict is stage 0/1's output.
type MatchVerdict string

const (
	MatchVerdictMatch    MatchVerdict = "match"
	MatchVerdictMismatch MatchVerdict = "mismatch"
	MatchVerdictUnsure   MatchVerdict = "unsure"
)

// AnalysisResponse is the assembled result written by the finalization stage.
type AnalysisResponse struct {
	Success            bool              `json:"success"`
	MatchVerdict       MatchVerdict      `json:"match_verdict"`
	MatchConfidence    float64           `json:"match_confidence"`
	ComplianceReport   *ComplianceReport `json:"compliance_report,omitempty"`
	ImprovedPolicy     *ImprovedPolicy   `json:"improved_policy,omitempty"`
	FailedStages       []string          `json:"failed_stages,omitempty"`
	ServedFromFallback bool              `json:"served_from_fallback,omitempty"`
	FromCache          bool              `json:"from_cache,omitempty"`
}

// ErrorKind is the fixed error taxonomy.
type ErrorKind string

const (
	ErrorKindValidation     ErrorKind = "validation"
	ErrorKindQuotaExceeded  ErrorKind = "quota_exceeded"
	ErrorKindTimeout        ErrorKind = "timeout"
	ErrorKindAuthentication ErrorKind = "authentication"
	ErrorKindServerError    ErrorKind = "server_error"
	ErrorKindNetwork        ErrorKind = "network"
	ErrorKindMissingData    ErrorKind = "missing_data"
	ErrorKindCancelled      ErrorKind = "cancelled"
	ErrorKindUnknown        ErrorKind = "unknown"
)

// ErrorRecord is the typed error surfaced to the stream and the snapshot endpoint.
type ErrorRecord struct {
	Kind            ErrorKind `json:"kind"`
	Message         string    `json:"message"`
	Details         string    `json:"details,omitempty"`
	UserAction      string    `json:"user_action,omitempty"`
	CompletedStages []string  `json:"completed_stages,omitempty"`
	FailedStage     string    `json:"failed_stage,omitempty"`
}

func (e *ErrorRecord) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Kind) + ": " + e.Message
}

// Retryable reports whether the classified kind is eligible for cross-provider
// retry within a single call.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindTimeout, ErrorKindServerError, ErrorKindNetwork:
		return true
	default:
		return false
	}
}
