package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator checks a loaded Config for internal consistency. Unlike a
// fail-fast validator that stops at the first bad field, it accumulates
// every violation so an operator fixing a config file sees the whole list
// in one run instead of playing whack-a-mole one error at a time.
type Validator struct {
	cfg *Config
	v   *validator.Validate
}

// NewValidator builds a Validator for cfg.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg, v: validator.New()}
}

// ValidateAll runs struct-tag validation across every section plus the
// cross-field checks tags can't express, joining every failure it finds
// with errors.Join rather than returning on the first one.
func (val *Validator) ValidateAll() error {
	var errs []error

	if err := val.v.Struct(val.cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, &ValidationError{
					Section: fe.StructNamespace(),
					Field:   fe.Field(),
					Err:     fmt.Errorf("failed %q", fe.Tag()),
				})
			}
		} else {
			errs = append(errs, err)
		}
	}

	errs = append(errs, val.validateWorker()...)
	errs = append(errs, val.validateProviders()...)
	errs = append(errs, val.validatePipeline()...)

	return errors.Join(errs...)
}

func (val *Validator) validateWorker() []error {
	var errs []error
	w := val.cfg.Worker

	if w.PollIntervalJitter >= w.PollInterval {
		errs = append(errs, &ValidationError{Section: "worker", Field: "poll_interval_jitter",
			Err: errors.New("must be smaller than poll_interval")})
	}
	if w.SoftTimeLimit >= w.HardTimeLimit {
		errs = append(errs, &ValidationError{Section: "worker", Field: "soft_time_limit",
			Err: errors.New("must be smaller than hard_time_limit")})
	}
	if w.HeartbeatInterval >= w.OrphanStaleAfter {
		errs = append(errs, &ValidationError{Section: "worker", Field: "heartbeat_interval",
			Err: errors.New("must be smaller than orphan_stale_after, or live workers get reclaimed")})
	}
	if w.MaxConcurrentJobs < w.WorkerCount {
		errs = append(errs, &ValidationError{Section: "worker", Field: "max_concurrent_jobs",
			Err: errors.New("must be >= worker_count")})
	}
	return errs
}

func (val *Validator) validateProviders() []error {
	var errs []error
	p := val.cfg.Providers

	seen := make(map[string]bool, len(p.Providers))
	for _, pc := range p.Providers {
		if seen[pc.ID] {
			errs = append(errs, &ValidationError{Section: "provider", Field: "id",
				Err: fmt.Errorf("duplicate provider id %q", pc.ID)})
		}
		seen[pc.ID] = true
	}

	if p.Primary != "" && !seen[p.Primary] {
		errs = append(errs, &ValidationError{Section: "provider", Field: "primary",
			Err: fmt.Errorf("primary %q is not in the provider list", p.Primary)})
	}
	return errs
}

func (val *Validator) validatePipeline() []error {
	var errs []error
	pl := val.cfg.Pipeline

	if pl.Stage1UncertaintyLow >= pl.Stage1UncertaintyHigh {
		errs = append(errs, &ValidationError{Section: "pipeline", Field: "stage1_uncertainty_low",
			Err: errors.New("must be smaller than stage1_uncertainty_high")})
	}
	return errs
}
