package config

import "errors"

// Sentinel errors returned by Initialize's load/validate phases.
var (
	ErrConfigNotFound  = errors.New("config: file not found")
	ErrInvalidYAML     = errors.New("config: invalid yaml")
	ErrValidationFailed = errors.New("config: validation failed")
)

// LoadError wraps a failure to read or parse the config file with the path
// that caused it.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return "config: load " + e.File + ": " + e.Err.Error()
}

func (e *LoadError) Unwrap() error { return e.Err }

// ValidationError identifies exactly which field of which section failed
// validation, so operators don't have to parse a prose message to find it.
type ValidationError struct {
	Section string
	Field   string
	Err     error
}

func (e *ValidationError) Error() string {
	return "config: " + e.Section + "." + e.Field + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }
