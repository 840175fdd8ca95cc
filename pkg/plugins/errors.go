package plugins

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPlugin marks a plugin rejected at validation for a
	// missing or invalid contract capability.
	ErrMalformedPlugin = errors.New("malformed plugin")

	// ErrDuplicatePlugin marks a name collision at discovery. Non-fatal:
	// the first-discovered descriptor wins.
	ErrDuplicatePlugin = errors.New("duplicate plugin")

	// ErrContractViolation marks misuse of a plugin instance, such as a
	// second CreateView call or use after destruction.
	ErrContractViolation = errors.New("plugin contract violation")

	// ErrNotFound is returned for lifecycle operations on unknown names.
	ErrNotFound = errors.New("plugin not found")

	// ErrAlreadyLoaded is returned by Load when an instance already
	// exists for the descriptor.
	ErrAlreadyLoaded = errors.New("plugin already loaded")
)

// Load phases recorded in LoadError diagnostics.
const (
	PhaseValidate  = "validate"
	PhaseConstruct = "construct"
	PhaseOnLoad    = "onload"
	PhaseView      = "view"
)

// LoadError is the structured diagnostic captured when one plugin fails to
// load. It isolates that plugin only; the batch continues.
type LoadError struct {
	Plugin string
	Phase  string
	Cause  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("plugin %s failed during %s: %v", e.Plugin, e.Phase, e.Cause)
}

func (e *LoadError) Unwrap() error { return e.Cause }
