// internal/tenant/errors.go
//
// Error kinds shared across the control plane.
//
// Context
// -------
// Every component (identity allocator, credential router, entitlement
// manager, lifecycle machine, economics configuration) surfaces one of the
// kinds below, and the aggregate root passes them through unchanged.  Typed
// errors carry the offending field or edge so callers can build precise
// responses without string matching.
//
// Notes
// -----
// • Use errors.As for the struct kinds, errors.Is for the sentinels.
// • Oxford commas, two spaces after periods.
package tenant

import (
	"errors"
	"fmt"
)

// Sentinels.
var (
	// ErrNotFound is returned when no live tenant matches the lookup key.
	ErrNotFound = errors.New("tenant not found")

	// ErrTransient is returned after a storage serialization conflict has
	// exhausted its retry budget.
	ErrTransient = errors.New("transient storage conflict")
)

// ConflictError reports a uniqueness violation on a specific field, e.g.
// slug, companyDocument, subdomain, or a composite key such as
// (tenantId, moduleKey).
type ConflictError struct {
	Field string
	Value string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %q", e.Field, e.Value)
}

// TransitionError reports an illegal lifecycle edge.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s/%s -> %s/%s",
		e.From.Status, e.From.Subscription, e.To.Status, e.To.Subscription)
}

// ImmutableFieldError reports an attempt to mutate a field that is fixed
// after creation (database coordinates, moduleKey).
type ImmutableFieldError struct {
	Field string
}

func (e *ImmutableFieldError) Error() string {
	return fmt.Sprintf("field %s is immutable after creation", e.Field)
}

// ValidationError reports an out-of-range or malformed value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UnknownModuleKeyError reports a module key outside the closed catalog.
type UnknownModuleKeyError struct {
	Key string
}

func (e *UnknownModuleKeyError) Error() string {
	return fmt.Sprintf("unknown module key %q", e.Key)
}
