package cfg

import "github.com/pkg/errors"

// Error taxonomy of the store. Every error returned by this package wraps exactly one
// of these sentinels, so callers can branch with errors.Is.
var (
	// ErrInvalidKey is returned when a key cannot be used as a store key (e.g. a nil map key).
	ErrInvalidKey = errors.New("invalid key")
	// ErrMissingKey is returned by mandatory accessors when no value is configured.
	ErrMissingKey = errors.New("missing value")
	// ErrInvalidFormat is returned when a value cannot be converted to the requested type.
	ErrInvalidFormat = errors.New("invalid format")
	// ErrInvalidValue is returned when a value cannot be stored without corrupting it.
	ErrInvalidValue = errors.New("invalid value")
	// ErrUnresolvedSubstitution is returned when ${key} names a key that does not exist.
	ErrUnresolvedSubstitution = errors.New("unresolved substitution")
	// ErrCircularSubstitution is returned when substitution never settles.
	ErrCircularSubstitution = errors.New("circular substitution")
	// ErrInvalidOperation is returned for root-only operations invoked on a subset.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrOutOfRange is returned by the CheckMin/CheckMax helpers.
	ErrOutOfRange = errors.New("value out of range")
)
