package interfaces

import "errors"

// Domain errors for the interfaces package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, interfaces.ErrMappingNotFound) {
//	    // reject the submission, nothing was persisted
//	}
var (
	// ErrInterfaceNotFound is returned when an interface name is not registered.
	ErrInterfaceNotFound = errors.New("interfaces: interface not found")

	// ErrMappingNotFound is returned when no mapping endpoint matches a path.
	ErrMappingNotFound = errors.New("interfaces: mapping not found")

	// ErrMajorVersionConflict is returned when re-registering an interface
	// with a different major version.
	ErrMajorVersionConflict = errors.New("interfaces: major version conflict")

	// ErrMinorVersionDowngrade is returned when re-registering an interface
	// with a lower minor version than the one already registered.
	ErrMinorVersionDowngrade = errors.New("interfaces: minor version downgrade")

	// ErrInvalidName is returned when an interface name is not a valid
	// reverse-domain name.
	ErrInvalidName = errors.New("interfaces: invalid interface name")

	// ErrZeroVersion is returned when both major and minor version are zero.
	ErrZeroVersion = errors.New("interfaces: major and minor version cannot both be zero")

	// ErrEmptyMappings is returned when an interface declares no mappings.
	ErrEmptyMappings = errors.New("interfaces: interface has no mappings")

	// ErrTooManyMappings is returned when an interface exceeds the mapping limit.
	ErrTooManyMappings = errors.New("interfaces: too many mappings")

	// ErrDuplicateMapping is returned when two mappings have overlapping endpoints.
	ErrDuplicateMapping = errors.New("interfaces: duplicate mapping endpoint")

	// ErrInvalidEndpoint is returned when a mapping endpoint is malformed.
	ErrInvalidEndpoint = errors.New("interfaces: invalid endpoint")

	// ErrInvalidType is returned when a mapping type is not recognised.
	ErrInvalidType = errors.New("interfaces: invalid mapping type")

	// ErrInvalidOwnership is returned when an ownership value is not recognised.
	ErrInvalidOwnership = errors.New("interfaces: invalid ownership")

	// ErrInvalidInterfaceType is returned when an interface type is not recognised.
	ErrInvalidInterfaceType = errors.New("interfaces: invalid interface type")

	// ErrInvalidAggregation is returned when an aggregation value is not recognised.
	ErrInvalidAggregation = errors.New("interfaces: invalid aggregation")

	// ErrInvalidReliability is returned when a reliability value is not recognised.
	ErrInvalidReliability = errors.New("interfaces: invalid reliability")

	// ErrInconsistentMappings is returned when an object-aggregated
	// interface mixes reliability or expiry across its mappings.
	ErrInconsistentMappings = errors.New("interfaces: inconsistent object mappings")

	// ErrTypeMismatch is returned when a submitted value does not satisfy
	// the mapping's declared type.
	ErrTypeMismatch = errors.New("interfaces: value type mismatch")
)
