package interfaces

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Validation limits.
const (
	// maxNameLength bounds interface names.
	maxNameLength = 128

	// maxMappings bounds the number of mappings per interface.
	maxMappings = 1024
)

// interfaceNamePattern matches reverse-domain interface names,
// e.g. "com.example.Sensor".
var interfaceNamePattern = regexp.MustCompile(
	`^[a-zA-Z][a-zA-Z0-9]*(\.[a-zA-Z0-9][a-zA-Z0-9-]*)+$`,
)

// endpointSegmentPattern matches one literal endpoint segment.
var endpointSegmentPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)

// parameterSegmentPattern matches one %{name} parameter segment.
var parameterSegmentPattern = regexp.MustCompile(`^%\{[a-zA-Z_][a-zA-Z0-9_]*\}$`)

// Validate checks an interface definition for structural errors.
//
// It verifies the name format, version, ownership, type, aggregation,
// every mapping endpoint and type, endpoint uniqueness, and object
// aggregation consistency.
//
// Returns:
//   - error: The first validation failure found, or nil if valid
func (i *Interface) Validate() error {
	if i.Name == "" || len(i.Name) > maxNameLength || !interfaceNamePattern.MatchString(i.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, i.Name)
	}

	if i.MajorVersion == 0 && i.MinorVersion == 0 {
		return ErrZeroVersion
	}
	if i.MajorVersion < 0 || i.MinorVersion < 0 {
		return fmt.Errorf("%w: versions cannot be negative", ErrZeroVersion)
	}

	if !i.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidInterfaceType, string(i.Type))
	}
	if !i.Ownership.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOwnership, string(i.Ownership))
	}
	if i.Aggregation != "" && !i.Aggregation.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAggregation, string(i.Aggregation))
	}
	// Properties are always sent one at a time.
	if i.Type == TypeProperties && i.Aggregation == AggregationObject {
		return fmt.Errorf("%w: properties cannot use object aggregation", ErrInvalidAggregation)
	}

	if len(i.Mappings) == 0 {
		return ErrEmptyMappings
	}
	if len(i.Mappings) > maxMappings {
		return fmt.Errorf("%w: %d mappings, limit %d", ErrTooManyMappings, len(i.Mappings), maxMappings)
	}

	seen := make(map[string]string, len(i.Mappings))
	for idx := range i.Mappings {
		m := &i.Mappings[idx]

		if err := validateEndpoint(m.Endpoint); err != nil {
			return err
		}
		if !m.Type.Valid() {
			return fmt.Errorf("%w: %q on %s", ErrInvalidType, string(m.Type), m.Endpoint)
		}
		if !m.Reliability.Valid() {
			return fmt.Errorf("%w: %s on %s", ErrInvalidReliability, m.Reliability, m.Endpoint)
		}
		if m.Expiry < 0 {
			return fmt.Errorf("%w: negative expiry on %s", ErrInvalidEndpoint, m.Endpoint)
		}

		// Two endpoints collide when a path could match both, so the
		// uniqueness key normalises parameters.
		norm := normaliseEndpoint(m.Endpoint)
		if prev, dup := seen[norm]; dup {
			return fmt.Errorf("%w: %q and %q", ErrDuplicateMapping, prev, m.Endpoint)
		}
		seen[norm] = m.Endpoint
	}

	if i.Aggregation == AggregationObject {
		if err := i.validateObjectMappings(); err != nil {
			return err
		}
	}

	return nil
}

// validateObjectMappings checks the consistency rules for object
// aggregation: every mapping shares reliability, expiry, and all
// endpoint levels except the last.
func (i *Interface) validateObjectMappings() error {
	first := i.Mappings[0]
	prefix := endpointPrefix(first.Endpoint)

	for idx := 1; idx < len(i.Mappings); idx++ {
		m := i.Mappings[idx]
		if m.Reliability != first.Reliability || m.Expiry != first.Expiry {
			return fmt.Errorf("%w: %s", ErrInconsistentMappings, m.Endpoint)
		}
		if endpointPrefix(m.Endpoint) != prefix {
			return fmt.Errorf("%w: endpoint %s does not share the object prefix", ErrInconsistentMappings, m.Endpoint)
		}
	}
	return nil
}

// validateEndpoint checks an endpoint pattern: absolute, at least one
// segment, each segment either a literal or a %{param}.
func validateEndpoint(endpoint string) error {
	if endpoint == "" || !strings.HasPrefix(endpoint, "/") {
		return fmt.Errorf("%w: %q must start with /", ErrInvalidEndpoint, endpoint)
	}

	segments := strings.Split(endpoint[1:], "/")
	for _, seg := range segments {
		if endpointSegmentPattern.MatchString(seg) || parameterSegmentPattern.MatchString(seg) {
			continue
		}
		return fmt.Errorf("%w: %q has invalid segment %q", ErrInvalidEndpoint, endpoint, seg)
	}
	return nil
}

// normaliseEndpoint replaces every parameter segment with a fixed
// placeholder so overlapping endpoints compare equal.
func normaliseEndpoint(endpoint string) string {
	segments := strings.Split(endpoint, "/")
	for idx, seg := range segments {
		if parameterSegmentPattern.MatchString(seg) {
			segments[idx] = "%{}"
		}
	}
	return strings.Join(segments, "/")
}

// endpointPrefix returns the endpoint with its last segment removed.
func endpointPrefix(endpoint string) string {
	idx := strings.LastIndex(endpoint, "/")
	if idx <= 0 {
		return ""
	}
	return endpoint[:idx]
}

// matchEndpoint reports whether a concrete path matches an endpoint
// pattern. Parameter segments match any single non-empty segment that
// contains none of the MQTT-reserved characters.
func matchEndpoint(endpoint, path string) bool {
	if !strings.HasPrefix(path, "/") {
		return false
	}

	epSegs := strings.Split(endpoint[1:], "/")
	pathSegs := strings.Split(path[1:], "/")
	if len(epSegs) != len(pathSegs) {
		return false
	}

	for idx, epSeg := range epSegs {
		pathSeg := pathSegs[idx]
		if parameterSegmentPattern.MatchString(epSeg) {
			if pathSeg == "" || strings.ContainsAny(pathSeg, "#+") {
				return false
			}
			continue
		}
		if epSeg != pathSeg {
			return false
		}
	}
	return true
}

// ValidateValue checks that a submitted Go value satisfies the
// mapping's declared type.
//
// Accepted Go types per mapping type:
//   - double: float64, float32, and any signed integer
//   - integer: int, int8..int32 (must fit 32 bits)
//   - longinteger: int64, int, int32
//   - boolean: bool
//   - string: string
//   - binaryblob: []byte
//   - datetime: time.Time
//   - *array: slice of the corresponding scalar type
//
// Returns:
//   - error: ErrTypeMismatch (wrapped) if the value does not satisfy the type
func ValidateValue(mappingType MappingType, value any) error {
	if value == nil {
		return fmt.Errorf("%w: nil value for %s", ErrTypeMismatch, mappingType)
	}

	ok := false
	switch mappingType {
	case TypeDouble:
		switch value.(type) {
		case float64, float32, int, int8, int16, int32, int64:
			ok = true
		}
	case TypeInteger:
		switch v := value.(type) {
		case int8, int16, int32:
			ok = true
		case int:
			ok = v >= -1<<31 && v < 1<<31
		case int64:
			ok = v >= -1<<31 && v < 1<<31
		}
	case TypeLongInteger:
		switch value.(type) {
		case int, int32, int64:
			ok = true
		}
	case TypeBoolean:
		_, ok = value.(bool)
	case TypeString:
		_, ok = value.(string)
	case TypeBinaryBlob:
		_, ok = value.([]byte)
	case TypeDateTime:
		_, ok = value.(time.Time)
	case TypeDoubleArray:
		switch value.(type) {
		case []float64, []float32:
			ok = true
		}
	case TypeIntegerArray:
		switch value.(type) {
		case []int32, []int:
			ok = true
		}
	case TypeLongIntegerArray:
		switch value.(type) {
		case []int64, []int:
			ok = true
		}
	case TypeBooleanArray:
		_, ok = value.([]bool)
	case TypeStringArray:
		_, ok = value.([]string)
	case TypeBinaryBlobArray:
		_, ok = value.([][]byte)
	case TypeDateTimeArray:
		_, ok = value.([]time.Time)
	}

	if !ok {
		return fmt.Errorf("%w: %T does not satisfy %s", ErrTypeMismatch, value, mappingType)
	}
	return nil
}
