package interfaces

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Ownership declares which side of the connection owns an interface.
type Ownership string

// Valid ownership values.
const (
	// OwnershipDevice marks data published by the device.
	OwnershipDevice Ownership = "device"

	// OwnershipServer marks data published by the cluster.
	OwnershipServer Ownership = "server"
)

// Valid reports whether the ownership value is recognised.
func (o Ownership) Valid() bool {
	return o == OwnershipDevice || o == OwnershipServer
}

// InterfaceType distinguishes streamed telemetry from stateful properties.
type InterfaceType string

// Valid interface types.
const (
	// TypeDatastream is a stream of timestamped values.
	TypeDatastream InterfaceType = "datastream"

	// TypeProperties is a set of persistent key/value states.
	TypeProperties InterfaceType = "properties"
)

// Valid reports whether the interface type is recognised.
func (t InterfaceType) Valid() bool {
	return t == TypeDatastream || t == TypeProperties
}

// Aggregation declares how datastream mappings are sent: one value at a
// time (individual) or all mappings of the interface together (object).
type Aggregation string

// Valid aggregation values.
const (
	AggregationIndividual Aggregation = "individual"
	AggregationObject     Aggregation = "object"
)

// Valid reports whether the aggregation value is recognised.
func (a Aggregation) Valid() bool {
	return a == AggregationIndividual || a == AggregationObject
}

// Reliability is the per-mapping delivery guarantee class.
//
// The numeric values are part of the persisted-state contract: they are
// stored in the retention_mapping table and must not be reordered.
type Reliability int

// Reliability classes, weakest first.
const (
	// ReliabilityUnreliable is best effort: no retry, loss is
	// acceptable, first to be dropped under storage pressure.
	ReliabilityUnreliable Reliability = 0

	// ReliabilityGuaranteed must eventually be delivered or expire;
	// retried across reconnects until confirmed.
	ReliabilityGuaranteed Reliability = 1

	// ReliabilityUnique is guaranteed delivery plus duplicate
	// suppression: never delivered more than once.
	ReliabilityUnique Reliability = 2
)

// String returns the wire name of the reliability class.
func (r Reliability) String() string {
	switch r {
	case ReliabilityUnreliable:
		return "unreliable"
	case ReliabilityGuaranteed:
		return "guaranteed"
	case ReliabilityUnique:
		return "unique"
	default:
		return fmt.Sprintf("reliability(%d)", int(r))
	}
}

// Valid reports whether the reliability value is recognised.
func (r Reliability) Valid() bool {
	return r >= ReliabilityUnreliable && r <= ReliabilityUnique
}

// UnmarshalJSON parses the interface-description spelling of a
// reliability class ("unreliable", "guaranteed", "unique").
func (r *Reliability) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch strings.ToLower(s) {
	case "unreliable":
		*r = ReliabilityUnreliable
	case "guaranteed":
		*r = ReliabilityGuaranteed
	case "unique":
		*r = ReliabilityUnique
	default:
		return fmt.Errorf("%w: %q", ErrInvalidReliability, s)
	}
	return nil
}

// MarshalJSON writes the wire spelling of a reliability class.
func (r Reliability) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidReliability, int(r))
	}
	return json.Marshal(r.String())
}

// MappingType is the declared value type of a mapping.
type MappingType string

// Mapping value types.
const (
	TypeDouble           MappingType = "double"
	TypeInteger          MappingType = "integer"
	TypeBoolean          MappingType = "boolean"
	TypeLongInteger      MappingType = "longinteger"
	TypeString           MappingType = "string"
	TypeBinaryBlob       MappingType = "binaryblob"
	TypeDateTime         MappingType = "datetime"
	TypeDoubleArray      MappingType = "doublearray"
	TypeIntegerArray     MappingType = "integerarray"
	TypeBooleanArray     MappingType = "booleanarray"
	TypeLongIntegerArray MappingType = "longintegerarray"
	TypeStringArray      MappingType = "stringarray"
	TypeBinaryBlobArray  MappingType = "binaryblobarray"
	TypeDateTimeArray    MappingType = "datetimearray"
)

// mappingTypes is the set of recognised mapping types.
var mappingTypes = map[MappingType]bool{
	TypeDouble: true, TypeInteger: true, TypeBoolean: true,
	TypeLongInteger: true, TypeString: true, TypeBinaryBlob: true,
	TypeDateTime: true, TypeDoubleArray: true, TypeIntegerArray: true,
	TypeBooleanArray: true, TypeLongIntegerArray: true,
	TypeStringArray: true, TypeBinaryBlobArray: true,
	TypeDateTimeArray: true,
}

// Valid reports whether the mapping type is recognised.
func (m MappingType) Valid() bool {
	return mappingTypes[m]
}

// Mapping is one publishable endpoint of an interface.
type Mapping struct {
	// Endpoint is the mapping path pattern. Segments of the form
	// %{name} are parameters matching any single path segment.
	Endpoint string `json:"endpoint"`

	// Type is the declared value type submitted values must satisfy.
	Type MappingType `json:"type"`

	// Reliability is the delivery guarantee class. Defaults to
	// unreliable for datastreams; properties are always unique.
	Reliability Reliability `json:"reliability,omitempty"`

	// Expiry is the retention deadline in seconds from enqueue.
	// 0 means the stored message never expires.
	Expiry int `json:"expiry,omitempty"`

	// ExplicitTimestamp indicates the publisher supplies the value
	// timestamp rather than the reception time being used.
	ExplicitTimestamp bool `json:"explicit_timestamp,omitempty"`

	// Description is optional documentation carried in the definition.
	Description string `json:"description,omitempty"`
}

// Interface is a validated, versioned contract for a set of mappings.
type Interface struct {
	Name         string        `json:"interface_name"`
	MajorVersion int           `json:"version_major"`
	MinorVersion int           `json:"version_minor"`
	Type         InterfaceType `json:"type"`
	Ownership    Ownership     `json:"ownership"`
	Aggregation  Aggregation   `json:"aggregation,omitempty"`
	Description  string        `json:"description,omitempty"`
	Mappings     []Mapping     `json:"mappings"`
}

// ResolvedMapping is the outcome of a successful registry lookup: the
// matched mapping together with the interface metadata the retention
// layer and the client need.
type ResolvedMapping struct {
	// InterfaceName and Path form the routing key of the resolved value.
	InterfaceName string
	Path          string

	// Endpoint is the mapping pattern the path matched.
	Endpoint string

	Type              MappingType
	Reliability       Reliability
	Expiry            int
	ExplicitTimestamp bool

	MajorVersion  int
	MinorVersion  int
	InterfaceType InterfaceType
	Ownership     Ownership
	Aggregation   Aggregation
}
