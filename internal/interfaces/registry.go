package interfaces

import (
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry holds the validated interface definitions the device is
// allowed to publish on. It is a pure in-memory lookup structure with
// no I/O of its own.
//
// Every outbound message must resolve to exactly one mapping through
// Resolve before it may be encoded or persisted; a failed resolution is
// a validation error surfaced to the caller, never silently stored.
//
// All public methods are thread-safe.
type Registry struct {
	mu         sync.RWMutex
	interfaces map[string]*Interface
	logger     Logger
}

// NewRegistry creates an empty interface registry.
func NewRegistry() *Registry {
	return &Registry{
		interfaces: make(map[string]*Interface),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register validates and adds an interface definition.
//
// Re-registration rules:
//   - A different major version than the registered one is rejected
//     with ErrMajorVersionConflict.
//   - An equal or higher minor version with the same major version
//     replaces the registered definition in place.
//   - A lower minor version is rejected with ErrMinorVersionDowngrade.
//
// Parameters:
//   - iface: The interface definition to register
//
// Returns:
//   - error: Validation or version conflict error, nil on success
func (r *Registry) Register(iface *Interface) error {
	if err := iface.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.interfaces[iface.Name]; ok {
		if existing.MajorVersion != iface.MajorVersion {
			return fmt.Errorf("%w: %s registered at major %d, got %d",
				ErrMajorVersionConflict, iface.Name, existing.MajorVersion, iface.MajorVersion)
		}
		if iface.MinorVersion < existing.MinorVersion {
			return fmt.Errorf("%w: %s registered at %d.%d, got %d.%d",
				ErrMinorVersionDowngrade, iface.Name,
				existing.MajorVersion, existing.MinorVersion,
				iface.MajorVersion, iface.MinorVersion)
		}
		r.logger.Info("interface upgraded",
			"interface", iface.Name,
			"version", fmt.Sprintf("%d.%d", iface.MajorVersion, iface.MinorVersion),
		)
	}

	r.interfaces[iface.Name] = iface
	return nil
}

// Resolve finds the mapping matching (interfaceName, path).
//
// Parameters:
//   - interfaceName: The interface to look up
//   - path: The concrete mapping path (parameters filled in)
//
// Returns:
//   - ResolvedMapping: The matched mapping plus interface metadata
//   - error: ErrInterfaceNotFound or ErrMappingNotFound
func (r *Registry) Resolve(interfaceName, path string) (ResolvedMapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	iface, ok := r.interfaces[interfaceName]
	if !ok {
		return ResolvedMapping{}, fmt.Errorf("%w: %s", ErrInterfaceNotFound, interfaceName)
	}

	for idx := range iface.Mappings {
		m := &iface.Mappings[idx]
		if !matchEndpoint(m.Endpoint, path) {
			continue
		}

		resolved := ResolvedMapping{
			InterfaceName:     iface.Name,
			Path:              path,
			Endpoint:          m.Endpoint,
			Type:              m.Type,
			Reliability:       m.Reliability,
			Expiry:            m.Expiry,
			ExplicitTimestamp: m.ExplicitTimestamp,
			MajorVersion:      iface.MajorVersion,
			MinorVersion:      iface.MinorVersion,
			InterfaceType:     iface.Type,
			Ownership:         iface.Ownership,
			Aggregation:       iface.Aggregation,
		}
		// Property values must never be lost or duplicated: the stored
		// state has to converge to the last write.
		if iface.Type == TypeProperties {
			resolved.Reliability = ReliabilityUnique
		}
		return resolved, nil
	}

	return ResolvedMapping{}, fmt.Errorf("%w: %s%s", ErrMappingNotFound, interfaceName, path)
}

// Get returns the registered interface with the given name.
func (r *Registry) Get(name string) (*Interface, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	iface, ok := r.interfaces[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInterfaceNotFound, name)
	}
	return iface, nil
}

// List returns the names of all registered interfaces.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.interfaces))
	for name := range r.interfaces {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered interfaces.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.interfaces)
}
