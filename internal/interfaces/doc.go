// Package interfaces provides the Interface Registry for Tidemark Edge.
//
// An interface is a versioned contract describing what a device may
// publish: a reverse-domain name, a major/minor version, an ownership
// side, and a set of mappings. Each mapping declares an endpoint
// pattern, a value type, a reliability class and an optional expiry.
//
// The registry is populated at startup from JSON interface description
// files and then consulted on every publish: a value that does not
// resolve to exactly one mapping is rejected before anything touches
// the retention store.
//
// # Key Types
//
//   - Interface: A validated contract (name, version, ownership, mappings)
//   - Mapping: One publishable endpoint with type/reliability/expiry
//   - ResolvedMapping: A lookup result joining mapping and interface metadata
//   - Reliability: Delivery guarantee class (unreliable, guaranteed, unique)
//
// # Usage
//
//	registry := interfaces.NewRegistry()
//	registry.SetLogger(log)
//
//	if _, err := registry.LoadDirectory(cfg.Device.InterfacesDir); err != nil {
//	    return err
//	}
//
//	mapping, err := registry.Resolve("com.example.Sensor", "/kitchen/temperature")
//	if errors.Is(err, interfaces.ErrMappingNotFound) {
//	    // reject the submission
//	}
package interfaces
