// Package property persists the latest value of each property path
// across restarts.
//
// Properties differ from datastreams: only the most recent value per
// path matters, device-owned unsets must survive a restart so they can
// be re-announced, and values written under an interface major version
// that is no longer live are pruned at startup.
package property
