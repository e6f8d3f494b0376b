package mqtt

import "strings"

// Topic scheme. Every topic for a device lives under its base topic:
//
//	<realm>/<device id>                          introspection (retained)
//	<realm>/<device id>/<interface><path>        data
//	<realm>/<device id>/control/#                session control
//
// Interface paths start with "/", so interface and path concatenate
// without a separator.
type Topics struct {
	Realm    string
	DeviceID string
}

// Base returns the device's root topic.
func (t Topics) Base() string {
	return t.Realm + "/" + t.DeviceID
}

// Data returns the topic for a value on an interface path.
func (t Topics) Data(interfaceName, path string) string {
	return t.Base() + "/" + interfaceName + path
}

// Control returns a session control topic.
func (t Topics) Control(suffix string) string {
	return t.Base() + "/control/" + suffix
}

// AllControl returns the wildcard subscription for control messages.
func (t Topics) AllControl() string {
	return t.Control("#")
}

// ServerData returns the wildcard subscription covering values pushed
// to a server-owned interface.
func (t Topics) ServerData(interfaceName string) string {
	return t.Base() + "/" + interfaceName + "/#"
}

// ParseData splits a data topic back into interface name and path.
// Returns ok = false for topics outside the device's base.
func (t Topics) ParseData(topic string) (interfaceName, path string, ok bool) {
	prefix := t.Base() + "/"
	rest, found := strings.CutPrefix(topic, prefix)
	if !found {
		return "", "", false
	}
	interfaceName, path, found = strings.Cut(rest, "/")
	if !found || interfaceName == "" || path == "" {
		return "", "", false
	}
	return interfaceName, "/" + path, true
}
